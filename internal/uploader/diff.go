package uploader

import "github.com/AleutianAI/sfvector-ingest/internal/model"

// RefStatus classifies one object ref's relationship between the desired
// corpus and the index's current state, per spec.md §4.11 step 2.
type RefStatus int

const (
	StatusUnchanged RefStatus = iota
	StatusNew
	StatusChanged
	StatusDeleted
)

func (s RefStatus) String() string {
	switch s {
	case StatusUnchanged:
		return "unchanged"
	case StatusNew:
		return "new"
	case StatusChanged:
		return "changed"
	case StatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Plan is the outcome of diffing desired chunks against the index's
// current chunk metadata, ref by ref.
type Plan struct {
	Statuses map[model.ObjectRef]RefStatus
}

// refHashes reduces a chunk list to one content hash per ref. Every
// chunk for a ref carries the same hash (it comes from the ref's
// ObjectRecord), so the first chunk seen wins.
func refHashes(chunks []model.Chunk) map[model.ObjectRef]string {
	out := make(map[model.ObjectRef]string)
	for _, c := range chunks {
		ref := model.ObjectRef(c.Metadata.ObjectName)
		if _, ok := out[ref]; !ok {
			out[ref] = c.Metadata.ContentHash
		}
	}
	return out
}

// Diff implements spec.md §4.11 steps 1-2: build cur_hash/new_hash by
// ref and classify each ref new/changed/deleted/unchanged.
func Diff(desired, current []model.Chunk) Plan {
	newHash := refHashes(desired)
	curHash := refHashes(current)

	statuses := make(map[model.ObjectRef]RefStatus, len(newHash)+len(curHash))

	for ref, nh := range newHash {
		ch, existed := curHash[ref]
		switch {
		case !existed:
			statuses[ref] = StatusNew
		case ch != nh:
			statuses[ref] = StatusChanged
		default:
			statuses[ref] = StatusUnchanged
		}
	}
	for ref := range curHash {
		if _, ok := newHash[ref]; !ok {
			statuses[ref] = StatusDeleted
		}
	}

	return Plan{Statuses: statuses}
}

// ChunksByRef groups a chunk list by object ref for per-ref delete/upsert
// dispatch.
func ChunksByRef(chunks []model.Chunk) map[model.ObjectRef][]model.Chunk {
	out := make(map[model.ObjectRef][]model.Chunk)
	for _, c := range chunks {
		ref := model.ObjectRef(c.Metadata.ObjectName)
		out[ref] = append(out[ref], c)
	}
	return out
}
