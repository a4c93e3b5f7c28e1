package uploader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/sfvector-ingest/internal/bridge"
	"github.com/AleutianAI/sfvector-ingest/internal/embed"
	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
	"github.com/AleutianAI/sfvector-ingest/internal/progress"
	"github.com/AleutianAI/sfvector-ingest/internal/retry"
	"github.com/AleutianAI/sfvector-ingest/internal/telemetry"
)

// Config controls upload concurrency.
type Config struct {
	Workers int // upsert pool size, default 8 per spec.md §5
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
}

// Report summarizes one Upload call's outcome, the "explicit counts" of
// spec.md §4.11's partial-success reporting requirement.
type Report struct {
	New          int
	Changed      int
	Deleted      int
	Unchanged    int
	ChunksUpsert int
	ChunksFailed int
	Errors       []error
}

// Uploader drives the diff-then-delete-then-upsert cycle against a
// Weaviate index, embedding chunk text lazily (only for refs that need
// an upsert) via internal/embed and retrying failed batches via
// internal/retry, mirroring seeder/weaviate.go's IndexDocs/DeleteByDataSpace
// batch shape generalized to the ref-scoped diff in diff.go.
type Uploader struct {
	client   *weaviate.Client
	embedder *embed.Client
	retry    *retry.Engine
	progress progress.ProgressStore
	cfg      Config
	logger   *ingestlog.Logger
	metrics  *telemetry.Metrics
}

// New constructs an Uploader.
func New(client *weaviate.Client, embedder *embed.Client, retryEngine *retry.Engine, progressStore progress.ProgressStore, cfg Config, logger *ingestlog.Logger) *Uploader {
	cfg.applyDefaults()
	if logger == nil {
		logger = ingestlog.Nop()
	}
	return &Uploader{
		client:   client,
		embedder: embedder,
		retry:    retryEngine,
		progress: progressStore,
		cfg:      cfg,
		logger:   logger.With("component", "uploader"),
	}
}

// SetMetrics attaches OTel-backed counters. Optional; nil skips recording.
func (u *Uploader) SetMetrics(m *telemetry.Metrics) {
	u.metrics = m
}

// Upload runs the full spec.md §4.11 algorithm: fetch current index
// state, diff against desired, delete before upsert on changed refs,
// upsert new and changed refs' chunks, delete deleted refs' chunks.
func (u *Uploader) Upload(ctx context.Context, desired []model.Chunk) (Report, error) {
	if err := EnsureSchema(ctx, u.client); err != nil {
		return Report{}, fmt.Errorf("ensure schema: %w", err)
	}

	current, err := ListCurrent(ctx, u.client)
	if err != nil {
		return Report{}, fmt.Errorf("list current index state: %w", err)
	}

	plan := Diff(desired, current)
	desiredByRef := ChunksByRef(desired)

	var report Report
	var mu sync.Mutex

	deleteRefs := make([]model.ObjectRef, 0)
	upsertRefs := make([]model.ObjectRef, 0)
	for ref, status := range plan.Statuses {
		switch status {
		case StatusUnchanged:
			report.Unchanged++
		case StatusNew:
			report.New++
			upsertRefs = append(upsertRefs, ref)
		case StatusChanged:
			report.Changed++
			deleteRefs = append(deleteRefs, ref)
			upsertRefs = append(upsertRefs, ref)
		case StatusDeleted:
			report.Deleted++
			deleteRefs = append(deleteRefs, ref)
		}
	}

	// Deletes submitted first (spec.md §4.11, §5) to avoid transient
	// over-capacity on the index before new chunks land.
	if err := u.runDeletes(ctx, deleteRefs, &mu, &report); err != nil {
		return report, err
	}
	if err := u.runUpserts(ctx, upsertRefs, desiredByRef, &mu, &report); err != nil {
		return report, err
	}

	u.logger.Info("upload complete",
		"new", report.New, "changed", report.Changed, "deleted", report.Deleted,
		"unchanged", report.Unchanged, "chunks_upserted", report.ChunksUpsert,
		"chunks_failed", report.ChunksFailed)

	return report, nil
}

func (u *Uploader) runDeletes(ctx context.Context, refs []model.ObjectRef, mu *sync.Mutex, report *Report) error {
	if len(refs) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Workers)

	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			_, err := u.retry.Do(gctx, "uploader_delete", func(ctx context.Context, _ int) (bridge.Classification, error) {
				return classifyIndexErr(DeleteByRef(ctx, u.client, ref))
			})
			if err != nil {
				mu.Lock()
				report.Errors = append(report.Errors, fmt.Errorf("delete %s: %w", ref, err))
				mu.Unlock()
				if u.progress != nil {
					_ = u.progress.Mark(ref, model.PhaseUpload, model.StateError, err.Error())
				}
				u.logger.Warn("delete failed", "ref", ref, "error", err)
				return nil
			}
			if u.metrics != nil {
				u.metrics.UploaderDeletesTotal.Add(gctx, 1)
			}
			return nil
		})
	}
	return g.Wait()
}

func (u *Uploader) runUpserts(ctx context.Context, refs []model.ObjectRef, byRef map[model.ObjectRef][]model.Chunk, mu *sync.Mutex, report *Report) error {
	if len(refs) == 0 {
		return nil
	}

	// Flatten to one chunk stream ordered by ref, then split into
	// embedding batches of E chunks, independent of ref boundaries: a
	// batch may span the tail of one ref and the head of the next.
	var all []model.Chunk
	for _, ref := range refs {
		all = append(all, byRef[ref]...)
	}

	batchSize := u.embedder.BatchSize()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Workers)

	for start := 0; start < len(all); start += batchSize {
		end := start + batchSize
		if end > len(all) {
			end = len(all)
		}
		batch := all[start:end]

		g.Go(func() error {
			return u.upsertOneBatch(gctx, batch, mu, report)
		})
	}
	return g.Wait()
}

func (u *Uploader) upsertOneBatch(ctx context.Context, batch []model.Chunk, mu *sync.Mutex, report *Report) error {
	start := time.Now()
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	vectors, err := u.embedder.Embed(ctx, texts)
	if err != nil {
		u.markBatchFailed(batch, mu, report, err)
		return nil
	}

	succeeded, err := u.retryUpsert(ctx, batch, vectors)
	if u.metrics != nil {
		u.metrics.UploaderBatchDuration.Record(ctx, time.Since(start).Seconds())
		if succeeded > 0 {
			u.metrics.UploaderUpsertsTotal.Add(ctx, int64(succeeded))
		}
	}
	mu.Lock()
	report.ChunksUpsert += succeeded
	report.ChunksFailed += len(batch) - succeeded
	if err != nil {
		report.Errors = append(report.Errors, err)
	}
	mu.Unlock()

	if err != nil {
		u.markRefsFailed(batch, err.Error())
	}
	return nil
}

func (u *Uploader) retryUpsert(ctx context.Context, batch []model.Chunk, vectors [][]float32) (int, error) {
	var succeeded int
	_, err := u.retry.Do(ctx, "uploader_upsert", func(ctx context.Context, _ int) (bridge.Classification, error) {
		n, err := UpsertBatch(ctx, u.client, batch, vectors)
		succeeded = n
		return classifyIndexErr(err)
	})
	if err != nil {
		return succeeded, fmt.Errorf("upsert batch of %d chunks: %w", len(batch), err)
	}
	return succeeded, nil
}

func (u *Uploader) markBatchFailed(batch []model.Chunk, mu *sync.Mutex, report *Report, err error) {
	mu.Lock()
	report.ChunksFailed += len(batch)
	report.Errors = append(report.Errors, fmt.Errorf("embed batch: %w", err))
	mu.Unlock()
	u.markRefsFailed(batch, err.Error())
}

// classifyIndexErr maps a Weaviate RPC error onto the shared retry
// taxonomy. The Weaviate Go client does not expose structured status
// codes on its errors the way go-openai does, so classification here is
// coarser: any error is treated as transient transport trouble, since a
// malformed request would have been caught by EnsureSchema/Diff earlier
// in the pipeline rather than surfacing here.
func classifyIndexErr(err error) (bridge.Classification, error) {
	if err == nil {
		return bridge.Ok, nil
	}
	return bridge.TransportError, err
}

func (u *Uploader) markRefsFailed(batch []model.Chunk, errMsg string) {
	if u.progress == nil {
		return
	}
	seen := make(map[model.ObjectRef]struct{})
	for _, c := range batch {
		ref := model.ObjectRef(c.Metadata.ObjectName)
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		_ = u.progress.Mark(ref, model.PhaseUpload, model.StateError, errMsg)
	}
}
