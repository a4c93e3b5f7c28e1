// Package progress implements the Progress & Resume Store (spec.md
// §4.9): per-object, per-phase state that survives process restarts so
// a multi-day, quota-constrained run can pick up exactly where it left
// off. It follows the DAG executor's checkpoint discipline — a
// JSON-serializable snapshot, a SHA-256 checksum guarding against
// truncated writes, and atomic temp-file-then-rename persistence — and
// serializes every write through a single writer goroutine fed by a
// channel, since every mutation here comes from concurrent worker pools
// rather than one executor loop. The in-memory map is guarded by an
// RWMutex; readers (Get, Pending) take the read lock.
package progress

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

// FormatVersion gates on-disk snapshots from an incompatible build.
const FormatVersion = "1.0.0"

// mutation is one state transition submitted to the writer goroutine.
type mutation struct {
	ref   model.ObjectRef
	phase model.Phase
	state model.ProgressState
	err   string
}

// snapshot is the on-disk representation.
type snapshot struct {
	Version  string                                                    `json:"version"`
	Records  map[model.Phase]map[model.ObjectRef]model.ProgressRecord `json:"records"`
	Checksum string                                                    `json:"checksum"`
}

func (s *snapshot) computeChecksum() (string, error) {
	cp := struct {
		Version string                                                    `json:"version"`
		Records map[model.Phase]map[model.ObjectRef]model.ProgressRecord `json:"records"`
	}{Version: s.Version, Records: s.Records}
	data, err := json.Marshal(cp)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// QuotaWallThreshold is the number of consecutive quota errors, counted
// across every phase, at which AtQuotaWall reports true and the
// Orchestrator stops the run.
const QuotaWallThreshold = 10

// Store is the file-backed Progress & Resume Store.
type Store struct {
	path   string
	logger *ingestlog.Logger

	mu   sync.RWMutex
	data map[model.Phase]map[model.ObjectRef]model.ProgressRecord

	mutations chan mutation
	flushReq  chan chan error
	done      chan struct{}
	wg        sync.WaitGroup

	consecutiveQuotaErrors int64
}

// Open loads path if it exists (or starts empty) and starts the writer
// goroutine. Call Close to stop it and flush any pending mutation.
func Open(path string, logger *ingestlog.Logger) (*Store, error) {
	if logger == nil {
		logger = ingestlog.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create progress dir: %w", err)
	}

	data := make(map[model.Phase]map[model.ObjectRef]model.ProgressRecord)
	if raw, err := os.ReadFile(path); err == nil {
		var snap snapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			expected, cErr := snap.computeChecksum()
			if cErr == nil && expected == snap.Checksum && snap.Version == FormatVersion {
				data = snap.Records
			} else {
				logger.Warn("progress snapshot failed integrity check, starting fresh", "path", path)
			}
		}
	}

	s := &Store{
		path:      path,
		logger:    logger.With("component", "progress"),
		data:      data,
		mutations: make(chan mutation, 256),
		flushReq:  make(chan chan error),
		done:      make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

// Mark records a state transition for (ref, phase) and, if state is
// StateError and errMsg carries a quota_error classification tag
// (bridge.QuotaError.String()), increments the consecutive quota-error
// counter used for quota-wall detection. A StateDone mark resets the
// counter to zero; any other mark leaves it unchanged. A substring match, not an exact one, because callers
// pass the full wrapped error (e.g. "describe Account: retry: attempts
// exhausted (last classification quota_error): ..."), not a bare tag.
func (s *Store) Mark(ref model.ObjectRef, phase model.Phase, state model.ProgressState, errMsg string) error {
	if state == model.StateError && strings.Contains(errMsg, "quota_error") {
		atomic.AddInt64(&s.consecutiveQuotaErrors, 1)
	} else if state == model.StateDone {
		atomic.StoreInt64(&s.consecutiveQuotaErrors, 0)
	}
	s.mutations <- mutation{ref: ref, phase: phase, state: state, err: errMsg}
	return nil
}

// AtQuotaWall reports whether the consecutive quota-error count has
// reached QuotaWallThreshold. The Orchestrator polls this after the
// describe phase and again after the enrichment phases, and stops the
// run with ErrQuotaWall when it reports true.
func (s *Store) AtQuotaWall() bool {
	return atomic.LoadInt64(&s.consecutiveQuotaErrors) >= QuotaWallThreshold
}

// Get returns the current record for (ref, phase), if any.
func (s *Store) Get(ref model.ObjectRef, phase model.Phase) (model.ProgressRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[phase][ref]
	return rec, ok
}

// Pending returns every ref for phase not yet in StateDone, from a copy
// of the phase's records taken under the read lock. A ref with no record at
// all for phase is also pending.
func (s *Store) Pending(phase model.Phase, universe []model.ObjectRef) []model.ObjectRef {
	s.mu.RLock()
	phaseData := s.data[phase]
	snapshotCopy := make(map[model.ObjectRef]model.ProgressRecord, len(phaseData))
	for k, v := range phaseData {
		snapshotCopy[k] = v
	}
	s.mu.RUnlock()

	pending := make([]model.ObjectRef, 0, len(universe))
	for _, ref := range universe {
		rec, ok := snapshotCopy[ref]
		if !ok || rec.State != model.StateDone {
			pending = append(pending, ref)
		}
	}
	return pending
}

// Flush blocks until every mutation submitted before this call has been
// applied and persisted to disk.
func (s *Store) Flush(ctx context.Context) error {
	replyCh := make(chan error, 1)
	select {
	case s.flushReq <- replyCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-replyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending mutations and stops the writer goroutine.
func (s *Store) Close(ctx context.Context) error {
	err := s.Flush(ctx)
	close(s.done)
	s.wg.Wait()
	return err
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case m := <-s.mutations:
			s.apply(m)
		case reply := <-s.flushReq:
			s.drainPending()
			reply <- s.persist()
		case <-s.done:
			s.drainPending()
			_ = s.persist()
			return
		}
	}
}

func (s *Store) drainPending() {
	for {
		select {
		case m := <-s.mutations:
			s.apply(m)
		default:
			return
		}
	}
}

func (s *Store) apply(m mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[m.phase] == nil {
		s.data[m.phase] = make(map[model.ObjectRef]model.ProgressRecord)
	}
	s.data[m.phase][m.ref] = model.ProgressRecord{
		Ref:           m.ref,
		Phase:         m.phase,
		State:         m.state,
		LastAttemptAt: time.Now(),
		Error:         m.err,
	}
}

func (s *Store) persist() error {
	s.mu.RLock()
	records := make(map[model.Phase]map[model.ObjectRef]model.ProgressRecord, len(s.data))
	for phase, refs := range s.data {
		copyRefs := make(map[model.ObjectRef]model.ProgressRecord, len(refs))
		for ref, rec := range refs {
			copyRefs[ref] = rec
		}
		records[phase] = copyRefs
	}
	s.mu.RUnlock()

	snap := snapshot{Version: FormatVersion, Records: records}
	checksum, err := snap.computeChecksum()
	if err != nil {
		return fmt.Errorf("checksum progress snapshot: %w", err)
	}
	snap.Checksum = checksum

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".progress-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp progress file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write progress file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync progress file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close progress file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename progress file: %w", err)
	}
	success = true
	return nil
}
