// Package orchestrator drives the fixed pipeline sequence
// (enumerate -> describe -> enrich -> emit -> upload) over the phase
// selector, in dependency order, tracking progress and halting cleanly
// on a quota wall. Phase sequencing and the started/completed logging
// pattern follow services/trace/dag/executor.go's Run loop, simplified
// from a general dependency DAG to this pipeline's single fixed chain,
// since spec.md's phases have one linear dependency order rather than
// an arbitrary graph.
package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/sfvector-ingest/internal/cachestore"
	"github.com/AleutianAI/sfvector-ingest/internal/describer"
	"github.com/AleutianAI/sfvector-ingest/internal/emitter"
	"github.com/AleutianAI/sfvector-ingest/internal/enrich"
	"github.com/AleutianAI/sfvector-ingest/internal/enumerator"
	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
	"github.com/AleutianAI/sfvector-ingest/internal/progress"
	"github.com/AleutianAI/sfvector-ingest/internal/telemetry"
	"github.com/AleutianAI/sfvector-ingest/internal/uploader"
)

var tracer = otel.Tracer("sfvector-ingest.orchestrator")

// ErrQuotaWall is returned when the Progress Store reports the
// consecutive-quota-error threshold has been crossed. The Orchestrator
// stops dispatching new work and returns this error rather than
// panicking or exiting the process itself; cmd/ingestctl maps it to
// exit code 2.
var ErrQuotaWall = fmt.Errorf("orchestrator: quota wall reached")

// Config selects which phases to run and where the Emitter writes.
type Config struct {
	Phases      []model.Phase // subset of model.AllPhases, in any order
	CorpusPath  string
	SchemaPath  string
	MarkdownDir string // optional; empty skips per-object markdown output
}

func (c *Config) selected() map[model.Phase]bool {
	sel := make(map[model.Phase]bool, len(c.Phases))
	for _, p := range c.Phases {
		sel[p] = true
	}
	return sel
}

// Report is the end-of-run summary spec.md §4.12 requires: counts per
// stage plus cache statistics and elapsed time.
type Report struct {
	Enumerated int
	Described  int
	Enriched   int
	Emitted    int
	Uploaded   int
	Errored    int
	CacheStats cachestore.Stats
	Elapsed    time.Duration
	QuotaWall  bool
}

// Orchestrator wires every pipeline stage together and drives one
// end-to-end run.
type Orchestrator struct {
	enumerator *enumerator.Enumerator
	describer  *describer.Describer
	enrichers  []enrich.Enricher
	emitter    *emitter.Emitter
	uploader   *uploader.Uploader
	cache      *cachestore.Store
	progress   progress.ProgressStore
	cfg        Config
	logger     *ingestlog.Logger
	metrics    *telemetry.Metrics
}

// SetMetrics attaches OTel-backed counters. Optional; a nil Orchestrator
// metrics field simply skips recording.
func (o *Orchestrator) SetMetrics(m *telemetry.Metrics) {
	o.metrics = m
}

// New constructs an Orchestrator. Any of describer/enrichers/emitter/
// uploader may be nil if cfg.Phases never selects the phase requiring
// them; a nil dependency for a selected phase is a configuration error
// surfaced the first time that phase runs.
func New(
	enum *enumerator.Enumerator,
	desc *describer.Describer,
	enrichers []enrich.Enricher,
	emit *emitter.Emitter,
	up *uploader.Uploader,
	cache *cachestore.Store,
	progressStore progress.ProgressStore,
	cfg Config,
	logger *ingestlog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = ingestlog.Nop()
	}
	return &Orchestrator{
		enumerator: enum,
		describer:  desc,
		enrichers:  enrichers,
		emitter:    emit,
		uploader:   up,
		cache:      cache,
		progress:   progressStore,
		cfg:        cfg,
		logger:     logger.With("component", "orchestrator"),
	}
}

// Run executes the selected phases in dependency order:
// enumerate -> describe -> {stats, automation, security, history,
// org-security} -> emit -> upload. Enrichment phases run independently
// of each other (spec.md §4.7-§4.8) but all depend on describe having
// completed for the ref they touch.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "orchestrator.Run")
	defer span.End()

	sel := o.cfg.selected()
	var report Report

	if !sel[model.PhaseEnumerate] {
		span.SetStatus(codes.Error, "enumerate phase required")
		return report, fmt.Errorf("orchestrator: enumerate must be selected")
	}

	universe, err := o.runEnumerate(ctx, &report)
	if err != nil {
		return o.finish(report, start, err, span)
	}

	records := make(map[model.ObjectRef]model.ObjectRecord, len(universe))

	if sel[model.PhaseDescribe] {
		if err := o.runDescribe(ctx, universe, records, &report); err != nil {
			return o.finish(report, start, err, span)
		}
	}

	if o.progress.AtQuotaWall() {
		report.QuotaWall = true
		o.recordQuotaWall(ctx)
		return o.finish(report, start, ErrQuotaWall, span)
	}

	if err := o.runEnrichers(ctx, sel, universe, records, &report); err != nil {
		return o.finish(report, start, err, span)
	}

	if o.progress.AtQuotaWall() {
		report.QuotaWall = true
		o.recordQuotaWall(ctx)
		return o.finish(report, start, ErrQuotaWall, span)
	}

	var chunks []model.Chunk
	if sel[model.PhaseEmit] {
		chunks, err = o.runEmit(ctx, records, &report)
		if err != nil {
			return o.finish(report, start, err, span)
		}
	}

	if sel[model.PhaseUpload] {
		if !sel[model.PhaseEmit] {
			chunks, err = readBackChunks(o.cfg.CorpusPath)
			if err != nil {
				return o.finish(report, start, fmt.Errorf("read corpus for upload: %w", err), span)
			}
		}
		if err := o.runUpload(ctx, chunks, &report); err != nil {
			return o.finish(report, start, err, span)
		}
	}

	if o.cache != nil {
		report.CacheStats = o.cache.Stats()
	}
	return o.finish(report, start, nil, span)
}

func (o *Orchestrator) finish(report Report, start time.Time, err error, span trace.Span) (Report, error) {
	report.Elapsed = time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error("run failed", "error", err, "elapsed", report.Elapsed)
		return report, err
	}
	span.SetStatus(codes.Ok, "")
	o.logger.Info("run complete",
		"enumerated", report.Enumerated, "described", report.Described,
		"enriched", report.Enriched, "emitted", report.Emitted,
		"uploaded", report.Uploaded, "errored", report.Errored,
		"elapsed", report.Elapsed)
	return report, nil
}

func (o *Orchestrator) runEnumerate(ctx context.Context, report *Report) ([]model.ObjectRef, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.enumerate")
	defer span.End()

	refs, err := o.enumerator.List(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("enumerate: %w", err)
	}
	for _, ref := range refs {
		_ = o.progress.Mark(ref, model.PhaseEnumerate, model.StateDone, "")
	}
	report.Enumerated = len(refs)
	span.SetAttributes(attribute.Int("refs", len(refs)))
	if o.metrics != nil {
		o.metrics.ObjectsProcessedTotal.Add(ctx, int64(len(refs)),
			metric.WithAttributes(attribute.String("phase", string(model.PhaseEnumerate)), attribute.String("outcome", "done")))
	}
	return refs, nil
}

func (o *Orchestrator) runDescribe(ctx context.Context, universe []model.ObjectRef, records map[model.ObjectRef]model.ObjectRecord, report *Report) error {
	ctx, span := tracer.Start(ctx, "orchestrator.describe")
	defer span.End()

	if o.describer == nil {
		return fmt.Errorf("describe phase selected but no describer configured")
	}

	pending := o.progress.Pending(model.PhaseDescribe, universe)
	pendingSet := make(map[model.ObjectRef]bool, len(pending))
	for _, ref := range pending {
		pendingSet[ref] = true
	}

	// Refs the Progress Store already marked done (an earlier run's work)
	// must not go back through the bridge just because the describe
	// cache's MaxAge lapsed on a multi-day resume: reconstruct them from
	// the cache directly. A ref whose entry is gone entirely (e.g.
	// evicted by Clear) falls back into pending so its record isn't
	// silently dropped from enrichment and emission.
	for _, ref := range universe {
		if pendingSet[ref] {
			continue
		}
		if rec, ok := o.describer.CachedRecord(ref); ok {
			records[ref] = rec
			continue
		}
		o.logger.Warn("describe cache entry missing for already-done ref, re-describing", "ref", ref)
		pending = append(pending, ref)
		pendingSet[ref] = true
	}

	if len(pending) == 0 {
		o.logger.Info("describe: nothing pending, skipping")
	} else {
		recs, errs := o.describer.Describe(ctx, pending)
		for ref, rec := range recs {
			records[ref] = rec
			_ = o.progress.Mark(ref, model.PhaseDescribe, model.StateDone, "")
		}
		for ref, err := range errs {
			report.Errored++
			_ = o.progress.Mark(ref, model.PhaseDescribe, model.StateError, classifyErrMsg(err))
			o.logger.Warn("describe failed", "ref", ref, "error", err)
		}
		if o.metrics != nil {
			o.metrics.ObjectsProcessedTotal.Add(ctx, int64(len(recs)),
				metric.WithAttributes(attribute.String("phase", string(model.PhaseDescribe)), attribute.String("outcome", "done")))
			o.metrics.ObjectsProcessedTotal.Add(ctx, int64(len(errs)),
				metric.WithAttributes(attribute.String("phase", string(model.PhaseDescribe)), attribute.String("outcome", "error")))
		}
	}

	report.Described = len(records)
	span.SetAttributes(attribute.Int("records", len(records)))
	return nil
}

func (o *Orchestrator) runEnrichers(ctx context.Context, sel map[model.Phase]bool, universe []model.ObjectRef, records map[model.ObjectRef]model.ObjectRecord, report *Report) error {
	ptrRecords := make(map[model.ObjectRef]*model.ObjectRecord, len(records))
	for ref := range records {
		rec := records[ref]
		ptrRecords[ref] = &rec
	}

	for _, e := range o.enrichers {
		if !sel[e.Name()] {
			continue
		}
		enrichCtx, span := tracer.Start(ctx, "orchestrator.enrich."+string(e.Name()))

		pending := o.progress.Pending(e.Name(), universe)
		if len(pending) == 0 {
			span.End()
			continue
		}

		// Enrich only the refs this phase hasn't already completed, not
		// the whole record set — a resumed run must not re-enrich work
		// the Progress Store already marked done for this phase.
		pendingRecords := make(map[model.ObjectRef]*model.ObjectRecord, len(pending))
		for _, ref := range pending {
			if rec, ok := ptrRecords[ref]; ok {
				pendingRecords[ref] = rec
			}
		}

		errs := e.Enrich(enrichCtx, pendingRecords)
		done := 0
		for ref := range pendingRecords {
			if err, failed := errs[ref]; failed {
				report.Errored++
				_ = o.progress.Mark(ref, e.Name(), model.StateError, classifyErrMsg(err))
				o.logger.Warn("enrich failed", "phase", e.Name(), "ref", ref, "error", err)
				continue
			}
			_ = o.progress.Mark(ref, e.Name(), model.StateDone, "")
			done++
		}
		if o.metrics != nil {
			o.metrics.ObjectsProcessedTotal.Add(enrichCtx, int64(done),
				metric.WithAttributes(attribute.String("phase", string(e.Name())), attribute.String("outcome", "done")))
			o.metrics.ObjectsProcessedTotal.Add(enrichCtx, int64(len(errs)),
				metric.WithAttributes(attribute.String("phase", string(e.Name())), attribute.String("outcome", "error")))
		}
		span.End()
	}

	for ref, rec := range ptrRecords {
		records[ref] = *rec
	}
	report.Enriched = len(records)
	return nil
}

func (o *Orchestrator) runEmit(ctx context.Context, records map[model.ObjectRef]model.ObjectRecord, report *Report) ([]model.Chunk, error) {
	if o.emitter == nil {
		return nil, fmt.Errorf("emit phase selected but no emitter configured")
	}
	for ref, rec := range records {
		hash, err := model.ComputeContentHash(rec)
		if err != nil {
			return nil, fmt.Errorf("compute content hash for %s: %w", ref, err)
		}
		rec.ContentHash = hash
		records[ref] = rec
	}

	n, err := o.emitter.Emit(records, o.cfg.CorpusPath, o.cfg.SchemaPath, o.cfg.MarkdownDir)
	if err != nil {
		return nil, fmt.Errorf("emit: %w", err)
	}
	for ref := range records {
		_ = o.progress.Mark(ref, model.PhaseEmit, model.StateDone, "")
	}
	report.Emitted = n

	chunks, err := readBackChunks(o.cfg.CorpusPath)
	if err != nil {
		return nil, fmt.Errorf("read back emitted corpus: %w", err)
	}
	if o.metrics != nil {
		o.metrics.ChunksEmittedTotal.Add(ctx, int64(len(chunks)))
	}
	return chunks, nil
}

func (o *Orchestrator) runUpload(ctx context.Context, chunks []model.Chunk, report *Report) error {
	if o.uploader == nil {
		return fmt.Errorf("upload phase selected but no uploader configured")
	}
	up, err := o.uploader.Upload(ctx, chunks)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	report.Uploaded = up.ChunksUpsert
	report.Errored += len(up.Errors)
	return nil
}

// readBackChunks reloads the JSONL corpus the Emitter just wrote so the
// upload phase works from exactly what was emitted rather than a second
// in-memory copy of every chunk carried alongside records.
func readBackChunks(path string) ([]model.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	var chunks []model.Chunk
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var c model.Chunk
		if err := json.Unmarshal(line, &c); err != nil {
			return nil, fmt.Errorf("decode chunk line: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan corpus: %w", err)
	}
	return chunks, nil
}

func (o *Orchestrator) recordQuotaWall(ctx context.Context) {
	if o.metrics != nil {
		o.metrics.QuotaWallTriggeredTotal.Add(ctx, 1)
	}
}

func classifyErrMsg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
