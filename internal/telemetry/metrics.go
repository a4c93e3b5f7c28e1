package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds every counter/histogram this pipeline records, all under
// the "sfvector_" prefix. Fields are grouped by the stage that owns them,
// mirroring services/trace/telemetry's Metrics struct.
type Metrics struct {
	// --- Bridge ---

	BridgeCallsTotal    metric.Int64Counter   // by classification
	BridgeCallDuration  metric.Float64Histogram

	// --- Retry ---

	RetryAttemptsTotal metric.Int64Counter // by call name, classification
	RetryExhaustedTotal metric.Int64Counter

	// --- Cache ---

	CacheHitsTotal   metric.Int64Counter
	CacheMissesTotal metric.Int64Counter
	CacheWritesTotal metric.Int64Counter

	// --- Rate limiter ---

	RateLimiterWaitDuration metric.Float64Histogram

	// --- Enumerate/describe/enrich ---

	ObjectsProcessedTotal metric.Int64Counter // by phase, outcome

	// --- Emit ---

	ChunksEmittedTotal metric.Int64Counter

	// --- Upload ---

	UploaderUpsertsTotal metric.Int64Counter
	UploaderDeletesTotal metric.Int64Counter
	UploaderBatchDuration metric.Float64Histogram

	// --- Quota wall ---

	QuotaWallTriggeredTotal metric.Int64Counter
}

// NewMetrics registers every metric against meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.BridgeCallsTotal, err = meter.Int64Counter(
		"sfvector_bridge_calls_total",
		metric.WithDescription("Total tenant CLI bridge invocations by classification"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create bridge_calls_total: %w", err)
	}

	m.BridgeCallDuration, err = meter.Float64Histogram(
		"sfvector_bridge_call_duration_seconds",
		metric.WithDescription("Tenant CLI bridge invocation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create bridge_call_duration: %w", err)
	}

	m.RetryAttemptsTotal, err = meter.Int64Counter(
		"sfvector_retry_attempts_total",
		metric.WithDescription("Total retry attempts by call name and classification"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retry_attempts_total: %w", err)
	}

	m.RetryExhaustedTotal, err = meter.Int64Counter(
		"sfvector_retry_exhausted_total",
		metric.WithDescription("Total calls that exhausted their retry budget"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create retry_exhausted_total: %w", err)
	}

	m.CacheHitsTotal, err = meter.Int64Counter(
		"sfvector_cache_hits_total",
		metric.WithDescription("Total cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache_hits_total: %w", err)
	}

	m.CacheMissesTotal, err = meter.Int64Counter(
		"sfvector_cache_misses_total",
		metric.WithDescription("Total cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache_misses_total: %w", err)
	}

	m.CacheWritesTotal, err = meter.Int64Counter(
		"sfvector_cache_writes_total",
		metric.WithDescription("Total cache writes"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache_writes_total: %w", err)
	}

	m.RateLimiterWaitDuration, err = meter.Float64Histogram(
		"sfvector_rate_limiter_wait_duration_seconds",
		metric.WithDescription("Time spent waiting for a rate limiter token"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create rate_limiter_wait_duration: %w", err)
	}

	m.ObjectsProcessedTotal, err = meter.Int64Counter(
		"sfvector_objects_processed_total",
		metric.WithDescription("Total objects processed by phase and outcome"),
		metric.WithUnit("{object}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create objects_processed_total: %w", err)
	}

	m.ChunksEmittedTotal, err = meter.Int64Counter(
		"sfvector_chunks_emitted_total",
		metric.WithDescription("Total corpus chunks written by the emitter"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create chunks_emitted_total: %w", err)
	}

	m.UploaderUpsertsTotal, err = meter.Int64Counter(
		"sfvector_uploader_upserts_total",
		metric.WithDescription("Total chunks upserted into the vector index"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create uploader_upserts_total: %w", err)
	}

	m.UploaderDeletesTotal, err = meter.Int64Counter(
		"sfvector_uploader_deletes_total",
		metric.WithDescription("Total object refs deleted from the vector index"),
		metric.WithUnit("{object}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create uploader_deletes_total: %w", err)
	}

	m.UploaderBatchDuration, err = meter.Float64Histogram(
		"sfvector_uploader_batch_duration_seconds",
		metric.WithDescription("Vector index batch operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		return nil, fmt.Errorf("create uploader_batch_duration: %w", err)
	}

	m.QuotaWallTriggeredTotal, err = meter.Int64Counter(
		"sfvector_quota_wall_triggered_total",
		metric.WithDescription("Total times a run halted at the quota wall"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create quota_wall_triggered_total: %w", err)
	}

	return m, nil
}
