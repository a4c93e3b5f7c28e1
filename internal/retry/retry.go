// Package retry implements the exponential-backoff-with-jitter engine
// that sits between the pipeline stages and internal/bridge. It decides,
// from a bridge.Classification alone, whether to retry, how long to
// wait, and when to give up, in the same calculateBackoff-then-Execute
// shape the vector index client uses for its own request retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/sfvector-ingest/internal/bridge"
	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/telemetry"
)

// ErrExhausted is returned when every attempt failed. The wrapped error
// is the last attempt's underlying error, if any.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Config controls backoff shape. Zero fields take spec.md §4.3's
// defaults: 5 attempts, 1s base delay doubling each attempt, capped at
// 60s, ±25% jitter, and a raised 30s floor with wider jitter once a
// quota error has been seen for this call.
type Config struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	QuotaFloorDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.QuotaFloorDelay == 0 {
		c.QuotaFloorDelay = 30 * time.Second
	}
}

// Attempt is a single classifiable unit of work: it returns the
// bridge.Classification the call resolved to, alongside any error worth
// surfacing if the retry budget is exhausted.
type Attempt func(ctx context.Context, attemptNum int) (bridge.Classification, error)

// Engine runs Attempt functions under the configured backoff policy. A
// single Engine is shared across the describer pool, every enricher,
// embed.Client, and the uploader's upsert pool, so backoff() uses only
// math/rand's package-level functions, which are safe for concurrent use
// (unlike a *rand.Rand built from rand.NewSource).
type Engine struct {
	cfg     Config
	logger  *ingestlog.Logger
	metrics *telemetry.Metrics
}

// SetMetrics attaches OTel-backed counters. Optional; nil skips recording.
func (e *Engine) SetMetrics(m *telemetry.Metrics) {
	e.metrics = m
}

// New builds an Engine. logger may be nil.
func New(cfg Config, logger *ingestlog.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = ingestlog.Nop()
	}
	return &Engine{cfg: cfg, logger: logger.With("component", "retry")}
}

// Do runs fn, retrying on any retryable classification up to
// cfg.MaxAttempts times. A syntactic_error classification (or Ok) short
// circuits immediately: syntactic errors are never retried (spec.md
// §4.3), matching bridge.Classification.Retryable().
func (e *Engine) Do(ctx context.Context, name string, fn Attempt) (bridge.Classification, error) {
	var lastErr error
	var lastClass bridge.Classification
	sawQuota := false

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		class, err := fn(ctx, attempt)
		lastClass, lastErr = class, err

		if e.metrics != nil {
			e.metrics.RetryAttemptsTotal.Add(ctx, 1,
				metric.WithAttributes(attribute.String("call", name), attribute.String("classification", class.String())))
		}

		if class == bridge.Ok || !class.Retryable() {
			if err != nil {
				return class, err
			}
			return class, nil
		}

		if class == bridge.QuotaError {
			sawQuota = true
		}

		if attempt == e.cfg.MaxAttempts {
			break
		}

		delay := e.backoff(attempt, sawQuota)
		e.logger.Warn("retrying after classified failure",
			"call", name,
			"attempt", attempt,
			"classification", class.String(),
			"delay_ms", delay.Milliseconds(),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return class, ctx.Err()
		case <-timer.C:
		}
	}

	if e.metrics != nil {
		e.metrics.RetryExhaustedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("call", name)))
	}

	if lastErr != nil {
		return lastClass, fmt.Errorf("%s: %w (last classification %s): %w", name, ErrExhausted, lastClass, lastErr)
	}
	return lastClass, fmt.Errorf("%s: %w (last classification %s)", name, ErrExhausted, lastClass)
}

// backoff computes attempt N's delay: base*2^(N-1) capped at MaxDelay,
// jittered to within ±25% of that value per spec.md §4.3. Once a quota
// error has been observed for this call, the floor is raised to
// QuotaFloorDelay and jitter widens to [floor, 2*floor] so repeated
// quota hits back off more conservatively than transient transport
// errors.
func (e *Engine) backoff(attempt int, sawQuota bool) time.Duration {
	if sawQuota {
		floor := e.cfg.QuotaFloorDelay
		return floor + time.Duration(rand.Int63n(int64(floor)+1))
	}

	raw := float64(e.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if raw > float64(e.cfg.MaxDelay) {
		raw = float64(e.cfg.MaxDelay)
	}
	jittered := raw*0.75 + rand.Float64()*raw*0.5
	return time.Duration(jittered)
}
