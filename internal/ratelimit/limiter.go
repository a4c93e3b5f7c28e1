// Package ratelimit provides the single global gate every outbound remote
// call must pass through (spec.md §4.2). It wraps golang.org/x/time/rate's
// token bucket with an adaptive layer that widens or narrows the refill
// rate based on a rolling success/failure window, kept as a
// mutex-guarded slice of recorded call outcomes.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/telemetry"
)

// Config configures the Limiter. Fields left zero take the defaults from
// spec.md §5: burst 20, steady-state 200/min, clamped to [50, 300]/min.
type Config struct {
	Burst              int
	StartRatePerMinute float64
	MinRatePerMinute   float64
	MaxRatePerMinute   float64

	// AdjustInterval is how often the adaptive loop re-evaluates the
	// success ratio. Default: 60s.
	AdjustInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Burst == 0 {
		c.Burst = 20
	}
	if c.StartRatePerMinute == 0 {
		c.StartRatePerMinute = 200
	}
	if c.MinRatePerMinute == 0 {
		c.MinRatePerMinute = 50
	}
	if c.MaxRatePerMinute == 0 {
		c.MaxRatePerMinute = 300
	}
	if c.AdjustInterval == 0 {
		c.AdjustInterval = 60 * time.Second
	}
}

// outcome is one recorded call result within the current window.
type outcome struct {
	success bool
	quota   bool
}

// Limiter is the sole throttle for remote calls. Safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	cfg      Config
	logger   *ingestlog.Logger
	outcomes []outcome
	metrics  *telemetry.Metrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// SetMetrics attaches OTel-backed counters. Optional; nil skips recording.
func (l *Limiter) SetMetrics(m *telemetry.Metrics) {
	l.metrics = m
}

// New builds a Limiter and starts its adaptive-adjustment goroutine. Call
// Close to stop it.
func New(cfg Config, logger *ingestlog.Logger) *Limiter {
	cfg.applyDefaults()
	if logger == nil {
		logger = ingestlog.Nop()
	}
	l := &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.StartRatePerMinute/60.0), cfg.Burst),
		cfg:     cfg,
		logger:  logger.With("component", "ratelimit"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go l.adjustLoop()
	return l
}

// Acquire blocks until a token is available. If ctx is done, or the wait
// would outlast ctx's deadline, it returns rate.Limiter.Wait's error
// unchanged. That error carries no bridge classification: Bridge.Run
// returns it as a plain error rather than a Timeout result, so the retry
// engine does not retry it.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	err := l.limiter.Wait(ctx)
	if l.metrics != nil {
		l.metrics.RateLimiterWaitDuration.Record(ctx, time.Since(start).Seconds())
	}
	return err
}

// CurrentRatePerMinute returns the limiter's present refill rate, for
// reporting.
func (l *Limiter) CurrentRatePerMinute() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return float64(l.limiter.Limit()) * 60.0
}

// RecordOutcome tells the adaptive layer whether the most recent remote
// call (after passing through Retry Engine classification) succeeded,
// and whether it was specifically a quota error.
func (l *Limiter) RecordOutcome(success, quota bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes = append(l.outcomes, outcome{success: success, quota: quota})
}

// Close stops the adaptive-adjustment goroutine.
func (l *Limiter) Close() {
	close(l.stopCh)
	<-l.doneCh
}

func (l *Limiter) adjustLoop() {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.cfg.AdjustInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.adjust()
		}
	}
}

// adjust applies spec.md §4.2's rule: >95% success and no quota errors
// multiplies the rate by 1.2; quota errors seen or success <80% halves
// it. Both are clamped to [Min, Max] and applied atomically under the
// same lock every other Limiter method takes.
func (l *Limiter) adjust() {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := len(l.outcomes)
	if total == 0 {
		return
	}

	var successes, quotaErrors int
	for _, o := range l.outcomes {
		if o.success {
			successes++
		}
		if o.quota {
			quotaErrors++
		}
	}
	successRatio := float64(successes) / float64(total)

	current := float64(l.limiter.Limit()) * 60.0
	next := current
	switch {
	case quotaErrors > 0 || successRatio < 0.80:
		next = current * 0.5
	case successRatio > 0.95:
		next = current * 1.2
	}

	if next < l.cfg.MinRatePerMinute {
		next = l.cfg.MinRatePerMinute
	}
	if next > l.cfg.MaxRatePerMinute {
		next = l.cfg.MaxRatePerMinute
	}

	if next != current {
		l.limiter.SetLimit(rate.Limit(next / 60.0))
		l.logger.Info("rate limiter adjusted",
			"from_per_min", current,
			"to_per_min", next,
			"success_ratio", successRatio,
			"quota_errors", quotaErrors,
			"window_size", total,
		)
	}

	l.outcomes = l.outcomes[:0]
}
