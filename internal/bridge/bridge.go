// Package bridge invokes the tenant's authenticated CLI as a subprocess
// and classifies the result into the taxonomy the rest of the pipeline
// reasons about: ok, transport, quota, syntactic, or timeout. It never
// panics or returns a bare exec error on a non-zero exit — classification
// happens once, here, at the boundary, so no other component inspects raw
// exit codes or greps stderr itself.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/ratelimit"
	"github.com/AleutianAI/sfvector-ingest/internal/telemetry"
)

// Classification is the result taxonomy from spec.md §7.
type Classification int

const (
	Ok Classification = iota
	TransportError
	QuotaError
	SyntacticError
	Timeout
)

func (c Classification) String() string {
	switch c {
	case Ok:
		return "ok"
	case TransportError:
		return "transport_error"
	case QuotaError:
		return "quota_error"
	case SyntacticError:
		return "syntactic_error"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Retryable reports whether the retry engine should ever retry this
// classification. Syntactic errors are never retryable.
func (c Classification) Retryable() bool {
	return c == TransportError || c == QuotaError || c == Timeout
}

// Result is the outcome of one subprocess invocation.
type Result struct {
	ExitCode       int
	Stdout         []byte
	Stderr         []byte
	Classification Classification
	Duration       time.Duration
}

// Rule matches a stderr substring to a Classification. Rules are
// evaluated in order; the first match wins. This is data rather than
// code so operators can extend it (e.g. a new quota-error phrasing from a
// CLI upgrade) without a rebuild.
type Rule struct {
	Substring      string
	Classification Classification
}

// DefaultRules is the documented substring table for the tenant CLI.
// Quota phrasing is grounded on the original pipeline's rate-limit
// handling (REQUEST_LIMIT_EXCEEDED / API_CURRENTLY_DISABLED-class
// errors); syntactic phrasing covers malformed query/metadata requests.
func DefaultRules() []Rule {
	return []Rule{
		{"REQUEST_LIMIT_EXCEEDED", QuotaError},
		{"TotalRequests Limit exceeded", QuotaError},
		{"API_CURRENTLY_DISABLED", QuotaError},
		{"error code: 420", QuotaError},
		{"MALFORMED_QUERY", SyntacticError},
		{"INVALID_FIELD", SyntacticError},
		{"INVALID_TYPE", SyntacticError},
		{"NOT_FOUND: object", SyntacticError},
		{"INVALID_SESSION_ID", TransportError},
		{"ECONNRESET", TransportError},
		{"connection refused", TransportError},
		{"EOF", TransportError},
		{"no such host", TransportError},
	}
}

// Config configures a Bridge.
type Config struct {
	// DefaultTimeout applies when Run is called without an explicit
	// per-call timeout override. Default: 300s (spec.md §4.1).
	DefaultTimeout time.Duration

	// GracePeriod is how long a cancelled subprocess is given to exit
	// before it is hard-killed (spec.md §5).
	GracePeriod time.Duration

	// Rules is the stderr classification table. DefaultRules() is used
	// if nil.
	Rules []Rule
}

func (c *Config) applyDefaults() {
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 300 * time.Second
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = 5 * time.Second
	}
	if c.Rules == nil {
		c.Rules = DefaultRules()
	}
}

// Bridge runs the tenant CLI. It is stateless: concurrent invocations of
// Run are safe, each spawning its own subprocess (spec.md §5 — the CLI
// subprocess is never shared across calls). Every call passes through
// the shared rate limiter first, since it is the sole gate on outbound
// remote calls (spec.md §3).
type Bridge struct {
	binary  string
	config  Config
	limiter *ratelimit.Limiter
	logger  *ingestlog.Logger
	metrics *telemetry.Metrics
}

// New constructs a Bridge that invokes binary (e.g. "sf" or "sfdx").
// limiter may be nil in tests that don't care about throttling; a live
// pipeline always wires a shared *ratelimit.Limiter here.
func New(binary string, config Config, limiter *ratelimit.Limiter, logger *ingestlog.Logger) *Bridge {
	config.applyDefaults()
	if logger == nil {
		logger = ingestlog.Nop()
	}
	return &Bridge{binary: binary, config: config, limiter: limiter, logger: logger.With("component", "bridge")}
}

// SetMetrics attaches OTel-backed counters. Optional; nil skips recording.
func (b *Bridge) SetMetrics(m *telemetry.Metrics) {
	b.metrics = m
}

// Run acquires a rate limiter token, then invokes the CLI with argv and
// optional stdin, honoring timeout (or the Bridge's DefaultTimeout when
// timeout is zero). It never returns a non-nil error for a classifiable
// subprocess failure — that information is carried in
// Result.Classification. A non-nil error return means the token
// couldn't be acquired, the process could not even be started, or ctx
// was already done.
func (b *Bridge) Run(ctx context.Context, argv []string, stdin []byte, timeout time.Duration) (Result, error) {
	if b.limiter != nil {
		if err := b.limiter.Acquire(ctx); err != nil {
			return Result{}, fmt.Errorf("acquire rate limit token: %w", err)
		}
	}

	if timeout == 0 {
		timeout = b.config.DefaultTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, b.binary, argv...)
	if len(stdin) > 0 {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// WaitDelay gives the subprocess a grace period to exit after ctx's
	// deadline fires before Wait force-kills it (spec.md §5).
	cmd.WaitDelay = b.config.GracePeriod

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil && !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return Result{}, ctx.Err()
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			if b.limiter != nil {
				b.limiter.RecordOutcome(false, false)
			}
			b.recordCall(ctx, Timeout, elapsed)
			return Result{
				ExitCode:       -1,
				Stdout:         stdout.Bytes(),
				Stderr:         stderr.Bytes(),
				Classification: Timeout,
				Duration:       elapsed,
			}, nil
		} else if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Result{}, fmt.Errorf("start %s: %w", b.binary, runErr)
		}
	}

	classification := b.classify(exitCode, stderr.Bytes())
	result := Result{
		ExitCode:       exitCode,
		Stdout:         stdout.Bytes(),
		Stderr:         stderr.Bytes(),
		Classification: classification,
		Duration:       elapsed,
	}

	if b.limiter != nil {
		b.limiter.RecordOutcome(classification == Ok, classification == QuotaError)
	}
	b.recordCall(ctx, classification, elapsed)

	if classification != Ok {
		b.logger.Warn("cli call classified non-ok",
			"argv", strings.Join(argv, " "),
			"exit_code", exitCode,
			"classification", classification.String(),
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return result, nil
}

// recordCall reports one bridge invocation's outcome. No-op if metrics
// were never attached.
func (b *Bridge) recordCall(ctx context.Context, class Classification, elapsed time.Duration) {
	if b.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("classification", class.String()))
	b.metrics.BridgeCallsTotal.Add(ctx, 1, attrs)
	b.metrics.BridgeCallDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// classify never sees a nil stderr slice; a non-zero exit with no
// recognized marker is a transport_error per spec.md §4.1.
func (b *Bridge) classify(exitCode int, stderr []byte) Classification {
	if exitCode == 0 {
		return Ok
	}
	text := string(stderr)
	for _, rule := range b.config.Rules {
		if strings.Contains(text, rule.Substring) {
			return rule.Classification
		}
	}
	return TransportError
}

// RunJSON runs the CLI and, on Ok classification, decodes stdout as JSON
// into out.
func (b *Bridge) RunJSON(ctx context.Context, argv []string, stdin []byte, timeout time.Duration, out any) (Result, error) {
	res, err := b.Run(ctx, argv, stdin, timeout)
	if err != nil || res.Classification != Ok {
		return res, err
	}
	if err := json.Unmarshal(res.Stdout, out); err != nil {
		return res, fmt.Errorf("decode json stdout: %w", err)
	}
	return res, nil
}

// RunXML runs the CLI and, on Ok classification, decodes stdout as XML
// into out. The tenant CLI's "retrieve-metadata" subcommand emits XML
// rather than JSON.
func (b *Bridge) RunXML(ctx context.Context, argv []string, stdin []byte, timeout time.Duration, out any) (Result, error) {
	res, err := b.Run(ctx, argv, stdin, timeout)
	if err != nil || res.Classification != Ok {
		return res, err
	}
	if err := xml.Unmarshal(res.Stdout, out); err != nil {
		return res, fmt.Errorf("decode xml stdout: %w", err)
	}
	return res, nil
}
