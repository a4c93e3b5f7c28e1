package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/AleutianAI/sfvector-ingest/internal/telemetry"
)

func TestRun_Success(t *testing.T) {
	b := New("echo", Config{}, nil, nil)
	res, err := b.Run(context.Background(), []string{"hello"}, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Ok, res.Classification)
	assert.Equal(t, 0, res.ExitCode)
}

func TestRun_NonZeroExitWithoutMarker_IsTransportError(t *testing.T) {
	b := New("sh", Config{}, nil, nil)
	res, err := b.Run(context.Background(), []string{"-c", "echo unrecognized 1>&2; exit 1"}, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, TransportError, res.Classification)
}

func TestRun_QuotaMarker(t *testing.T) {
	b := New("sh", Config{}, nil, nil)
	res, err := b.Run(context.Background(), []string{"-c", "echo REQUEST_LIMIT_EXCEEDED 1>&2; exit 1"}, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, QuotaError, res.Classification)
}

func TestRun_SyntacticMarker_NeverRetried(t *testing.T) {
	b := New("sh", Config{}, nil, nil)
	res, err := b.Run(context.Background(), []string{"-c", "echo MALFORMED_QUERY 1>&2; exit 1"}, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, SyntacticError, res.Classification)
	assert.False(t, res.Classification.Retryable())
}

func TestRun_Timeout(t *testing.T) {
	b := New("sleep", Config{}, nil, nil)
	res, err := b.Run(context.Background(), []string{"5"}, nil, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, Timeout, res.Classification)
	assert.True(t, res.Classification.Retryable())
}

func TestRun_RecordsCallMetricsWhenAttached(t *testing.T) {
	b := New("echo", Config{}, nil, nil)
	m, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	b.SetMetrics(m)

	res, err := b.Run(context.Background(), []string{"hello"}, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, Ok, res.Classification)
}

func TestClassify_CustomRules(t *testing.T) {
	b := New("true", Config{Rules: []Rule{{"CUSTOM_QUOTA", QuotaError}}}, nil, nil)
	assert.Equal(t, QuotaError, b.classify(1, []byte("some CUSTOM_QUOTA text")))
	assert.Equal(t, TransportError, b.classify(1, []byte("unmatched")))
	assert.Equal(t, Ok, b.classify(0, nil))
}
