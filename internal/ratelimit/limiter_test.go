package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/AleutianAI/sfvector-ingest/internal/telemetry"
)

func TestAcquire_AllowsBurst(t *testing.T) {
	l := New(Config{Burst: 5, StartRatePerMinute: 60}, nil)
	defer l.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
}

func TestAcquire_RespectsDeadline(t *testing.T) {
	l := New(Config{Burst: 1, StartRatePerMinute: 6}, nil) // 1 token / 10s
	defer l.Close()

	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	assert.Error(t, err)
}

func TestAdjust_HalvesOnQuotaError(t *testing.T) {
	l := New(Config{StartRatePerMinute: 200, MinRatePerMinute: 50, MaxRatePerMinute: 300}, nil)
	defer l.Close()

	l.RecordOutcome(true, false)
	l.RecordOutcome(false, true)
	l.adjust()

	assert.InDelta(t, 100, l.CurrentRatePerMinute(), 0.01)
}

func TestAdjust_RaisesOnHighSuccess(t *testing.T) {
	l := New(Config{StartRatePerMinute: 200, MinRatePerMinute: 50, MaxRatePerMinute: 300}, nil)
	defer l.Close()

	for i := 0; i < 20; i++ {
		l.RecordOutcome(true, false)
	}
	l.adjust()

	assert.InDelta(t, 240, l.CurrentRatePerMinute(), 0.01)
}

func TestAdjust_ClampsToMax(t *testing.T) {
	l := New(Config{StartRatePerMinute: 290, MinRatePerMinute: 50, MaxRatePerMinute: 300}, nil)
	defer l.Close()

	for i := 0; i < 20; i++ {
		l.RecordOutcome(true, false)
	}
	l.adjust()

	assert.Equal(t, 300.0, l.CurrentRatePerMinute())
}

func TestAdjust_ClampsToMin(t *testing.T) {
	l := New(Config{StartRatePerMinute: 60, MinRatePerMinute: 50, MaxRatePerMinute: 300}, nil)
	defer l.Close()

	l.RecordOutcome(false, true)
	l.adjust()

	assert.Equal(t, 50.0, l.CurrentRatePerMinute())
}

func TestAcquire_RecordsWaitDurationWhenMetricsAttached(t *testing.T) {
	l := New(Config{Burst: 5, StartRatePerMinute: 60}, nil)
	defer l.Close()

	m, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	l.SetMetrics(m)

	require.NoError(t, l.Acquire(context.Background()))
}

func TestAdjust_NoOutcomesIsNoop(t *testing.T) {
	l := New(Config{StartRatePerMinute: 200}, nil)
	defer l.Close()

	l.adjust()
	assert.InDelta(t, 200, l.CurrentRatePerMinute(), 0.01)
}
