package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sfvector-ingest/internal/bridge"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	e := New(Config{}, nil)
	calls := 0
	class, err := e.Do(context.Background(), "test", func(ctx context.Context, n int) (bridge.Classification, error) {
		calls++
		return bridge.Ok, nil
	})
	require.NoError(t, err)
	assert.Equal(t, bridge.Ok, class)
	assert.Equal(t, 1, calls)
}

func TestDo_SyntacticErrorNeverRetried(t *testing.T) {
	e := New(Config{MaxAttempts: 5}, nil)
	calls := 0
	class, err := e.Do(context.Background(), "test", func(ctx context.Context, n int) (bridge.Classification, error) {
		calls++
		return bridge.SyntacticError, nil
	})
	require.NoError(t, err)
	assert.Equal(t, bridge.SyntacticError, class)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransportErrorThenSucceeds(t *testing.T) {
	e := New(Config{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil)
	calls := 0
	class, err := e.Do(context.Background(), "test", func(ctx context.Context, n int) (bridge.Classification, error) {
		calls++
		if calls < 3 {
			return bridge.TransportError, assert.AnError
		}
		return bridge.Ok, nil
	})
	require.NoError(t, err)
	assert.Equal(t, bridge.Ok, class)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	e := New(Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, nil)
	calls := 0
	_, err := e.Do(context.Background(), "test", func(ctx context.Context, n int) (bridge.Classification, error) {
		calls++
		return bridge.TransportError, assert.AnError
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	e := New(Config{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := e.Do(ctx, "test", func(ctx context.Context, n int) (bridge.Classification, error) {
		calls++
		return bridge.TransportError, assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoff_QuotaFloorRaisesDelay(t *testing.T) {
	e := New(Config{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, QuotaFloorDelay: 30 * time.Second}, nil)
	d := e.backoff(1, true)
	assert.GreaterOrEqual(t, d, 30*time.Second)
	assert.LessOrEqual(t, d, 60*time.Second)
}

func TestBackoff_JitterWithinQuarterOfCappedDelay(t *testing.T) {
	e := New(Config{BaseDelay: time.Second, MaxDelay: 10 * time.Second}, nil)
	d := e.backoff(10, false)
	assert.GreaterOrEqual(t, d, 7500*time.Millisecond)
	assert.LessOrEqual(t, d, 12500*time.Millisecond)
}

func TestBackoff_JitterWithinQuarterOfRawDelay(t *testing.T) {
	e := New(Config{BaseDelay: time.Second, MaxDelay: time.Minute}, nil)
	d := e.backoff(1, false)
	assert.GreaterOrEqual(t, d, 750*time.Millisecond)
	assert.LessOrEqual(t, d, 1250*time.Millisecond)
}
