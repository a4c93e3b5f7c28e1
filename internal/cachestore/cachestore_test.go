package cachestore

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/AleutianAI/sfvector-ingest/internal/telemetry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	return s
}

func TestKey_Deterministic(t *testing.T) {
	a := Key("Account", "stats", map[string]string{"sample_size": "100"})
	b := Key("Account", "stats", map[string]string{"sample_size": "100"})
	assert.Equal(t, a, b)

	c := Key("Account", "stats", map[string]string{"sample_size": "200"})
	assert.NotEqual(t, a, c)
}

func TestPutGet_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	key := Key("Account", "metadata", nil)

	require.NoError(t, s.Put(key, "metadata", []byte("hello world")))

	payload, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("hello world"), payload)
	assert.EqualValues(t, 1, s.Stats().Hits)
}

func TestGet_MissOnAbsentKey(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.Get("nonexistent")
	assert.False(t, ok)
	assert.EqualValues(t, 1, s.Stats().Misses)
}

func TestGet_MissOnExpired(t *testing.T) {
	s, err := New(Config{Dir: t.TempDir(), MaxAge: time.Millisecond}, nil)
	require.NoError(t, err)

	key := Key("Account", "stats", nil)
	require.NoError(t, s.Put(key, "stats", []byte("data")))

	time.Sleep(5 * time.Millisecond)
	_, ok := s.Get(key)
	assert.False(t, ok)
}

func TestPut_CompressesLargePayloads(t *testing.T) {
	s := newTestStore(t)
	key := Key("Account", "big", nil)

	large := bytes.Repeat([]byte("x"), compressionFloor*4)
	require.NoError(t, s.Put(key, "big", large))

	payload, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, large, payload)
	assert.EqualValues(t, 1, s.Stats().CompressedWrites)
}

func TestLoad_SecondLoadServedFromCache(t *testing.T) {
	s := newTestStore(t)
	key := Key("Account", "fields", nil)

	var calls int32
	fetch := func(ctx context.Context) ([]byte, error) {
		calls++
		return []byte("fetched"), nil
	}

	got, err := s.Load(context.Background(), key, "fields", fetch)
	require.NoError(t, err)
	assert.Equal(t, []byte("fetched"), got)

	got2, err := s.Load(context.Background(), key, "fields", fetch)
	require.NoError(t, err)
	assert.Equal(t, []byte("fetched"), got2)
	assert.EqualValues(t, 1, calls)
}

func TestClear_ByDataType(t *testing.T) {
	s := newTestStore(t)
	statsKey := Key("Account", "stats", nil)
	autoKey := Key("Account", "automation", nil)
	require.NoError(t, s.Put(statsKey, "stats", []byte("s")))
	require.NoError(t, s.Put(autoKey, "automation", []byte("a")))

	n, err := s.Clear("stats", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := s.Get(statsKey)
	assert.False(t, ok)
	_, ok = s.Get(autoKey)
	assert.True(t, ok)
}

func TestClear_All(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(Key("A", "x", nil), "x", []byte("1")))
	require.NoError(t, s.Put(Key("B", "y", nil), "y", []byte("2")))

	n, err := s.Clear("", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestGetAny_IgnoresExpiry(t *testing.T) {
	s, err := New(Config{Dir: t.TempDir(), MaxAge: time.Millisecond}, nil)
	require.NoError(t, err)

	key := Key("Account", "stats", nil)
	require.NoError(t, s.Put(key, "stats", []byte("data")))
	time.Sleep(5 * time.Millisecond)

	_, ok := s.Get(key)
	assert.False(t, ok)

	payload, ok := s.GetAny(key)
	assert.True(t, ok)
	assert.Equal(t, []byte("data"), payload)
}

func TestGetAny_MissOnAbsentKey(t *testing.T) {
	s := newTestStore(t)
	_, ok := s.GetAny("nonexistent")
	assert.False(t, ok)
}

func TestSetMetrics_RecordsHitsMissesAndWrites(t *testing.T) {
	s := newTestStore(t)
	m, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	s.SetMetrics(m)

	key := Key("Account", "metadata", nil)
	require.NoError(t, s.Put(key, "metadata", []byte("hello")))
	_, ok := s.Get(key)
	require.True(t, ok)
	_, ok = s.Get("missing")
	require.False(t, ok)
}

func TestKey_ShortHexString(t *testing.T) {
	k := Key("Account", "metadata", nil)
	assert.Len(t, k, 16)
	assert.False(t, strings.ContainsAny(k, "_ "))
}
