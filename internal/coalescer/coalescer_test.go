package coalescer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sfvector-ingest/internal/bridge"
	"github.com/AleutianAI/sfvector-ingest/internal/cachestore"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

func refs(names ...string) []model.ObjectRef {
	out := make([]model.ObjectRef, len(names))
	for i, n := range names {
		out[i] = model.ObjectRef(n)
	}
	return out
}

func newTestCache(t *testing.T) *cachestore.Store {
	t.Helper()
	store, err := cachestore.New(cachestore.Config{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	return store
}

func TestFetch_SingleBatch(t *testing.T) {
	c := New(nil, Config{BatchSize: 10}, nil)
	var batchSizes []int

	got, err := c.Fetch(context.Background(), "test", refs("Account", "Contact", "Opportunity"), func(ctx context.Context, batch []model.ObjectRef) (map[model.ObjectRef][]byte, bridge.Classification, error) {
		batchSizes = append(batchSizes, len(batch))
		out := make(map[model.ObjectRef][]byte)
		for _, r := range batch {
			out[r] = []byte(string(r))
		}
		return out, bridge.Ok, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{3}, batchSizes)
	assert.Equal(t, []byte("Account"), got[model.ObjectRef("Account")])
}

func TestFetch_MultipleBatches(t *testing.T) {
	c := New(nil, Config{BatchSize: 2}, nil)
	names := []string{"A", "B", "C", "D", "E"}
	var callCount int

	got, err := c.Fetch(context.Background(), "test", refs(names...), func(ctx context.Context, batch []model.ObjectRef) (map[model.ObjectRef][]byte, bridge.Classification, error) {
		callCount++
		out := make(map[model.ObjectRef][]byte)
		for _, r := range batch {
			out[r] = []byte("x")
		}
		return out, bridge.Ok, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, callCount) // 2 + 2 + 1
	assert.Len(t, got, 5)
}

func TestFetch_MissingRefTreatedAsEmpty(t *testing.T) {
	c := New(nil, Config{BatchSize: 10}, nil)

	got, err := c.Fetch(context.Background(), "test", refs("Account", "Contact"), func(ctx context.Context, batch []model.ObjectRef) (map[model.ObjectRef][]byte, bridge.Classification, error) {
		return map[model.ObjectRef][]byte{"Account": []byte("data")}, bridge.Ok, nil
	})

	require.NoError(t, err)
	assert.Contains(t, got, model.ObjectRef("Account"))
	assert.NotContains(t, got, model.ObjectRef("Contact"))
}

func TestFetch_HalvesOnSyntacticError(t *testing.T) {
	c := New(nil, Config{BatchSize: 4}, nil)
	var seenSizes []int

	got, err := c.Fetch(context.Background(), "test", refs("A", "B", "C", "D"), func(ctx context.Context, batch []model.ObjectRef) (map[model.ObjectRef][]byte, bridge.Classification, error) {
		seenSizes = append(seenSizes, len(batch))
		if len(batch) > 1 {
			return nil, bridge.SyntacticError, nil
		}
		return map[model.ObjectRef][]byte{batch[0]: []byte("ok")}, bridge.Ok, nil
	})

	require.NoError(t, err)
	assert.Len(t, got, 4)
	// 4 -> halved to 2,2 -> each halved to 1,1,1,1
	assert.Equal(t, []int{4, 2, 1, 1, 2, 1, 1}, seenSizes)
}

func TestFetch_GivesUpOnSingleRefSyntacticError(t *testing.T) {
	c := New(nil, Config{BatchSize: 2}, nil)

	got, err := c.Fetch(context.Background(), "test", refs("Bad"), func(ctx context.Context, batch []model.ObjectRef) (map[model.ObjectRef][]byte, bridge.Classification, error) {
		return nil, bridge.SyntacticError, nil
	})

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFetch_PropagatesUnderlyingError(t *testing.T) {
	c := New(nil, Config{BatchSize: 10}, nil)

	_, err := c.Fetch(context.Background(), "test", refs("A"), func(ctx context.Context, batch []model.ObjectRef) (map[model.ObjectRef][]byte, bridge.Classification, error) {
		return nil, bridge.TransportError, assert.AnError
	})

	require.Error(t, err)
}

func TestFetch_ServesFromCacheWithoutCallingFn(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.Put(cachestore.Key("Account", "test", nil), "test", []byte("cached")))

	c := New(cache, Config{BatchSize: 10}, nil)
	called := false

	got, err := c.Fetch(context.Background(), "test", refs("Account"), func(ctx context.Context, batch []model.ObjectRef) (map[model.ObjectRef][]byte, bridge.Classification, error) {
		called = true
		return map[model.ObjectRef][]byte{"Account": []byte("fresh")}, bridge.Ok, nil
	})

	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, []byte("cached"), got[model.ObjectRef("Account")])
}

func TestFetch_CachesFreshPayloadForNextCall(t *testing.T) {
	cache := newTestCache(t)
	c := New(cache, Config{BatchSize: 10}, nil)
	calls := 0

	fn := func(ctx context.Context, batch []model.ObjectRef) (map[model.ObjectRef][]byte, bridge.Classification, error) {
		calls++
		out := make(map[model.ObjectRef][]byte)
		for _, r := range batch {
			out[r] = []byte("fresh")
		}
		return out, bridge.Ok, nil
	}

	_, err := c.Fetch(context.Background(), "test", refs("Account"), fn)
	require.NoError(t, err)

	got, err := c.Fetch(context.Background(), "test", refs("Account"), fn)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, []byte("fresh"), got[model.ObjectRef("Account")])
}

func TestFetch_OnlyBatchesUncachedRefs(t *testing.T) {
	cache := newTestCache(t)
	require.NoError(t, cache.Put(cachestore.Key("Account", "test", nil), "test", []byte("cached")))

	c := New(cache, Config{BatchSize: 10}, nil)
	var seenRefs []model.ObjectRef

	got, err := c.Fetch(context.Background(), "test", refs("Account", "Contact"), func(ctx context.Context, batch []model.ObjectRef) (map[model.ObjectRef][]byte, bridge.Classification, error) {
		seenRefs = append(seenRefs, batch...)
		out := make(map[model.ObjectRef][]byte)
		for _, r := range batch {
			out[r] = []byte("fresh")
		}
		return out, bridge.Ok, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []model.ObjectRef{"Contact"}, seenRefs)
	assert.Equal(t, []byte("cached"), got[model.ObjectRef("Account")])
	assert.Equal(t, []byte("fresh"), got[model.ObjectRef("Contact")])
}
