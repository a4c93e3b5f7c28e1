// Package coalescer batches per-ref remote queries into a single
// "ref IN (...)" call, then regroups the combined response back onto the
// individual refs that asked for it (spec.md §4.5). It is the Go shape
// of the original pipeline's get_all_*_batched functions
// (build_schema_library_end_to_end_optimized.py), which fetch automation,
// field-level-security, and stats data for many object names in one
// query rather than one call per object.
package coalescer

import (
	"context"
	"fmt"

	"github.com/AleutianAI/sfvector-ingest/internal/bridge"
	"github.com/AleutianAI/sfvector-ingest/internal/cachestore"
	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

// BatchFunc runs one "ref IN (batch)"-shaped remote call for the given
// refs and returns a result keyed by ref. A ref with no matching remote
// record may be left out of the map: coalescer logs it, caches nothing
// for it and leaves it out of Fetch's result as well, so callers read a
// missing key as "no data".
type BatchFunc func(ctx context.Context, refs []model.ObjectRef) (map[model.ObjectRef][]byte, bridge.Classification, error)

// Config controls batch sizing.
type Config struct {
	// BatchSize is the starting number of refs per remote call. Default
	// 200 (spec.md §5).
	BatchSize int
}

func (c *Config) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 200
	}
}

// Coalescer partitions a large ref set into batched remote calls, first
// serving whatever it can from the Cache Store (spec.md §4.5 steps 1 and
// 6: partition into cached/uncached before batching, write fresh
// payloads back after).
type Coalescer struct {
	cache  *cachestore.Store
	cfg    Config
	logger *ingestlog.Logger
}

// New builds a Coalescer. cache may be nil, in which case every ref is
// treated as uncached and no payload is persisted (useful in tests that
// only care about batching behavior).
func New(cache *cachestore.Store, cfg Config, logger *ingestlog.Logger) *Coalescer {
	cfg.applyDefaults()
	if logger == nil {
		logger = ingestlog.Nop()
	}
	return &Coalescer{cache: cache, cfg: cfg, logger: logger.With("component", "coalescer")}
}

// Fetch partitions refs into cached and uncached via the Cache Store,
// batches the uncached refs in groups of cfg.BatchSize through fn, and
// caches each fresh payload under dataType before merging everything
// into a single result map. If fn reports a SyntacticError for a batch
// (the remote query was too long or malformed for that many refs), the
// batch is halved and retried recursively down to single-ref calls
// before giving up on that ref.
func (c *Coalescer) Fetch(ctx context.Context, dataType string, refs []model.ObjectRef, fn BatchFunc) (map[model.ObjectRef][]byte, error) {
	out := make(map[model.ObjectRef][]byte, len(refs))
	keys := make(map[model.ObjectRef]string, len(refs))
	uncached := make([]model.ObjectRef, 0, len(refs))

	for _, ref := range refs {
		key := cachestore.Key(string(ref), dataType, nil)
		keys[ref] = key
		if c.cache != nil {
			if payload, ok := c.cache.Get(key); ok {
				out[ref] = payload
				continue
			}
		}
		uncached = append(uncached, ref)
	}

	for start := 0; start < len(uncached); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(uncached) {
			end = len(uncached)
		}
		batch := uncached[start:end]

		if err := c.fetchBatch(ctx, dataType, keys, batch, fn, out); err != nil {
			return out, err
		}
	}

	return out, nil
}

func (c *Coalescer) fetchBatch(ctx context.Context, dataType string, keys map[model.ObjectRef]string, batch []model.ObjectRef, fn BatchFunc, out map[model.ObjectRef][]byte) error {
	if len(batch) == 0 {
		return nil
	}

	results, class, err := fn(ctx, batch)
	if err != nil {
		return fmt.Errorf("batch fetch (%d refs): %w", len(batch), err)
	}

	if class == bridge.SyntacticError {
		if len(batch) == 1 {
			c.logger.Warn("single-ref batch still syntactic_error, giving up on ref", "ref", string(batch[0]))
			return nil
		}
		mid := len(batch) / 2
		c.logger.Debug("halving batch after syntactic_error", "from", len(batch), "to", mid)
		if err := c.fetchBatch(ctx, dataType, keys, batch[:mid], fn, out); err != nil {
			return err
		}
		return c.fetchBatch(ctx, dataType, keys, batch[mid:], fn, out)
	}

	for _, ref := range batch {
		payload, ok := results[ref]
		if !ok {
			c.logger.Warn("batch response missing ref, treating as empty", "ref", string(ref))
			continue
		}
		out[ref] = payload
		if c.cache != nil {
			if putErr := c.cache.Put(keys[ref], dataType, payload); putErr != nil {
				c.logger.Warn("cache put failed", "ref", string(ref), "error", putErr.Error())
			}
		}
	}
	return nil
}
