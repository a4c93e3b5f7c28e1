// Package describer fetches full field-and-relationship metadata for
// each object ref, one cached remote call per ref, bounded by a worker
// pool (spec.md §4.7). The fan-out/join shape follows the lint runner's
// LintFiles: one errgroup goroutine per ref, with SetLimit bounding how
// many run at once, and results are collected into a ref-keyed map
// rather than the input-order slice a file linter would produce, since
// downstream consumers (enrichers) address records by ref, not position.
package describer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/sfvector-ingest/internal/bridge"
	"github.com/AleutianAI/sfvector-ingest/internal/cachestore"
	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
	"github.com/AleutianAI/sfvector-ingest/internal/retry"
)

// Config controls describer parallelism.
type Config struct {
	// Workers bounds concurrent describe calls in flight. Default 15.
	Workers int
}

func (c *Config) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = 15
	}
}

// describeResponse is the tenant CLI's per-object metadata shape.
type describeResponse struct {
	Label         string `json:"label"`
	Description   string `json:"description"`
	Fields        []model.FieldSpec `json:"fields"`
	Relationships []model.Relationship `json:"relationships"`
}

// Describer fetches ObjectRecord.Fields/Relationships for a ref set.
type Describer struct {
	bridge *bridge.Bridge
	cache  *cachestore.Store
	retry  *retry.Engine
	cfg    Config
	logger *ingestlog.Logger
}

// New builds a Describer.
func New(br *bridge.Bridge, cache *cachestore.Store, retryEngine *retry.Engine, cfg Config, logger *ingestlog.Logger) *Describer {
	cfg.applyDefaults()
	if logger == nil {
		logger = ingestlog.Nop()
	}
	return &Describer{bridge: br, cache: cache, retry: retryEngine, cfg: cfg, logger: logger.With("component", "describer")}
}

// Describe fetches metadata for every ref in refs, bounded by
// cfg.Workers concurrent calls. A per-ref failure does not abort the
// batch; it is recorded in the returned errs map keyed by ref, and the
// ref is absent from the returned records map.
func (d *Describer) Describe(ctx context.Context, refs []model.ObjectRef) (map[model.ObjectRef]model.ObjectRecord, map[model.ObjectRef]error) {
	records := make(map[model.ObjectRef]model.ObjectRecord, len(refs))
	errs := make(map[model.ObjectRef]error)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			rec, err := d.describeOne(gctx, ref)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[ref] = err
				return nil
			}
			records[ref] = rec
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("describe complete", "requested", len(refs), "succeeded", len(records), "failed", len(errs))
	return records, errs
}

// CachedRecord reconstructs ref's record from a prior describe call
// without ever reaching the bridge, ignoring the cache's MaxAge. It
// exists for a resumed run's already-done refs: the Progress Store
// already recorded describe as complete for ref, so re-validating
// freshness here would turn a resume into a remote call for work that
// finished in an earlier run. found is false when no usable describe
// cache entry exists: it is missing (e.g. evicted by Clear), unreadable
// or from another schema version, or its payload does not decode.
func (d *Describer) CachedRecord(ref model.ObjectRef) (model.ObjectRecord, bool) {
	key := cachestore.Key(string(ref), "describe", nil)
	payload, ok := d.cache.GetAny(key)
	if !ok {
		return model.ObjectRecord{}, false
	}
	var resp describeResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		d.logger.Warn("decode cached describe payload failed", "ref", ref, "error", err.Error())
		return model.ObjectRecord{}, false
	}
	return model.ObjectRecord{
		Ref:           ref,
		Label:         resp.Label,
		Description:   resp.Description,
		Fields:        resp.Fields,
		Relationships: resp.Relationships,
	}, true
}

func (d *Describer) describeOne(ctx context.Context, ref model.ObjectRef) (model.ObjectRecord, error) {
	key := cachestore.Key(string(ref), "describe", nil)

	payload, err := d.cache.Load(ctx, key, "describe", func(ctx context.Context) ([]byte, error) {
		var resp describeResponse
		class, err := d.retry.Do(ctx, "describe:"+string(ref), func(ctx context.Context, attempt int) (bridge.Classification, error) {
			res, runErr := d.bridge.RunJSON(ctx, []string{"sobject", "describe", "--name", string(ref), "--json"}, nil, 0, &resp)
			return res.Classification, runErr
		})
		if err != nil {
			return nil, err
		}
		if class != bridge.Ok {
			return nil, fmt.Errorf("describe %s: %s", ref, class.String())
		}
		return json.Marshal(resp)
	})
	if err != nil {
		return model.ObjectRecord{}, fmt.Errorf("describe %s: %w", ref, err)
	}

	var resp describeResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return model.ObjectRecord{}, fmt.Errorf("decode cached describe payload for %s: %w", ref, err)
	}

	return model.ObjectRecord{
		Ref:           ref,
		Label:         resp.Label,
		Description:   resp.Description,
		Fields:        resp.Fields,
		Relationships: resp.Relationships,
	}, nil
}
