package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/sfvector-ingest/internal/bridge"
	"github.com/AleutianAI/sfvector-ingest/internal/coalescer"
	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
	"github.com/AleutianAI/sfvector-ingest/internal/retry"
)

// StatsConfig controls sampling.
type StatsConfig struct {
	SampleSize int // default 100
	Workers    int // default 15, for per-object sampled reads
}

func (c *StatsConfig) applyDefaults() {
	if c.SampleSize == 0 {
		c.SampleSize = 100
	}
	if c.Workers == 0 {
		c.Workers = 15
	}
}

// countResponse is the tenant CLI's SELECT COUNT() shape.
type countResponse struct {
	Count int64 `json:"count"`
}

// sampleResponse is the tenant CLI's sampled-record shape used for
// field fill-rate and picklist distribution computation.
type sampleResponse struct {
	Records []map[string]any `json:"records"`
}

// StatsEnricher computes record counts, field fill-rates, picklist
// distribution, and freshness, grounded on the original pipeline's
// get_all_stats_data_batched (count query + LIMIT-N sample + client-side
// fill-rate arithmetic).
type StatsEnricher struct {
	bridge     *bridge.Bridge
	coalescer  *coalescer.Coalescer
	retry      *retry.Engine
	cfg        StatsConfig
	logger     *ingestlog.Logger
	freshDays  int
}

// NewStatsEnricher builds a StatsEnricher. freshDays sets the freshness
// window (default 90) used for the date-filtered count.
func NewStatsEnricher(br *bridge.Bridge, co *coalescer.Coalescer, re *retry.Engine, cfg StatsConfig, freshDays int, logger *ingestlog.Logger) *StatsEnricher {
	cfg.applyDefaults()
	if freshDays == 0 {
		freshDays = 90
	}
	if logger == nil {
		logger = ingestlog.Nop()
	}
	return &StatsEnricher{bridge: br, coalescer: co, retry: re, cfg: cfg, freshDays: freshDays, logger: logger.With("component", "enrich.stats")}
}

func (e *StatsEnricher) Name() model.Phase { return model.PhaseStats }

func (e *StatsEnricher) Enrich(ctx context.Context, records map[model.ObjectRef]*model.ObjectRecord) map[model.ObjectRef]error {
	refs := make([]model.ObjectRef, 0, len(records))
	for ref := range records {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	counts, err := e.coalescer.Fetch(ctx, "stats_count", refs, e.batchCount)
	if err != nil {
		e.logger.Warn("stats count batch failed entirely", "error", err.Error())
	}

	errs := make(map[model.ObjectRef]error)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			block, err := e.enrichOne(gctx, ref, counts[ref])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[ref] = err
				return nil
			}
			records[ref].Stats = block
			return nil
		})
	}
	_ = g.Wait()

	return errs
}

func (e *StatsEnricher) batchCount(ctx context.Context, refs []model.ObjectRef) (map[model.ObjectRef][]byte, bridge.Classification, error) {
	out := make(map[model.ObjectRef][]byte, len(refs))
	var lastClass bridge.Classification
	for _, ref := range refs {
		var resp countResponse
		class, err := e.retry.Do(ctx, "stats.count:"+string(ref), func(ctx context.Context, attempt int) (bridge.Classification, error) {
			res, runErr := e.bridge.RunJSON(ctx, []string{"data", "query", "--query", fmt.Sprintf("SELECT COUNT() FROM %s", ref), "--json"}, nil, 0, &resp)
			return res.Classification, runErr
		})
		lastClass = class
		if err != nil || class != bridge.Ok {
			continue
		}
		data, _ := json.Marshal(resp)
		out[ref] = data
	}
	return out, lastClass, nil
}

func (e *StatsEnricher) enrichOne(ctx context.Context, ref model.ObjectRef, countPayload []byte) (*model.StatsBlock, error) {
	var recordCount int64
	if countPayload != nil {
		var resp countResponse
		if err := json.Unmarshal(countPayload, &resp); err == nil {
			recordCount = resp.Count
		}
	}

	var sample sampleResponse
	class, err := e.retry.Do(ctx, "stats.sample:"+string(ref), func(ctx context.Context, attempt int) (bridge.Classification, error) {
		res, runErr := e.bridge.RunJSON(ctx, []string{"data", "query", "--query", fmt.Sprintf("SELECT FIELDS(ALL) FROM %s LIMIT %d", ref, e.cfg.SampleSize), "--json"}, nil, 0, &sample)
		return res.Classification, runErr
	})
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", ref, err)
	}
	if class != bridge.Ok {
		return nil, fmt.Errorf("sample %s: %s", ref, class.String())
	}

	fillRates, picklists := computeFillRatesAndPicklists(sample.Records)
	topProfiles := computeTopOwningProfiles(sample.Records)

	var freshCount countResponse
	freshClass, ferr := e.retry.Do(ctx, "stats.freshness:"+string(ref), func(ctx context.Context, attempt int) (bridge.Classification, error) {
		since := time.Now().AddDate(0, 0, -e.freshDays).Format("2006-01-02")
		res, runErr := e.bridge.RunJSON(ctx, []string{"data", "query", "--query", fmt.Sprintf("SELECT COUNT() FROM %s WHERE LastModifiedDate >= %sT00:00:00Z", ref, since), "--json"}, nil, 0, &freshCount)
		return res.Classification, runErr
	})
	freshness := 0.0
	if ferr == nil && freshClass == bridge.Ok && recordCount > 0 {
		freshness = float64(freshCount.Count) / float64(recordCount)
	}

	return &model.StatsBlock{
		RecordCount:          recordCount,
		FieldFillRates:       fillRates,
		PicklistDistribution: picklists,
		FreshnessFraction:    freshness,
		TopOwningProfiles:    topProfiles,
		SampledAt:            time.Now(),
	}, nil
}

// computeTopOwningProfiles reads Owner.Profile.Name off each sample
// record (present when the query's field list includes the owner
// relationship) and returns the distinct profile names ranked by
// frequency, capped at 5.
func computeTopOwningProfiles(records []map[string]any) []string {
	counts := make(map[string]int)
	for _, rec := range records {
		owner, ok := rec["Owner"].(map[string]any)
		if !ok {
			continue
		}
		profile, ok := owner["Profile"].(map[string]any)
		if !ok {
			continue
		}
		name, ok := profile["Name"].(string)
		if !ok || name == "" {
			continue
		}
		counts[name]++
	}
	if len(counts) == 0 {
		return nil
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > 5 {
		names = names[:5]
	}
	return names
}

func computeFillRatesAndPicklists(records []map[string]any) ([]model.FieldFillRate, map[string][]model.PicklistBucket) {
	if len(records) == 0 {
		return nil, nil
	}

	fieldNames := make([]string, 0)
	seen := make(map[string]bool)
	for _, rec := range records {
		for field := range rec {
			if field == "attributes" || seen[field] {
				continue
			}
			seen[field] = true
			fieldNames = append(fieldNames, field)
		}
	}
	sort.Strings(fieldNames)

	fillRates := make([]model.FieldFillRate, 0, len(fieldNames))
	picklists := make(map[string][]model.PicklistBucket)

	for _, field := range fieldNames {
		var nonNull int64
		valueCounts := make(map[string]int64)
		for _, rec := range records {
			v, ok := rec[field]
			if !ok || v == nil {
				continue
			}
			if s, ok := v.(string); ok && s == "" {
				continue
			}
			nonNull++
			if s, ok := v.(string); ok {
				valueCounts[s]++
			}
		}
		fillRates = append(fillRates, model.FieldFillRate{
			Field:    field,
			NonNull:  nonNull,
			Sampled:  int64(len(records)),
			FillRate: float64(nonNull) / float64(len(records)),
		})

		if len(valueCounts) > 0 && len(valueCounts) <= 50 {
			buckets := make([]model.PicklistBucket, 0, len(valueCounts))
			for value, count := range valueCounts {
				buckets = append(buckets, model.PicklistBucket{Value: value, Count: count})
			}
			sort.Slice(buckets, func(i, j int) bool { return buckets[i].Value < buckets[j].Value })
			picklists[field] = buckets
		}
	}

	return fillRates, picklists
}
