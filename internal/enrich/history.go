package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/sfvector-ingest/internal/bridge"
	"github.com/AleutianAI/sfvector-ingest/internal/coalescer"
	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
	"github.com/AleutianAI/sfvector-ingest/internal/retry"
)

type historyRow struct {
	Field      string    `json:"field"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedBy string    `json:"modified_by"`
	ModifiedAt time.Time `json:"modified_at"`
}

// HistoryEnricher runs one coalesced query over custom fields and
// produces per-field created/modified provenance, per spec.md §4.8.
type HistoryEnricher struct {
	bridge    *bridge.Bridge
	coalescer *coalescer.Coalescer
	retry     *retry.Engine
	logger    *ingestlog.Logger
}

func NewHistoryEnricher(br *bridge.Bridge, co *coalescer.Coalescer, re *retry.Engine, logger *ingestlog.Logger) *HistoryEnricher {
	if logger == nil {
		logger = ingestlog.Nop()
	}
	return &HistoryEnricher{bridge: br, coalescer: co, retry: re, logger: logger.With("component", "enrich.history")}
}

func (e *HistoryEnricher) Name() model.Phase { return model.PhaseHistory }

func (e *HistoryEnricher) Enrich(ctx context.Context, records map[model.ObjectRef]*model.ObjectRecord) map[model.ObjectRef]error {
	refs := make([]model.ObjectRef, 0, len(records))
	for ref := range records {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	results, err := e.coalescer.Fetch(ctx, "history", refs, e.batchHistory)
	errs := make(map[model.ObjectRef]error)
	if err != nil {
		e.logger.Warn("history batch fetch failed entirely", "error", err.Error())
	}

	for _, ref := range refs {
		payload, ok := results[ref]
		if !ok {
			continue
		}
		var rows []historyRow
		if err := json.Unmarshal(payload, &rows); err != nil {
			errs[ref] = fmt.Errorf("decode history for %s: %w", ref, err)
			continue
		}
		records[ref].History = &model.HistoryBlock{Fields: rowsToFieldHistory(rows)}
	}

	return errs
}

func rowsToFieldHistory(rows []historyRow) []model.FieldHistory {
	fields := make([]model.FieldHistory, len(rows))
	for i, r := range rows {
		fields[i] = model.FieldHistory{
			Field:      r.Field,
			CreatedBy:  r.CreatedBy,
			CreatedAt:  r.CreatedAt,
			ModifiedBy: r.ModifiedBy,
			ModifiedAt: r.ModifiedAt,
		}
	}
	return fields
}

func (e *HistoryEnricher) batchHistory(ctx context.Context, refs []model.ObjectRef) (map[model.ObjectRef][]byte, bridge.Classification, error) {
	refList := make([]string, len(refs))
	for i, r := range refs {
		refList[i] = string(r)
	}
	var resp struct {
		Rows map[string][]historyRow `json:"rows"`
	}
	class, err := e.retry.Do(ctx, "history.list", func(ctx context.Context, attempt int) (bridge.Classification, error) {
		res, runErr := e.bridge.RunJSON(ctx, []string{"security", "field-history", "--objects", fmt.Sprint(refList), "--json"}, nil, 0, &resp)
		return res.Classification, runErr
	})
	if err != nil {
		return nil, class, err
	}
	out := make(map[model.ObjectRef][]byte, len(resp.Rows))
	for ref, rows := range resp.Rows {
		data, _ := json.Marshal(rows)
		out[model.ObjectRef(ref)] = data
	}
	return out, class, nil
}
