package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/AleutianAI/sfvector-ingest/internal/bridge"
	"github.com/AleutianAI/sfvector-ingest/internal/coalescer"
	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
	"github.com/AleutianAI/sfvector-ingest/internal/retry"
)

type fieldPermRow struct {
	Field      string `json:"field"`
	Principal  string `json:"principal"`
	Editable   bool   `json:"editable"`
	Readable   bool   `json:"readable"`
}

// FieldSecurityEnricher runs one coalesced field-permissions query
// against the working set and groups the results per field into
// editable_by/readonly_by principal lists, per spec.md §4.8.
type FieldSecurityEnricher struct {
	bridge    *bridge.Bridge
	coalescer *coalescer.Coalescer
	retry     *retry.Engine
	logger    *ingestlog.Logger
}

func NewFieldSecurityEnricher(br *bridge.Bridge, co *coalescer.Coalescer, re *retry.Engine, logger *ingestlog.Logger) *FieldSecurityEnricher {
	if logger == nil {
		logger = ingestlog.Nop()
	}
	return &FieldSecurityEnricher{bridge: br, coalescer: co, retry: re, logger: logger.With("component", "enrich.fieldsecurity")}
}

func (e *FieldSecurityEnricher) Name() model.Phase { return model.PhaseSecurity }

func (e *FieldSecurityEnricher) Enrich(ctx context.Context, records map[model.ObjectRef]*model.ObjectRecord) map[model.ObjectRef]error {
	refs := make([]model.ObjectRef, 0, len(records))
	for ref := range records {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	results, err := e.coalescer.Fetch(ctx, "field_security", refs, e.batchFieldPerms)
	errs := make(map[model.ObjectRef]error)
	if err != nil {
		e.logger.Warn("field permission batch fetch failed entirely", "error", err.Error())
	}

	for _, ref := range refs {
		payload, ok := results[ref]
		if !ok {
			records[ref].Security = existingOrNewSecurity(records[ref])
			continue
		}
		var rows []fieldPermRow
		if err := json.Unmarshal(payload, &rows); err != nil {
			errs[ref] = fmt.Errorf("decode field permissions for %s: %w", ref, err)
			continue
		}
		sec := existingOrNewSecurity(records[ref])
		sec.FieldPermissions = groupFieldPermissions(rows)
		records[ref].Security = sec
	}

	return errs
}

func (e *FieldSecurityEnricher) batchFieldPerms(ctx context.Context, refs []model.ObjectRef) (map[model.ObjectRef][]byte, bridge.Classification, error) {
	refList := make([]string, len(refs))
	for i, r := range refs {
		refList[i] = string(r)
	}
	var resp struct {
		Rows map[string][]fieldPermRow `json:"rows"`
	}
	class, err := e.retry.Do(ctx, "field_security.list", func(ctx context.Context, attempt int) (bridge.Classification, error) {
		res, runErr := e.bridge.RunJSON(ctx, []string{"security", "field-permissions", "--objects", fmt.Sprint(refList), "--json"}, nil, 0, &resp)
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

func groupFieldPermissions(rows []fieldPermRow) []model.FieldPermission {
	byField := make(map[string]*model.FieldPermission)
	order := make([]string, 0)
	for _, r := range rows {
		fp, ok := byField[r.Field]
		if !ok {
			fp = &model.FieldPermission{Field: r.Field}
			byField[r.Field] = fp
			order = append(order, r.Field)
		}
		if r.Editable {
			fp.EditableBy = append(fp.EditableBy, r.Principal)
		} else if r.Readable {
			fp.ReadonlyBy = append(fp.ReadonlyBy, r.Principal)
		}
	}
	sort.Strings(order)
	out := make([]model.FieldPermission, 0, len(order))
	for _, field := range order {
		out = append(out, *byField[field])
	}
	return out
}

func existingOrNewSecurity(rec *model.ObjectRecord) *model.SecurityBlock {
	if rec.Security != nil {
		return rec.Security
	}
	return &model.SecurityBlock{}
}
