package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/sfvector-ingest/internal/bridge"
	"github.com/AleutianAI/sfvector-ingest/internal/cachestore"
	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
	"github.com/AleutianAI/sfvector-ingest/internal/retry"
)

type objectCRUDRow struct {
	Object  string `json:"object"`
	Create  bool   `json:"create"`
	Read    bool   `json:"read"`
	Edit    bool   `json:"edit"`
	Delete  bool   `json:"delete"`
}

type principalCRUD struct {
	principal string
	rows      []objectCRUDRow
}

// OrgSecurityConfig controls the org-security enricher's worker pool.
type OrgSecurityConfig struct {
	Workers int // default 15, bounds per-profile/per-permission-set detail calls
}

func (c *OrgSecurityConfig) applyDefaults() {
	if c.Workers == 0 {
		c.Workers = 15
	}
}

// OrgSecurityEnricher enumerates profiles, permission sets, and roles
// globally, then fetches per-object CRUD permissions for each profile
// and permission set as a separate remote call apiece. This is the
// single largest source of remote calls in the pipeline (spec.md §4.8
// calls it "the primary quota consumer"), so every detail call is
// cached and independently resumable: a multi-day run typically stops
// and restarts mid-way through this enricher.
type OrgSecurityEnricher struct {
	bridge *bridge.Bridge
	cache  *cachestore.Store
	retry  *retry.Engine
	cfg    OrgSecurityConfig
	logger *ingestlog.Logger
}

func NewOrgSecurityEnricher(br *bridge.Bridge, cache *cachestore.Store, re *retry.Engine, cfg OrgSecurityConfig, logger *ingestlog.Logger) *OrgSecurityEnricher {
	cfg.applyDefaults()
	if logger == nil {
		logger = ingestlog.Nop()
	}
	return &OrgSecurityEnricher{bridge: br, cache: cache, retry: re, cfg: cfg, logger: logger.With("component", "enrich.orgsecurity")}
}

func (e *OrgSecurityEnricher) Name() model.Phase { return model.PhaseOrgSecurity }

func (e *OrgSecurityEnricher) Enrich(ctx context.Context, records map[model.ObjectRef]*model.ObjectRecord) map[model.ObjectRef]error {
	profiles, err := e.listProfiles(ctx)
	if err != nil {
		return allFailed(records, fmt.Errorf("list profiles: %w", err))
	}
	permSets, err := e.listPermissionSets(ctx)
	if err != nil {
		return allFailed(records, fmt.Errorf("list permission sets: %w", err))
	}
	roles, err := e.listRoles(ctx)
	if err != nil {
		return allFailed(records, fmt.Errorf("list roles: %w", err))
	}
	e.logger.Info("org security global queries complete", "profiles", len(profiles), "permission_sets", len(permSets), "roles", len(roles))

	principals := make([]string, 0, len(profiles)+len(permSets))
	for _, p := range profiles {
		principals = append(principals, p.Name)
	}
	for _, p := range permSets {
		principals = append(principals, p.Name)
	}
	sort.Strings(principals)

	results := make([]principalCRUD, len(principals))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, principal := range principals {
		i, principal := i, principal
		g.Go(func() error {
			rows, err := e.fetchObjectCRUD(gctx, principal)
			if err != nil {
				e.logger.Warn("org-security detail fetch failed", "principal", principal, "error", err.Error())
				return nil
			}
			results[i] = principalCRUD{principal: principal, rows: rows}
			return nil
		})
	}
	_ = g.Wait()

	byObject := groupObjectCRUD(results)

	var mu sync.Mutex
	errs := make(map[model.ObjectRef]error)
	for ref, rec := range records {
		mu.Lock()
		sec := existingOrNewSecurity(rec)
		sec.ObjectCRUD = byObject[ref]
		rec.Security = sec
		mu.Unlock()
	}

	return errs
}

// groupObjectCRUD flattens the per-principal detail results into a
// per-object CRUD list, sorted by principal so output is deterministic
// regardless of the fetch pool's completion order.
func groupObjectCRUD(results []principalCRUD) map[model.ObjectRef][]model.ObjectCRUD {
	byObject := make(map[model.ObjectRef][]model.ObjectCRUD)
	for _, pc := range results {
		for _, row := range pc.rows {
			ref := model.ObjectRef(row.Object)
			byObject[ref] = append(byObject[ref], model.ObjectCRUD{
				Principal: pc.principal,
				Create:    row.Create,
				Read:      row.Read,
				Edit:      row.Edit,
				Delete:    row.Delete,
			})
		}
	}
	for ref := range byObject {
		crud := byObject[ref]
		sort.Slice(crud, func(i, j int) bool { return crud[i].Principal < crud[j].Principal })
		byObject[ref] = crud
	}
	return byObject
}

func allFailed(records map[model.ObjectRef]*model.ObjectRecord, err error) map[model.ObjectRef]error {
	errs := make(map[model.ObjectRef]error, len(records))
	for ref := range records {
		errs[ref] = err
	}
	return errs
}

func (e *OrgSecurityEnricher) listProfiles(ctx context.Context) ([]model.Profile, error) {
	payload, err := e.cache.Load(ctx, cachestore.Key("org", "profiles", nil), "org_profiles", func(ctx context.Context) ([]byte, error) {
		var resp struct {
			Profiles []model.Profile `json:"profiles"`
		}
		class, err := e.retry.Do(ctx, "org.profiles", func(ctx context.Context, attempt int) (bridge.Classification, error) {
			res, runErr := e.bridge.RunJSON(ctx, []string{"security", "profiles", "--json"}, nil, 0, &resp)
			return res.Classification, runErr
		})
		if err != nil {
			return nil, err
		}
		if class != bridge.Ok {
			return nil, fmt.Errorf("list profiles: %s", class.String())
		}
		return json.Marshal(resp.Profiles)
	})
	if err != nil {
		return nil, err
	}
	var profiles []model.Profile
	if err := json.Unmarshal(payload, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (e *OrgSecurityEnricher) listPermissionSets(ctx context.Context) ([]model.PermissionSet, error) {
	payload, err := e.cache.Load(ctx, cachestore.Key("org", "permission_sets", nil), "org_permsets", func(ctx context.Context) ([]byte, error) {
		var resp struct {
			PermissionSets []model.PermissionSet `json:"permission_sets"`
		}
		class, err := e.retry.Do(ctx, "org.permission_sets", func(ctx context.Context, attempt int) (bridge.Classification, error) {
			res, runErr := e.bridge.RunJSON(ctx, []string{"security", "permission-sets", "--json"}, nil, 0, &resp)
			return res.Classification, runErr
		})
		if err != nil {
			return nil, err
		}
		if class != bridge.Ok {
			return nil, fmt.Errorf("list permission sets: %s", class.String())
		}
		return json.Marshal(resp.PermissionSets)
	})
	if err != nil {
		return nil, err
	}
	var permSets []model.PermissionSet
	if err := json.Unmarshal(payload, &permSets); err != nil {
		return nil, err
	}
	return permSets, nil
}

// listRoles completes the three mandated global security queries
// alongside listProfiles and listPermissionSets. Role hierarchy carries
// no per-object CRUD detail, so the result is cached and logged for
// reporting only rather than folded into SecurityBlock.
func (e *OrgSecurityEnricher) listRoles(ctx context.Context) ([]model.Role, error) {
	payload, err := e.cache.Load(ctx, cachestore.Key("org", "roles", nil), "org_roles", func(ctx context.Context) ([]byte, error) {
		var resp struct {
			Roles []model.Role `json:"roles"`
		}
		class, err := e.retry.Do(ctx, "org.roles", func(ctx context.Context, attempt int) (bridge.Classification, error) {
			res, runErr := e.bridge.RunJSON(ctx, []string{"security", "roles", "--json"}, nil, 0, &resp)
			return res.Classification, runErr
		})
		if err != nil {
			return nil, err
		}
		if class != bridge.Ok {
			return nil, fmt.Errorf("list roles: %s", class.String())
		}
		return json.Marshal(resp.Roles)
	})
	if err != nil {
		return nil, err
	}
	var roles []model.Role
	if err := json.Unmarshal(payload, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (e *OrgSecurityEnricher) fetchObjectCRUD(ctx context.Context, principal string) ([]objectCRUDRow, error) {
	key := cachestore.Key(principal, "object_crud", nil)
	payload, err := e.cache.Load(ctx, key, "object_crud", func(ctx context.Context) ([]byte, error) {
		var resp struct {
			Objects []objectCRUDRow `json:"objects"`
		}
		class, err := e.retry.Do(ctx, "org.object_crud:"+principal, func(ctx context.Context, attempt int) (bridge.Classification, error) {
			res, runErr := e.bridge.RunJSON(ctx, []string{"security", "object-permissions", "--principal", principal, "--json"}, nil, 0, &resp)
			return res.Classification, runErr
		})
		if err != nil {
			return nil, err
		}
		if class != bridge.Ok {
			return nil, fmt.Errorf("object-permissions for %s: %s", principal, class.String())
		}
		return json.Marshal(resp.Objects)
	})
	if err != nil {
		return nil, err
	}
	var rows []objectCRUDRow
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
