// Package enumerator lists every first-class object ref in the tenant
// and applies the noise and namespace filters that keep generated
// package objects and internal scratch objects out of the corpus
// (spec.md §4.6). The skip-list filtering shape follows the lint
// runner's directory walk: a set of exclusion predicates evaluated in
// order, applied here to object refs instead of file paths.
package enumerator

import (
	"context"
	"sort"
	"strings"

	"github.com/AleutianAI/sfvector-ingest/internal/bridge"
	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

// Config controls the two filtering policies spec.md §4.6 requires.
type Config struct {
	// NoisePrefixes excludes any ref starting with one of these
	// prefixes (case-insensitive). Default: none.
	NoisePrefixes []string

	// NoiseSuffixes excludes any ref ending with one of these suffixes
	// (case-insensitive). Default excludes share/history/feed objects.
	NoiseSuffixes []string

	// ExcludedNamespaces excludes any ref prefixed with "{ns}__" for a
	// namespace in this list.
	ExcludedNamespaces []string
}

func (c *Config) applyDefaults() {
	if c.NoisePrefixes == nil {
		c.NoisePrefixes = []string{}
	}
	if c.NoiseSuffixes == nil {
		c.NoiseSuffixes = []string{"__share", "__history", "__feed"}
	}
	if c.ExcludedNamespaces == nil {
		c.ExcludedNamespaces = []string{}
	}
}

// listResponse is the shape the tenant CLI's list-objects subcommand
// emits as JSON.
type listResponse struct {
	Objects []struct {
		Name string `json:"name"`
	} `json:"objects"`
}

// Enumerator lists and filters tenant object refs.
type Enumerator struct {
	bridge *bridge.Bridge
	cfg    Config
	logger *ingestlog.Logger
}

// New builds an Enumerator over br.
func New(br *bridge.Bridge, cfg Config, logger *ingestlog.Logger) *Enumerator {
	cfg.applyDefaults()
	if logger == nil {
		logger = ingestlog.Nop()
	}
	return &Enumerator{bridge: br, cfg: cfg, logger: logger.With("component", "enumerator")}
}

// List fetches every object ref via the bridge, filters out noise and
// excluded namespaces, and returns the survivors in deterministic
// lexicographic order.
func (e *Enumerator) List(ctx context.Context) ([]model.ObjectRef, error) {
	var resp listResponse
	res, err := e.bridge.RunJSON(ctx, []string{"sobject", "list", "--json"}, nil, 0, &resp)
	if err != nil {
		return nil, err
	}
	if res.Classification != bridge.Ok {
		return nil, &EnumerateError{Classification: res.Classification}
	}

	refs := make([]model.ObjectRef, 0, len(resp.Objects))
	excluded := 0
	for _, obj := range resp.Objects {
		if e.isExcluded(obj.Name) {
			excluded++
			continue
		}
		refs = append(refs, model.ObjectRef(obj.Name))
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })

	e.logger.Info("enumerated tenant objects", "kept", len(refs), "excluded", excluded)
	return refs, nil
}

func (e *Enumerator) isExcluded(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range e.cfg.NoisePrefixes {
		if strings.HasPrefix(lower, strings.ToLower(p)) {
			return true
		}
	}
	for _, s := range e.cfg.NoiseSuffixes {
		if strings.HasSuffix(lower, strings.ToLower(s)) {
			return true
		}
	}
	for _, ns := range e.cfg.ExcludedNamespaces {
		if strings.HasPrefix(lower, strings.ToLower(ns)+"__") {
			return true
		}
	}
	return false
}

// EnumerateError reports a non-Ok classification returned from the
// enumeration call itself, which the caller (Orchestrator) should treat
// as a hard failure: there is no partial enumeration to resume from.
type EnumerateError struct {
	Classification bridge.Classification
}

func (e *EnumerateError) Error() string {
	return "enumerate objects: " + e.Classification.String()
}
