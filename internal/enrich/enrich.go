// Package enrich implements the five enrichers of spec.md §4.8. Each
// Enricher attaches exactly one optional block to a set of
// model.ObjectRecord values, is independently invocable, and may run
// concurrently with the others — the Orchestrator only serializes
// Describer completion ahead of enrichment dispatch for a given ref, not
// the enrichers against each other.
package enrich

import (
	"context"

	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

// Enricher attaches one block to every record in records, keyed by ref.
// Implementations must not remove or replace unrelated blocks already
// present on a record; they mutate their own block only.
type Enricher interface {
	// Name identifies the enricher for logging and Progress Store
	// phase bookkeeping (matches a model.Phase value).
	Name() model.Phase

	// Enrich attaches this enricher's block to every ref in records,
	// returning per-ref errors for refs it could not enrich. A ref
	// absent from the returned error map succeeded.
	Enrich(ctx context.Context, records map[model.ObjectRef]*model.ObjectRecord) map[model.ObjectRef]error
}
