package progress

import (
	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

// ProgressStore is the contract the Orchestrator and Uploader depend on,
// satisfied by both the JSON-snapshot Store and the BadgerStore variant
// so callers can pick a backend without branching on type.
type ProgressStore interface {
	Mark(ref model.ObjectRef, phase model.Phase, state model.ProgressState, errMsg string) error
	Get(ref model.ObjectRef, phase model.Phase) (model.ProgressRecord, bool)
	Pending(phase model.Phase, universe []model.ObjectRef) []model.ObjectRef
	AtQuotaWall() bool
}

var (
	_ ProgressStore = (*Store)(nil)
	_ ProgressStore = (*BadgerStore)(nil)
)
