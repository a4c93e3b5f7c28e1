package uploader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/AleutianAI/sfvector-ingest/internal/model"
	"github.com/AleutianAI/sfvector-ingest/internal/telemetry"
)

func TestNew_SetMetricsAttachesCounters(t *testing.T) {
	u := New(nil, nil, nil, nil, Config{}, nil)
	m, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	u.SetMetrics(m)
	assert.Same(t, m, u.metrics)
}

func chunk(ref, hash string) model.Chunk {
	return model.Chunk{
		ID:   "salesforce_object_" + ref,
		Text: "body",
		Metadata: model.ChunkMetadata{
			ObjectName:  ref,
			ContentHash: hash,
			Type:        "salesforce_object",
			PartIndex:   1,
			TotalParts:  1,
		},
	}
}

func TestDiff_NewRef(t *testing.T) {
	desired := []model.Chunk{chunk("Account", "h1")}
	current := []model.Chunk{}

	plan := Diff(desired, current)
	assert.Equal(t, StatusNew, plan.Statuses["Account"])
}

func TestDiff_UnchangedRef(t *testing.T) {
	desired := []model.Chunk{chunk("Account", "h1")}
	current := []model.Chunk{chunk("Account", "h1")}

	plan := Diff(desired, current)
	assert.Equal(t, StatusUnchanged, plan.Statuses["Account"])
}

func TestDiff_ChangedRef(t *testing.T) {
	desired := []model.Chunk{chunk("Contact", "h2")}
	current := []model.Chunk{chunk("Contact", "h1")}

	plan := Diff(desired, current)
	assert.Equal(t, StatusChanged, plan.Statuses["Contact"])
}

func TestDiff_DeletedRef(t *testing.T) {
	desired := []model.Chunk{}
	current := []model.Chunk{chunk("Lead", "h1")}

	plan := Diff(desired, current)
	assert.Equal(t, StatusDeleted, plan.Statuses["Lead"])
}

func TestDiff_MixedRefs(t *testing.T) {
	desired := []model.Chunk{
		chunk("Account", "h1"),   // unchanged
		chunk("Contact", "h2new"), // changed
		chunk("Opportunity", "h3"), // new
	}
	current := []model.Chunk{
		chunk("Account", "h1"),
		chunk("Contact", "h2old"),
		chunk("Lead", "h4"), // deleted
	}

	plan := Diff(desired, current)
	assert.Equal(t, StatusUnchanged, plan.Statuses["Account"])
	assert.Equal(t, StatusChanged, plan.Statuses["Contact"])
	assert.Equal(t, StatusNew, plan.Statuses["Opportunity"])
	assert.Equal(t, StatusDeleted, plan.Statuses["Lead"])
}

func TestChunksByRef_GroupsMultiPartChunks(t *testing.T) {
	chunks := []model.Chunk{
		{ID: "a", Metadata: model.ChunkMetadata{ObjectName: "Account", PartIndex: 1}},
		{ID: "b", Metadata: model.ChunkMetadata{ObjectName: "Account", PartIndex: 2}},
		{ID: "c", Metadata: model.ChunkMetadata{ObjectName: "Contact", PartIndex: 1}},
	}

	byRef := ChunksByRef(chunks)
	assert.Len(t, byRef["Account"], 2)
	assert.Len(t, byRef["Contact"], 1)
}

func TestChunkUUID_DeterministicAndDistinct(t *testing.T) {
	a1 := chunkUUID("salesforce_object_Account")
	a2 := chunkUUID("salesforce_object_Account")
	b := chunkUUID("salesforce_object_Contact")

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
}
