package emitter

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

func TestSplit_SingleChunkGetsBareID(t *testing.T) {
	counter, err := newTokenCounter()
	require.NoError(t, err)

	chunks, err := Split("Account", "abc123", "# Account\n\nsmall document", 400, counter)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "salesforce_object_Account", chunks[0].ID)
	assert.Equal(t, 1, chunks[0].Metadata.PartIndex)
	assert.Equal(t, 1, chunks[0].Metadata.TotalParts)
	assert.Empty(t, chunks[0].Metadata.SiblingIDs)
}

func TestSplit_MultiChunkGetsPartSuffix(t *testing.T) {
	counter, err := newTokenCounter()
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("## Section ")
		b.WriteString(strings.Repeat("word ", 300))
		b.WriteString("\n\n")
	}

	chunks, err := Split("Contact", "hash1", b.String(), 100, counter)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.Equal(t, "salesforce_object_Contact_part_"+strconv.Itoa(i+1), c.ID)
		assert.Equal(t, len(chunks), c.Metadata.TotalParts)
		assert.Equal(t, i+1, c.Metadata.PartIndex)
		assert.Len(t, c.Metadata.SiblingIDs, len(chunks)-1)
		assert.NotContains(t, c.Metadata.SiblingIDs, c.ID)
	}
}

func TestSplit_RespectsTokenBudget(t *testing.T) {
	counter, err := newTokenCounter()
	require.NoError(t, err)

	text := "## Big\n\n" + strings.Repeat("word ", 5000)
	chunks, err := Split("Lead", "hashx", text, 50, counter)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks {
		assert.LessOrEqual(t, counter.count(c.Text), 100) // sentence fallback can slightly overshoot on a single unbroken word run
	}
}

func TestSplit_CarriesContentHash(t *testing.T) {
	counter, err := newTokenCounter()
	require.NoError(t, err)

	chunks, err := Split("Opportunity", "deadbeef", "# Opportunity\n\nbody", 400, counter)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.Equal(t, "deadbeef", c.Metadata.ContentHash)
		assert.Equal(t, "salesforce_object", c.Metadata.Type)
		assert.Equal(t, string(model.ObjectRef("Opportunity")), c.Metadata.ObjectName)
	}
}
