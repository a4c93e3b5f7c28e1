package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeFillRatesAndPicklists(t *testing.T) {
	records := []map[string]any{
		{"attributes": map[string]any{}, "Name": "Acme", "Status": "Active"},
		{"attributes": map[string]any{}, "Name": "Globex", "Status": "Active"},
		{"attributes": map[string]any{}, "Name": nil, "Status": "Inactive"},
	}

	fillRates, picklists := computeFillRatesAndPicklists(records)

	var nameRate float64
	for _, fr := range fillRates {
		if fr.Field == "Name" {
			nameRate = fr.FillRate
		}
	}
	assert.InDelta(t, 2.0/3.0, nameRate, 0.001)

	statusBuckets := picklists["Status"]
	assert.Len(t, statusBuckets, 2)
}

func TestComputeFillRatesAndPicklists_EmptyInput(t *testing.T) {
	fillRates, picklists := computeFillRatesAndPicklists(nil)
	assert.Nil(t, fillRates)
	assert.Nil(t, picklists)
}

func TestComputeTopOwningProfiles(t *testing.T) {
	records := []map[string]any{
		{"Owner": map[string]any{"Profile": map[string]any{"Name": "System Administrator"}}},
		{"Owner": map[string]any{"Profile": map[string]any{"Name": "System Administrator"}}},
		{"Owner": map[string]any{"Profile": map[string]any{"Name": "Standard User"}}},
	}

	top := computeTopOwningProfiles(records)
	assert.Equal(t, []string{"System Administrator", "Standard User"}, top)
}

func TestComputeTopOwningProfiles_NoOwnerData(t *testing.T) {
	top := computeTopOwningProfiles([]map[string]any{{"Name": "Acme"}})
	assert.Nil(t, top)
}
