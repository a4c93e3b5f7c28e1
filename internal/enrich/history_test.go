package enrich

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

func TestRowsToFieldHistory_MapsEveryField(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	modified := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := []historyRow{
		{Field: "Amount__c", CreatedBy: "alice", CreatedAt: created, ModifiedBy: "bob", ModifiedAt: modified},
		{Field: "Stage__c", CreatedBy: "carol", CreatedAt: created, ModifiedBy: "carol", ModifiedAt: created},
	}

	got := rowsToFieldHistory(rows)

	assert.Equal(t, []model.FieldHistory{
		{Field: "Amount__c", CreatedBy: "alice", CreatedAt: created, ModifiedBy: "bob", ModifiedAt: modified},
		{Field: "Stage__c", CreatedBy: "carol", CreatedAt: created, ModifiedBy: "carol", ModifiedAt: created},
	}, got)
}

func TestRowsToFieldHistory_EmptyInputYieldsEmptySlice(t *testing.T) {
	got := rowsToFieldHistory(nil)
	assert.Len(t, got, 0)
}
