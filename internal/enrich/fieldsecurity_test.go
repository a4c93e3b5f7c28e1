package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroupFieldPermissions(t *testing.T) {
	rows := []fieldPermRow{
		{Field: "Amount", Principal: "System Administrator", Editable: true},
		{Field: "Amount", Principal: "Standard User", Readable: true},
		{Field: "Name", Principal: "Standard User", Editable: true},
	}

	grouped := groupFieldPermissions(rows)
	assert.Len(t, grouped, 2)

	var amount, name *struct {
		editableBy []string
		readonlyBy []string
	}
	for _, fp := range grouped {
		if fp.Field == "Amount" {
			amount = &struct {
				editableBy []string
				readonlyBy []string
			}{fp.EditableBy, fp.ReadonlyBy}
		}
		if fp.Field == "Name" {
			name = &struct {
				editableBy []string
				readonlyBy []string
			}{fp.EditableBy, fp.ReadonlyBy}
		}
	}
	assert.Equal(t, []string{"System Administrator"}, amount.editableBy)
	assert.Equal(t, []string{"Standard User"}, amount.readonlyBy)
	assert.Equal(t, []string{"Standard User"}, name.editableBy)
}

func TestGroupFieldPermissions_Empty(t *testing.T) {
	assert.Empty(t, groupFieldPermissions(nil))
}
