package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeSource_CountsCommentAndCodeLines(t *testing.T) {
	src := `trigger AccountTrigger on Account (before insert) {
    // guard against recursive execution
    if (Trigger.isBefore) {
        System.debug('before insert');
    }
}
`
	total, comment, code := analyzeSource(src)
	assert.Greater(t, total, 0)
	assert.GreaterOrEqual(t, comment, 1)
	assert.Equal(t, total, comment+code)
}

func TestAnalyzeSource_EmptyInput(t *testing.T) {
	total, comment, code := analyzeSource("")
	assert.Equal(t, 0, total)
	assert.Equal(t, 0, comment)
	assert.Equal(t, 0, code)
}

func TestComputeTriggerComplexity(t *testing.T) {
	rows := []automationRow{
		{Name: "AccountTrigger", SourceText: "trigger X on Account (before insert) {\n// note\nSystem.debug('x');\n}\n"},
	}
	out := computeTriggerComplexity(rows)
	assert.Len(t, out, 1)
	assert.Equal(t, "AccountTrigger", out[0].Name)
	assert.Greater(t, out[0].TotalLines, 0)
}

func TestRowsToRefs(t *testing.T) {
	rows := []automationRow{{Name: "Rule1", Active: true}, {Name: "Rule2", Active: false}}
	refs := rowsToRefs(rows, "validation_rule")
	assert.Len(t, refs, 2)
	assert.Equal(t, "Rule1", refs[0].Name)
	assert.True(t, refs[0].Active)
	assert.Equal(t, "validation_rule", refs[0].Kind)
	assert.Equal(t, "validation_rule", refs[1].Kind)
}

func TestRowsToRefs_Empty(t *testing.T) {
	assert.Nil(t, rowsToRefs(nil, "flow"))
}
