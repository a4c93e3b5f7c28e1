package emitter

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

func testRecords() map[model.ObjectRef]model.ObjectRecord {
	return map[model.ObjectRef]model.ObjectRecord{
		"Account": {Ref: "Account", Label: "Account", Fields: []model.FieldSpec{{Name: "Id", Type: "id"}}},
		"Contact": {Ref: "Contact", Label: "Contact", Fields: []model.FieldSpec{{Name: "Id", Type: "id"}}},
	}
}

func TestEmit_SchemaContainsFullWorkingSetSnapshot(t *testing.T) {
	dir := t.TempDir()
	e, err := New(Config{}, nil)
	require.NoError(t, err)

	records := testRecords()
	corpusPath := filepath.Join(dir, "corpus.jsonl")
	schemaPath := filepath.Join(dir, "schema.json")

	_, err = e.Emit(records, corpusPath, schemaPath, "")
	require.NoError(t, err)

	data, err := os.ReadFile(schemaPath)
	require.NoError(t, err)

	var got map[model.ObjectRef]model.ObjectRecord
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Len(t, got, 2)
	assert.Equal(t, "Account", string(got["Account"].Ref))
	assert.Equal(t, "Contact", string(got["Contact"].Ref))
}

func TestEmit_WritesPerObjectMarkdownFiles(t *testing.T) {
	dir := t.TempDir()
	e, err := New(Config{}, nil)
	require.NoError(t, err)

	records := testRecords()
	corpusPath := filepath.Join(dir, "corpus.jsonl")
	schemaPath := filepath.Join(dir, "schema.json")
	markdownDir := filepath.Join(dir, "markdown")

	_, err = e.Emit(records, corpusPath, schemaPath, markdownDir)
	require.NoError(t, err)

	accountDoc, err := os.ReadFile(filepath.Join(markdownDir, "Account.md"))
	require.NoError(t, err)
	assert.Contains(t, string(accountDoc), "# Account")

	contactDoc, err := os.ReadFile(filepath.Join(markdownDir, "Contact.md"))
	require.NoError(t, err)
	assert.Contains(t, string(contactDoc), "# Contact")
}

func TestEmit_SkipsMarkdownWhenDirEmpty(t *testing.T) {
	dir := t.TempDir()
	e, err := New(Config{}, nil)
	require.NoError(t, err)

	_, err = e.Emit(testRecords(), filepath.Join(dir, "corpus.jsonl"), filepath.Join(dir, "schema.json"), "")
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "markdown"))
	assert.True(t, os.IsNotExist(statErr))
}
