package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)
}

func TestLoad_EmptyPathSkipsFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Tenant.Binary)
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
tenant:
  binary: /usr/local/bin/tenant-cli
  org_id: 00Dxx0000000000
describe:
  workers: 25
emit:
  max_tokens: 900
  corpus_path: ./out/corpus.jsonl
  schema_path: ./out/schema.json
weaviate:
  url: https://weaviate.internal:8080
phases:
  - enumerate
  - describe
  - emit
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/tenant-cli", cfg.Tenant.Binary)
	assert.Equal(t, "00Dxx0000000000", cfg.Tenant.OrgID)
	assert.Equal(t, 25, cfg.Describe.Workers)
	assert.Equal(t, 900, cfg.Emit.MaxTokens)
	assert.Equal(t, "./out/corpus.jsonl", cfg.Emit.CorpusPath)
	assert.Equal(t, []string{"enumerate", "describe", "emit"}, cfg.Phases)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tenant:\n  org_id: fromfile\n"), 0o644))

	t.Setenv("SFVECTOR_ORG_ID", "fromenv")
	t.Setenv("SFVECTOR_DESCRIBE_WORKERS", "40")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "fromenv", cfg.Tenant.OrgID)
	assert.Equal(t, 40, cfg.Describe.Workers)
}

func TestLoad_MalformedYAMLErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tenant: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestParseWeaviateURL(t *testing.T) {
	cases := []struct {
		url        string
		wantHost   string
		wantScheme string
	}{
		{"https://weaviate.internal:8080", "weaviate.internal:8080", "https"},
		{"http://localhost:8080", "localhost:8080", "http"},
		{"localhost:8080", "localhost:8080", "http"},
	}
	for _, c := range cases {
		host, scheme := ParseWeaviateURL(c.url)
		assert.Equal(t, c.wantHost, host, c.url)
		assert.Equal(t, c.wantScheme, scheme, c.url)
	}
}
