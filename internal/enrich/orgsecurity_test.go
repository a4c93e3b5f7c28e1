package enrich

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sfvector-ingest/internal/bridge"
	"github.com/AleutianAI/sfvector-ingest/internal/cachestore"
	"github.com/AleutianAI/sfvector-ingest/internal/model"
	"github.com/AleutianAI/sfvector-ingest/internal/retry"
)

func fakeCLI(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-cli")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestGroupObjectCRUD_SortsByPrincipalPerObject(t *testing.T) {
	results := []principalCRUD{
		{principal: "Zeta", rows: []objectCRUDRow{{Object: "Account", Create: true, Read: true}}},
		{principal: "Alpha", rows: []objectCRUDRow{{Object: "Account", Read: true, Edit: true}}},
		{principal: "Alpha", rows: []objectCRUDRow{{Object: "Contact", Read: true}}},
	}

	got := groupObjectCRUD(results)

	assert.Equal(t, []model.ObjectCRUD{
		{Principal: "Alpha", Read: true, Edit: true},
		{Principal: "Zeta", Create: true, Read: true},
	}, got[model.ObjectRef("Account")])
	assert.Equal(t, []model.ObjectCRUD{
		{Principal: "Alpha", Read: true},
	}, got[model.ObjectRef("Contact")])
}

func TestGroupObjectCRUD_EmptyResultsYieldsEmptyMap(t *testing.T) {
	got := groupObjectCRUD(nil)
	assert.Len(t, got, 0)
}

func TestGroupObjectCRUD_PrincipalWithNoRowsContributesNothing(t *testing.T) {
	results := []principalCRUD{
		{principal: "Alpha", rows: nil},
	}
	got := groupObjectCRUD(results)
	assert.Len(t, got, 0)
}

func TestEnrich_QueriesAllThreeGlobalPrincipalKinds(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "roles-called")
	script := `
case "$2" in
  profiles) echo '{"profiles":[{"name":"Standard"}]}' ;;
  permission-sets) echo '{"permission_sets":[]}' ;;
  roles) touch ` + marker + `
    echo '{"roles":[{"name":"CEO"}]}' ;;
  object-permissions) echo '{"objects":[]}' ;;
esac
`
	br := bridge.New(fakeCLI(t, script), bridge.Config{}, nil, nil)
	cache, err := cachestore.New(cachestore.Config{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	re := retry.New(retry.Config{MaxAttempts: 1}, nil)
	e := NewOrgSecurityEnricher(br, cache, re, OrgSecurityConfig{}, nil)

	records := map[model.ObjectRef]*model.ObjectRecord{"Account": {Ref: "Account"}}
	errs := e.Enrich(context.Background(), records)

	assert.Empty(t, errs)
	assert.FileExists(t, marker, "listRoles must be invoked so the third mandated global query actually executes")
}
