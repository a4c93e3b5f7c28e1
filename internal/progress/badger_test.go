package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

func TestBadgerStore_MarkAndGet(t *testing.T) {
	s, err := OpenBadger(BadgerConfig{InMemory: true}, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Mark("Account", model.PhaseDescribe, model.StateDone, ""))

	rec, ok := s.Get("Account", model.PhaseDescribe)
	require.True(t, ok)
	assert.Equal(t, model.StateDone, rec.State)
}

func TestBadgerStore_Pending(t *testing.T) {
	s, err := OpenBadger(BadgerConfig{InMemory: true}, nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Mark("Account", model.PhaseDescribe, model.StateDone, ""))

	pending := s.Pending(model.PhaseDescribe, []model.ObjectRef{"Account", "Contact"})
	assert.Equal(t, []model.ObjectRef{"Contact"}, pending)
}

func TestBadgerStore_QuotaWall(t *testing.T) {
	s, err := OpenBadger(BadgerConfig{InMemory: true}, nil)
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < QuotaWallThreshold; i++ {
		require.NoError(t, s.Mark("Obj", model.PhaseOrgSecurity, model.StateError, "quota_error"))
	}
	assert.True(t, s.AtQuotaWall())
}
