package progress

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sfvector-ingest/internal/model"
)

func TestMarkAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close(context.Background())

	s.Mark("Account", model.PhaseDescribe, model.StateDone, "")
	require.NoError(t, s.Flush(context.Background()))

	rec, ok := s.Get("Account", model.PhaseDescribe)
	require.True(t, ok)
	assert.Equal(t, model.StateDone, rec.State)
}

func TestPending_UnknownRefsArePending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close(context.Background())

	s.Mark("Account", model.PhaseDescribe, model.StateDone, "")
	require.NoError(t, s.Flush(context.Background()))

	pending := s.Pending(model.PhaseDescribe, []model.ObjectRef{"Account", "Contact"})
	assert.Equal(t, []model.ObjectRef{"Contact"}, pending)
}

func TestPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	s, err := Open(path, nil)
	require.NoError(t, err)

	s.Mark("Account", model.PhaseDescribe, model.StateDone, "")
	require.NoError(t, s.Close(context.Background()))

	s2, err := Open(path, nil)
	require.NoError(t, err)
	defer s2.Close(context.Background())

	rec, ok := s2.Get("Account", model.PhaseDescribe)
	require.True(t, ok)
	assert.Equal(t, model.StateDone, rec.State)
}

func TestQuotaWall_DetectsConsecutiveQuotaErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close(context.Background())

	for i := 0; i < QuotaWallThreshold; i++ {
		s.Mark(model.ObjectRef("Obj"), model.PhaseOrgSecurity, model.StateError, "quota_error")
	}
	require.NoError(t, s.Flush(context.Background()))

	assert.True(t, s.AtQuotaWall())
}

func TestQuotaWall_ResetsOnSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close(context.Background())

	for i := 0; i < QuotaWallThreshold; i++ {
		s.Mark(model.ObjectRef("Obj"), model.PhaseOrgSecurity, model.StateError, "quota_error")
	}
	s.Mark(model.ObjectRef("Obj2"), model.PhaseOrgSecurity, model.StateDone, "")
	require.NoError(t, s.Flush(context.Background()))

	assert.False(t, s.AtQuotaWall())
}

func TestFlush_TimesOutOnCancelledContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	s, err := Open(path, nil)
	require.NoError(t, err)
	defer s.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	err = s.Flush(ctx)
	assert.Error(t, err)
}
