package store

import (
	"testing"

	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/events"
	"github.com/codeready-toolchain/tarsy/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestReserveNext_DistinctIDsUnderConcurrency(t *testing.T) {
	s := newTestStore(t)

	const n = 20
	ids := make(chan string, n)
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			id, err := s.ReserveNext("app")
			ids <- id
			errs <- err
		}()
	}

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
		id := <-ids
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestSaveGet_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Reserve("app-1"))
	sess := session.NewSession("app-1", "app", "ISSUE-1")
	sess.Branch = "feat/ISSUE-1"
	require.NoError(t, s.Save(sess))

	got, err := s.Get("app-1")
	require.NoError(t, err)
	assert.Equal(t, "app-1", got.ID)
	assert.Equal(t, "feat/ISSUE-1", got.Branch)
	assert.Equal(t, config.StatusSpawning, got.Status)
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("app-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

// stubMasker uppercases strings so tests can tell a masked value apart
// from an unmasked one without depending on pkg/masking's real patterns.
type stubMasker struct{}

func (stubMasker) MaskString(v string) string { return "MASKED:" + v }

func (m stubMasker) MaskValues(values map[string]interface{}) map[string]interface{} {
	if values == nil {
		return nil
	}
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		if str, ok := v.(string); ok {
			out[k] = m.MaskString(str)
			continue
		}
		out[k] = v
	}
	return out
}

func TestSave_AppliesMaskerToPersistedRecordOnly(t *testing.T) {
	s := newTestStore(t)
	s.SetMasker(stubMasker{})

	require.NoError(t, s.Reserve("app-1"))
	sess := session.NewSession("app-1", "app", "ISSUE-1")
	sess.Metadata["webhook_secret"] = "sk-live-xxxx"
	sess.SetRuntimeHandle(&session.RuntimeHandle{ID: "h1", RuntimeName: "docker", Data: map[string]interface{}{"token": "abc123"}})

	require.NoError(t, s.Save(sess))

	assert.Equal(t, "sk-live-xxxx", sess.Metadata["webhook_secret"], "in-memory record must stay unmasked")
	assert.Equal(t, "abc123", sess.RuntimeHandle.Data["token"], "in-memory runtime handle must stay unmasked")

	got, err := s.Get("app-1")
	require.NoError(t, err)
	assert.Equal(t, "MASKED:sk-live-xxxx", got.Metadata["webhook_secret"], "persisted record must be masked")
	assert.Equal(t, "MASKED:abc123", got.RuntimeHandle.Data["token"], "persisted runtime handle must be masked")
}

func TestArchive_MovesRecordAndIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	sess := session.NewSession("app-1", "app", "")
	require.NoError(t, s.Save(sess))

	require.NoError(t, s.Archive("app-1"))
	assert.True(t, s.IsArchived("app-1"))

	_, err := s.Get("app-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Archive("app-1")) // idempotent
}

func TestList_FiltersByProject(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(session.NewSession("app-1", "app", "")))
	require.NoError(t, s.Save(session.NewSession("web-1", "web", "")))

	all, err := s.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	appOnly, err := s.List("app")
	require.NoError(t, err)
	require.Len(t, appOnly, 1)
	assert.Equal(t, "app-1", appOnly[0].ID)
}

func TestValidateSessionID_RejectsEscapes(t *testing.T) {
	for _, bad := range []string{"../etc", "a/b", "a b", "", "a..b"} {
		assert.Error(t, ValidateSessionID(bad), bad)
	}
	assert.NoError(t, ValidateSessionID("app-1"))
}

func TestWriteEvent_AppendsJSONLines(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteEvent(events.Event{ID: 1, Type: events.EventSessionSpawned, SessionID: "app-1"}))
	require.NoError(t, s.WriteEvent(events.Event{ID: 2, Type: events.EventSessionKilled, SessionID: "app-1"}))

	got, err := s.ReadEvents()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events.EventSessionKilled, got[1].Type)
}
