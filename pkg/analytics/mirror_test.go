package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/events"
)

// newTestMirror starts a disposable PostgreSQL container and opens a
// Mirror against it, applying migrations exactly as production does.
func newTestMirror(t *testing.T) *Mirror {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("orchestrator_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	mirror, err := NewMirror(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(mirror.Close)

	return mirror
}

func TestMirror_WriteEventPersistsRow(t *testing.T) {
	mirror := newTestMirror(t)

	e := events.Event{
		ID:        1,
		Sequence:  1,
		Type:      events.EventTransition,
		Priority:  config.PriorityInfo,
		SessionID: "app-1",
		ProjectID: "app",
		Timestamp: time.Now().UTC(),
		Message:   "session app-1 transitioned working -> stuck",
		Data:      map[string]any{"from_status": "working", "to_status": "stuck"},
	}
	require.NoError(t, mirror.WriteEvent(e))

	require.Eventually(t, func() bool {
		var count int
		row := mirror.pool.QueryRow(context.Background(), `SELECT count(*) FROM events WHERE id = $1`, e.ID)
		return row.Scan(&count) == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMirror_WriteEventNeverBlocksWhenNoConsumerIsDraining(t *testing.T) {
	// No NewMirror/run goroutine here on purpose: an unbuffered queue with
	// nothing draining it proves WriteEvent's non-blocking send-or-drop
	// contract without racing a real background writer.
	mirror := &Mirror{queue: make(chan events.Event)}

	done := make(chan struct{})
	go func() {
		err := mirror.WriteEvent(events.Event{ID: 2, Type: events.EventTransition})
		assert.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WriteEvent blocked instead of dropping the event")
	}
}
