package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/codeready-toolchain/tarsy/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookFactory_RejectsNonHTTPScheme(t *testing.T) {
	_, err := WebhookFactory(map[string]interface{}{"url": "ftp://example.com/hook"})
	assert.ErrorIs(t, err, ErrInvalidWebhookScheme)
}

func TestWebhookFactory_RequiresURL(t *testing.T) {
	_, err := WebhookFactory(map[string]interface{}{})
	assert.Error(t, err)
}

func TestWebhookNotifier_RetriesTransientThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	inst, err := WebhookFactory(map[string]interface{}{"url": server.URL})
	require.NoError(t, err)
	notifier := inst.(interface {
		Notify(context.Context, events.Event) error
	})

	err = notifier.Notify(context.Background(), events.Event{Type: events.EventSessionSpawned})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, attempts.Load(), int32(3))
}

func TestWebhookNotifier_TerminalOnBadRequest(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	inst, err := WebhookFactory(map[string]interface{}{"url": server.URL})
	require.NoError(t, err)
	notifier := inst.(interface {
		Notify(context.Context, events.Event) error
	})

	err = notifier.Notify(context.Background(), events.Event{Type: events.EventSessionSpawned})
	assert.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load(), "4xx must not be retried")
}
