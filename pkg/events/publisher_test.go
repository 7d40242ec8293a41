package events

import (
	"testing"

	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []Event
}

func (r *recordingSink) WriteEvent(e Event) error {
	r.events = append(r.events, e)
	return nil
}

func TestBus_PublishAssignsMonotonicIDs(t *testing.T) {
	bus := NewBus()
	sink := &recordingSink{}
	bus.AddSink(sink)

	e1 := bus.Publish(Event{Type: EventSessionSpawned, SessionID: "app-1"})
	e2 := bus.Publish(Event{Type: EventSessionSpawned, SessionID: "app-2"})

	assert.Equal(t, int64(1), e1.ID)
	assert.Equal(t, int64(2), e2.ID)
	require.Len(t, sink.events, 2)
	assert.Equal(t, config.PriorityInfo, sink.events[0].Priority)
}

func TestBus_SubscribeReceivesPublishedEvents(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(4)

	bus.Publish(Event{Type: EventSessionKilled, SessionID: "app-1"})

	select {
	case e := <-ch:
		assert.Equal(t, EventSessionKilled, e.Type)
	default:
		t.Fatal("expected event on subscriber channel")
	}
}

func TestBus_CatchupFiltersByChannel(t *testing.T) {
	bus := NewBus()
	bus.Publish(Event{Type: EventSessionSpawned, SessionID: "app-1"})
	bus.Publish(Event{Type: EventSessionSpawned, SessionID: "app-2"})

	evts, err := bus.GetCatchupEvents(t.Context(), SessionChannel("app-1"), 0, 10)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "app-1", evts[0].Payload["session_id"])
}
