package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/config"
)

// Sink receives every event appended to the bus, in publish order. The
// Session Store implements Sink to append to events.jsonl; the analytics
// mirror and the Notification Router's subscription also look like a Sink
// from the bus's point of view. A Sink must not block significantly — the
// bus calls sinks synchronously on the publishing goroutine.
type Sink interface {
	WriteEvent(Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event) error

// WriteEvent implements Sink.
func (f SinkFunc) WriteEvent(e Event) error { return f(e) }

// Bus is the single in-process event bus (§9): one writer assigns
// monotonic ids and fans out to any number of subscribers. It does not
// promise durable pub/sub — durability is the Session Store's append-only
// log, reached here as just another Sink.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	sinks       []Sink

	nextID  atomic.Int64
	nextSeq atomic.Int64

	recentMu sync.Mutex
	recent   []Event // small ring buffer backing in-process catchup
}

const recentCapacity = 500

// NewBus constructs an empty bus. Durable sinks (the Session Store) and
// subscribers (the Notification Router, the WebSocket feed, the analytics
// mirror) are registered after construction.
func NewBus() *Bus {
	return &Bus{recent: make([]Event, 0, recentCapacity)}
}

// AddSink registers a synchronous writer invoked on every Publish, in
// registration order, before subscribers are notified.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Subscribe returns a channel receiving every event published from this
// point on. The channel is buffered; a slow subscriber that falls behind
// has events dropped for it rather than blocking the publisher — back-
// pressure policy for any one subscriber is that subscriber's own concern
// (the Notification Router implements its own bounded queues per §5).
func (b *Bus) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Publish assigns the event an id and sequence, appends it to every sink,
// and fans it out to every subscriber. Sink errors are logged, never
// returned — a notification or analytics failure must not stop the
// engine from observing its own history.
func (b *Bus) Publish(e Event) Event {
	e.ID = b.nextID.Add(1)
	e.Sequence = b.nextSeq.Add(1)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Priority == "" {
		e.Priority = config.PriorityInfo
	}

	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	subs := append([]chan Event(nil), b.subscribers...)
	b.mu.RUnlock()

	for _, s := range sinks {
		if err := s.WriteEvent(e); err != nil {
			slog.Warn("event sink failed", "event_type", e.Type, "session_id", e.SessionID, "error", err)
		}
	}

	b.rememberRecent(e)

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			slog.Warn("event subscriber channel full, dropping event", "event_type", e.Type, "session_id", e.SessionID)
		}
	}

	return e
}

func (b *Bus) rememberRecent(e Event) {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()
	b.recent = append(b.recent, e)
	if len(b.recent) > recentCapacity {
		b.recent = b.recent[len(b.recent)-recentCapacity:]
	}
}

// CatchupEvent holds one in-process-buffered event, by channel.
type CatchupEvent struct {
	ID      int64
	Channel string
	Payload map[string]any
}

// GetCatchupEvents implements CatchupQuerier against the bus's in-memory
// ring buffer — sufficient for the live feed's "what did I miss while
// reconnecting" use case; it is not a substitute for the durable log.
func (b *Bus) GetCatchupEvents(_ context.Context, channel string, sinceID int64, limit int) ([]CatchupEvent, error) {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()

	out := make([]CatchupEvent, 0, limit)
	for _, e := range b.recent {
		if e.ID <= sinceID {
			continue
		}
		if channel != GlobalChannel && e.SessionID != "" && SessionChannel(e.SessionID) != channel {
			continue
		}
		out = append(out, CatchupEvent{ID: e.ID, Channel: channel, Payload: eventToMap(e)})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func eventToMap(e Event) map[string]any {
	return map[string]any{
		"id":         e.ID,
		"type":       e.Type,
		"priority":   e.Priority,
		"session_id": e.SessionID,
		"project_id": e.ProjectID,
		"timestamp":  e.Timestamp,
		"message":    e.Message,
		"data":       e.Data,
	}
}
