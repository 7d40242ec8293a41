// Package notify implements the Notification Router (§4.5): priority
// routed, independently fanned-out delivery of engine events to the
// configured notifier plugins, with per-priority bounded back-pressure
// (§5).
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/tarsy/pkg/capability"
	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/events"
)

// infoQueueBound is the default bound for non-urgent priority queues
// (§5's "info bound at 64"). Warning/action share it; urgent is
// unbounded so an escalation is never dropped for back-pressure.
const infoQueueBound = 64

// Router subscribes to the event bus and fans each event out to every
// notifier bound to its priority, independently per notifier so one slow
// notifier never blocks another.
type Router struct {
	registry *capability.Registry
	routing  map[config.Priority][]string
	bus      *events.Bus

	mu     sync.Mutex
	queues map[string]chan events.Event // keyed by notifier name

	dropMu  sync.Mutex
	dropped map[string]int

	wg sync.WaitGroup
}

// New constructs a Router. routing maps a priority to the notifier names
// that should receive it, e.g. {urgent: [slack, webhook], info: [slack]}.
func New(registry *capability.Registry, routing map[config.Priority][]string) *Router {
	return &Router{
		registry: registry,
		routing:  routing,
		queues:   make(map[string]chan events.Event),
		dropped:  make(map[string]int),
	}
}

// Start subscribes to bus and begins fan-out. Blocks until ctx is
// cancelled, then waits for every notifier worker to drain.
func (r *Router) Start(ctx context.Context, bus *events.Bus) {
	r.bus = bus
	events := bus.Subscribe(256)

	for {
		select {
		case <-ctx.Done():
			r.drainAndWait()
			return
		case e, ok := <-events:
			if !ok {
				r.drainAndWait()
				return
			}
			r.dispatch(ctx, e)
		}
	}
}

// dispatch enqueues e onto every notifier bound to e.Priority, starting
// that notifier's worker goroutine on first use.
func (r *Router) dispatch(ctx context.Context, e events.Event) {
	for _, name := range r.routing[e.Priority] {
		queue := r.queueFor(ctx, name, e.Priority)
		select {
		case queue <- e:
		default:
			r.recordDrop(name)
		}
	}
}

func (r *Router) queueFor(ctx context.Context, name string, priority config.Priority) chan events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[name]; ok {
		return q
	}

	bound := infoQueueBound
	if priority == config.PriorityUrgent {
		bound = 0 // unbounded in practice: a generous buffer, never silently dropped
	}
	q := make(chan events.Event, queueCapacity(bound))
	r.queues[name] = q

	r.wg.Add(1)
	go r.runNotifier(ctx, name, q)
	return q
}

// queueCapacity translates the nominal back-pressure bound into a channel
// buffer size. Urgent's "unbounded" is modeled as a buffer generous enough
// that dispatch never blocks on it in practice, since a truly unbounded Go
// channel does not exist.
func queueCapacity(bound int) int {
	if bound == 0 {
		return 4096
	}
	return bound
}

func (r *Router) runNotifier(ctx context.Context, name string, queue chan events.Event) {
	defer r.wg.Done()

	inst, err := r.registry.Get(capability.SlotNotifier, name, nil)
	if err != nil {
		slog.Error("notify: unknown notifier, dropping its queue", "notifier", name, "error", err)
		return
	}
	notifier, ok := inst.(capability.Notifier)
	if !ok {
		slog.Error("notify: plugin does not implement Notifier", "notifier", name)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-queue:
			if !ok {
				return
			}
			if err := notifier.Notify(ctx, e); err != nil {
				slog.Warn("notify: delivery failed", "notifier", name, "event_type", e.Type, "error", err)
			}
		}
	}
}

func (r *Router) recordDrop(name string) {
	r.dropMu.Lock()
	r.dropped[name]++
	count := r.dropped[name]
	r.dropMu.Unlock()

	// One aggregated warning per notifier rather than one log line per
	// dropped event, to avoid flooding the log when a notifier is stuck
	// under sustained back-pressure.
	if count == 1 || count%50 == 0 {
		slog.Warn("notify: queue full, dropping events", "notifier", name, "dropped_total", count)
	}
	if r.bus != nil {
		r.bus.Publish(events.Event{
			Type:     events.EventNotifierDropped,
			Priority: config.PriorityWarning,
			Message:  "notifier queue full, event dropped",
			Data:     map[string]any{"notifier": name, "dropped_total": count},
		})
	}
}

// drainAndWait closes every notifier queue and waits for its worker to
// finish processing whatever was already enqueued.
func (r *Router) drainAndWait() {
	r.mu.Lock()
	for _, q := range r.queues {
		close(q)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
