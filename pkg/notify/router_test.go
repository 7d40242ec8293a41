package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy/pkg/capability"
	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/events"
)

type recordingNotifier struct {
	mu   sync.Mutex
	got  []events.Event
	slow chan struct{}
}

func (r *recordingNotifier) Notify(ctx context.Context, e events.Event) error {
	if r.slow != nil {
		<-r.slow
	}
	r.mu.Lock()
	r.got = append(r.got, e)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func newTestRegistry(notifiers map[string]*recordingNotifier) *capability.Registry {
	reg := capability.New()
	for name, n := range notifiers {
		n := n
		reg.Register(capability.SlotNotifier, name, capability.FactoryFunc(func(map[string]interface{}) (interface{}, error) {
			return capability.Notifier(n), nil
		}), nil)
	}
	return reg
}

func TestRouter_FansOutByPriority(t *testing.T) {
	slack := &recordingNotifier{}
	webhook := &recordingNotifier{}
	reg := newTestRegistry(map[string]*recordingNotifier{"slack": slack, "webhook": webhook})

	routing := map[config.Priority][]string{
		config.PriorityUrgent: {"slack", "webhook"},
		config.PriorityInfo:   {"slack"},
	}
	router := New(reg, routing)

	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { router.Start(ctx, bus); close(done) }()

	bus.Publish(events.Event{Type: "transition", Priority: config.PriorityUrgent})
	bus.Publish(events.Event{Type: "transition", Priority: config.PriorityInfo})

	require.Eventually(t, func() bool { return slack.count() == 2 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return webhook.count() == 1 }, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestRouter_UnknownPriorityIsANoOp(t *testing.T) {
	slack := &recordingNotifier{}
	reg := newTestRegistry(map[string]*recordingNotifier{"slack": slack})
	router := New(reg, map[config.Priority][]string{config.PriorityUrgent: {"slack"}})

	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { router.Start(ctx, bus); close(done) }()

	bus.Publish(events.Event{Type: "transition", Priority: config.PriorityWarning})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, slack.count())

	cancel()
	<-done
}

func TestRouter_DropsAndEmitsNotifierDroppedWhenQueueFull(t *testing.T) {
	slow := &recordingNotifier{slow: make(chan struct{})}
	reg := newTestRegistry(map[string]*recordingNotifier{"slack": slow})
	router := New(reg, map[config.Priority][]string{config.PriorityInfo: {"slack"}})

	bus := events.NewBus()
	dropped := bus.Subscribe(16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { router.Start(ctx, bus); close(done) }()

	for i := 0; i < infoQueueBound+5; i++ {
		bus.Publish(events.Event{Type: "transition", Priority: config.PriorityInfo})
	}

	sawDrop := false
	timeout := time.After(time.Second)
	for !sawDrop {
		select {
		case e := <-dropped:
			if e.Type == events.EventNotifierDropped {
				sawDrop = true
			}
		case <-timeout:
			t.Fatal("expected a notifier.dropped event")
		}
	}

	close(slow.slow)
	cancel()
	<-done
}
