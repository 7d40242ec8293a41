package config

import "time"

// LifecycleConfig controls the poll loop and bounded worker pool described
// in §4.3/§5: how often sessions are observed, how many observations run
// concurrently, and the timeouts/grace periods around shutdown.
type LifecycleConfig struct {
	// PollInterval is the floor (not ceiling) between the start of one tick
	// and the next; a slow tick is followed immediately by the next one.
	PollInterval time.Duration `yaml:"poll_interval"`

	// WorkerCount bounds the number of sessions observed concurrently
	// within a single tick.
	WorkerCount int `yaml:"worker_count"`

	// CallTimeout is the per-external-call timeout applied to every SCM,
	// tracker, runtime, and notifier invocation.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// ShutdownGrace is how long in-flight ticks are allowed to finish
	// after a shutdown signal before runtime destroy calls are abandoned.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`

	// StuckAfter is how long a session may sit at activity=idle before the
	// decision table moves it to status=stuck.
	StuckAfter time.Duration `yaml:"stuck_after"`

	// NotifierQueueBound is the per-priority queue bound applied to every
	// priority except urgent, which is always unbounded.
	NotifierQueueBound int `yaml:"notifier_queue_bound"`
}

// DefaultLifecycleConfig returns the built-in lifecycle defaults from §5.
func DefaultLifecycleConfig() *LifecycleConfig {
	return &LifecycleConfig{
		PollInterval:       10 * time.Second,
		WorkerCount:        8,
		CallTimeout:        30 * time.Second,
		ShutdownGrace:      10 * time.Second,
		StuckAfter:         5 * time.Minute,
		NotifierQueueBound: 64,
	}
}
