// Package events implements the single in-process event bus described in
// §4.3/§9: one writer (the Lifecycle Manager and Session Manager append
// events as they observe and act), any number of subscribers (the
// Notification Router, the optional live WebSocket feed, the analytics
// mirror). There is no durable pub/sub requirement — durability is the
// Session Store's append-only events.jsonl, not the bus.
package events

import (
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/config"
)

// Event is the immutable record appended to the event log (§3). Event ids
// are globally monotonic within a process boot; Sequence is a process-local
// counter distinct from ID, used only to detect gaps across a WebSocket
// reconnect.
type Event struct {
	ID        int64           `json:"id"`
	Sequence  int64           `json:"sequence"`
	Type      string          `json:"type"`
	Priority  config.Priority `json:"priority"`
	SessionID string          `json:"session_id,omitempty"`
	ProjectID string          `json:"project_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Message   string          `json:"message"`
	Data      map[string]any  `json:"data,omitempty"`
}

// Well-known event types. New reaction/runtime/notifier kinds should add a
// constant here rather than sprinkling string literals through the engine.
const (
	EventSessionSpawned    = "session.spawned"
	EventSessionKilled     = "session.killed"
	EventSessionRestored   = "session.restored"
	EventSessionErrored    = "session.errored"
	EventTransition        = "transition" // data.to_status holds the new status
	EventReactionFired     = "reaction.fired"
	EventReactionFailed    = "reaction.failed"
	EventReactionEscalated = "reaction.escalated"
	EventNotifierDropped   = "notifier.dropped"
)

// GlobalChannel is the channel carrying every event regardless of session.
const GlobalChannel = "sessions"

// SessionChannel returns the channel name scoped to one session's events.
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// ClientMessage is the JSON structure for client -> server WebSocket
// messages on the optional live event feed (SPEC_FULL §2, §10).
type ClientMessage struct {
	Action      string `json:"action"` // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`
	LastEventID *int64 `json:"last_event_id,omitempty"`
}
