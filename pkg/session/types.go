// Package session defines the central Session entity (§3): the record a
// spawned coding-agent instance is tracked by, plus its ephemeral PR
// snapshot and the mutation helpers the Session Manager and Lifecycle
// Manager use to update it safely under concurrent access.
package session

import (
	"strconv"
	"sync"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/config"
)

// RuntimeHandle is opaque to the engine; only the matching runtime plugin
// interprets Data. Never branch engine logic on its contents.
type RuntimeHandle struct {
	ID          string                 `json:"id"`
	RuntimeName string                 `json:"runtime_name"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// AgentInfo is the last observed agent summary, set by the agent plugin.
type AgentInfo struct {
	Summary       string `json:"summary,omitempty"`
	AgentSessionID string `json:"agent_session_id,omitempty"`
}

// PR is the last-persisted snapshot of pull-request identity. The richer,
// per-tick observation (CI/review/mergeability) is PRSnapshot and is never
// stored beyond the tick that produced it.
type PR struct {
	Number     int    `json:"number"`
	URL        string `json:"url"`
	Owner      string `json:"owner"`
	Repo       string `json:"repo"`
	Branch     string `json:"branch"`
	BaseBranch string `json:"base_branch"`
	IsDraft    bool   `json:"is_draft"`
	Title      string `json:"title"`
}

// ReactionKey identifies one fired reaction for the at-most-once contract.
type ReactionKey struct {
	EventKind string `json:"event_kind"`
	Attempt   int    `json:"attempt"`
}

// Session is the central entity (§3). All mutation goes through its
// methods, which serialize access with mu — the same pattern the engine
// uses for the in-memory manager cache; the Store is the durable mirror.
type Session struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	IssueID   string `json:"issue_id,omitempty"`

	Branch        string `json:"branch"`
	WorkspacePath string `json:"workspace_path"`

	Status   config.Status   `json:"status"`
	Activity config.Activity `json:"activity"`

	RuntimeHandle *RuntimeHandle `json:"runtime_handle,omitempty"`
	AgentInfo     *AgentInfo     `json:"agent_info,omitempty"`
	PR            *PR            `json:"pr,omitempty"`

	// ReactionsApplied records (to_status, entry_sequence) pairs already
	// fired, keyed by "status:sequence", so a restart never re-fires a
	// reaction already executed (§4.3, §9).
	ReactionsApplied map[string]bool `json:"reactions_applied"`

	// EntrySequence counts how many times the session has entered its
	// current status; incremented by the lifecycle manager on each
	// transition, read by the at-most-once reaction key.
	EntrySequence int `json:"entry_sequence"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	SchemaVersion int `json:"schema_version"`

	mu sync.RWMutex `json:"-"`
}

const CurrentSchemaVersion = 1

// NewSession constructs a freshly reserved session record. Fields beyond
// id/project/issue are filled in as the spawn pipeline progresses.
func NewSession(id, projectID, issueID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:               id,
		ProjectID:        projectID,
		IssueID:          issueID,
		Status:           config.StatusSpawning,
		Activity:         config.ActivityActive,
		ReactionsApplied: make(map[string]bool),
		CreatedAt:        now,
		LastActivityAt:   now,
		Metadata:         make(map[string]interface{}),
		SchemaVersion:    CurrentSchemaVersion,
	}
}

// Clone returns a deep-enough copy safe to hand to callers outside the
// manager's lock — store writes, API responses, event payloads.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := *s
	cp.mu = sync.RWMutex{}

	if s.RuntimeHandle != nil {
		rh := *s.RuntimeHandle
		rh.Data = cloneMap(s.RuntimeHandle.Data)
		cp.RuntimeHandle = &rh
	}
	if s.AgentInfo != nil {
		ai := *s.AgentInfo
		cp.AgentInfo = &ai
	}
	if s.PR != nil {
		pr := *s.PR
		cp.PR = &pr
	}
	cp.ReactionsApplied = make(map[string]bool, len(s.ReactionsApplied))
	for k, v := range s.ReactionsApplied {
		cp.ReactionsApplied[k] = v
	}
	cp.Metadata = cloneMap(s.Metadata)
	return &cp
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SetStatus transitions status, bumping EntrySequence whenever the status
// actually changes so the at-most-once reaction key tells repeat visits to
// the same status apart. Leaves LastActivityAt untouched — that field is
// owned exclusively by SetActivity's idle-freeze invariant.
func (s *Session) SetStatus(next config.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != next {
		s.Status = next
		s.EntrySequence++
	}
}

// SetActivity updates the observed agent liveness. LastActivityAt only
// advances while the agent is non-idle, so once activity settles to idle
// it freezes at the moment idleness began — the decision table's
// "idle for more than stuck_after" condition is time.Since(LastActivityAt)
// while Activity == idle.
func (s *Session) SetActivity(a config.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Activity = a
	if a != config.ActivityIdle {
		s.LastActivityAt = time.Now().UTC()
	}
}

// SetRuntimeHandle records the provisioned runtime's opaque handle.
func (s *Session) SetRuntimeHandle(h *RuntimeHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RuntimeHandle = h
}

// SetPR records the last known PR identity.
func (s *Session) SetPR(pr *PR) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PR = pr
}

// HasReactionFired reports whether (toStatus, entrySequence) already fired,
// implementing the at-most-once contract from §4.3/§9.
func (s *Session) HasReactionFired(toStatus config.Status, entrySequence int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ReactionsApplied[reactionKey(toStatus, entrySequence)]
}

// MarkReactionFired records that (toStatus, entrySequence) has fired, before
// the reaction actually executes — so a crash mid-reaction never re-fires it.
func (s *Session) MarkReactionFired(toStatus config.Status, entrySequence int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ReactionsApplied[reactionKey(toStatus, entrySequence)] = true
}

func reactionKey(status config.Status, seq int) string {
	return string(status) + ":" + strconv.Itoa(seq)
}
