package session

import (
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/config"
)

// UnresolvedComment is one open review comment thread on a PR.
type UnresolvedComment struct {
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Author string `json:"author"`
	Body   string `json:"body"`
	URL    string `json:"url"`
}

// Mergeability is the derived merge-readiness of a PR.
type Mergeability struct {
	Mergeable  bool     `json:"mergeable"`
	CIPassing  bool     `json:"ci_passing"`
	Approved   bool     `json:"approved"`
	NoConflicts bool    `json:"no_conflicts"`
	Blockers   []string `json:"blockers,omitempty"`
}

// PRSnapshot is the ephemeral per-tick observation of a pull request's
// state (§3). It is never persisted beyond the tick that produced it; the
// durable PR identity lives on Session.PR.
type PRSnapshot struct {
	State              config.PRState
	CISummary          config.CISummary
	ReviewDecision     config.ReviewDecision
	Mergeability       Mergeability
	UnresolvedThreads  int
	UnresolvedComments []UnresolvedComment
}

// Observation is everything the Lifecycle Manager gathers about a session
// in one tick, and the sole input to the decision table (§4.3, §8's
// "pure function of the observation tuple" property).
type Observation struct {
	Activity    config.Activity
	RuntimeDead bool
	PR          *PRSnapshot // nil if no PR detected yet

	// IdleFor is how long Activity has continuously been idle, derived
	// from Session.LastActivityAt at observation time. Zero when
	// Activity is not idle.
	IdleFor time.Duration
}
