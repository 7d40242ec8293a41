package lifecycle

import (
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/session"
)

// Decide derives the next status from one observation, in the
// priority-ordered decision table from §4.3. It is a pure function of its
// two inputs — no session or store lookups — so it is exhaustively
// testable in isolation (§8).
func Decide(obs session.Observation, stuckAfter time.Duration) config.Status {
	if obs.PR != nil {
		if obs.PR.State == config.PRStateMerged {
			return config.StatusMerged
		}
	}
	if obs.RuntimeDead && !hasOpenPR(obs.PR) {
		return config.StatusDone
	}
	if obs.PR != nil && obs.PR.State == config.PRStateOpen {
		if obs.PR.Mergeability.Mergeable {
			return config.StatusMergeable
		}
		if obs.PR.CISummary == config.CISummaryFailing {
			return config.StatusCIFailed
		}
		if obs.PR.ReviewDecision == config.ReviewDecisionChangesRequested {
			return config.StatusChangesRequested
		}
		if obs.PR.ReviewDecision == config.ReviewDecisionApproved && obs.PR.CISummary != config.CISummaryFailing {
			return config.StatusApproved
		}
		if obs.PR.ReviewDecision == config.ReviewDecisionPending {
			return config.StatusReviewPending
		}
		return config.StatusPROpen
	}
	if obs.Activity == config.ActivityWaitingInput {
		return config.StatusNeedsInput
	}
	if obs.Activity == config.ActivityBlocked || (obs.Activity == config.ActivityIdle && obs.IdleFor > stuckAfter) {
		return config.StatusStuck
	}
	return config.StatusWorking
}

func hasOpenPR(pr *session.PRSnapshot) bool {
	return pr != nil && pr.State == config.PRStateOpen
}
