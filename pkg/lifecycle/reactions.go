package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/codeready-toolchain/tarsy/pkg/capability"
	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/events"
	"github.com/codeready-toolchain/tarsy/pkg/manager"
	"github.com/codeready-toolchain/tarsy/pkg/session"
)

// sender is the subset of manager.Manager a reaction needs to deliver a
// prompt or kill a session. Narrowed to an interface so reaction dispatch
// can be tested without a full Manager.
type sender interface {
	Send(ctx context.Context, id, message string) error
	Kill(ctx context.Context, id string) error
}

var _ sender = (*manager.Manager)(nil)

// reactionDispatcher fires the built-in reaction kinds (§4.3) with
// bounded retry and escalation. Each Fire call assumes the caller has
// already recorded the at-most-once key in session.ReactionsApplied and
// persisted it, per §9's "mark before executing" contract.
type reactionDispatcher struct {
	mgr      sender
	registry *capability.Registry
	bus      *events.Bus
}

func newReactionDispatcher(mgr sender, registry *capability.Registry, bus *events.Bus) *reactionDispatcher {
	return &reactionDispatcher{mgr: mgr, registry: registry, bus: bus}
}

// Fire executes rule.Action against sess, retrying with exponential
// backoff bounded by rule.Retries and rule.EscalateAfter. On exhaustion it
// emits reaction.escalated and returns an error; the caller is responsible
// for moving the session to stuck. obs is the observation that produced
// toStatus, carried through so send-to-agent can fill its message
// template's {pr_url}/{failing_checks}/{review_comments} placeholders.
func (d *reactionDispatcher) Fire(ctx context.Context, sess *session.Session, project *config.ProjectConfig, rule config.ReactionRule, toStatus config.Status, obs session.Observation) error {
	action := func() error {
		return d.execute(ctx, sess, project, rule, toStatus, obs)
	}

	bo := backoff.NewExponentialBackOff()
	if rule.EscalateAfter > 0 {
		bo.MaxElapsedTime = rule.EscalateAfter
	}
	var retryable backoff.BackOff = bo
	if rule.Retries > 0 {
		retryable = backoff.WithMaxRetries(bo, uint64(rule.Retries))
	}
	retryable = backoff.WithContext(retryable, ctx)

	err := backoff.Retry(action, retryable)
	if err != nil {
		slog.Error("reaction exhausted retries, escalating", "session_id", sess.ID, "action", rule.Action, "to_status", toStatus, "error", err)
		d.bus.Publish(events.Event{
			Type:      events.EventReactionEscalated,
			Priority:  config.PriorityUrgent,
			SessionID: sess.ID,
			ProjectID: sess.ProjectID,
			Timestamp: time.Now().UTC(),
			Message:   fmt.Sprintf("reaction %s for session %s escalated after exhausting retries: %v", rule.Action, sess.ID, err),
		})
		return err
	}

	d.bus.Publish(events.Event{
		Type:      events.EventReactionFired,
		Priority:  rule.Priority,
		SessionID: sess.ID,
		ProjectID: sess.ProjectID,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("reaction %s fired for session %s entering %s", rule.Action, sess.ID, toStatus),
		Data:      map[string]any{"to_status": string(toStatus)},
	})
	return nil
}

func (d *reactionDispatcher) execute(ctx context.Context, sess *session.Session, project *config.ProjectConfig, rule config.ReactionRule, toStatus config.Status, obs session.Observation) error {
	switch rule.Action {
	case config.ReactionSendToAgent:
		prompt, err := renderReactionTemplate(defaultSendToAgentTemplate, reactionPlaceholders(sess, obs))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("send-to-agent: render template: %w", err))
		}
		if err := d.mgr.Send(ctx, sess.ID, prompt); err != nil {
			return fmt.Errorf("send-to-agent: %w", err)
		}
		return nil

	case config.ReactionNotify:
		// The reaction.fired event Fire emits on success, carrying
		// rule.Priority, is itself the notification the Notification
		// Router routes — there is nothing further to do here.
		return nil

	case config.ReactionAutoMerge:
		inst, err := d.registry.Get(capability.SlotSCM, project.SCM, project.TrackerConfig)
		if err != nil {
			return fmt.Errorf("auto-merge: resolve scm: %w", err)
		}
		scm, ok := inst.(capability.SCM)
		if !ok {
			return fmt.Errorf("auto-merge: plugin %q does not implement SCM", project.SCM)
		}
		if sess.PR == nil {
			return backoff.Permanent(fmt.Errorf("auto-merge: session %s has no PR", sess.ID))
		}
		if err := scm.MergePR(ctx, sess.PR, rule.Strategy); err != nil {
			return fmt.Errorf("auto-merge: merge pr: %w", err)
		}
		if err := d.mgr.Kill(ctx, sess.ID); err != nil {
			return fmt.Errorf("auto-merge: cleanup after merge: %w", err)
		}
		return nil

	default:
		return backoff.Permanent(fmt.Errorf("unknown reaction kind %q", rule.Action))
	}
}

// reactionPlaceholders builds the {name} -> value map for spec.md §6's
// reaction template placeholders from the session's durable PR identity
// and the ephemeral observation that drove this reaction. A placeholder
// with nothing to report (no PR yet, no failing checks, no unresolved
// comments) resolves to an empty string rather than being left
// unrendered — only a {name} outside this known set is left verbatim.
func reactionPlaceholders(sess *session.Session, obs session.Observation) map[string]string {
	data := map[string]string{
		"issue_id":        sess.IssueID,
		"branch":          sess.Branch,
		"pr_url":          "",
		"failing_checks":  "",
		"review_comments": "",
	}
	if sess.PR != nil {
		data["pr_url"] = sess.PR.URL
	}
	if obs.PR != nil {
		if len(obs.PR.Mergeability.Blockers) > 0 {
			data["failing_checks"] = strings.Join(obs.PR.Mergeability.Blockers, ", ")
		} else if obs.PR.CISummary == config.CISummaryFailing {
			data["failing_checks"] = "ci"
		}
		if len(obs.PR.UnresolvedComments) > 0 {
			comments := make([]string, 0, len(obs.PR.UnresolvedComments))
			for _, c := range obs.PR.UnresolvedComments {
				comments = append(comments, fmt.Sprintf("%s: %s", c.Author, c.Body))
			}
			data["review_comments"] = strings.Join(comments, "; ")
		}
	}
	return data
}
