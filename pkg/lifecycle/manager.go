// Package lifecycle implements the Lifecycle Manager (§4.3): a single
// cooperative poll loop that, on a fixed interval, observes every
// non-terminal session through a bounded worker pool, derives its next
// status from a pure decision table, and fires at-most-once reactions on
// transition.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/capability"
	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/events"
	"github.com/codeready-toolchain/tarsy/pkg/manager"
	"github.com/codeready-toolchain/tarsy/pkg/session"
	"github.com/codeready-toolchain/tarsy/pkg/store"
)

// Manager is the Lifecycle Manager. One instance per process, started at
// boot alongside the Session Manager.
type Manager struct {
	cfg      *config.Config
	registry *capability.Registry
	store    *store.Store
	bus      *events.Bus
	sessions *manager.Manager

	dispatcher *reactionDispatcher
	pool       *pool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Lifecycle Manager.
func New(cfg *config.Config, registry *capability.Registry, st *store.Store, bus *events.Bus, sessions *manager.Manager) *Manager {
	return &Manager{
		cfg:        cfg,
		registry:   registry,
		store:      st,
		bus:        bus,
		sessions:   sessions,
		dispatcher: newReactionDispatcher(sessions, registry, bus),
		pool:       newPool(cfg.Lifecycle.WorkerCount),
		stopCh:     make(chan struct{}),
	}
}

// CancelSession interrupts an in-flight observation of id, if one is
// currently running (e.g. a concurrent operator-triggered kill).
func (m *Manager) CancelSession(id string) bool {
	return m.pool.CancelSession(id)
}

// Start runs the poll loop until Stop is called or ctx is cancelled. It
// blocks, so callers run it in its own goroutine.
func (m *Manager) Start(ctx context.Context) {
	interval := m.cfg.Lifecycle.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	for {
		tickStart := time.Now()
		m.runTick(ctx)

		elapsed := time.Since(tickStart)
		wait := interval - elapsed
		if wait < 0 {
			wait = 0
		}

		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// Stop signals the poll loop to exit and waits for any in-flight
// observations to finish, up to ShutdownGrace.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	done := make(chan struct{})
	go func() {
		m.pool.wait()
		close(done)
	}()

	grace := m.cfg.Lifecycle.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("lifecycle manager: shutdown grace period elapsed with observations still in flight")
	}
}

// runTick lists every non-terminal session and observes each one,
// concurrency-bounded by the pool.
func (m *Manager) runTick(ctx context.Context) {
	sessions, err := m.store.List("")
	if err != nil {
		slog.Error("lifecycle tick: list sessions failed", "error", err)
		return
	}

	for _, sess := range sessions {
		if sess.Status.IsTerminal() {
			continue
		}
		sess := sess
		m.pool.run(ctx, sess.ID, func(sctx context.Context) {
			if err := m.observeOne(sctx, sess); err != nil {
				slog.Error("lifecycle tick: observe failed", "session_id", sess.ID, "error", err)
			}
		})
	}
}

func (m *Manager) callTimeout() time.Duration {
	if m.cfg.Lifecycle.CallTimeout > 0 {
		return m.cfg.Lifecycle.CallTimeout
	}
	return 30 * time.Second
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.callTimeout())
}

// observeOne runs steps 1-5 of §4.3 for a single session: observe
// activity and PR state, derive the next status, and if it changed,
// append the transition and fire a matching reaction.
func (m *Manager) observeOne(ctx context.Context, sess *session.Session) error {
	project, err := m.cfg.GetProject(sess.ProjectID)
	if err != nil {
		return fmt.Errorf("resolve project: %w", err)
	}

	obs, err := m.observe(ctx, sess, project)
	if err != nil {
		// Transient errors inside an observation tick are swallowed and
		// logged; the decision table simply isn't consulted this tick.
		slog.Warn("lifecycle tick: observation error, skipping this tick", "session_id", sess.ID, "error", err)
		return nil
	}

	// obs.PR's identity fields were already persisted onto sess.PR by
	// observePR when it called sess.SetPR; the CI/review/mergeability
	// detail carried in obs.PR itself is ephemeral per §3/§4.4 and is
	// consulted only by Decide below, never written to the store.
	sess.SetActivity(obs.Activity)

	stuckAfter := m.cfg.Lifecycle.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = 5 * time.Minute
	}
	next := Decide(obs, stuckAfter)

	if next == sess.Status {
		return m.store.Save(sess)
	}

	prevStatus := sess.Status
	sess.SetStatus(next)
	entrySeq := sess.EntrySequence

	m.bus.Publish(events.Event{
		Type:      events.EventTransition,
		Priority:  config.PriorityInfo,
		SessionID: sess.ID,
		ProjectID: sess.ProjectID,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("session %s transitioned %s -> %s", sess.ID, prevStatus, next),
		Data:      map[string]any{"from_status": string(prevStatus), "to_status": string(next)},
	})

	rule, ok := reactionFor(project, m.cfg, next)
	if ok && rule.Auto && !sess.HasReactionFired(next, entrySeq) {
		sess.MarkReactionFired(next, entrySeq)
		if err := m.store.Save(sess); err != nil {
			return fmt.Errorf("persist transition before reaction: %w", err)
		}
		if err := m.dispatcher.Fire(ctx, sess, project, rule, next, obs); err != nil {
			sess.SetStatus(config.StatusStuck)
			if saveErr := m.store.Save(sess); saveErr != nil {
				slog.Error("lifecycle tick: persist stuck-after-escalation failed", "session_id", sess.ID, "error", saveErr)
			}
		}
		return nil
	}

	return m.store.Save(sess)
}

// reactionFor resolves the reaction rule for a status, preferring the
// project's own override over the global default (§4.3's "mapping from
// status to reaction kind is project-configurable").
func reactionFor(project *config.ProjectConfig, cfg *config.Config, status config.Status) (config.ReactionRule, bool) {
	if project != nil {
		if rule, ok := project.Reactions[status]; ok {
			return rule, true
		}
	}
	rule, ok := cfg.Reactions[status]
	return rule, ok
}

// observe runs §4.3 steps 1-2: activity liveness and, if a PR is known or
// can be detected, its CI/review/mergeability snapshot.
func (m *Manager) observe(ctx context.Context, sess *session.Session, project *config.ProjectConfig) (session.Observation, error) {
	var obs session.Observation

	rh := sess.RuntimeHandle
	if rh == nil {
		return obs, fmt.Errorf("session has no runtime handle")
	}
	inst, err := m.registry.Get(capability.SlotRuntime, rh.RuntimeName, nil)
	if err != nil {
		return obs, fmt.Errorf("resolve runtime: %w", err)
	}
	rt, ok := inst.(capability.Runtime)
	if !ok {
		return obs, fmt.Errorf("plugin %q does not implement Runtime", rh.RuntimeName)
	}

	actx, cancel := m.withTimeout(ctx)
	alive, err := rt.IsAlive(actx, sess.RuntimeHandle.Data)
	cancel()
	if err != nil {
		return obs, fmt.Errorf("runtime is_alive: %w", err)
	}

	if !alive {
		obs.Activity = config.ActivityExited
		obs.RuntimeDead = true
	} else {
		agentName := firstNonEmpty(project.Agent, m.cfg.Defaults.Agent)
		agentInst, err := m.registry.Get(capability.SlotAgent, agentName, project.AgentConfig)
		if err != nil {
			return obs, fmt.Errorf("resolve agent: %w", err)
		}
		ag, ok := agentInst.(capability.Agent)
		if !ok {
			return obs, fmt.Errorf("plugin %q does not implement Agent", agentName)
		}
		gctx, cancel := m.withTimeout(ctx)
		activity, err := ag.GetActivityState(gctx, sess.RuntimeHandle.Data)
		cancel()
		if err != nil {
			return obs, fmt.Errorf("agent get_activity_state: %w", err)
		}
		obs.Activity = activity
	}

	if obs.Activity == config.ActivityIdle {
		obs.IdleFor = time.Since(sess.LastActivityAt)
	}

	snapshot, err := m.observePR(ctx, sess, project)
	if err != nil {
		slog.Debug("lifecycle tick: pr observation unavailable this tick", "session_id", sess.ID, "error", err)
	}
	obs.PR = snapshot
	return obs, nil
}

// observePR runs §4.3 step 2: detect or confirm the PR and gather its
// CI/review/mergeability snapshot. Returns (nil, nil) when the project has
// no SCM configured or no PR has been opened yet.
func (m *Manager) observePR(ctx context.Context, sess *session.Session, project *config.ProjectConfig) (*session.PRSnapshot, error) {
	if project.SCM == "" {
		return nil, nil
	}
	inst, err := m.registry.Get(capability.SlotSCM, project.SCM, project.TrackerConfig)
	if err != nil {
		return nil, fmt.Errorf("resolve scm: %w", err)
	}
	scm, ok := inst.(capability.SCM)
	if !ok {
		return nil, fmt.Errorf("plugin %q does not implement SCM", project.SCM)
	}

	pr := sess.PR
	if pr == nil {
		dctx, cancel := m.withTimeout(ctx)
		detected, err := scm.DetectPR(dctx, sess.Branch)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("detect_pr: %w", err)
		}
		if detected == nil {
			return nil, nil
		}
		sess.SetPR(detected)
		pr = detected
	}

	sctx, cancel := m.withTimeout(ctx)
	state, err := scm.GetPRState(sctx, pr)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("get_pr_state: %w", err)
	}

	cctx, cancel := m.withTimeout(ctx)
	ci, err := scm.GetCISummary(cctx, pr)
	cancel()
	if err != nil {
		ci = config.CISummaryNone
	}

	rctx, cancel := m.withTimeout(ctx)
	review, err := scm.GetReviewDecision(rctx, pr)
	cancel()
	if err != nil {
		review = config.ReviewDecisionNone
	}

	mctx, cancel := m.withTimeout(ctx)
	mergeability, err := scm.GetMergeability(mctx, pr)
	cancel()
	if err != nil {
		mergeability = session.Mergeability{}
	}

	uctx, cancel := m.withTimeout(ctx)
	comments, err := scm.GetPendingComments(uctx, pr)
	cancel()
	if err != nil {
		comments = nil
	}

	return &session.PRSnapshot{
		State:              state,
		CISummary:          ci,
		ReviewDecision:     review,
		Mergeability:       mergeability,
		UnresolvedThreads:  len(comments),
		UnresolvedComments: comments,
	}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
