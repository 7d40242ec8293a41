// Package manager implements the Session Manager (§4.2): the spawn
// pipeline that composes five fallible external systems behind the
// capability registry and leaves no partial state on failure, plus the
// get/list/send/kill/cleanup/restore operations that act on a spawned
// session afterward.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/capability"
	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/events"
	"github.com/codeready-toolchain/tarsy/pkg/session"
	"github.com/codeready-toolchain/tarsy/pkg/store"
)

// callTimeout bounds every single external plugin call the pipeline
// makes, per §5.
const callTimeout = 30 * time.Second

// masker is the narrow interface Manager needs from pkg/masking to scrub
// a Send message before it reaches a runtime's stdin/paste buffer. Kept
// local and unexported, mirroring pkg/store's own masker interface, so a
// Manager that never calls SetMasker (every pre-existing test) is
// unaffected.
type masker interface {
	MaskString(string) string
}

// Manager is the Session Manager. One instance per process, constructed
// at boot and shared by the Lifecycle Manager and API layer.
type Manager struct {
	cfg      *config.Config
	registry *capability.Registry
	store    *store.Store
	bus      *events.Bus
	masker   masker
}

// New constructs a Session Manager.
func New(cfg *config.Config, registry *capability.Registry, st *store.Store, bus *events.Bus) *Manager {
	return &Manager{cfg: cfg, registry: registry, store: st, bus: bus}
}

// SetMasker wires in the credential-redaction pass Send applies to every
// outbound message before transport selection. Optional: a Manager with
// no masker sends messages through only the control-character strip.
func (m *Manager) SetMasker(mk masker) {
	m.masker = mk
}


// rollback is one compensating action pushed onto the undo stack as the
// spawn pipeline commits each reversible step. Rollbacks run most-recent
// first and must never panic or block indefinitely.
type rollback struct {
	label string
	undo  func()
}

func runRollbacks(sessionID string, stack []rollback) {
	for i := len(stack) - 1; i >= 0; i-- {
		r := stack[i]
		func() {
			defer func() {
				if p := recover(); p != nil {
					slog.Error("spawn rollback panicked", "session_id", sessionID, "step", r.label, "panic", p)
				}
			}()
			r.undo()
		}()
	}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, callTimeout)
}

// Spawn runs the 11-step spawn pipeline from §4.2, rolling back every
// reversible side effect on failure and leaving no partial state.
func (m *Manager) Spawn(ctx context.Context, projectID, issueID string) (*session.Session, error) {
	var stack []rollback
	var sessionID string
	defer func() {
		if stack != nil {
			runRollbacks(sessionID, stack)
		}
	}()

	// Step 1: resolve project config, validate referenced plugins exist.
	project, err := m.cfg.GetProject(projectID)
	if err != nil {
		return nil, newKindError(KindSessionNotFound, "unknown project", err)
	}
	runtimeName := firstNonEmpty(project.Runtime, m.cfg.Defaults.Runtime)
	agentName := firstNonEmpty(project.Agent, m.cfg.Defaults.Agent)
	workspaceName := firstNonEmpty(project.Workspace, m.cfg.Defaults.Workspace)

	runtimePlugin, err := m.getRuntime(runtimeName)
	if err != nil {
		return nil, fmt.Errorf("spawn: resolve runtime: %w", err)
	}
	agentPlugin, err := m.getAgent(agentName, project.AgentConfig)
	if err != nil {
		return nil, fmt.Errorf("spawn: resolve agent: %w", err)
	}
	workspacePlugin, err := m.getWorkspace(workspaceName)
	if err != nil {
		return nil, fmt.Errorf("spawn: resolve workspace: %w", err)
	}

	var tracker capability.Tracker
	if issueID != "" {
		tracker, err = m.getTracker(project.Tracker, project.TrackerConfig)
		if err != nil {
			return nil, fmt.Errorf("spawn: resolve tracker: %w", err)
		}
	}

	// Step 2: validate the issue exists. Read-only, nothing to roll back.
	if issueID != "" {
		tctx, cancel := withTimeout(ctx)
		issue, err := tracker.GetIssue(tctx, issueID)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("spawn: validate issue %q: %w", issueID, err)
		}
		if issue == nil {
			return nil, fmt.Errorf("spawn: issue %q not found", issueID)
		}
	}

	// Step 3: reserve a session id atomically. store.ReserveNext holds
	// its own lock across the scan-and-write so two concurrent spawns
	// for the same prefix never pick the same id.
	sessionID, err = m.store.ReserveNext(project.SessionPrefix)
	if err != nil {
		return nil, fmt.Errorf("spawn: reserve session id: %w", err)
	}
	stack = append(stack, rollback{"unreserve", func() {
		if err := m.store.Unreserve(sessionID); err != nil {
			slog.Error("rollback: unreserve failed", "session_id", sessionID, "error", err)
		}
	}})

	sess := session.NewSession(sessionID, projectID, issueID)

	// Step 4: determine branch name via the tracker.
	branch := project.DefaultBranch
	if issueID != "" {
		tctx, cancel := withTimeout(ctx)
		branch, err = tracker.BranchName(tctx, issueID)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("spawn: branch name: %w", err)
		}
	} else {
		branch = fmt.Sprintf("%s-adhoc", sessionID)
	}
	sess.Branch = branch

	// Step 5: create the workspace. Roll back #3 on failure.
	wctx, cancel := withTimeout(ctx)
	workspacePath, err := workspacePlugin.Create(wctx, project.Path, project.Repo, branch, project.Symlinks, project.PostCreate)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("spawn: create workspace: %w", err)
	}
	sess.WorkspacePath = workspacePath
	stack = append(stack, rollback{"remove workspace", func() {
		rctx, cancel := withTimeout(context.Background())
		defer cancel()
		if err := workspacePlugin.Remove(rctx, workspacePath); err != nil {
			slog.Error("rollback: remove workspace failed", "session_id", sessionID, "path", workspacePath, "error", err)
		}
	}})

	// Step 6: generate the launch prompt via the tracker.
	prompt := fmt.Sprintf("Work on session %s in project %s.", sessionID, project.Name)
	if issueID != "" {
		pctx, cancel := withTimeout(ctx)
		prompt, err = tracker.GeneratePrompt(pctx, issueID)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("spawn: generate prompt: %w", err)
		}
	}

	// Step 7: build the runtime launch command via the agent plugin.
	actx, cancel := withTimeout(ctx)
	launchCommand, err := agentPlugin.GetLaunchCommand(actx, prompt, project.AgentConfig)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("spawn: build launch command: %w", err)
	}

	// Step 8: create the runtime. Roll back #5, #3 on failure.
	rctx, cancel := withTimeout(ctx)
	handleData, err := runtimePlugin.Create(rctx, workspacePath, launchCommand, nil)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("spawn: create runtime: %w", err)
	}
	sess.SetRuntimeHandle(&session.RuntimeHandle{ID: sessionID, RuntimeName: runtimeName, Data: handleData})
	stack = append(stack, rollback{"destroy runtime", func() {
		dctx, cancel := withTimeout(context.Background())
		defer cancel()
		if err := runtimePlugin.Destroy(dctx, handleData); err != nil {
			slog.Error("rollback: destroy runtime failed", "session_id", sessionID, "error", err)
		}
	}})

	// Step 9: optional post-launch setup. Roll back #8, #5, #3 on failure.
	sctx, cancel := withTimeout(ctx)
	err = agentPlugin.PostLaunchSetup(sctx, handleData, project.AgentConfig)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("spawn: post-launch setup: %w", err)
	}

	// Step 10: persist the complete record — the commit point. Once this
	// succeeds the undo stack is discarded; later failures are handled
	// by the caller, not by rolling the spawn back.
	if err := m.store.Save(sess); err != nil {
		return nil, fmt.Errorf("spawn: persist session record: %w", err)
	}
	stack = nil

	// Step 11: enqueue into the lifecycle polling set (the lifecycle
	// manager discovers non-terminal sessions via store.List, so nothing
	// further is needed here) and emit session.spawned.
	m.bus.Publish(events.Event{
		Type:      events.EventSessionSpawned,
		Priority:  config.PriorityInfo,
		SessionID: sessionID,
		ProjectID: projectID,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("session %s spawned in project %s", sessionID, projectID),
	})

	return sess, nil
}

// Get reads a session record through to the store.
func (m *Manager) Get(id string) (*session.Session, error) {
	sess, err := m.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return sess, nil
}

// List enumerates non-archived records, optionally filtered by project.
func (m *Manager) List(projectID string) ([]*session.Session, error) {
	return m.store.List(projectID)
}

// stripControlChars removes control characters before a message is
// delivered to a runtime, per §4.2 (newlines and tabs are preserved).
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Send dispatches a message to a session's runtime, choosing direct
// keystroke injection for short single-line messages and a buffered
// transport for anything longer or multi-line, per §4.2. The message is
// redacted of control characters and run through the credential masker
// before transport selection, so a message that happens to echo a secret
// (e.g. a webhook URL pasted by the tracker) is not an exfiltration
// vector to the runtime's stdin/paste buffer.
func (m *Manager) Send(ctx context.Context, id, message string) error {
	sess, err := m.store.Get(id)
	if err != nil {
		return fmt.Errorf("send %s: %w", id, err)
	}
	if sess.RuntimeHandle == nil {
		return newKindError(KindSessionNotFound, fmt.Sprintf("session %s has no runtime handle", id), nil)
	}

	clean := stripControlChars(message)
	if m.masker != nil {
		clean = m.masker.MaskString(clean)
	}
	mode := capability.SendModeDirect
	if len(clean) > 200 || strings.Contains(clean, "\n") {
		mode = capability.SendModeBuffered
	}

	runtimePlugin, err := m.getRuntime(sess.RuntimeHandle.RuntimeName)
	if err != nil {
		return fmt.Errorf("send %s: %w", id, err)
	}

	sctx, cancel := withTimeout(ctx)
	defer cancel()
	if err := runtimePlugin.Send(sctx, sess.RuntimeHandle.Data, mode, clean); err != nil {
		return fmt.Errorf("send %s: %w", id, err)
	}
	return nil
}

// Kill destroys a session's runtime and archives its record. Idempotent:
// killing an already-archived session is a no-op.
func (m *Manager) Kill(ctx context.Context, id string) error {
	if m.store.IsArchived(id) {
		return nil
	}
	sess, err := m.store.Get(id)
	if err != nil {
		return fmt.Errorf("kill %s: %w", id, err)
	}

	if sess.RuntimeHandle != nil {
		runtimePlugin, err := m.getRuntime(sess.RuntimeHandle.RuntimeName)
		if err == nil {
			dctx, cancel := withTimeout(ctx)
			if err := runtimePlugin.Destroy(dctx, sess.RuntimeHandle.Data); err != nil {
				slog.Error("kill: destroy runtime failed", "session_id", id, "error", err)
			}
			cancel()
		} else {
			slog.Error("kill: runtime plugin unavailable", "session_id", id, "error", err)
		}
	}

	sess.SetStatus(config.StatusKilled)
	if err := m.store.Save(sess); err != nil {
		return fmt.Errorf("kill %s: save before archive: %w", id, err)
	}
	if err := m.store.Archive(id); err != nil {
		return fmt.Errorf("kill %s: archive: %w", id, err)
	}

	m.bus.Publish(events.Event{
		Type:      events.EventSessionKilled,
		Priority:  config.PriorityInfo,
		SessionID: id,
		ProjectID: sess.ProjectID,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("session %s killed", id),
	})
	return nil
}

// Cleanup kills every session, optionally scoped to one project, whose
// PR has concluded (merged/closed) or whose issue is completed.
func (m *Manager) Cleanup(ctx context.Context, projectID string) ([]string, error) {
	sessions, err := m.store.List(projectID)
	if err != nil {
		return nil, fmt.Errorf("cleanup: list sessions: %w", err)
	}

	var killed []string
	for _, sess := range sessions {
		done, err := m.isConcluded(ctx, sess)
		if err != nil {
			slog.Error("cleanup: conclusion check failed", "session_id", sess.ID, "error", err)
			continue
		}
		if !done {
			continue
		}
		if err := m.Kill(ctx, sess.ID); err != nil {
			slog.Error("cleanup: kill failed", "session_id", sess.ID, "error", err)
			continue
		}
		killed = append(killed, sess.ID)
	}
	return killed, nil
}

func (m *Manager) isConcluded(ctx context.Context, sess *session.Session) (bool, error) {
	if sess.Status == config.StatusMerged {
		return true, nil
	}
	if sess.PR != nil {
		project, err := m.cfg.GetProject(sess.ProjectID)
		if err == nil && project.SCM != "" {
			scm, err := m.getSCM(project.SCM, project.TrackerConfig)
			if err == nil {
				sctx, cancel := withTimeout(ctx)
				state, err := scm.GetPRState(sctx, sess.PR)
				cancel()
				if err == nil && (state == config.PRStateMerged || state == config.PRStateClosed) {
					return true, nil
				}
			}
		}
	}
	if sess.IssueID != "" {
		project, err := m.cfg.GetProject(sess.ProjectID)
		if err == nil && project.Tracker != "" {
			tracker, err := m.getTracker(project.Tracker, project.TrackerConfig)
			if err == nil {
				tctx, cancel := withTimeout(ctx)
				completed, err := tracker.IsCompleted(tctx, sess.IssueID)
				cancel()
				if err == nil && completed {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

// Restore recreates runtime+agent for an archived or terminated record
// whose workspace still exists and whose status is restorable, without
// allocating a new id.
func (m *Manager) Restore(ctx context.Context, id string) (*session.Session, error) {
	sess, err := m.loadForRestore(id)
	if err != nil {
		return nil, err
	}
	if sess.Status.NonRestorable() {
		return nil, newKindError(KindSessionNotRestorable, fmt.Sprintf("session %s is %s", id, sess.Status), ErrSessionNotRestorable)
	}

	project, err := m.cfg.GetProject(sess.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}
	workspaceName := firstNonEmpty(project.Workspace, m.cfg.Defaults.Workspace)
	workspacePlugin, err := m.getWorkspace(workspaceName)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}
	if !workspacePlugin.Exists(ctx, sess.WorkspacePath) {
		return nil, newKindError(KindWorkspaceMissing, fmt.Sprintf("session %s workspace %s is gone", id, sess.WorkspacePath), ErrWorkspaceMissing)
	}

	runtimeName := firstNonEmpty(project.Runtime, m.cfg.Defaults.Runtime)
	runtimePlugin, err := m.getRuntime(runtimeName)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}
	agentName := firstNonEmpty(project.Agent, m.cfg.Defaults.Agent)
	agentPlugin, err := m.getAgent(agentName, project.AgentConfig)
	if err != nil {
		return nil, fmt.Errorf("restore %s: %w", id, err)
	}

	prompt := fmt.Sprintf("Resume session %s.", id)
	launchCommand, err := agentPlugin.GetLaunchCommand(ctx, prompt, project.AgentConfig)
	if err != nil {
		return nil, fmt.Errorf("restore %s: build launch command: %w", id, err)
	}

	rctx, cancel := withTimeout(ctx)
	handleData, err := runtimePlugin.Create(rctx, sess.WorkspacePath, launchCommand, nil)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("restore %s: create runtime: %w", id, err)
	}

	sctx, cancel := withTimeout(ctx)
	err = agentPlugin.PostLaunchSetup(sctx, handleData, project.AgentConfig)
	cancel()
	if err != nil {
		dctx, dcancel := withTimeout(context.Background())
		_ = runtimePlugin.Destroy(dctx, handleData)
		dcancel()
		return nil, fmt.Errorf("restore %s: post-launch setup: %w", id, err)
	}

	sess.SetRuntimeHandle(&session.RuntimeHandle{ID: id, RuntimeName: runtimeName, Data: handleData})
	sess.SetStatus(config.StatusWorking)

	wasArchived := m.store.IsArchived(id)
	if wasArchived {
		if err := m.store.Unarchive(id); err != nil {
			dctx, dcancel := withTimeout(context.Background())
			_ = runtimePlugin.Destroy(dctx, handleData)
			dcancel()
			return nil, fmt.Errorf("restore %s: unarchive: %w", id, err)
		}
	}
	if err := m.store.Save(sess); err != nil {
		return nil, fmt.Errorf("restore %s: persist: %w", id, err)
	}

	m.bus.Publish(events.Event{
		Type:      events.EventSessionRestored,
		Priority:  config.PriorityInfo,
		SessionID: id,
		ProjectID: sess.ProjectID,
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf("session %s restored", id),
	})
	return sess, nil
}

func (m *Manager) loadForRestore(id string) (*session.Session, error) {
	if sess, err := m.store.Get(id); err == nil {
		return sess, nil
	}
	sess, err := m.store.GetArchived(id)
	if err != nil {
		return nil, newKindError(KindSessionNotFound, fmt.Sprintf("session %s not found", id), err)
	}
	return sess, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (m *Manager) getRuntime(name string) (capability.Runtime, error) {
	inst, err := m.registry.Get(capability.SlotRuntime, name, nil)
	if err != nil {
		return nil, err
	}
	rt, ok := inst.(capability.Runtime)
	if !ok {
		return nil, fmt.Errorf("plugin %q does not implement Runtime", name)
	}
	return rt, nil
}

func (m *Manager) getAgent(name string, settings map[string]interface{}) (capability.Agent, error) {
	inst, err := m.registry.Get(capability.SlotAgent, name, settings)
	if err != nil {
		return nil, err
	}
	a, ok := inst.(capability.Agent)
	if !ok {
		return nil, fmt.Errorf("plugin %q does not implement Agent", name)
	}
	return a, nil
}

func (m *Manager) getWorkspace(name string) (capability.Workspace, error) {
	inst, err := m.registry.Get(capability.SlotWorkspace, name, nil)
	if err != nil {
		return nil, err
	}
	w, ok := inst.(capability.Workspace)
	if !ok {
		return nil, fmt.Errorf("plugin %q does not implement Workspace", name)
	}
	return w, nil
}

func (m *Manager) getTracker(name string, settings map[string]interface{}) (capability.Tracker, error) {
	inst, err := m.registry.Get(capability.SlotTracker, name, settings)
	if err != nil {
		return nil, err
	}
	t, ok := inst.(capability.Tracker)
	if !ok {
		return nil, fmt.Errorf("plugin %q does not implement Tracker", name)
	}
	return t, nil
}

func (m *Manager) getSCM(name string, settings map[string]interface{}) (capability.SCM, error) {
	inst, err := m.registry.Get(capability.SlotSCM, name, settings)
	if err != nil {
		return nil, err
	}
	s, ok := inst.(capability.SCM)
	if !ok {
		return nil, fmt.Errorf("plugin %q does not implement SCM", name)
	}
	return s, nil
}
