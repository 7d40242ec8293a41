package manager

import (
	"context"
	"testing"

	"github.com/codeready-toolchain/tarsy/pkg/capability"
	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/events"
	"github.com/codeready-toolchain/tarsy/pkg/session"
	"github.com/codeready-toolchain/tarsy/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	createErr  error
	destroyed  []string
	destroyErr error
}

func (f *fakeRuntime) Create(ctx context.Context, workspacePath string, launchCommand []string, env map[string]string) (map[string]interface{}, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return map[string]interface{}{"pid": float64(1234), "workspace": workspacePath}, nil
}
func (f *fakeRuntime) IsAlive(ctx context.Context, handle map[string]interface{}) (bool, error) {
	return true, nil
}
func (f *fakeRuntime) Send(ctx context.Context, handle map[string]interface{}, mode capability.SendMode, message string) error {
	return nil
}
func (f *fakeRuntime) Destroy(ctx context.Context, handle map[string]interface{}) error {
	if ws, ok := handle["workspace"].(string); ok {
		f.destroyed = append(f.destroyed, ws)
	}
	return f.destroyErr
}

type fakeAgent struct {
	postLaunchErr error
}

func (fakeAgent) GetLaunchCommand(ctx context.Context, prompt string, cfg map[string]interface{}) ([]string, error) {
	return []string{"agent", prompt}, nil
}
func (f fakeAgent) PostLaunchSetup(ctx context.Context, handle map[string]interface{}, cfg map[string]interface{}) error {
	return f.postLaunchErr
}
func (fakeAgent) IsProcessing(ctx context.Context, handle map[string]interface{}) (bool, error) {
	return true, nil
}
func (fakeAgent) GetActivityState(ctx context.Context, handle map[string]interface{}) (config.Activity, error) {
	return config.ActivityActive, nil
}

type fakeWorkspace struct {
	createErr error
	removed   []string
}

func (f *fakeWorkspace) Create(ctx context.Context, root, repoPath, branch string, symlinks, postCreate []string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return root + "/" + branch, nil
}
func (f *fakeWorkspace) Remove(ctx context.Context, path string) error {
	f.removed = append(f.removed, path)
	return nil
}
func (fakeWorkspace) Exists(ctx context.Context, path string) bool { return true }

type fakeTracker struct {
	issue      *capability.Issue
	completed  bool
	branchName string
}

func (f fakeTracker) GetIssue(ctx context.Context, issueID string) (*capability.Issue, error) {
	return f.issue, nil
}
func (f fakeTracker) IsCompleted(ctx context.Context, issueID string) (bool, error) {
	return f.completed, nil
}
func (fakeTracker) ListIssues(ctx context.Context, filter map[string]interface{}) ([]*capability.Issue, error) {
	return nil, nil
}
func (fakeTracker) UpdateIssue(ctx context.Context, issueID string, fields map[string]interface{}) error {
	return nil
}
func (fakeTracker) CreateIssue(ctx context.Context, fields map[string]interface{}) (*capability.Issue, error) {
	return nil, nil
}
func (fakeTracker) GeneratePrompt(ctx context.Context, issueID string) (string, error) {
	return "do the thing for " + issueID, nil
}
func (f fakeTracker) BranchName(ctx context.Context, issueID string) (string, error) {
	return f.branchName, nil
}
func (fakeTracker) IssueURL(ctx context.Context, issueID string) (string, error)   { return "", nil }
func (fakeTracker) IssueLabel(ctx context.Context, issueID string) (string, error) { return "", nil }

func newTestManager(t *testing.T) (*Manager, *store.Store, *fakeRuntime, *fakeWorkspace, *fakeTracker) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := capability.New()
	rt := &fakeRuntime{}
	ws := &fakeWorkspace{}
	tr := &fakeTracker{issue: &capability.Issue{ID: "ISSUE-1"}, branchName: "feat/issue-1"}
	reg.Register(capability.SlotRuntime, "fake-runtime", capability.FactoryFunc(func(map[string]interface{}) (interface{}, error) {
		return capability.Runtime(rt), nil
	}), nil)
	reg.Register(capability.SlotAgent, "fake-agent", capability.FactoryFunc(func(map[string]interface{}) (interface{}, error) {
		return capability.Agent(fakeAgent{}), nil
	}), nil)
	reg.Register(capability.SlotWorkspace, "fake-workspace", capability.FactoryFunc(func(map[string]interface{}) (interface{}, error) {
		return capability.Workspace(ws), nil
	}), nil)
	reg.Register(capability.SlotTracker, "fake-tracker", capability.FactoryFunc(func(map[string]interface{}) (interface{}, error) {
		return capability.Tracker(tr), nil
	}), nil)

	project := &config.ProjectConfig{
		ID:            "proj",
		Name:          "Project",
		Path:          t.TempDir(),
		Repo:          "/repo",
		SessionPrefix: "proj",
		Runtime:       "fake-runtime",
		Agent:         "fake-agent",
		Workspace:     "fake-workspace",
		Tracker:       "fake-tracker",
	}
	cfg := &config.Config{
		Projects: config.NewProjectRegistry(map[string]*config.ProjectConfig{"proj": project}),
	}

	bus := events.NewBus()
	m := New(cfg, reg, st, bus)
	return m, st, rt, ws, tr
}

func TestSpawn_HappyPath(t *testing.T) {
	m, st, _, _, _ := newTestManager(t)

	sess, err := m.Spawn(context.Background(), "proj", "ISSUE-1")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", sess.ID)
	assert.Equal(t, "feat/issue-1", sess.Branch)
	require.NotNil(t, sess.RuntimeHandle)
	assert.Equal(t, "fake-runtime", sess.RuntimeHandle.RuntimeName)

	stored, err := st.Get("proj-1")
	require.NoError(t, err)
	assert.Equal(t, sess.Branch, stored.Branch)
}

func TestSpawn_RollsBackWorkspaceAndReservationOnRuntimeFailure(t *testing.T) {
	m, st, rt, ws, _ := newTestManager(t)
	rt.createErr = fakeError("runtime dial failed")

	_, err := m.Spawn(context.Background(), "proj", "ISSUE-1")
	require.Error(t, err)

	assert.Len(t, ws.removed, 1, "workspace should have been rolled back")
	_, getErr := st.Get("proj-1")
	assert.Error(t, getErr, "reservation sentinel should have been removed")
}

func TestSpawn_RollsBackRuntimeAndWorkspaceOnPostLaunchFailure(t *testing.T) {
	m, st, rt, ws, _ := newTestManager(t)

	reg := m.registry
	reg.Register(capability.SlotAgent, "fake-agent", capability.FactoryFunc(func(map[string]interface{}) (interface{}, error) {
		return capability.Agent(fakeAgent{postLaunchErr: fakeError("setup failed")}), nil
	}), nil)

	_, err := m.Spawn(context.Background(), "proj", "ISSUE-1")
	require.Error(t, err)
	assert.Len(t, rt.destroyed, 1)
	assert.Len(t, ws.removed, 1)
	_, getErr := st.Get("proj-1")
	assert.Error(t, getErr)
}

func TestSpawn_UnknownIssueFailsFastWithNoSideEffects(t *testing.T) {
	m, st, _, ws, tr := newTestManager(t)
	tr.issue = nil

	_, err := m.Spawn(context.Background(), "proj", "ISSUE-404")
	require.Error(t, err)
	assert.Empty(t, ws.removed)

	entries, err := st.List("proj")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestKill_IsIdempotent(t *testing.T) {
	m, _, rt, _, _ := newTestManager(t)
	sess, err := m.Spawn(context.Background(), "proj", "ISSUE-1")
	require.NoError(t, err)

	require.NoError(t, m.Kill(context.Background(), sess.ID))
	assert.Len(t, rt.destroyed, 1)

	require.NoError(t, m.Kill(context.Background(), sess.ID))
	assert.Len(t, rt.destroyed, 1, "second kill must not call destroy again")
}

func TestSend_ShortMessageUsesDirectMode(t *testing.T) {
	m, _, _, _, _ := newTestManager(t)
	sess, err := m.Spawn(context.Background(), "proj", "ISSUE-1")
	require.NoError(t, err)

	require.NoError(t, m.Send(context.Background(), sess.ID, "hello\x01world"))
}

func TestRestore_RejectsNonRestorableStatus(t *testing.T) {
	m, _, _, _, _ := newTestManager(t)
	sess, err := m.Spawn(context.Background(), "proj", "ISSUE-1")
	require.NoError(t, err)
	require.NoError(t, m.Kill(context.Background(), sess.ID))

	_, err = m.Restore(context.Background(), sess.ID)
	require.Error(t, err)
	var kerr *KindError
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, KindSessionNotRestorable, kerr.Kind())
}

func TestRestore_ReattachesRuntimeForWorkingSession(t *testing.T) {
	m, st, _, _, _ := newTestManager(t)
	sess, err := m.Spawn(context.Background(), "proj", "ISSUE-1")
	require.NoError(t, err)

	evCh := m.bus.Subscribe(8)

	restored, err := m.Restore(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, restored.ID)
	assert.Equal(t, sess.Branch, restored.Branch)
	assert.Equal(t, sess.WorkspacePath, restored.WorkspacePath)
	require.NotNil(t, restored.RuntimeHandle)
	assert.Equal(t, "fake-runtime", restored.RuntimeHandle.RuntimeName)
	assert.Equal(t, config.StatusWorking, restored.Status)

	stored, err := st.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, restored.WorkspacePath, stored.WorkspacePath)

	var sawRestored bool
	for {
		select {
		case ev := <-evCh:
			if ev.Type == events.EventSessionRestored && ev.SessionID == sess.ID {
				sawRestored = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawRestored, "expected a session.restored event")
}

func TestCleanup_KillsSessionsWithCompletedIssue(t *testing.T) {
	m, _, rt, _, tr := newTestManager(t)
	sess, err := m.Spawn(context.Background(), "proj", "ISSUE-1")
	require.NoError(t, err)

	tr.completed = true
	killed, err := m.Cleanup(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, []string{sess.ID}, killed)
	assert.Len(t, rt.destroyed, 1)
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func fakeError(msg string) error { return fakeErr(msg) }
