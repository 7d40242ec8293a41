package lifecycle

import (
	"context"
	"testing"

	"github.com/codeready-toolchain/tarsy/pkg/capability"
	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/events"
	"github.com/codeready-toolchain/tarsy/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sendErr error
	sent    []string
	killed  []string
}

func (f *fakeSender) Send(ctx context.Context, id, message string) error {
	f.sent = append(f.sent, message)
	return f.sendErr
}

func (f *fakeSender) Kill(ctx context.Context, id string) error {
	f.killed = append(f.killed, id)
	return nil
}

type fakeDispatchErr string

func (e fakeDispatchErr) Error() string { return string(e) }

type fakeSCM struct {
	mergeCalls int
	mergeErr   error
}

func (fakeSCM) DetectPR(ctx context.Context, branch string) (*session.PR, error) { return nil, nil }
func (fakeSCM) GetPRState(ctx context.Context, pr *session.PR) (config.PRState, error) {
	return config.PRStateOpen, nil
}
func (fakeSCM) GetPRSummary(ctx context.Context, pr *session.PR) (string, error) { return "", nil }
func (fakeSCM) GetCIChecks(ctx context.Context, pr *session.PR) ([]capability.CICheck, error) {
	return nil, nil
}
func (fakeSCM) GetCISummary(ctx context.Context, pr *session.PR) (config.CISummary, error) {
	return config.CISummaryNone, nil
}
func (fakeSCM) GetReviewDecision(ctx context.Context, pr *session.PR) (config.ReviewDecision, error) {
	return config.ReviewDecisionNone, nil
}
func (fakeSCM) GetReviews(ctx context.Context, pr *session.PR) ([]capability.Review, error) {
	return nil, nil
}
func (fakeSCM) GetPendingComments(ctx context.Context, pr *session.PR) ([]session.UnresolvedComment, error) {
	return nil, nil
}
func (fakeSCM) GetAutomatedComments(ctx context.Context, pr *session.PR) ([]session.UnresolvedComment, error) {
	return nil, nil
}
func (fakeSCM) GetMergeability(ctx context.Context, pr *session.PR) (session.Mergeability, error) {
	return session.Mergeability{}, nil
}
func (f *fakeSCM) MergePR(ctx context.Context, pr *session.PR, strategy config.MergeStrategy) error {
	f.mergeCalls++
	return f.mergeErr
}
func (fakeSCM) ClosePR(ctx context.Context, pr *session.PR) error { return nil }

func newTestSession() *session.Session {
	sess := session.NewSession("proj-1", "proj", "ISSUE-1")
	sess.Branch = "feat/issue-1"
	return sess
}

// TestDispatcher_SendToAgentRendersTemplatePlaceholders covers scenario 3:
// a ci-failed reaction whose message names the failing check and the PR
// URL rather than a generic "please address it" string.
func TestDispatcher_SendToAgentRendersTemplatePlaceholders(t *testing.T) {
	sess := newTestSession()
	sess.SetPR(&session.PR{Number: 7, URL: "https://github.com/acme/app/pull/7"})

	obs := session.Observation{
		PR: &session.PRSnapshot{
			Mergeability: session.Mergeability{Blockers: []string{"lint"}},
		},
	}

	fs := &fakeSender{}
	d := newReactionDispatcher(fs, nil, events.NewBus())

	rule := config.ReactionRule{Auto: true, Action: config.ReactionSendToAgent}
	err := d.Fire(context.Background(), sess, &config.ProjectConfig{}, rule, config.StatusCIFailed, obs)
	require.NoError(t, err)

	require.Len(t, fs.sent, 1)
	assert.Contains(t, fs.sent[0], "lint")
	assert.Contains(t, fs.sent[0], "https://github.com/acme/app/pull/7")
}

// TestDispatcher_SendToAgentRetriesBoundedThenEscalates covers §8's
// "send-message call is invoked at most R+1 times" property.
func TestDispatcher_SendToAgentRetriesBoundedThenEscalates(t *testing.T) {
	sess := newTestSession()
	fs := &fakeSender{sendErr: fakeDispatchErr("runtime busy")}
	d := newReactionDispatcher(fs, nil, events.NewBus())

	rule := config.ReactionRule{Auto: true, Action: config.ReactionSendToAgent, Retries: 2}
	err := d.Fire(context.Background(), sess, &config.ProjectConfig{}, rule, config.StatusCIFailed, session.Observation{})
	require.Error(t, err)
	assert.Len(t, fs.sent, 3, "send-message should be invoked at most R+1 times")
}

// TestDispatcher_AutoMergeKillsSessionOnSuccess covers scenario 4: an
// approved, green PR is merged and its session cleaned up.
func TestDispatcher_AutoMergeKillsSessionOnSuccess(t *testing.T) {
	sess := newTestSession()
	sess.SetPR(&session.PR{Number: 9, URL: "https://github.com/acme/app/pull/9"})

	scm := &fakeSCM{}
	reg := capability.New()
	reg.Register(capability.SlotSCM, "fake-scm", capability.FactoryFunc(func(map[string]interface{}) (interface{}, error) {
		return capability.SCM(scm), nil
	}), nil)

	fs := &fakeSender{}
	d := newReactionDispatcher(fs, reg, events.NewBus())

	project := &config.ProjectConfig{SCM: "fake-scm"}
	rule := config.ReactionRule{Auto: true, Action: config.ReactionAutoMerge, Strategy: config.MergeStrategySquash}
	err := d.Fire(context.Background(), sess, project, rule, config.StatusMergeable, session.Observation{})
	require.NoError(t, err)

	assert.Equal(t, 1, scm.mergeCalls)
	assert.Equal(t, []string{sess.ID}, fs.killed)
}

// TestDispatcher_AutoMergeWithoutPRIsPermanentFailure covers the guard
// against merging a session that never opened a PR.
func TestDispatcher_AutoMergeWithoutPRIsPermanentFailure(t *testing.T) {
	sess := newTestSession()

	scm := &fakeSCM{}
	reg := capability.New()
	reg.Register(capability.SlotSCM, "fake-scm", capability.FactoryFunc(func(map[string]interface{}) (interface{}, error) {
		return capability.SCM(scm), nil
	}), nil)

	fs := &fakeSender{}
	d := newReactionDispatcher(fs, reg, events.NewBus())

	project := &config.ProjectConfig{SCM: "fake-scm"}
	rule := config.ReactionRule{Auto: true, Action: config.ReactionAutoMerge, Strategy: config.MergeStrategySquash}
	err := d.Fire(context.Background(), sess, project, rule, config.StatusMergeable, session.Observation{})
	require.Error(t, err)
	assert.Equal(t, 0, scm.mergeCalls, "merge must never be attempted without a PR")
}
