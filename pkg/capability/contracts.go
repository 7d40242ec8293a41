// Package capability implements the Capability Registry (§4.1): a typed
// dispatcher over seven plugin slots (runtime, agent, workspace, tracker,
// scm, notifier, terminal). Core engine code never imports a concrete
// plugin package directly — it asks the registry for whatever was
// configured under a slot and name, and talks to it only through the
// narrow contracts declared here.
package capability

import (
	"context"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/config"
	"github.com/codeready-toolchain/tarsy/pkg/events"
	"github.com/codeready-toolchain/tarsy/pkg/session"
)

// Runtime is the contract for wherever an agent process actually lives
// (a local process, a tmux pane, a container). §4.6.
type Runtime interface {
	// Create starts the runtime and returns the opaque handle data the
	// Session Store will persist on the record.
	Create(ctx context.Context, workspacePath string, launchCommand []string, env map[string]string) (map[string]interface{}, error)
	// IsAlive reports whether the process/container/pane behind handle is
	// still running.
	IsAlive(ctx context.Context, handle map[string]interface{}) (bool, error)
	// Send delivers a message to the runtime's input. Implementations
	// choose keystroke vs. paste transport based on content; the Session
	// Manager only decides direct-vs-buffered at the contract boundary
	// when the choice is observable (see SendMode).
	Send(ctx context.Context, handle map[string]interface{}, mode SendMode, message string) error
	// Destroy terminates the runtime. Must be safe to call more than once.
	Destroy(ctx context.Context, handle map[string]interface{}) error
}

// SendMode records whether a message should be delivered as a single
// keystroke write or a buffered paste, per §4.2's 200-character/newline
// rule.
type SendMode int

const (
	SendModeDirect SendMode = iota
	SendModeBuffered
)

// Agent is the contract for the coding-agent CLI being driven (§4.6).
type Agent interface {
	// GetLaunchCommand builds the argv used to start the agent process
	// inside the runtime.
	GetLaunchCommand(ctx context.Context, prompt string, cfg map[string]interface{}) ([]string, error)
	// PostLaunchSetup runs any steps the agent needs after its process
	// exists but before it is considered ready (e.g. waiting for a
	// socket). Optional — returning nil means "nothing to do".
	PostLaunchSetup(ctx context.Context, handle map[string]interface{}, cfg map[string]interface{}) error
	// IsProcessing reports whether the agent is currently doing work.
	IsProcessing(ctx context.Context, handle map[string]interface{}) (bool, error)
	// GetActivityState classifies what the agent is doing right now.
	GetActivityState(ctx context.Context, handle map[string]interface{}) (config.Activity, error)
}

// Workspace is the contract for provisioning a session's working
// directory (git worktree, plain clone, ...). §4.6.
type Workspace interface {
	// Create provisions a workspace for branch under root and returns its
	// absolute path.
	Create(ctx context.Context, root, repoPath, branch string, symlinks []string, postCreate []string) (string, error)
	// Remove tears down a workspace. Safe to call on a path that no
	// longer exists.
	Remove(ctx context.Context, path string) error
	// Exists reports whether path is still present on disk, used by
	// restore (§4.2) to check WorkspaceMissing.
	Exists(ctx context.Context, path string) bool
}

// Tracker is the contract for an issue tracker (§4.6). issue_id is opaque
// at the engine level — only the tracker interprets it (Open Question 1).
type Tracker interface {
	GetIssue(ctx context.Context, issueID string) (*Issue, error)
	IsCompleted(ctx context.Context, issueID string) (bool, error)
	ListIssues(ctx context.Context, filter map[string]interface{}) ([]*Issue, error)
	UpdateIssue(ctx context.Context, issueID string, fields map[string]interface{}) error
	CreateIssue(ctx context.Context, fields map[string]interface{}) (*Issue, error)
	GeneratePrompt(ctx context.Context, issueID string) (string, error)
	BranchName(ctx context.Context, issueID string) (string, error)
	IssueURL(ctx context.Context, issueID string) (string, error)
	IssueLabel(ctx context.Context, issueID string) (string, error)
}

// Issue is the tracker-agnostic projection of an issue, enough for the
// engine's bookkeeping. Tracker-specific detail lives in Raw.
type Issue struct {
	ID    string
	State config.IssueState
	Title string
	URL   string
	Raw   map[string]interface{}
}

// SCM is the contract for a forge's pull-request surface (§4.6). Every
// call is fallible; a transient failure must degrade to "no data this
// tick" rather than propagate, per §4.6/§7.
type SCM interface {
	DetectPR(ctx context.Context, branch string) (*session.PR, error)
	GetPRState(ctx context.Context, pr *session.PR) (config.PRState, error)
	GetPRSummary(ctx context.Context, pr *session.PR) (string, error)
	GetCIChecks(ctx context.Context, pr *session.PR) ([]CICheck, error)
	GetCISummary(ctx context.Context, pr *session.PR) (config.CISummary, error)
	GetReviewDecision(ctx context.Context, pr *session.PR) (config.ReviewDecision, error)
	GetReviews(ctx context.Context, pr *session.PR) ([]Review, error)
	GetPendingComments(ctx context.Context, pr *session.PR) ([]session.UnresolvedComment, error)
	GetAutomatedComments(ctx context.Context, pr *session.PR) ([]session.UnresolvedComment, error)
	GetMergeability(ctx context.Context, pr *session.PR) (session.Mergeability, error)
	MergePR(ctx context.Context, pr *session.PR, strategy config.MergeStrategy) error
	ClosePR(ctx context.Context, pr *session.PR) error
}

// CICheck is a single named CI job result.
type CICheck struct {
	Name string
	Pass bool
	URL  string
}

// Review is a single review submission.
type Review struct {
	Author string
	State  string
	Body   string
	At     time.Time
}

// Notifier is the contract for a fan-out destination (§4.5). A notifier
// owns its own transient-error retry; it must distinguish 4xx (terminal,
// do not retry) from 5xx/429/connection errors (retry with backoff).
type Notifier interface {
	Notify(ctx context.Context, e events.Event) error
}

// Terminal is the contract for attaching an interactive session to a
// runtime (e.g. `tmux attach`), used by the out-of-scope CLI's `attach`
// operation. The engine itself never calls this — it exists so the CLI
// can resolve "how do I attach to session X's runtime" through the same
// registry as everything else.
type Terminal interface {
	AttachCommand(ctx context.Context, handle map[string]interface{}) ([]string, error)
}
