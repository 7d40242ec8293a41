package capability

import (
	"github.com/codeready-toolchain/tarsy/pkg/capability/builtin/agent"
	githubplugin "github.com/codeready-toolchain/tarsy/pkg/capability/builtin/github"
	"github.com/codeready-toolchain/tarsy/pkg/capability/builtin/notify"
	"github.com/codeready-toolchain/tarsy/pkg/capability/builtin/runtime"
	"github.com/codeready-toolchain/tarsy/pkg/capability/builtin/terminal"
	"github.com/codeready-toolchain/tarsy/pkg/capability/builtin/workspace"
)

// Builtins lists every plugin shipped with the engine itself. Passed to
// Registry.LoadBuiltins at boot; a builtin whose Probe fails is skipped
// silently (§4.1).
func Builtins() []BuiltinSpec {
	return []BuiltinSpec{
		{Slot: SlotRuntime, Name: "process", Factory: FactoryFunc(runtime.ProcessFactory)},
		{Slot: SlotRuntime, Name: "tmux", Factory: FactoryFunc(runtime.TmuxFactory), Probe: runtime.TmuxProbe},

		{Slot: SlotAgent, Name: "cli", Factory: FactoryFunc(agent.Factory)},

		{Slot: SlotWorkspace, Name: "git-worktree", Factory: FactoryFunc(workspace.GitWorktreeFactory)},
		{Slot: SlotWorkspace, Name: "git-clone", Factory: FactoryFunc(workspace.GitCloneFactory)},

		{Slot: SlotTracker, Name: "github", Factory: FactoryFunc(githubplugin.TrackerFactory)},
		{Slot: SlotSCM, Name: "github", Factory: FactoryFunc(githubplugin.SCMFactory)},

		{Slot: SlotNotifier, Name: "slack", Factory: FactoryFunc(notify.SlackFactory)},
		{Slot: SlotNotifier, Name: "webhook", Factory: FactoryFunc(notify.WebhookFactory)},
		{Slot: SlotNotifier, Name: "desktop", Factory: FactoryFunc(notify.DesktopFactory), Probe: notify.Probe},

		{Slot: SlotTerminal, Name: "tmux-attach", Factory: FactoryFunc(terminal.Factory), Probe: terminal.Probe},
	}
}
