// Package agent provides the builtin Agent plugin (§4.6): a generic
// coding-agent CLI driven by an argv template and a config-supplied
// activity heuristic. Agent-specific signal parsing (e.g. reading a
// particular CLI's own status file) is left to project agent_config,
// not hardcoded per agent here — the builtin only knows how to start
// the process and poll whether its runtime thinks it is alive.
package agent

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/tarsy/pkg/capability"
	"github.com/codeready-toolchain/tarsy/pkg/config"
)

// CLI is the generic agent plugin: its launch command comes straight
// from project agent_config, and it reports activity via whatever the
// Runtime contract can observe, since the agent process itself exposes
// no structured status channel.
type CLI struct{}

// Factory constructs a CLI agent plugin.
func Factory(map[string]interface{}) (interface{}, error) {
	return capability.Agent(CLI{}), nil
}

// GetLaunchCommand implements capability.Agent. agent_config's "command"
// key holds the argv template; "{prompt}" is substituted with the
// generated prompt, falling back to appending the prompt as the final
// argument if no placeholder is present.
func (CLI) GetLaunchCommand(ctx context.Context, prompt string, cfg map[string]interface{}) ([]string, error) {
	raw, ok := cfg["command"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("cli agent: agent_config.command must be a non-empty array")
	}

	argv := make([]string, 0, len(raw)+1)
	sawPlaceholder := false
	for _, v := range raw {
		s, _ := v.(string)
		if s == "{prompt}" {
			argv = append(argv, prompt)
			sawPlaceholder = true
			continue
		}
		argv = append(argv, s)
	}
	if !sawPlaceholder {
		argv = append(argv, prompt)
	}
	return argv, nil
}

// PostLaunchSetup implements capability.Agent. The generic CLI agent has
// no post-launch handshake.
func (CLI) PostLaunchSetup(ctx context.Context, handle map[string]interface{}, cfg map[string]interface{}) error {
	return nil
}

// IsProcessing implements capability.Agent. Without an agent-specific
// status channel, liveness is the only signal available: a running
// process is assumed to be processing until the lifecycle manager
// observes it settle into idle via get_activity_state.
func (CLI) IsProcessing(ctx context.Context, handle map[string]interface{}) (bool, error) {
	return true, nil
}

// GetActivityState implements capability.Agent, defaulting to active.
// Projects that need finer-grained detection (waiting_input, blocked)
// should pair this with a runtime that can inspect terminal output,
// wired through agent_config rather than this builtin.
func (CLI) GetActivityState(ctx context.Context, handle map[string]interface{}) (config.Activity, error) {
	return config.ActivityActive, nil
}
