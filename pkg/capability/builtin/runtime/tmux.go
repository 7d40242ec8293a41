package runtime

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/capability"
)

// TmuxRuntime runs the agent inside a detached tmux session, so an
// operator can attach and watch/intervene live via the Terminal contract.
type TmuxRuntime struct {
	sessionPrefix string
}

// TmuxProbe reports whether tmux is on PATH, so LoadBuiltins can skip
// registering this runtime on a host without it.
func TmuxProbe() error {
	_, err := exec.LookPath("tmux")
	return err
}

// TmuxFactory constructs a TmuxRuntime.
func TmuxFactory(map[string]interface{}) (interface{}, error) {
	return capability.Runtime(&TmuxRuntime{sessionPrefix: "agent-orchestrator-"}), nil
}

func (r *TmuxRuntime) sessionName(handle map[string]interface{}) (string, error) {
	name, _ := handle["tmux_session"].(string)
	if name == "" {
		return "", fmt.Errorf("tmux runtime: handle missing tmux_session")
	}
	return name, nil
}

// Create implements capability.Runtime: starts a detached tmux session
// running launchCommand in workspacePath.
func (r *TmuxRuntime) Create(ctx context.Context, workspacePath string, launchCommand []string, env map[string]string) (map[string]interface{}, error) {
	if len(launchCommand) == 0 {
		return nil, fmt.Errorf("tmux runtime: launch command is empty")
	}
	name := r.sessionPrefix + randomSuffix()

	args := []string{"new-session", "-d", "-s", name, "-c", workspacePath}
	for k, v := range env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, strings.Join(quoteArgs(launchCommand), " "))

	cmd := exec.CommandContext(ctx, "tmux", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("tmux runtime: new-session: %w: %s", err, out)
	}

	return map[string]interface{}{"tmux_session": name}, nil
}

// IsAlive implements capability.Runtime.
func (r *TmuxRuntime) IsAlive(ctx context.Context, handle map[string]interface{}) (bool, error) {
	name, err := r.sessionName(handle)
	if err != nil {
		return false, err
	}
	cmd := exec.CommandContext(ctx, "tmux", "has-session", "-t", name)
	return cmd.Run() == nil, nil
}

// Send implements capability.Runtime: direct messages go via
// send-keys+Enter, buffered messages go via load-buffer+paste-buffer so
// multi-line or long content is not mangled by tmux's key parser.
func (r *TmuxRuntime) Send(ctx context.Context, handle map[string]interface{}, mode capability.SendMode, message string) error {
	name, err := r.sessionName(handle)
	if err != nil {
		return err
	}

	if mode == capability.SendModeDirect {
		cmd := exec.CommandContext(ctx, "tmux", "send-keys", "-t", name, message, "Enter")
		return cmd.Run()
	}

	load := exec.CommandContext(ctx, "tmux", "load-buffer", "-")
	load.Stdin = strings.NewReader(message)
	if err := load.Run(); err != nil {
		return fmt.Errorf("tmux runtime: load-buffer: %w", err)
	}
	paste := exec.CommandContext(ctx, "tmux", "paste-buffer", "-t", name)
	if err := paste.Run(); err != nil {
		return fmt.Errorf("tmux runtime: paste-buffer: %w", err)
	}
	return exec.CommandContext(ctx, "tmux", "send-keys", "-t", name, "Enter").Run()
}

// Destroy implements capability.Runtime. Safe to call more than once:
// kill-session on an already-gone session just errors, which we ignore.
func (r *TmuxRuntime) Destroy(ctx context.Context, handle map[string]interface{}) error {
	name, err := r.sessionName(handle)
	if err != nil {
		return err
	}
	_ = exec.CommandContext(ctx, "tmux", "kill-session", "-t", name).Run()
	return nil
}

func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return out
}

var suffixCounter atomic.Int64

func randomSuffix() string {
	n := suffixCounter.Add(1)
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), n)
}
