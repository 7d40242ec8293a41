// Package terminal provides the builtin Terminal plugin (§4.6) used by
// the out-of-scope CLI's `attach` operation to resolve how to attach an
// interactive terminal to a session's runtime.
package terminal

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/codeready-toolchain/tarsy/pkg/capability"
)

// TmuxAttach resolves the attach command for a tmux-backed runtime
// handle.
type TmuxAttach struct{}

// Probe reports whether tmux is available to attach with.
func Probe() error {
	_, err := exec.LookPath("tmux")
	return err
}

// Factory constructs a TmuxAttach.
func Factory(map[string]interface{}) (interface{}, error) {
	return capability.Terminal(TmuxAttach{}), nil
}

// AttachCommand implements capability.Terminal.
func (TmuxAttach) AttachCommand(ctx context.Context, handle map[string]interface{}) ([]string, error) {
	name, _ := handle["tmux_session"].(string)
	if name == "" {
		return nil, fmt.Errorf("terminal: handle has no tmux_session to attach to")
	}
	return []string{"tmux", "attach-session", "-t", name}, nil
}
