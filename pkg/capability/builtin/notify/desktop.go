package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/codeready-toolchain/tarsy/pkg/capability"
	"github.com/codeready-toolchain/tarsy/pkg/events"
)

// DesktopNotifier shells out to the host OS's native notification tool.
// No example repo in the retrieved pack targets desktop toast
// notifications, so this is built directly on os/exec — there is no
// third-party library to ground it on.
type DesktopNotifier struct {
	runCommand func(ctx context.Context, goos, title, message string) error
}

// DesktopFactory constructs a DesktopNotifier. It has no required
// settings; on an unsupported OS, Notify returns an error per event
// rather than failing construction, since runtime.GOOS is fixed but a
// headless host might still want the notifier registered for symmetry
// with the rest of the routing table.
func DesktopFactory(map[string]interface{}) (interface{}, error) {
	return capability.Notifier(&DesktopNotifier{runCommand: runNotifyCommand}), nil
}

// Probe reports whether this host has a native notifier binary
// available, so LoadBuiltins can skip registering desktop on a headless
// server.
func Probe() error {
	switch runtime.GOOS {
	case "darwin":
		_, err := exec.LookPath("osascript")
		return err
	case "linux":
		_, err := exec.LookPath("notify-send")
		return err
	default:
		return fmt.Errorf("desktop notifications unsupported on %s", runtime.GOOS)
	}
}

// Notify implements capability.Notifier.
func (n *DesktopNotifier) Notify(ctx context.Context, e events.Event) error {
	title := string(e.Priority) + ": " + e.Type
	return n.runCommand(ctx, runtime.GOOS, title, e.Message)
}

func runNotifyCommand(ctx context.Context, goos, title, message string) error {
	var cmd *exec.Cmd
	switch goos {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", message, title)
		cmd = exec.CommandContext(ctx, "osascript", "-e", script)
	case "linux":
		cmd = exec.CommandContext(ctx, "notify-send", title, message)
	default:
		return fmt.Errorf("desktop notifications unsupported on %s", goos)
	}
	return cmd.Run()
}
