// Package runtime provides the builtin Runtime plugins (§4.6): a plain
// OS process and a tmux-backed pane, grounded on the process/session
// lifecycle idiom used for driving long-lived interactive CLI sessions
// (start, check liveness, write to stdin, terminate).
package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/codeready-toolchain/tarsy/pkg/capability"
)

// ProcessRuntime runs the agent as a direct child process, communicating
// over its stdin pipe.
type ProcessRuntime struct {
	mu        sync.Mutex
	processes map[int]*runningProcess
}

type runningProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// ProcessFactory constructs a ProcessRuntime.
func ProcessFactory(map[string]interface{}) (interface{}, error) {
	return capability.Runtime(&ProcessRuntime{processes: make(map[int]*runningProcess)}), nil
}

// Create implements capability.Runtime.
func (r *ProcessRuntime) Create(ctx context.Context, workspacePath string, launchCommand []string, env map[string]string) (map[string]interface{}, error) {
	if len(launchCommand) == 0 {
		return nil, fmt.Errorf("process runtime: launch command is empty")
	}

	cmd := exec.Command(launchCommand[0], launchCommand[1:]...)
	cmd.Dir = workspacePath
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("process runtime: stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process runtime: start: %w", err)
	}

	r.mu.Lock()
	r.processes[cmd.Process.Pid] = &runningProcess{cmd: cmd, stdin: stdinPipe}
	r.mu.Unlock()

	go func() { _ = cmd.Wait() }() // reap to avoid zombies; exit status observed via IsAlive

	return map[string]interface{}{
		"pid": cmd.Process.Pid,
	}, nil
}

func pidFromHandle(handle map[string]interface{}) (int, error) {
	switch v := handle["pid"].(type) {
	case int:
		return v, nil
	case float64: // handles round-tripped through JSON
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("process runtime: handle missing pid")
	}
}

// IsAlive implements capability.Runtime.
func (r *ProcessRuntime) IsAlive(ctx context.Context, handle map[string]interface{}) (bool, error) {
	pid, err := pidFromHandle(handle)
	if err != nil {
		return false, err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}
	// On Unix, FindProcess always succeeds; signal 0 probes liveness
	// without affecting the process.
	err = proc.Signal(syscall.Signal(0))
	return err == nil, nil
}

// Send implements capability.Runtime. Buffered messages are written as a
// single chunk followed by a trailing newline, same as a direct
// keystroke — the process's own line discipline decides how it is
// consumed; the SendMode distinction matters to interactive terminals
// more than to a raw pipe.
func (r *ProcessRuntime) Send(ctx context.Context, handle map[string]interface{}, mode capability.SendMode, message string) error {
	pid, err := pidFromHandle(handle)
	if err != nil {
		return err
	}
	r.mu.Lock()
	rp, ok := r.processes[pid]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("process runtime: no open stdin for pid %d", pid)
	}

	var buf bytes.Buffer
	buf.WriteString(message)
	buf.WriteByte('\n')
	_, err = rp.stdin.Write(buf.Bytes())
	return err
}

// Destroy implements capability.Runtime. Safe to call more than once.
func (r *ProcessRuntime) Destroy(ctx context.Context, handle map[string]interface{}) error {
	pid, err := pidFromHandle(handle)
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := proc.Kill(); err != nil && err != os.ErrProcessDone {
		return err
	}
	r.mu.Lock()
	delete(r.processes, pid)
	r.mu.Unlock()
	return nil
}
