package runner

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"
)

// Alive reports whether a process with pid exists. A process owned by
// another user counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Terminate asks pid to stop
func Terminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}

// supervise configures cmd to receive SIGTERM when its context is done and
// SIGKILL once grace has passed after that
func supervise(cmd *exec.Cmd, grace time.Duration) {
	cmd.Cancel = func() error {
		return cmd.Process.Signal(unix.SIGTERM)
	}
	cmd.WaitDelay = grace
}

// exitCode extracts the exit status of a finished command. A process
// killed by a signal, or interrupted through its context, reports -1.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return -1, nil
	}
	return -1, err
}
