package health

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const maxMessage = 100

// ExecChecker is healthy when its command exits 0. The message is the
// first line of output, which for job tooling is the version.
type ExecChecker struct {
	Command []string
	Timeout time.Duration
}

// NewExecChecker runs command with a 10s timeout
func NewExecChecker(command []string) *ExecChecker {
	return &ExecChecker{Command: command, Timeout: 10 * time.Second}
}

// NewToolChecker checks that binary answers --version
func NewToolChecker(binary string) *ExecChecker {
	return NewExecChecker([]string{binary, "--version"})
}

// Check runs the command once
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if len(e.Command) == 0 {
		return finish(start, false, "no command specified")
	}

	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := fmt.Sprintf("%s: %v", e.Command[0], err)
		if line := firstLine(stderr.String()); line != "" {
			msg += ": " + line
		}
		return finish(start, false, msg)
	}
	return finish(start, true, firstLine(stdout.String()))
}

// Type returns CheckTypeExec
func (e *ExecChecker) Type() CheckType { return CheckTypeExec }

// WithTimeout sets the execution timeout
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.Timeout = timeout
	return e
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	if len(line) > maxMessage {
		line = line[:maxMessage] + "..."
	}
	return line
}

func finish(start time.Time, healthy bool, msg string) Result {
	return Result{Healthy: healthy, Message: msg, CheckedAt: start, Duration: time.Since(start)}
}
