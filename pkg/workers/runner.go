// Package workers contains the subprocess-backed stages of a fix
// session: git operations, pull request checks, local test runs, and
// container deploys. Every worker reports through WorkerResult and
// never panics the session.
package workers

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// CommandResult captures one finished subprocess.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Output returns stdout with stderr appended, trimmed.
func (r *CommandResult) Output() string {
	return strings.TrimSpace(r.Stdout + "\n" + r.Stderr)
}

// commandRunner is what workers need from the runner; tests substitute
// a scripted implementation.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (*CommandResult, error)
}

// Runner executes commands inside the working copy with a timeout.
type Runner struct {
	dir     string
	timeout time.Duration
}

// NewRunner builds a runner rooted at dir. timeout bounds each command.
func NewRunner(dir string, timeout time.Duration) *Runner {
	return &Runner{dir: dir, timeout: timeout}
}

// Run executes the command and waits for it. A non-zero exit is not an
// error; callers inspect ExitCode. The error return covers start
// failures and timeouts.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (*CommandResult, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("command %s timed out after %s", name, r.timeout)
	}
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return result, fmt.Errorf("failed to run %s: %w", name, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	slog.Debug("Command finished",
		"command", name,
		"args", strings.Join(args, " "),
		"exit_code", result.ExitCode,
		"duration", result.Duration)
	return result, nil
}

// WorkerResult is the uniform outcome every worker stage reports.
type WorkerResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func success(format string, args ...any) *WorkerResult {
	return &WorkerResult{Success: true, Message: fmt.Sprintf(format, args...)}
}

func failure(format string, args ...any) *WorkerResult {
	return &WorkerResult{Success: false, Message: fmt.Sprintf(format, args...)}
}
