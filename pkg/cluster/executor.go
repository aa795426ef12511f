// Package cluster provides command execution against a Kubernetes
// cluster through kubectl: a local process executor plus a typed wrapper
// that injects connection flags and classifies failures.
package cluster

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Executor runs commands in some environment. The kubectl wrapper is
// written against this interface so tests can script cluster responses.
type Executor interface {
	// Run executes a command and returns the result. A non-zero exit
	// code is reported in Result, not as an error; errors mean the
	// command could not run at all.
	Run(ctx context.Context, cmd []string, opts Opts) (Result, error)

	// Name returns the executor name for logging.
	Name() string

	// Available reports whether this executor can run in the current
	// environment.
	Available() bool
}

// Opts contains options for command execution.
type Opts struct {
	// Env contains extra environment variables (KEY=VALUE format),
	// appended to the current environment.
	Env []string

	// Stdin is piped to the process when non-empty.
	Stdin string

	// WorkDir is the working directory for the command.
	WorkDir string

	// Timeout bounds execution; zero means the caller's context governs.
	Timeout time.Duration
}

// Result contains the result of command execution.
type Result struct {
	Stdout       string
	Stderr       string
	ExecutorUsed string
	Duration     time.Duration
	ExitCode     int
}

// LocalExec executes commands directly on the local system.
type LocalExec struct{}

// NewLocalExec creates a local executor.
func NewLocalExec() *LocalExec {
	return &LocalExec{}
}

// Name returns the executor name.
func (e *LocalExec) Name() string {
	return "local"
}

// Available returns true since local execution always works.
func (e *LocalExec) Available() bool {
	return true
}

// Run executes a command locally.
func (e *LocalExec) Run(ctx context.Context, cmd []string, opts Opts) (Result, error) {
	if len(cmd) == 0 {
		return Result{}, fmt.Errorf("command cannot be empty")
	}

	start := time.Now()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	execCmd := exec.CommandContext(ctx, cmd[0], cmd[1:]...)

	if opts.WorkDir != "" {
		if _, err := os.Stat(opts.WorkDir); os.IsNotExist(err) {
			return Result{}, fmt.Errorf("working directory does not exist: %s", opts.WorkDir)
		}
		execCmd.Dir = opts.WorkDir
	}
	if len(opts.Env) > 0 {
		execCmd.Env = append(os.Environ(), opts.Env...)
	}
	if opts.Stdin != "" {
		execCmd.Stdin = strings.NewReader(opts.Stdin)
	}

	var stdoutBuf, stderrBuf strings.Builder
	execCmd.Stdout = &stdoutBuf
	execCmd.Stderr = &stderrBuf

	err := execCmd.Run()
	exitCode := 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok { //nolint:errorlint // ExitError is never wrapped here
			exitCode = exitError.ExitCode()
			err = nil // caller checks ExitCode
		} else {
			exitCode = -1
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = fmt.Errorf("command %s aborted: %w", cmd[0], ctxErr)
			}
		}
	}

	return Result{
		Stdout:       stdoutBuf.String(),
		Stderr:       stderrBuf.String(),
		ExecutorUsed: e.Name(),
		Duration:     time.Since(start),
		ExitCode:     exitCode,
	}, err
}
