package actions

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/convoyci/convoy/pkg/schema"
)

const (
	defaultStepTimeout   = 10 * time.Minute
	defaultMaxOutputSize = 10 * 1024 * 1024 // 10MB
)

// RunnerConfig configures external command execution shared by all actions.
type RunnerConfig struct {
	DefaultTimeout time.Duration
	MaxOutputSize  int64

	// Tool binary overrides; empty means the conventional name resolved via PATH.
	GitBin     string
	DockerBin  string
	KubectlBin string
	ShellBin   string
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultStepTimeout
	}
	if c.MaxOutputSize <= 0 {
		c.MaxOutputSize = defaultMaxOutputSize
	}
	if c.GitBin == "" {
		c.GitBin = "git"
	}
	if c.DockerBin == "" {
		c.DockerBin = "docker"
	}
	if c.KubectlBin == "" {
		c.KubectlBin = "kubectl"
	}
	if c.ShellBin == "" {
		c.ShellBin = "/bin/sh"
	}
	return c
}

// runCommand invokes an external binary with the invocation's environment
// bound, capturing stdout/stderr with size caps. A non-zero exit (including a
// timeout kill) is reported as a StepResult; only inability to invoke the
// binary at all returns an error.
func runCommand(ctx context.Context, cfg RunnerConfig, bin string, args []string, stdin string, inv Invocation) (*StepResult, error) {
	timeout := cfg.DefaultTimeout
	if inv.Timeout > 0 {
		timeout = inv.Timeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, bin, args...)
	if inv.Workdir != "" {
		cmd.Dir = inv.Workdir
	}

	// Inherit the current environment, then layer non-secret step env and
	// finally the credential scope's bindings.
	env := os.Environ()
	for k, v := range stringMapParam(inv.Params, "env") {
		env = append(env, k+"="+v)
	}
	env = append(env, inv.Env...)
	cmd.Env = env

	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, limit: cfg.MaxOutputSize}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: cfg.MaxOutputSize}

	start := time.Now()
	runErr := cmd.Run()
	durationMs := time.Since(start).Milliseconds()

	result := &StepResult{
		Stdout:     stdoutBuf.String(),
		Stderr:     stderrBuf.String(),
		DurationMs: durationMs,
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// Non-exit error: missing binary, bad workdir, etc.
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "%s: %v", bin, runErr).WithCause(runErr)
		}
		result.ExitCode = exitErr.ExitCode()
		// A timeout kill surfaces as a signal exit; flag it via the context we own.
		if execCtx.Err() == context.DeadlineExceeded {
			result.TimedOut = true
		}
	}

	return result, nil
}

// --- limitedWriter ---

// limitedWriter wraps a writer and silently discards bytes beyond the limit.
// Write always reports the full len(p) consumed to prevent the subprocess from
// blocking on a full pipe.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p) // Capture original length before any truncation.
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}
