package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/genecraft/genecraft/internal/logging"
)

// ExecResult captures one engine process run
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
}

// Runner invokes the external analysis engine as a child process. Each
// run owns exactly one process lifecycle: spawn, timeout, reap.
type Runner struct {
	rscript string
	logger  *logging.Logger
}

// NewRunner creates a runner using the given interpreter path
func NewRunner(rscript string, logger *logging.Logger) *Runner {
	return &Runner{
		rscript: rscript,
		logger:  logger.WithField("component", "engine"),
	}
}

// ResolveRscript locates the Rscript interpreter. Priority: explicit
// override, RSCRIPT_PATH env, PATH lookup, common default.
func ResolveRscript(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if env := os.Getenv("RSCRIPT_PATH"); env != "" {
		if _, err := os.Stat(env); err != nil {
			return "", fmt.Errorf("RSCRIPT_PATH does not exist: %s", env)
		}
		return env, nil
	}
	if path, err := exec.LookPath("Rscript"); err == nil {
		return path, nil
	}
	fallback := "/usr/bin/Rscript"
	if _, err := os.Stat(fallback); err == nil {
		return fallback, nil
	}
	return "", fmt.Errorf("Rscript not found: set RSCRIPT_PATH or ensure Rscript is in PATH")
}

// Run executes the invocation and waits for it to exit, enforcing the
// wall-clock timeout. On timeout the whole process group is killed so
// children spawned by the script cannot linger.
func (r *Runner) Run(ctx context.Context, inv *Invocation, timeout time.Duration) (*ExecResult, error) {
	args := append([]string{inv.Script}, inv.Args...)
	cmd := exec.Command(r.rscript, args...)

	// Own process group so a timeout kill reaps grandchildren too
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}
	pid := cmd.Process.Pid

	r.logger.Debug("Engine started", map[string]interface{}{
		"pid": pid, "script": inv.Script,
	})

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	result := &ExecResult{}
	select {
	case waitErr := <-done:
		result.ExitCode = exitCode(waitErr, cmd)
	case <-timer.C:
		r.killGroup(pid)
		<-done
		result.TimedOut = true
		result.ExitCode = -1
	case <-ctx.Done():
		r.killGroup(pid)
		<-done
		result.ExitCode = -1
	}

	result.Duration = time.Since(start)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	r.logger.Debug("Engine exited", map[string]interface{}{
		"pid": pid, "exit_code": result.ExitCode,
		"timed_out": result.TimedOut, "duration": result.Duration.String(),
	})
	return result, nil
}

// killGroup kills the process group rooted at pid, falling back to the
// single process when no group exists
func (r *Runner) killGroup(pid int) {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		syscall.Kill(pid, syscall.SIGKILL)
	}
}

func exitCode(waitErr error, cmd *exec.Cmd) int {
	if waitErr == nil {
		return 0
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}
