package runner

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"
)

type ShellRunner struct{}

func NewShellRunner() *ShellRunner {
	return &ShellRunner{}
}

// Run executes a single command to completion. The child's exit code
// is returned verbatim; -1 means the process could not be started or
// was killed by the context deadline.
func (s *ShellRunner) Run(ctx context.Context, c Command) Result {
	start := time.Now()

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	// New process group so the whole tree can be killed together.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			// Failed to start, or killed by signal.
			exitCode = -1
		}
	}

	if ctx.Err() == context.DeadlineExceeded && exitCode == 0 {
		exitCode = -1
	}

	return Result{
		ExitCode: exitCode,
		Stage:    StageExecute,
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: duration,
		Error:    err,
	}
}
