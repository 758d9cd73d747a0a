package runner

import (
	"context"
	"time"
)

// Stage identifies the step of a run that produced a result. A job
// fails at exactly one stage; later stages never execute.
type Stage string

const (
	StageCheckout  Stage = "checkout"
	StageProvision Stage = "provision"
	StageInstall   Stage = "install"
	StageExecute   Stage = "execute"
)

// Result captures the outcome of a job run. For StageExecute failures
// ExitCode is the child process exit status, unmodified.
type Result struct {
	ExitCode int
	Stage    Stage
	Stdout   string
	Stderr   string
	Duration time.Duration
	Error    error
}

// OK reports whether the run succeeded.
func (r Result) OK() bool {
	return r.ExitCode == 0 && r.Error == nil
}

// Command describes a single child process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env is appended to the parent environment. Secret bindings are
	// injected here and nowhere else.
	Env []string
}

// JobRunner executes a single command to completion.
type JobRunner interface {
	Run(ctx context.Context, cmd Command) Result
}
