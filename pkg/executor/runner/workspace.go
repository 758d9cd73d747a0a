package runner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// WorkspaceSpec describes what a script job needs before it can run:
// a clean checkout, a pinned runtime and its dependencies.
type WorkspaceSpec struct {
	RepoURL      string
	Ref          string
	Runtime      string // e.g. "python3"
	Version      string // e.g. "3.11"; checked against `<runtime> --version`
	Dependencies []string
}

// WorkspaceRunner runs a script job as a fixed sequence of stages:
// checkout, provision, install, execute. A failing stage aborts the
// run; the script never executes if its dependencies did not install.
type WorkspaceRunner struct {
	shell   JobRunner
	baseDir string
}

func NewWorkspaceRunner() *WorkspaceRunner {
	return &WorkspaceRunner{
		shell:   NewShellRunner(),
		baseDir: os.TempDir(),
	}
}

// NewWorkspaceRunnerWith allows injecting the step runner and base
// directory, used by tests.
func NewWorkspaceRunnerWith(shell JobRunner, baseDir string) *WorkspaceRunner {
	return &WorkspaceRunner{shell: shell, baseDir: baseDir}
}

// Execute provisions a workspace per spec and runs command inside it
// with secretEnv appended to the child environment. The returned
// Result carries the stage that finished last; for StageExecute the
// exit code is the script's own, unmodified.
func (w *WorkspaceRunner) Execute(ctx context.Context, spec WorkspaceSpec, command string, secretEnv []string) Result {
	start := time.Now()

	dir, err := os.MkdirTemp(w.baseDir, "harvest-ws-")
	if err != nil {
		return Result{
			ExitCode: -1,
			Stage:    StageCheckout,
			Duration: time.Since(start),
			Error:    fmt.Errorf("failed to create workspace: %w", err),
		}
	}
	defer os.RemoveAll(dir)

	// 1. Checkout: materialize a clean working copy.
	if spec.RepoURL != "" {
		if res := w.checkout(ctx, spec, dir); !res.OK() {
			return res
		}
	}

	// 2. Provision: verify the pinned runtime is available.
	if spec.Runtime != "" {
		if res := w.provision(ctx, spec, dir); !res.OK() {
			return res
		}
	}

	// 3. Install: add declared dependencies to the runtime's package set.
	if len(spec.Dependencies) > 0 {
		if res := w.install(ctx, spec, dir); !res.OK() {
			return res
		}
	}

	// 4. Execute: run the script with secrets in its environment.
	res := w.shell.Run(ctx, Command{
		Name: "sh",
		Args: []string{"-c", command},
		Dir:  dir,
		Env:  secretEnv,
	})
	res.Stage = StageExecute
	res.Duration = time.Since(start)
	return res
}

func (w *WorkspaceRunner) checkout(ctx context.Context, spec WorkspaceSpec, dir string) Result {
	args := []string{"clone", "--depth", "1"}
	if spec.Ref != "" {
		args = append(args, "--branch", spec.Ref)
	}
	args = append(args, spec.RepoURL, dir)

	res := w.shell.Run(ctx, Command{Name: "git", Args: args})
	res.Stage = StageCheckout
	if !res.OK() && res.Error == nil {
		res.Error = fmt.Errorf("checkout of %s failed", spec.RepoURL)
	}
	return res
}

func (w *WorkspaceRunner) provision(ctx context.Context, spec WorkspaceSpec, dir string) Result {
	res := w.shell.Run(ctx, Command{Name: spec.Runtime, Args: []string{"--version"}, Dir: dir})
	res.Stage = StageProvision
	if !res.OK() {
		if res.Error == nil {
			res.Error = fmt.Errorf("runtime %s unavailable", spec.Runtime)
		}
		return res
	}

	if spec.Version != "" {
		reported := res.Stdout + res.Stderr
		if !strings.Contains(reported, spec.Version) {
			res.ExitCode = -1
			res.Error = fmt.Errorf("runtime %s version mismatch: want %s, got %s",
				spec.Runtime, spec.Version, strings.TrimSpace(reported))
		}
	}
	return res
}

func (w *WorkspaceRunner) install(ctx context.Context, spec WorkspaceSpec, dir string) Result {
	name, args, err := installCommand(spec)
	if err != nil {
		return Result{ExitCode: -1, Stage: StageInstall, Error: err}
	}

	res := w.shell.Run(ctx, Command{Name: name, Args: args, Dir: dir})
	res.Stage = StageInstall
	if !res.OK() && res.Error == nil {
		res.Error = fmt.Errorf("dependency install failed")
	}
	return res
}

// installCommand maps a runtime to its package installer.
func installCommand(spec WorkspaceSpec) (string, []string, error) {
	switch {
	case strings.HasPrefix(spec.Runtime, "python"):
		args := append([]string{"-m", "pip", "install", "--quiet"}, spec.Dependencies...)
		return spec.Runtime, args, nil
	case spec.Runtime == "node":
		args := append([]string{"install", "--no-save"}, spec.Dependencies...)
		return "npm", args, nil
	default:
		return "", nil, fmt.Errorf("no installer known for runtime %q", spec.Runtime)
	}
}
