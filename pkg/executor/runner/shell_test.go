package runner_test

import (
	"context"
	"testing"
	"time"

	"trendharvest/pkg/executor/runner"
)

func TestShellRunner_ExitCodeZero(t *testing.T) {
	r := runner.NewShellRunner()

	res := r.Run(context.Background(), runner.Command{Name: "sh", Args: []string{"-c", "true"}})
	if res.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", res.ExitCode)
	}
	if !res.OK() {
		t.Error("expected result to be OK")
	}
}

func TestShellRunner_ExitCodePropagatedVerbatim(t *testing.T) {
	r := runner.NewShellRunner()

	res := r.Run(context.Background(), runner.Command{Name: "sh", Args: []string{"-c", "exit 42"}})
	if res.ExitCode != 42 {
		t.Errorf("expected exit code 42, got %d", res.ExitCode)
	}
	if res.OK() {
		t.Error("expected result to be a failure")
	}
}

func TestShellRunner_CapturesOutput(t *testing.T) {
	r := runner.NewShellRunner()

	res := r.Run(context.Background(), runner.Command{
		Name: "sh",
		Args: []string{"-c", "echo out; echo err >&2"},
	})
	if res.Stdout != "out\n" {
		t.Errorf("unexpected stdout %q", res.Stdout)
	}
	if res.Stderr != "err\n" {
		t.Errorf("unexpected stderr %q", res.Stderr)
	}
}

func TestShellRunner_InjectsEnv(t *testing.T) {
	r := runner.NewShellRunner()

	res := r.Run(context.Background(), runner.Command{
		Name: "sh",
		Args: []string{"-c", "printf '%s' \"$HARVEST_SECRET\""},
		Env:  []string{"HARVEST_SECRET=s3cr3t"},
	})
	if res.Stdout != "s3cr3t" {
		t.Errorf("expected injected env value, got %q", res.Stdout)
	}
}

func TestShellRunner_StartFailure(t *testing.T) {
	r := runner.NewShellRunner()

	res := r.Run(context.Background(), runner.Command{Name: "definitely-not-a-binary-xyz"})
	if res.ExitCode != -1 {
		t.Errorf("expected exit code -1 for start failure, got %d", res.ExitCode)
	}
	if res.Error == nil {
		t.Error("expected an error for start failure")
	}
}

func TestShellRunner_ContextDeadline(t *testing.T) {
	r := runner.NewShellRunner()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := r.Run(ctx, runner.Command{Name: "sh", Args: []string{"-c", "sleep 5"}})
	if res.ExitCode == 0 {
		t.Error("expected non-zero exit code after deadline")
	}
}
