package middleware

import (
	"strings"
	"testing"
)

func TestValidator_JobTypes(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	for _, jobType := range []string{"SHELL", "SCRIPT", "HARVEST"} {
		if err := v.ValidateJobType(jobType); err != nil {
			t.Errorf("expected %s to be allowed: %v", jobType, err)
		}
	}

	for _, jobType := range []string{"DOCKER", "shell", ""} {
		if err := v.ValidateJobType(jobType); err == nil {
			t.Errorf("expected %q to be rejected", jobType)
		}
	}
}

func TestValidator_DangerousCommands(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	if err := v.ValidateCommand("python3 fetch_and_store_perplexity.py"); err != nil {
		t.Errorf("safe command rejected: %v", err)
	}

	for _, cmd := range []string{"rm -rf /", "dd if=/dev/zero of=/dev/sda"} {
		if err := v.ValidateCommand(cmd); err == nil {
			t.Errorf("dangerous command %q accepted", cmd)
		}
	}
}

func TestValidator_CommandLength(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	if err := v.ValidateCommand(strings.Repeat("a", 5000)); err == nil {
		t.Error("expected oversized command to be rejected")
	}
}

func TestValidator_Name(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	if err := v.ValidateName(""); err == nil {
		t.Error("expected empty name to be rejected")
	}
	if err := v.ValidateName(strings.Repeat("x", 300)); err == nil {
		t.Error("expected oversized name to be rejected")
	}
	if err := v.ValidateName("daily-diy-harvest"); err != nil {
		t.Errorf("valid name rejected: %v", err)
	}
}
