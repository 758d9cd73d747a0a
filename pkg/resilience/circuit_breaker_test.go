package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"trendharvest/pkg/resilience"
)

func config(failures int, timeout time.Duration) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		FailureThreshold: failures,
		SuccessThreshold: 1,
		Timeout:          timeout,
		MaxRequests:      2,
	}
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test", resilience.DefaultCircuitBreakerConfig())

	if cb.State() != resilience.CircuitClosed {
		t.Errorf("expected initial state closed, got %v", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test", config(3, time.Second))

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error {
			return errors.New("upstream down")
		})
	}

	if cb.State() != resilience.CircuitOpen {
		t.Errorf("expected open after 3 failures, got %v", cb.State())
	}
}

func TestCircuitBreaker_RejectsWhenOpen(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test", config(1, time.Second))

	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})

	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("function must not run while circuit is open")
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test", config(1, 40*time.Millisecond))

	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	time.Sleep(50 * time.Millisecond)

	if cb.State() != resilience.CircuitHalfOpen {
		t.Errorf("expected half-open after timeout, got %v", cb.State())
	}
}

func TestCircuitBreaker_ClosesAfterProbeSuccess(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test", config(1, 40*time.Millisecond))

	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	time.Sleep(50 * time.Millisecond)

	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("probe should have been allowed: %v", err)
	}
	if cb.State() != resilience.CircuitClosed {
		t.Errorf("expected closed after probe success, got %v", cb.State())
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test", config(1, 40*time.Millisecond))

	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	time.Sleep(50 * time.Millisecond)

	_ = cb.Execute(context.Background(), func() error { return errors.New("still down") })

	if cb.State() != resilience.CircuitOpen {
		t.Errorf("expected reopened circuit, got %v", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test", config(1, time.Second))

	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	cb.Reset()

	if cb.State() != resilience.CircuitClosed {
		t.Errorf("expected closed after reset, got %v", cb.State())
	}
}
