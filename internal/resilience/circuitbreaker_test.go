package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "oanda-trader/internal/errors"
)

var errBoom = errors.New("boom")

func failingBreaker(t *testing.T, threshold int, timeout time.Duration) *CircuitBreaker {
	t.Helper()
	return NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: threshold,
		RecoveryTimeout:  timeout,
	})
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := failingBreaker(t, 3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if got := cb.State(); got != CircuitClosed {
			t.Fatalf("before failure %d: state = %s, want CLOSED", i, got)
		}
		if err := cb.Execute(ctx, func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("failure %d: err = %v, want errBoom", i, err)
		}
	}

	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("after threshold failures: state = %s, want OPEN", got)
	}
}

func TestCircuitBreakerRejectsWithoutInvoking(t *testing.T) {
	cb := failingBreaker(t, 1, time.Hour)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBoom })
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("state = %s, want OPEN", got)
	}

	invoked := false
	err := cb.Execute(ctx, func() error {
		invoked = true
		return nil
	})
	if !errors.Is(err, apperrors.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if invoked {
		t.Fatal("wrapped function was invoked while breaker open")
	}
}

func TestCircuitBreakerHalfOpenTrialSuccessCloses(t *testing.T) {
	cb := failingBreaker(t, 1, 20*time.Millisecond)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBoom })
	time.Sleep(30 * time.Millisecond)

	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("trial call: err = %v, want nil", err)
	}
	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("after successful trial: state = %s, want CLOSED", got)
	}
}

func TestCircuitBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	cb := failingBreaker(t, 1, 20*time.Millisecond)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBoom })
	time.Sleep(30 * time.Millisecond)

	if err := cb.Execute(ctx, func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("trial call: err = %v, want errBoom", err)
	}
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("after failed trial: state = %s, want OPEN", got)
	}

	// Timeout restarted: the immediate next call is rejected fast.
	err := cb.Execute(ctx, func() error { return nil })
	if !errors.Is(err, apperrors.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreakerHalfOpenAdmitsSingleTrial(t *testing.T) {
	cb := failingBreaker(t, 1, 10*time.Millisecond)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBoom })
	time.Sleep(20 * time.Millisecond)

	// First caller takes the trial slot; a concurrent second caller must
	// be rejected while the probe is in flight.
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	if err := cb.Execute(ctx, func() error { return nil }); !errors.Is(err, apperrors.ErrCircuitOpen) {
		t.Fatalf("second caller during probe: err = %v, want ErrCircuitOpen", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: err = %v, want nil", err)
	}
	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("state = %s, want CLOSED", got)
	}
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := failingBreaker(t, 3, time.Hour)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errBoom })
	_ = cb.Execute(ctx, func() error { return errBoom })
	_ = cb.Execute(ctx, func() error { return nil })
	_ = cb.Execute(ctx, func() error { return errBoom })
	_ = cb.Execute(ctx, func() error { return errBoom })

	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("state = %s, want CLOSED (failure count should reset on success)", got)
	}
}

func TestCircuitBreakerContextCancelledCountsAsFailure(t *testing.T) {
	cb := failingBreaker(t, 1, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("state = %s, want OPEN (timeout counts as failure)", got)
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb := failingBreaker(t, 2, time.Hour)
	ctx := context.Background()

	v, err := ExecuteWithResult(cb, ctx, func() (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Fatalf("got (%d, %v), want (42, nil)", v, err)
	}

	_, err = ExecuteWithResult(cb, ctx, func() (int, error) { return 0, errBoom })
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
}
