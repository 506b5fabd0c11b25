package risk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func TestEmergencyStopTriggersOnce(t *testing.T) {
	var calls int32
	stop := NewEmergencyStop(func(ctx context.Context, reason string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, zerolog.Nop())

	if !stop.Trigger(context.Background(), "drawdown") {
		t.Fatal("first trigger rejected")
	}
	if stop.Trigger(context.Background(), "again") {
		t.Fatal("second trigger admitted")
	}
	if calls != 1 {
		t.Fatalf("close-all ran %d times, want 1", calls)
	}

	active, reason, at := stop.Status()
	if !active || reason != "drawdown" || at.IsZero() {
		t.Fatalf("status = (%v, %q, %v), want active with first reason", active, reason, at)
	}
}

func TestEmergencyStopConcurrentTriggerSingleWinner(t *testing.T) {
	var calls int32
	stop := NewEmergencyStop(func(ctx context.Context, reason string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, zerolog.Nop())

	const n = 50
	var winners int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if stop.Trigger(context.Background(), "race") {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
	if calls != 1 {
		t.Fatalf("close-all ran %d times, want exactly 1", calls)
	}
}

func TestEmergencyStopLatchesDespiteCloseFailure(t *testing.T) {
	stop := NewEmergencyStop(func(ctx context.Context, reason string) error {
		return errors.New("venue unavailable")
	}, zerolog.Nop())

	if !stop.Trigger(context.Background(), "drawdown") {
		t.Fatal("trigger rejected")
	}
	if !stop.Triggered() {
		t.Fatal("latch cleared by a close-all failure")
	}
}

func TestEmergencyStopReset(t *testing.T) {
	stop := NewEmergencyStop(nil, zerolog.Nop())
	stop.Trigger(context.Background(), "drawdown")
	stop.Reset()

	if stop.Triggered() {
		t.Fatal("latch still set after reset")
	}
	// After the operator reset a new breach can trigger again.
	if !stop.Trigger(context.Background(), "second breach") {
		t.Fatal("trigger rejected after reset")
	}
}
