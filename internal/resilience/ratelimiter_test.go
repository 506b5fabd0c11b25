package resilience

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestRateLimiterAdmitsUpToMax(t *testing.T) {
	rl := NewRateLimiter(5, time.Second)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := rl.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("first max_requests acquires took %v, expected no delay", elapsed)
	}
}

func TestRateLimiterDelaysExcessCallNeverDrops(t *testing.T) {
	window := 100 * time.Millisecond
	rl := NewRateLimiter(3, window)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := rl.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}

	// The max_requests+1'th call must be delayed until the oldest
	// timestamp exits the window, not rejected.
	start := time.Now()
	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("delayed acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < window/2 {
		t.Fatalf("excess call admitted after %v, expected a delay near %v", elapsed, window)
	}
}

func TestRateLimiterNeverExceedsMaxInWindow(t *testing.T) {
	window := 80 * time.Millisecond
	max := 4
	rl := NewRateLimiter(max, window)
	ctx := context.Background()

	var mu sync.Mutex
	var admitted []time.Time

	var wg sync.WaitGroup
	for i := 0; i < 3*max; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rl.Acquire(ctx); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			admitted = append(admitted, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(admitted) != 3*max {
		t.Fatalf("admitted %d calls, want %d (no call may be dropped)", len(admitted), 3*max)
	}

	// No rolling window may contain more than max admissions. A small
	// tolerance absorbs scheduling skew between admission and recording.
	tolerance := 5 * time.Millisecond
	for i := range admitted {
		count := 0
		for j := range admitted {
			d := admitted[j].Sub(admitted[i])
			if d >= 0 && d < window-tolerance {
				count++
			}
		}
		if count > max {
			t.Fatalf("window starting at admission %d holds %d calls, max %d", i, count, max)
		}
	}
}

func TestRateLimiterAcquireHonorsContext(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	ctx := context.Background()

	if err := rl.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	if err := rl.Acquire(cctx); err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(2, time.Hour)

	if !rl.Allow() || !rl.Allow() {
		t.Fatal("first two calls should be allowed")
	}
	if rl.Allow() {
		t.Fatal("third call inside window should not be allowed")
	}
	if got := rl.InFlight(); got != 2 {
		t.Fatalf("InFlight = %d, want 2", got)
	}
}

func BenchmarkRateLimiterAllow(b *testing.B) {
	rl := NewRateLimiter(1<<30, time.Second)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rl.Allow()
	}
}
