package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "oanda-trader/internal/errors"
	"oanda-trader/internal/resilience"
)

func testFetcher(t *testing.T, cfg FetcherConfig) *Fetcher {
	t.Helper()
	if cfg.FetchTimeout == 0 {
		cfg = DefaultFetcherConfig()
	}
	return NewFetcher(cfg, NewCache(cfg.CacheTTL), zerolog.Nop())
}

func TestFetchPopulatesAndServesCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"price":1.085}`))
	}))
	defer srv.Close()

	f := testFetcher(t, FetcherConfig{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		data, err := f.Fetch(ctx, "oanda", srv.URL, map[string]string{"symbol": "EUR_USD"})
		if err != nil {
			t.Fatalf("fetch %d: %v", i, err)
		}
		if string(data) != `{"price":1.085}` {
			t.Fatalf("fetch %d: body = %s", i, data)
		}
	}

	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("upstream hit %d times, want 1 (cache must serve repeats)", got)
	}
}

func TestFetchNon2xxReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := testFetcher(t, FetcherConfig{})

	_, err := f.Fetch(context.Background(), "polygon", srv.URL, nil)
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	var verr *apperrors.VenueError
	if !errors.As(err, &verr) || verr.StatusCode != http.StatusBadGateway {
		t.Fatalf("err = %v, want VenueError with status 502", err)
	}
}

func TestFetchBreakerOpensAndFailsFast(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultFetcherConfig()
	cfg.BreakerThreshold = 3
	cfg.BreakerTimeout = time.Hour
	f := NewFetcher(cfg, NewCache(cfg.CacheTTL), zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.Fetch(ctx, "oanda", srv.URL, nil); err == nil {
			t.Fatalf("fetch %d: expected error", i)
		}
	}

	if got := f.BreakerStates()["oanda"]; got != resilience.CircuitOpen {
		t.Fatalf("breaker state = %s, want OPEN", got)
	}

	before := atomic.LoadInt32(&hits)
	if _, err := f.Fetch(ctx, "oanda", srv.URL, nil); !errors.Is(err, apperrors.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if atomic.LoadInt32(&hits) != before {
		t.Fatal("open breaker must fail fast without calling upstream")
	}
}

func TestFetchBreakersIsolatedPerSource(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer good.Close()

	cfg := DefaultFetcherConfig()
	cfg.BreakerThreshold = 1
	cfg.BreakerTimeout = time.Hour
	f := NewFetcher(cfg, NewCache(cfg.CacheTTL), zerolog.Nop())
	ctx := context.Background()

	if _, err := f.Fetch(ctx, "oanda", bad.URL, nil); err == nil {
		t.Fatal("expected failure from bad source")
	}
	if _, err := f.Fetch(ctx, "twelve_data", good.URL, nil); err != nil {
		t.Fatalf("healthy source must be unaffected: %v", err)
	}

	states := f.BreakerStates()
	if states["oanda"] != resilience.CircuitOpen {
		t.Fatalf("oanda breaker = %s, want OPEN", states["oanda"])
	}
	if states["twelve_data"] != resilience.CircuitClosed {
		t.Fatalf("twelve_data breaker = %s, want CLOSED", states["twelve_data"])
	}
}
