package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "oanda-trader/internal/errors"
	"oanda-trader/internal/resilience"
)

// FetcherConfig holds fetch-path configuration.
type FetcherConfig struct {
	CacheTTL          time.Duration
	RateLimitRequests int
	RateLimitWindow   time.Duration
	BreakerThreshold  int
	BreakerTimeout    time.Duration
	FetchTimeout      time.Duration
}

// DefaultFetcherConfig returns production defaults.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		CacheTTL:          30 * time.Second,
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		BreakerThreshold:  5,
		BreakerTimeout:    60 * time.Second,
		FetchTimeout:      10 * time.Second,
	}
}

// Fetcher serves pull-based fetches gated by a per-source circuit breaker
// and rate limiter, consulting the TTL cache first. Failures are returned
// as explicit error values; they never abort the caller's loop.
type Fetcher struct {
	config   FetcherConfig
	cache    *Cache
	breakers *resilience.CircuitBreakerRegistry
	client   *http.Client
	logger   zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*resilience.RateLimiter
}

// NewFetcher creates a resilient fetcher.
func NewFetcher(config FetcherConfig, cache *Cache, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		config: config,
		cache:  cache,
		breakers: resilience.NewCircuitBreakerRegistry(resilience.CircuitBreakerConfig{
			FailureThreshold: config.BreakerThreshold,
			RecoveryTimeout:  config.BreakerTimeout,
		}),
		client:   &http.Client{Timeout: config.FetchTimeout},
		limiters: make(map[string]*resilience.RateLimiter),
		logger:   logger.With().Str("component", "ingest.fetcher").Logger(),
	}
}

// Fetch retrieves rawURL for the named source. A cache hit bypasses the
// resilience primitives; a miss goes limiter -> breaker -> HTTP, and a
// successful response populates the cache.
func (f *Fetcher) Fetch(ctx context.Context, source, rawURL string, params map[string]string) (json.RawMessage, error) {
	key := cacheKey(source, rawURL, params)
	if v, ok := f.cache.Get(key); ok {
		if data, ok := v.(json.RawMessage); ok {
			f.logger.Debug().Str("source", source).Msg("cache hit")
			return data, nil
		}
	}

	if err := f.limiter(source).Acquire(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait for %s: %w", source, err)
	}

	cb := f.breakers.Get(source)
	data, err := resilience.ExecuteWithResult(cb, ctx, func() (json.RawMessage, error) {
		return f.get(ctx, rawURL, params)
	})
	if err != nil {
		f.logger.Warn().Err(err).Str("source", source).Str("url", rawURL).Msg("fetch failed")
		return nil, err
	}

	f.cache.SetWithTTL(key, data, f.config.CacheTTL)
	return data, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string, params map[string]string) (json.RawMessage, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, f.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apperrors.NewVenueError("fetch", resp.StatusCode, strings.TrimSpace(string(body)), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return json.RawMessage(body), nil
}

func (f *Fetcher) limiter(source string) *resilience.RateLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	rl, ok := f.limiters[source]
	if !ok {
		rl = resilience.NewRateLimiter(f.config.RateLimitRequests, f.config.RateLimitWindow)
		f.limiters[source] = rl
	}
	return rl
}

// BreakerStates returns the breaker state per source for the health surface.
func (f *Fetcher) BreakerStates() map[string]resilience.CircuitState {
	states := make(map[string]resilience.CircuitState)
	for _, s := range f.breakers.AllStats() {
		states[s.Name] = s.State
	}
	return states
}

// ResetBreakers resets all source breakers. Operator use only.
func (f *Fetcher) ResetBreakers() {
	f.breakers.ResetAll()
}

func cacheKey(source, rawURL string, params map[string]string) string {
	if len(params) == 0 {
		return source + ":" + rawURL
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(source)
	b.WriteByte(':')
	b.WriteString(rawURL)
	for _, k := range keys {
		b.WriteByte('&')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}
