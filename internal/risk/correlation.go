package risk

import (
	"math"
	"sync"
	"time"
)

// minCorrelationSamples is the minimum overlapping return count before a
// pairwise correlation is trusted. Below it the pair is treated as
// uncorrelated.
const minCorrelationSamples = 20

// ReturnSource supplies recent log returns per symbol, most recent last.
type ReturnSource interface {
	Returns(symbol string) []float64
}

// CorrelationTracker maintains a pairwise correlation matrix over the traded
// symbols, refreshed on a slower cadence than the trading cycle.
type CorrelationTracker struct {
	source   ReturnSource
	symbols  []string
	interval time.Duration

	mu          sync.RWMutex
	matrix      map[string]map[string]float64
	lastRefresh time.Time
	now         func() time.Time
}

// NewCorrelationTracker creates a tracker refreshing at most once per interval.
func NewCorrelationTracker(source ReturnSource, symbols []string, interval time.Duration) *CorrelationTracker {
	return &CorrelationTracker{
		source:   source,
		symbols:  symbols,
		interval: interval,
		matrix:   make(map[string]map[string]float64),
		now:      time.Now,
	}
}

// MaybeRefresh recomputes the matrix if the refresh interval has elapsed.
// Returns true when a refresh ran.
func (c *CorrelationTracker) MaybeRefresh() bool {
	c.mu.RLock()
	due := c.lastRefresh.IsZero() || c.now().Sub(c.lastRefresh) >= c.interval
	c.mu.RUnlock()
	if !due {
		return false
	}
	c.Refresh()
	return true
}

// Refresh recomputes every pairwise correlation from the return source.
func (c *CorrelationTracker) Refresh() {
	returns := make(map[string][]float64, len(c.symbols))
	for _, sym := range c.symbols {
		returns[sym] = c.source.Returns(sym)
	}

	matrix := make(map[string]map[string]float64, len(c.symbols))
	for i, a := range c.symbols {
		matrix[a] = map[string]float64{a: 1}
		for j := 0; j < i; j++ {
			b := c.symbols[j]
			r := pearson(returns[a], returns[b])
			matrix[a][b] = r
			matrix[b][a] = r
		}
	}

	c.mu.Lock()
	c.matrix = matrix
	c.lastRefresh = c.now()
	c.mu.Unlock()
}

// Correlation returns the last computed correlation between two symbols.
// Unknown pairs report zero.
func (c *CorrelationTracker) Correlation(a, b string) float64 {
	if a == b {
		return 1
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if row, ok := c.matrix[a]; ok {
		return row[b]
	}
	return 0
}

// MaxAgainst returns the highest absolute correlation between candidate and
// any of the given symbols.
func (c *CorrelationTracker) MaxAgainst(candidate string, symbols []string) (float64, string) {
	var maxAbs float64
	var against string
	for _, s := range symbols {
		if s == candidate {
			continue
		}
		r := math.Abs(c.Correlation(candidate, s))
		if r > maxAbs {
			maxAbs = r
			against = s
		}
	}
	return maxAbs, against
}

// pearson computes the Pearson correlation over the overlapping tail of two
// return series. Short or constant series yield zero.
func pearson(xs, ys []float64) float64 {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	if n < minCorrelationSamples {
		return 0
	}
	xs = xs[len(xs)-n:]
	ys = ys[len(ys)-n:]

	var sumX, sumY float64
	for i := 0; i < n; i++ {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)

	var cov, varX, varY float64
	for i := 0; i < n; i++ {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}
