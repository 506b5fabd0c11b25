package venue

import (
	"context"
	"math/rand"
	"strings"
	"time"
)

// seedPrice returns a plausible starting mark for a symbol so the random
// walk begins near real market levels.
func seedPrice(symbol string) float64 {
	if strings.HasSuffix(symbol, "_JPY") {
		return 150.0
	}
	return 1.1000
}

// SyntheticFeed drives a PaperVenue with a bounded random walk. Paper mode
// without venue credentials has no upstream price stream, so the feed
// supplies ticks to trade against.
type SyntheticFeed struct {
	venue    *PaperVenue
	symbols  []string
	interval time.Duration
	rng      *rand.Rand
	prices   map[string]float64
}

// NewSyntheticFeed creates a feed for the given symbols ticking at interval.
func NewSyntheticFeed(v *PaperVenue, symbols []string, interval time.Duration) *SyntheticFeed {
	if interval <= 0 {
		interval = time.Second
	}
	prices := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		prices[s] = seedPrice(s)
	}
	return &SyntheticFeed{
		venue:    v,
		symbols:  symbols,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		prices:   prices,
	}
}

// Run publishes ticks until ctx is cancelled. Each tick moves every symbol
// by a small random step, at most a few pips per interval.
func (f *SyntheticFeed) Run(ctx context.Context) {
	f.tick()
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick()
		}
	}
}

func (f *SyntheticFeed) tick() {
	for _, s := range f.symbols {
		step := 1 + (f.rng.Float64()-0.5)*0.0004
		next := f.prices[s] * step
		f.prices[s] = next
		f.venue.SetPrice(s, next)
	}
}
