package ingest

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"oanda-trader/internal/models"
	"oanda-trader/internal/resilience"
)

// PriceSource is the push-based price capability consumed from the venue.
// A returned channel closes when the underlying connection drops; the
// stream owns reconnection.
type PriceSource interface {
	StreamPrices(ctx context.Context, symbols []string) (<-chan models.PriceUpdate, error)
}

// TransactionSource is the push-based fill/close event capability.
type TransactionSource interface {
	StreamTransactions(ctx context.Context) (<-chan models.Transaction, error)
}

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = 60 * time.Second
	reconnectFactor       = 2.0

	historyCapacity = 512
)

// PriceStream maintains a reconnecting push subscription for a set of
// instruments, publishes normalized updates to subscribers, keeps the
// latest-price cache warm, and accumulates per-symbol return history for
// the correlation and volatility calculations.
type PriceStream struct {
	source  PriceSource
	symbols []string
	cache   *Cache
	logger  zerolog.Logger

	connected atomic.Bool

	mu          sync.RWMutex
	subscribers map[int]chan models.PriceUpdate
	nextSubID   int
	history     map[string][]float64 // mid prices, capped at historyCapacity
}

// NewPriceStream creates a price stream for the given instrument set.
func NewPriceStream(source PriceSource, symbols []string, cache *Cache, logger zerolog.Logger) *PriceStream {
	return &PriceStream{
		source:      source,
		symbols:     symbols,
		cache:       cache,
		subscribers: make(map[int]chan models.PriceUpdate),
		history:     make(map[string][]float64),
		logger:      logger.With().Str("component", "ingest.pricestream").Logger(),
	}
}

// Run consumes the push subscription until ctx is done, reconnecting with
// exponential backoff (1s doubling to 60s, reset after any successful
// connection). It never returns a connection error to the caller; failures
// are logged and retried.
func (s *PriceStream) Run(ctx context.Context) {
	delay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := s.source.StreamPrices(ctx, s.symbols)
		if err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("price stream connect failed")
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = resilience.NextDelay(delay, maxReconnectDelay, reconnectFactor)
			continue
		}

		s.connected.Store(true)
		s.logger.Info().Strs("symbols", s.symbols).Msg("price stream connected")
		delay = initialReconnectDelay

		for update := range updates {
			s.handle(update)
		}

		s.connected.Store(false)
		s.cache.Prune()
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Dur("retry_in", delay).Msg("price stream disconnected")
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = resilience.NextDelay(delay, maxReconnectDelay, reconnectFactor)
	}
}

func (s *PriceStream) handle(update models.PriceUpdate) {
	if update.Symbol == "" || update.Bid <= 0 || update.Ask <= 0 {
		s.logger.Debug().Str("symbol", update.Symbol).Msg("dropping malformed price update")
		return
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}

	s.cache.SetPrice(update)

	s.mu.Lock()
	h := append(s.history[update.Symbol], update.Mid())
	if len(h) > historyCapacity {
		h = h[len(h)-historyCapacity:]
	}
	s.history[update.Symbol] = h

	for id, ch := range s.subscribers {
		select {
		case ch <- update:
		default:
			// Slow consumer: drop rather than stall the stream task.
			s.logger.Debug().Int("subscriber", id).Msg("dropping update for slow subscriber")
		}
	}
	s.mu.Unlock()
}

// Subscribe registers a subscriber channel. The returned cancel function
// unregisters it and closes the channel.
func (s *PriceStream) Subscribe(buffer int) (<-chan models.PriceUpdate, func()) {
	ch := make(chan models.PriceUpdate, buffer)

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Connected reports whether the push subscription is currently up.
func (s *PriceStream) Connected() bool {
	return s.connected.Load()
}

// LatestPrice returns the latest unexpired price for symbol.
func (s *PriceStream) LatestPrice(symbol string) (models.PriceUpdate, bool) {
	return s.cache.Price(symbol)
}

// Returns yields the log-return series accumulated for symbol.
func (s *PriceStream) Returns(symbol string) []float64 {
	s.mu.RLock()
	prices := s.history[symbol]
	out := make([]float64, 0, len(prices))
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 && prices[i] > 0 {
			out = append(out, math.Log(prices[i]/prices[i-1]))
		}
	}
	s.mu.RUnlock()
	return out
}

// Symbols returns the monitored instrument set.
func (s *PriceStream) Symbols() []string {
	return s.symbols
}

// TransactionStream maintains a reconnecting subscription to venue
// fill/close events and forwards them to a handler. The handler only
// updates shared state; it never makes trading decisions.
type TransactionStream struct {
	source    TransactionSource
	handler   func(models.Transaction)
	logger    zerolog.Logger
	connected atomic.Bool
}

// NewTransactionStream creates a transaction stream.
func NewTransactionStream(source TransactionSource, handler func(models.Transaction), logger zerolog.Logger) *TransactionStream {
	return &TransactionStream{
		source:  source,
		handler: handler,
		logger:  logger.With().Str("component", "ingest.txstream").Logger(),
	}
}

// Run consumes the subscription until ctx is done, with the same backoff
// policy as the price stream.
func (s *TransactionStream) Run(ctx context.Context) {
	delay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			return
		}

		events, err := s.source.StreamTransactions(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("transaction stream connect failed")
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = resilience.NextDelay(delay, maxReconnectDelay, reconnectFactor)
			continue
		}

		s.connected.Store(true)
		delay = initialReconnectDelay

		for event := range events {
			s.handler(event)
		}

		s.connected.Store(false)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Dur("retry_in", delay).Msg("transaction stream disconnected")
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = resilience.NextDelay(delay, maxReconnectDelay, reconnectFactor)
	}
}

// Connected reports whether the subscription is currently up.
func (s *TransactionStream) Connected() bool {
	return s.connected.Load()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
