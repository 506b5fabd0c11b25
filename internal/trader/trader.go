// Package trader wires the ingestion, risk and venue layers into the
// unattended control loop.
package trader

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"oanda-trader/internal/advisory"
	"oanda-trader/internal/config"
	apperrors "oanda-trader/internal/errors"
	"oanda-trader/internal/ingest"
	"oanda-trader/internal/logging"
	"oanda-trader/internal/models"
	"oanda-trader/internal/notify"
	"oanda-trader/internal/resilience"
	"oanda-trader/internal/risk"
	"oanda-trader/internal/store"
	"oanda-trader/internal/venue"
)

// shutdownTimeout bounds the close-all pass during shutdown.
const shutdownTimeout = 30 * time.Second

// Trader is the autonomous trading agent. It owns the control loop and every
// layer below it.
type Trader struct {
	cfg          *config.Config
	venue        venue.Venue
	advisor      advisory.Advisor
	tracker      *risk.PositionTracker
	engine       *risk.Engine
	stop         *risk.EmergencyStop
	correlations *risk.CorrelationTracker
	stream       *ingest.PriceStream
	txStream     *ingest.TransactionStream
	fetcher      *ingest.Fetcher
	sizer        *Sizer
	store        store.DataStore // nil disables persistence
	notifier     notify.Notifier // nil disables notifications
	logger       zerolog.Logger

	cycleMu sync.Mutex // single-flight for the trading cycle
	started time.Time

	accountMu sync.RWMutex
	account   models.AccountSummary
}

// New assembles a trader from its dependencies. The data store is optional.
func New(cfg *config.Config, v venue.Venue, advisor advisory.Advisor, st store.DataStore, logger zerolog.Logger) *Trader {
	cache := ingest.NewCache(cfg.Ingest.CacheTTL)
	stream := ingest.NewPriceStream(v, cfg.Trading.Instruments, cache, logger)
	correlations := risk.NewCorrelationTracker(stream, cfg.Trading.Instruments, cfg.Trading.CorrelationRefresh)
	tracker := risk.NewPositionTracker()

	t := &Trader{
		cfg:          cfg,
		venue:        v,
		advisor:      advisor,
		tracker:      tracker,
		correlations: correlations,
		stream:       stream,
		fetcher:      ingest.NewFetcher(fetcherConfig(cfg.Ingest), cache, logger),
		store:        st,
		logger:       logger.With().Str("component", "trader").Logger(),
	}
	t.stop = risk.NewEmergencyStop(t.closeAll, logger)
	t.engine = risk.NewEngine(cfg.RiskLimits(), tracker, correlations, t.stop, logger)
	t.sizer = NewSizer(cfg.Trading.AccountCurrency, cfg.Risk.MaxRiskPerTrade, stream, logger)
	t.txStream = ingest.NewTransactionStream(v, t.handleTransaction, logger)
	return t
}

// fetcherConfig maps the ingest config onto the fetcher, keeping the
// production defaults for any unset field.
func fetcherConfig(c config.IngestConfig) ingest.FetcherConfig {
	fc := ingest.DefaultFetcherConfig()
	if c.CacheTTL > 0 {
		fc.CacheTTL = c.CacheTTL
	}
	if c.RateLimitRequests > 0 {
		fc.RateLimitRequests = c.RateLimitRequests
	}
	if c.RateLimitWindow > 0 {
		fc.RateLimitWindow = c.RateLimitWindow
	}
	if c.BreakerThreshold > 0 {
		fc.BreakerThreshold = c.BreakerThreshold
	}
	if c.BreakerTimeout > 0 {
		fc.BreakerTimeout = c.BreakerTimeout
	}
	if c.FetchTimeout > 0 {
		fc.FetchTimeout = c.FetchTimeout
	}
	return fc
}

// Engine exposes the risk engine, mainly for status reporting.
func (t *Trader) Engine() *risk.Engine { return t.engine }

// Fetcher exposes the pull-based data path. External data lookups share its
// per-source breakers and rate limiters, which surface in Status.
func (t *Trader) Fetcher() *ingest.Fetcher { return t.fetcher }

// SetNotifier attaches an operator notifier. Must be called before Run.
func (t *Trader) SetNotifier(n notify.Notifier) { t.notifier = n }

func (t *Trader) sendNotification(n notify.Notification) {
	if t.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	t.notifier.Send(ctx, n)
}

// Run starts the streams and the trading cycle and blocks until ctx is
// cancelled. On shutdown every open position is closed.
func (t *Trader) Run(ctx context.Context) error {
	t.started = time.Now()
	t.logger.Info().
		Str("mode", t.cfg.Trading.Mode).
		Strs("instruments", t.cfg.Trading.Instruments).
		Dur("cycle", t.cfg.Trading.CycleInterval).
		Msg("trader starting")

	streamCtx, cancelStreams := context.WithCancel(ctx)
	defer cancelStreams()
	go t.stream.Run(streamCtx)
	go t.txStream.Run(streamCtx)
	go t.feedTracker(streamCtx)

	// Prime equity before the first cycle so the drawdown baseline is real.
	if err := t.refreshAccount(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("initial account refresh failed")
	}
	if err := t.reconcilePositions(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("startup position reconciliation failed")
	}

	ticker := time.NewTicker(t.cfg.Trading.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.shutdown()
			return ctx.Err()
		case <-ticker.C:
			t.runCycle(ctx)
		}
	}
}

// reconcilePositions seeds the tracker with trades already open at the
// venue. After a restart the venue's open-trade list is the source of
// truth; without this pass a position from a previous run would never be
// monitored for exits or closed by the emergency stop.
func (t *Trader) reconcilePositions(ctx context.Context) error {
	open, err := t.venue.GetOpenPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range open {
		if _, ok := t.tracker.Get(p.ID); ok {
			continue
		}
		t.tracker.Open(p)
		t.logger.Info().
			Str("position", p.ID).
			Str("symbol", p.Symbol).
			Str("side", string(p.Side)).
			Float64("units", p.Units).
			Msg("recovered open position from venue")
	}
	return nil
}

// feedTracker marks open positions to market on every price tick.
func (t *Trader) feedTracker(ctx context.Context) {
	updates, unsub := t.stream.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			t.tracker.UpdatePrice(u.Symbol, u.Mid())
		}
	}
}

// handleTransaction reconciles venue-side fills with the tracker. Stop loss
// and take profit orders attached at the venue fill without the trader's
// involvement, so the transaction stream is the source of truth for them.
func (t *Trader) handleTransaction(tx models.Transaction) {
	var reason models.CloseReason
	switch tx.Type {
	case models.TxStopLossFilled:
		reason = models.CloseStopLoss
	case models.TxTakeProfitFilled:
		reason = models.CloseTakeProfit
	case models.TxTradeClose:
		reason = models.CloseManual
	default:
		return
	}

	trade, err := t.tracker.Close(tx.TradeID, tx.Price, reason)
	if err != nil {
		// Already closed locally, nothing to reconcile.
		return
	}
	logging.LogClose(t.logger, trade.ID, trade.Symbol, string(trade.Reason), trade.RealizedPnL)
	t.saveTrade(*trade)
	t.sendNotification(notify.TradeClosed(*trade))
}

// closePosition closes one position at the venue and records the trade.
// A venue that no longer knows the trade is treated as already closed.
func (t *Trader) closePosition(ctx context.Context, p models.Position, reason models.CloseReason) error {
	exitPrice := p.CurrentPrice
	res, err := t.venue.ClosePosition(ctx, p.ID)
	switch {
	case err == nil:
		exitPrice = res.FillPrice
	case apperrors.Is(err, apperrors.ErrPositionClosed):
		// Venue already closed it; fall through and reconcile locally.
	default:
		return err
	}

	trade, err := t.tracker.Close(p.ID, exitPrice, reason)
	if err != nil {
		return nil // already reconciled via the transaction stream
	}
	logging.LogClose(t.logger, trade.ID, trade.Symbol, string(trade.Reason), trade.RealizedPnL)
	t.saveTrade(*trade)
	t.sendNotification(notify.TradeClosed(*trade))
	return nil
}

// closeAll closes every open position. Used by the emergency stop and at
// shutdown. Failures are logged and the remaining positions still attempted.
func (t *Trader) closeAll(ctx context.Context, reasonText string) error {
	reason := models.CloseReason(reasonText)
	switch reason {
	case models.CloseEmergencyStop, models.CloseShutdown:
	default:
		reason = models.CloseEmergencyStop
	}
	if reason == models.CloseEmergencyStop {
		t.sendNotification(notify.EmergencyStopped(reasonText))
	}

	retry := resilience.DefaultRetryWithBackoff()
	var firstErr error
	for _, p := range t.tracker.Positions() {
		err := retry.Execute(ctx, func() error {
			return t.closePosition(ctx, p, reason)
		})
		if err != nil {
			t.logger.Error().Err(err).Str("position", p.ID).Str("symbol", p.Symbol).Msg("failed to close position")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (t *Trader) shutdown() {
	t.logger.Info().Msg("shutting down, closing open positions")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := t.closeAll(ctx, string(models.CloseShutdown)); err != nil {
		t.logger.Error().Err(err).Msg("shutdown close-all incomplete")
	}
}

func (t *Trader) saveTrade(trade models.ClosedTrade) {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.store.SaveTrade(ctx, trade); err != nil {
		t.logger.Error().Err(err).Str("trade", trade.ID).Msg("failed to persist trade")
	}
}
