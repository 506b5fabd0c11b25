package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "oanda-trader/internal/errors"
	"oanda-trader/internal/models"
)

// equityHistoryCapacity bounds the per-cycle equity return history used for
// VaR, volatility and Sharpe.
const equityHistoryCapacity = 500

// Engine enforces the account-level risk limits. It consumes equity snapshots
// from the venue, derives drawdown and return statistics, and gates every new
// trade through the limit chain.
type Engine struct {
	limits       models.RiskLimits
	tracker      *PositionTracker
	correlations *CorrelationTracker
	stop         *EmergencyStop
	logger       zerolog.Logger

	mu          sync.RWMutex
	equity      float64
	peakEquity  float64
	maxDrawdown float64
	returns     []float64 // per-update equity returns
}

// NewEngine wires the engine to its tracker, correlation matrix and
// emergency stop.
func NewEngine(limits models.RiskLimits, tracker *PositionTracker, correlations *CorrelationTracker, stop *EmergencyStop, logger zerolog.Logger) *Engine {
	return &Engine{
		limits:       limits,
		tracker:      tracker,
		correlations: correlations,
		stop:         stop,
		logger:       logger.With().Str("component", "risk").Logger(),
	}
}

// Limits returns the configured limits.
func (e *Engine) Limits() models.RiskLimits { return e.limits }

// Tracker exposes the position tracker the engine enforces limits over.
func (e *Engine) Tracker() *PositionTracker { return e.tracker }

// Stop exposes the emergency stop latch.
func (e *Engine) Stop() *EmergencyStop { return e.stop }

// UpdateEquity records a fresh equity snapshot. Peak equity only ever rises
// and max drawdown only ever deepens; both survive for the life of the
// process regardless of recovery.
func (e *Engine) UpdateEquity(equity float64) {
	if equity <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.equity > 0 {
		e.returns = append(e.returns, equity/e.equity-1)
		if len(e.returns) > equityHistoryCapacity {
			e.returns = e.returns[len(e.returns)-equityHistoryCapacity:]
		}
	}
	e.equity = equity
	if equity > e.peakEquity {
		e.peakEquity = equity
	}
	if dd := e.drawdownLocked(); dd > e.maxDrawdown {
		e.maxDrawdown = dd
	}
}

// Equity returns the last recorded equity.
func (e *Engine) Equity() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.equity
}

// CurrentDrawdown returns (peak - equity) / peak, zero before any snapshot.
func (e *Engine) CurrentDrawdown() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.drawdownLocked()
}

func (e *Engine) drawdownLocked() float64 {
	if e.peakEquity <= 0 {
		return 0
	}
	dd := (e.peakEquity - e.equity) / e.peakEquity
	if dd < 0 {
		return 0
	}
	return dd
}

// Metrics assembles the derived risk snapshot for the current state.
func (e *Engine) Metrics() models.RiskMetrics {
	e.mu.RLock()
	equity := e.equity
	peak := e.peakEquity
	maxDD := e.maxDrawdown
	currentDD := e.drawdownLocked()
	returns := make([]float64, len(e.returns))
	copy(returns, e.returns)
	e.mu.RUnlock()

	unrealized := e.tracker.UnrealizedPnL()
	realized := e.tracker.RealizedPnL()
	vol := stddev(returns)

	return models.RiskMetrics{
		TotalPnL:        unrealized + realized,
		UnrealizedPnL:   unrealized,
		RealizedPnL:     realized,
		TotalExposure:   e.tracker.TotalExposure(),
		CurrentDrawdown: currentDD,
		MaxDrawdown:     maxDD,
		VaR95:           valueAtRisk(returns, equity, 0.95),
		Volatility:      vol,
		SharpeRatio:     sharpe(returns, vol),
		Equity:          equity,
		PeakEquity:      peak,
		OpenPositions:   e.tracker.Count(),
		Timestamp:       time.Now(),
	}
}

// EvaluateLimits runs the account-level checks in severity order. The
// drawdown breach check runs first and trips the emergency stop; the
// aggregate risk check follows and only suspends new trades. Returns whether
// new trades are currently allowed.
func (e *Engine) EvaluateLimits(ctx context.Context) bool {
	if dd := e.CurrentDrawdown(); dd > e.limits.MaxDrawdown {
		e.stop.Trigger(ctx, fmt.Sprintf("drawdown %.2f%% exceeds limit %.2f%%", dd*100, e.limits.MaxDrawdown*100))
	}
	if e.stop.Triggered() {
		return false
	}

	if risk := e.aggregateRisk(); risk > e.limits.MaxAccountRisk {
		e.logger.Warn().
			Float64("aggregate_risk", risk).
			Float64("limit", e.limits.MaxAccountRisk).
			Msg("aggregate risk limit exceeded, suspending new trades")
		return false
	}
	return true
}

// CheckCandidate gates a prospective trade in symbol. A nil return means the
// candidate passes every per-trade limit; a non-nil error names the limit it
// breached. Equality with a limit never denies.
func (e *Engine) CheckCandidate(symbol string) error {
	if e.stop.Triggered() {
		return apperrors.ErrEmergencyStopped
	}
	if e.tracker.Count() >= e.limits.MaxPositions {
		return &apperrors.ValidationError{
			Field:   "positions",
			Message: fmt.Sprintf("open position limit %d reached", e.limits.MaxPositions),
		}
	}
	if n := len(e.tracker.PositionsFor(symbol)); n >= e.limits.MaxPerSymbol {
		return &apperrors.ValidationError{
			Field:   "symbol",
			Message: fmt.Sprintf("%s already has %d open position(s)", symbol, n),
		}
	}

	open := e.tracker.Positions()
	held := make([]string, 0, len(open))
	for i := range open {
		held = append(held, open[i].Symbol)
	}
	if r, against := e.correlations.MaxAgainst(symbol, held); r > e.limits.MaxCorrelation {
		return &apperrors.ValidationError{
			Field:   "correlation",
			Message: fmt.Sprintf("%s correlation %.2f with open %s exceeds limit %.2f", symbol, r, against, e.limits.MaxCorrelation),
		}
	}
	return nil
}

// aggregateRisk estimates the open risk fraction: the distance to each
// position's stop as a fraction of equity, or the per-trade limit when a
// position carries no stop.
func (e *Engine) aggregateRisk() float64 {
	equity := e.Equity()
	if equity <= 0 {
		return 0
	}
	var total float64
	for _, p := range e.tracker.Positions() {
		if p.StopLoss > 0 {
			total += math.Abs(p.CurrentPrice-p.StopLoss) * p.Units / equity
		} else {
			total += e.limits.MaxRiskPerTrade
		}
	}
	return total
}

// valueAtRisk is the historical-simulation VaR at the given confidence,
// reported as a positive loss amount.
func valueAtRisk(returns []float64, equity, confidence float64) float64 {
	if len(returns) < minCorrelationSamples || equity <= 0 {
		return 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * (1 - confidence))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	loss := -sorted[idx] * equity
	if loss < 0 {
		return 0
	}
	return loss
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)-1))
}

func sharpe(xs []float64, vol float64) float64 {
	if len(xs) < 2 || vol == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return (sum / float64(len(xs))) / vol
}
