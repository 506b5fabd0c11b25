package trader

import (
	"context"
	"time"

	"oanda-trader/internal/models"
	"oanda-trader/internal/resilience"
)

// Status is a point-in-time snapshot of the agent for operators.
type Status struct {
	Mode            string
	Uptime          time.Duration
	StreamConnected bool
	BreakerStates   map[string]resilience.CircuitState

	Equity          float64
	Balance         float64
	MarginAvailable float64
	Currency        string

	Metrics       models.RiskMetrics
	OpenPositions []models.Position
	WinRate       float64
	ClosedTrades  int

	EmergencyStop       bool
	EmergencyStopReason string
	EmergencyStopAt     time.Time
}

// Status assembles the current agent snapshot.
func (t *Trader) Status() Status {
	t.accountMu.RLock()
	account := t.account
	t.accountMu.RUnlock()

	winRate, closed := t.tracker.WinRate()
	stopped, reason, at := t.stop.Status()

	return Status{
		Mode:                t.cfg.Trading.Mode,
		Uptime:              time.Since(t.started),
		StreamConnected:     t.stream.Connected(),
		BreakerStates:       t.fetcher.BreakerStates(),
		Equity:              account.Equity,
		Balance:             account.Balance,
		MarginAvailable:     account.MarginAvailable,
		Currency:            account.Currency,
		Metrics:             t.engine.Metrics(),
		OpenPositions:       t.tracker.Positions(),
		WinRate:             winRate,
		ClosedTrades:        closed,
		EmergencyStop:       stopped,
		EmergencyStopReason: reason,
		EmergencyStopAt:     at,
	}
}

// ResetEmergencyStop clears the latch. Operator action only.
func (t *Trader) ResetEmergencyStop() {
	t.stop.Reset()
}

// TriggerEmergencyStop latches the stop and closes every open position.
// Operator action; returns false if the stop was already active.
func (t *Trader) TriggerEmergencyStop(reason string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return t.stop.Trigger(ctx, reason)
}

// LogStatus emits the full agent snapshot at info level. Wired to an
// operator signal so the agent can be inspected while running.
func (t *Trader) LogStatus() {
	st := t.Status()
	t.logger.Info().
		Str("mode", st.Mode).
		Dur("uptime", st.Uptime).
		Bool("stream_connected", st.StreamConnected).
		Interface("breaker_states", st.BreakerStates).
		Float64("equity", st.Equity).
		Float64("balance", st.Balance).
		Float64("margin_available", st.MarginAvailable).
		Int("open_positions", len(st.OpenPositions)).
		Int("closed_trades", st.ClosedTrades).
		Float64("win_rate", st.WinRate).
		Float64("max_drawdown", st.Metrics.MaxDrawdown).
		Bool("emergency_stop", st.EmergencyStop).
		Str("emergency_stop_reason", st.EmergencyStopReason).
		Msg("status snapshot")
}

// logStatus emits the end-of-cycle status line.
func (t *Trader) logStatus(metrics models.RiskMetrics, tradingAllowed bool) {
	winRate, closed := t.tracker.WinRate()
	event := t.logger.Info().
		Int("open_positions", t.tracker.Count()).
		Float64("equity", metrics.Equity).
		Float64("unrealized_pnl", metrics.UnrealizedPnL).
		Float64("realized_pnl", metrics.RealizedPnL).
		Float64("drawdown", metrics.CurrentDrawdown).
		Float64("max_drawdown", metrics.MaxDrawdown).
		Int("closed_trades", closed).
		Bool("trading_allowed", tradingAllowed).
		Bool("stream_connected", t.stream.Connected())
	if closed > 0 {
		event = event.Float64("win_rate", winRate)
	}
	if t.stop.Triggered() {
		event = event.Bool("emergency_stop", true)
	}
	event.Msg("cycle complete")
}
