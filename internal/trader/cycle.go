package trader

import (
	"context"
	"time"

	"oanda-trader/internal/advisory"
	"oanda-trader/internal/logging"
	"oanda-trader/internal/models"
	"oanda-trader/internal/store"
	"oanda-trader/pkg/utils"
)

// runCycle executes one trading cycle. Steps run in a fixed order and a
// failing step never aborts the cycle; the next step still runs on the best
// data available. Overlapping cycles are skipped rather than queued.
func (t *Trader) runCycle(ctx context.Context) {
	if !t.cycleMu.TryLock() {
		t.logger.Warn().Msg("previous cycle still running, skipping")
		return
	}
	defer t.cycleMu.Unlock()

	if err := t.refreshAccount(ctx); err != nil {
		t.logger.Warn().Err(err).Msg("account refresh failed, using last known equity")
	}

	metrics := t.engine.Metrics()

	if t.correlations.MaybeRefresh() {
		t.logger.Debug().Msg("correlation matrix refreshed")
	}

	t.monitorExits(ctx)

	allowed := t.engine.EvaluateLimits(ctx)
	if allowed {
		t.scanOpportunities(ctx)
	}

	t.logStatus(metrics, allowed)
}

// refreshAccount pulls the account summary and feeds equity into the risk
// engine and the persisted equity curve.
func (t *Trader) refreshAccount(ctx context.Context) error {
	summary, err := t.venue.GetAccountSummary(ctx)
	if err != nil {
		return err
	}

	t.accountMu.Lock()
	t.account = *summary
	t.accountMu.Unlock()

	t.engine.UpdateEquity(summary.Equity)

	if t.store != nil {
		point := store.EquityPoint{
			Timestamp: summary.Timestamp,
			Equity:    summary.Equity,
			Drawdown:  t.engine.CurrentDrawdown(),
		}
		if err := t.store.SaveEquityPoint(ctx, point); err != nil {
			t.logger.Warn().Err(err).Msg("failed to persist equity point")
		}
	}
	return nil
}

// monitorExits walks the open positions and closes any whose stop loss, take
// profit or holding time limit has been hit, then advances trailing stops.
func (t *Trader) monitorExits(ctx context.Context) {
	limits := t.engine.Limits()
	for _, p := range t.tracker.Positions() {
		update, ok := t.stream.LatestPrice(p.Symbol)
		if !ok {
			continue
		}
		mid := update.Mid()
		t.tracker.UpdatePrice(p.Symbol, mid)

		if reason, hit := exitReason(&p, mid, limits.MaxHoldingDuration, time.Now()); hit {
			if err := t.closePosition(ctx, p, reason); err != nil {
				t.logger.Error().Err(err).Str("position", p.ID).Msg("exit close failed, will retry next cycle")
			}
			continue
		}

		if t.cfg.Trading.UseTrailingStops {
			t.trailStop(&p, mid)
		}
	}
}

// exitReason checks the exit conditions in priority order: stop loss, take
// profit, then the holding time limit.
func exitReason(p *models.Position, mid float64, maxHold time.Duration, now time.Time) (models.CloseReason, bool) {
	if p.Side == models.SideLong {
		if p.StopLoss > 0 && mid <= p.StopLoss {
			return models.CloseStopLoss, true
		}
		if p.TakeProfit > 0 && mid >= p.TakeProfit {
			return models.CloseTakeProfit, true
		}
	} else {
		if p.StopLoss > 0 && mid >= p.StopLoss {
			return models.CloseStopLoss, true
		}
		if p.TakeProfit > 0 && mid <= p.TakeProfit {
			return models.CloseTakeProfit, true
		}
	}
	if maxHold > 0 && !now.IsZero() && p.HoldDuration(now) >= maxHold {
		return models.CloseTimeLimit, true
	}
	return "", false
}

// trailStop ratchets the stop toward the price, never away from it.
func (t *Trader) trailStop(p *models.Position, mid float64) {
	distance := t.cfg.Trading.TrailingStopPips * utils.PipSize(p.Symbol)
	if distance <= 0 {
		return
	}

	var newStop float64
	if p.Side == models.SideLong {
		newStop = mid - distance
		if p.StopLoss > 0 && newStop <= p.StopLoss {
			return
		}
	} else {
		newStop = mid + distance
		if p.StopLoss > 0 && newStop >= p.StopLoss {
			return
		}
	}
	if t.tracker.SetStopLoss(p.ID, newStop) {
		t.logger.Debug().
			Str("position", p.ID).
			Str("symbol", p.Symbol).
			Float64("stop", newStop).
			Msg("trailing stop advanced")
	}
}

// scanOpportunities asks the advisory service about every instrument without
// a blocking limit and opens positions for directional advice that clears the
// confidence bar and the risk gates.
func (t *Trader) scanOpportunities(ctx context.Context) {
	t.accountMu.RLock()
	account := t.account
	t.accountMu.RUnlock()

	for _, symbol := range t.cfg.Trading.Instruments {
		if t.stop.Triggered() {
			return
		}
		if err := t.engine.CheckCandidate(symbol); err != nil {
			t.logger.Debug().Err(err).Str("symbol", symbol).Msg("candidate blocked before advisory call")
			continue
		}

		update, ok := t.stream.LatestPrice(symbol)
		if !ok {
			t.logger.Debug().Str("symbol", symbol).Msg("no price yet, skipping")
			continue
		}

		advice, err := t.advisor.Advise(ctx, advisory.Request{
			Symbol:        symbol,
			Bid:           update.Bid,
			Ask:           update.Ask,
			RecentReturns: t.stream.Returns(symbol),
			Equity:        account.Equity,
			OpenSymbols:   t.openSymbols(),
		})
		if err != nil {
			// Advisory failures mean "no opportunity", never a halt.
			t.logger.Warn().Err(err).Str("symbol", symbol).Msg("advisory call failed")
			continue
		}

		if advice.Recommendation == models.Hold {
			continue
		}
		if advice.Confidence < t.cfg.Trading.MinConfidence {
			t.logger.Debug().
				Str("symbol", symbol).
				Float64("confidence", advice.Confidence).
				Float64("required", t.cfg.Trading.MinConfidence).
				Msg("advice below confidence threshold")
			continue
		}

		// Re-check the gates; the advisory call may have taken a while.
		if err := t.engine.CheckCandidate(symbol); err != nil {
			t.logger.Info().Err(err).Str("symbol", symbol).Msg("candidate denied")
			continue
		}

		if err := t.openPosition(ctx, advice, update, account); err != nil {
			t.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to open position")
		}
	}
}

// openPosition sizes and places the order for validated advice, then
// registers the fill with the tracker.
func (t *Trader) openPosition(ctx context.Context, advice *models.Advice, update models.PriceUpdate, account models.AccountSummary) error {
	side := advice.Recommendation.Side()
	entry := update.Ask
	if side == models.SideShort {
		entry = update.Bid
	}

	units, err := t.sizer.Size(advice.Symbol, account.Equity, advice.StopLossDistance, account.MarginAvailable, entry)
	if err != nil {
		return err
	}

	var stopLoss, takeProfit float64
	if side == models.SideLong {
		stopLoss = entry - advice.StopLossDistance
		takeProfit = entry + advice.TakeProfitDistance
	} else {
		stopLoss = entry + advice.StopLossDistance
		takeProfit = entry - advice.TakeProfitDistance
	}

	result, err := t.venue.PlaceMarketOrder(ctx, models.OrderRequest{
		Symbol:     advice.Symbol,
		Side:       side,
		Units:      units,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	})
	if err != nil {
		return err
	}

	p := t.tracker.Open(models.Position{
		ID:           result.TradeID,
		Symbol:       advice.Symbol,
		Side:         side,
		Units:        units,
		EntryPrice:   result.FillPrice,
		CurrentPrice: result.FillPrice,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
	})
	logging.LogTrade(t.logger, p.ID, p.Symbol, string(p.Side), p.Units, p.EntryPrice)
	return nil
}

func (t *Trader) openSymbols() []string {
	positions := t.tracker.Positions()
	out := make([]string, 0, len(positions))
	for i := range positions {
		out = append(out, positions[i].Symbol)
	}
	return out
}
