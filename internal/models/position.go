package models

import "time"

// Position is an open exposure owned by the risk engine. It is mutated only
// through the engine's update and close operations.
type Position struct {
	ID            string
	Symbol        string
	Side          Side
	Units         float64
	EntryPrice    float64
	CurrentPrice  float64
	EntryTime     time.Time
	StopLoss      float64 // 0 = none
	TakeProfit    float64 // 0 = none
	UnrealizedPnL float64 // quote-currency units
}

// Exposure returns the absolute notional exposure of the position.
func (p *Position) Exposure() float64 {
	e := p.Units * p.CurrentPrice
	if e < 0 {
		return -e
	}
	return e
}

// HoldDuration returns how long the position has been open at t.
func (p *Position) HoldDuration(t time.Time) time.Duration {
	return t.Sub(p.EntryTime)
}

// ClosedTrade is the historical record of a closed position.
type ClosedTrade struct {
	ID          string
	Symbol      string
	Side        Side
	Units       float64
	EntryPrice  float64
	ExitPrice   float64
	EntryTime   time.Time
	ExitTime    time.Time
	RealizedPnL float64
	Reason      CloseReason
}

// Win reports whether the trade closed with a profit.
func (t *ClosedTrade) Win() bool {
	return t.RealizedPnL > 0
}
