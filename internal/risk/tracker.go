// Package risk owns open positions, derived risk metrics, limit
// enforcement and the emergency stop latch.
package risk

import (
	"fmt"
	"sync"
	"time"

	apperrors "oanda-trader/internal/errors"
	"oanda-trader/internal/models"
)

// PositionTracker is the single source of truth for open positions and the
// closed trade history. All mutation goes through it so unrealized and
// realized P&L never drift apart.
type PositionTracker struct {
	mu        sync.RWMutex
	positions map[string]*models.Position // keyed by position ID
	closed    []models.ClosedTrade
	nextID    int
	now       func() time.Time
}

// NewPositionTracker creates an empty tracker.
func NewPositionTracker() *PositionTracker {
	return &PositionTracker{
		positions: make(map[string]*models.Position),
		now:       time.Now,
	}
}

// Open registers a new position and returns it. A zero ID is assigned from
// the tracker's sequence; venue-assigned IDs are kept as-is.
func (t *PositionTracker) Open(p models.Position) *models.Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p.ID == "" {
		t.nextID++
		p.ID = fmt.Sprintf("pos-%d", t.nextID)
	}
	if p.EntryTime.IsZero() {
		p.EntryTime = t.now()
	}
	if p.CurrentPrice == 0 {
		p.CurrentPrice = p.EntryPrice
	}
	p.UnrealizedPnL = unrealizedPnL(&p)

	stored := p
	t.positions[p.ID] = &stored
	return &stored
}

// UpdatePrice marks every open position in symbol to price and recomputes its
// unrealized P&L. Positions in other symbols are untouched.
func (t *PositionTracker) UpdatePrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.positions {
		if p.Symbol != symbol {
			continue
		}
		p.CurrentPrice = price
		p.UnrealizedPnL = unrealizedPnL(p)
	}
}

// Close removes the position and appends a ClosedTrade record. Closing an
// unknown or already-closed ID returns ErrPositionClosed and records nothing,
// so venue fill notifications and monitor-driven exits can race safely.
func (t *PositionTracker) Close(id string, exitPrice float64, reason models.CloseReason) (*models.ClosedTrade, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.positions[id]
	if !ok {
		return nil, apperrors.ErrPositionClosed
	}
	delete(t.positions, id)

	if exitPrice <= 0 {
		exitPrice = p.CurrentPrice
	}
	trade := models.ClosedTrade{
		ID:          p.ID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		Units:       p.Units,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exitPrice,
		EntryTime:   p.EntryTime,
		ExitTime:    t.now(),
		RealizedPnL: realizedPnL(p, exitPrice),
		Reason:      reason,
	}
	t.closed = append(t.closed, trade)
	return &trade, nil
}

// SetStopLoss moves the position's stop. Returns false for unknown IDs.
func (t *PositionTracker) SetStopLoss(id string, stop float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[id]
	if !ok {
		return false
	}
	p.StopLoss = stop
	return true
}

// Get returns a copy of the position with the given ID.
func (t *PositionTracker) Get(id string) (models.Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[id]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

// Open positions as copies, safe for callers to range over.
func (t *PositionTracker) Positions() []models.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}
	return out
}

// PositionsFor returns the open positions in a symbol.
func (t *PositionTracker) PositionsFor(symbol string) []models.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []models.Position
	for _, p := range t.positions {
		if p.Symbol == symbol {
			out = append(out, *p)
		}
	}
	return out
}

// Count returns the number of open positions.
func (t *PositionTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}

// ClosedTrades returns a copy of the closed trade history.
func (t *PositionTracker) ClosedTrades() []models.ClosedTrade {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.ClosedTrade, len(t.closed))
	copy(out, t.closed)
	return out
}

// UnrealizedPnL sums unrealized P&L across open positions.
func (t *PositionTracker) UnrealizedPnL() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var sum float64
	for _, p := range t.positions {
		sum += p.UnrealizedPnL
	}
	return sum
}

// RealizedPnL sums realized P&L across closed trades.
func (t *PositionTracker) RealizedPnL() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var sum float64
	for _, c := range t.closed {
		sum += c.RealizedPnL
	}
	return sum
}

// TotalExposure sums absolute notional exposure across open positions.
func (t *PositionTracker) TotalExposure() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var sum float64
	for _, p := range t.positions {
		sum += p.Exposure()
	}
	return sum
}

// WinRate returns the fraction of closed trades with positive P&L, and the
// number of closed trades. Zero trades yields a zero rate.
func (t *PositionTracker) WinRate() (float64, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.closed) == 0 {
		return 0, 0
	}
	wins := 0
	for i := range t.closed {
		if t.closed[i].Win() {
			wins++
		}
	}
	return float64(wins) / float64(len(t.closed)), len(t.closed)
}

// unrealizedPnL is quote-currency P&L marked at CurrentPrice.
func unrealizedPnL(p *models.Position) float64 {
	return realizedPnL(p, p.CurrentPrice)
}

func realizedPnL(p *models.Position, exitPrice float64) float64 {
	diff := exitPrice - p.EntryPrice
	if p.Side == models.SideShort {
		diff = -diff
	}
	return diff * p.Units
}
