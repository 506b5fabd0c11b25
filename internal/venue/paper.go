package venue

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	apperrors "oanda-trader/internal/errors"
	"oanda-trader/internal/models"
)

// paperSpread is the simulated half-spread applied around the mark price.
const paperSpread = 0.0001

// PaperVenue simulates a venue for paper trading and tests. Orders fill
// immediately at the current mark price; stop loss and take profit orders
// fill when SetPrice crosses them. Transactions for simulated fills are
// published on the transaction stream like the real venue does.
type PaperVenue struct {
	mu      sync.RWMutex
	balance float64
	prices  map[string]float64
	trades  map[string]*paperTrade
	counter int
	margin  float64 // margin rate, fraction of notional

	priceSubs []chan models.PriceUpdate
	txSubs    []chan models.Transaction
	now       func() time.Time
}

type paperTrade struct {
	position models.Position
}

// NewPaperVenue creates a paper venue with the given starting balance.
func NewPaperVenue(startBalance float64) *PaperVenue {
	if startBalance <= 0 {
		startBalance = 100000
	}
	return &PaperVenue{
		balance: startBalance,
		prices:  make(map[string]float64),
		trades:  make(map[string]*paperTrade),
		margin:  0.02,
		now:     time.Now,
	}
}

// SetPrice sets the mark price for a symbol, publishes a tick to price
// subscribers and fills any stop or take profit the move crossed.
func (v *PaperVenue) SetPrice(symbol string, price float64) {
	v.mu.Lock()
	v.prices[symbol] = price

	var fills []models.Transaction
	for id, tr := range v.trades {
		p := &tr.position
		if p.Symbol != symbol {
			continue
		}
		p.CurrentPrice = price

		if reason, hit := v.exitHit(p, price); hit {
			fills = append(fills, v.fillLocked(id, price, reason))
		}
	}

	update := models.PriceUpdate{
		Symbol:    symbol,
		Bid:       price - paperSpread,
		Ask:       price + paperSpread,
		Timestamp: v.now(),
	}
	subs := make([]chan models.PriceUpdate, len(v.priceSubs))
	copy(subs, v.priceSubs)
	txSubs := make([]chan models.Transaction, len(v.txSubs))
	copy(txSubs, v.txSubs)
	v.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- update:
		default:
		}
	}
	for _, fill := range fills {
		for _, ch := range txSubs {
			select {
			case ch <- fill:
			default:
			}
		}
	}
}

// exitHit reports whether price crosses the position's stop or take profit.
func (v *PaperVenue) exitHit(p *models.Position, price float64) (models.TransactionType, bool) {
	if p.Side == models.SideLong {
		if p.StopLoss > 0 && price <= p.StopLoss {
			return models.TxStopLossFilled, true
		}
		if p.TakeProfit > 0 && price >= p.TakeProfit {
			return models.TxTakeProfitFilled, true
		}
	} else {
		if p.StopLoss > 0 && price >= p.StopLoss {
			return models.TxStopLossFilled, true
		}
		if p.TakeProfit > 0 && price <= p.TakeProfit {
			return models.TxTakeProfitFilled, true
		}
	}
	return "", false
}

// fillLocked closes the trade at price and returns the fill transaction.
// Caller holds the lock.
func (v *PaperVenue) fillLocked(id string, price float64, txType models.TransactionType) models.Transaction {
	tr := v.trades[id]
	p := tr.position
	delete(v.trades, id)

	diff := price - p.EntryPrice
	if p.Side == models.SideShort {
		diff = -diff
	}
	v.balance += diff * p.Units

	return models.Transaction{
		Type:      txType,
		TradeID:   id,
		Symbol:    p.Symbol,
		Price:     price,
		Units:     p.Units,
		Timestamp: v.now(),
	}
}

// GetAccountSummary reports simulated balance and marked equity.
func (v *PaperVenue) GetAccountSummary(ctx context.Context) (*models.AccountSummary, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	equity := v.balance
	var used float64
	for _, tr := range v.trades {
		p := tr.position
		diff := p.CurrentPrice - p.EntryPrice
		if p.Side == models.SideShort {
			diff = -diff
		}
		equity += diff * p.Units
		used += p.Units * p.CurrentPrice * v.margin
	}

	return &models.AccountSummary{
		Balance:         v.balance,
		Equity:          equity,
		MarginAvailable: math.Max(0, equity-used),
		Currency:        "USD",
		Timestamp:       v.now(),
	}, nil
}

// GetOpenPositions returns the simulated open trades.
func (v *PaperVenue) GetOpenPositions(ctx context.Context) ([]models.Position, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]models.Position, 0, len(v.trades))
	for _, tr := range v.trades {
		out = append(out, tr.position)
	}
	return out, nil
}

// PlaceMarketOrder fills immediately at the mark price plus half-spread.
func (v *PaperVenue) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	if req.Units <= 0 {
		return nil, apperrors.NewValidationError("units", req.Units, "order units must be positive")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	mark, ok := v.prices[req.Symbol]
	if !ok {
		return nil, apperrors.NewVenueError("order", 0, fmt.Sprintf("no price for %s", req.Symbol), apperrors.ErrDataNotFound)
	}

	fill := mark + paperSpread
	if req.Side == models.SideShort {
		fill = mark - paperSpread
	}

	required := req.Units * fill * v.margin
	if required > v.balance {
		return nil, apperrors.ErrInsufficientMargin
	}

	v.counter++
	id := fmt.Sprintf("paper-%d", v.counter)
	v.trades[id] = &paperTrade{position: models.Position{
		ID:           id,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Units:        req.Units,
		EntryPrice:   fill,
		CurrentPrice: fill,
		EntryTime:    v.now(),
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
	}}

	return &models.OrderResult{Filled: true, FillPrice: fill, TradeID: id}, nil
}

// ClosePosition closes a simulated trade at the mark price. Unknown trade IDs
// return ErrPositionClosed.
func (v *PaperVenue) ClosePosition(ctx context.Context, tradeID string) (*models.OrderResult, error) {
	v.mu.Lock()
	tr, ok := v.trades[tradeID]
	if !ok {
		v.mu.Unlock()
		return nil, apperrors.ErrPositionClosed
	}
	price := tr.position.CurrentPrice
	tx := v.fillLocked(tradeID, price, models.TxTradeClose)
	txSubs := make([]chan models.Transaction, len(v.txSubs))
	copy(txSubs, v.txSubs)
	v.mu.Unlock()

	for _, ch := range txSubs {
		select {
		case ch <- tx:
		default:
		}
	}
	return &models.OrderResult{Filled: true, FillPrice: price, TradeID: tradeID}, nil
}

// StreamPrices returns a channel fed by SetPrice for the given symbols.
func (v *PaperVenue) StreamPrices(ctx context.Context, symbols []string) (<-chan models.PriceUpdate, error) {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[strings.ToUpper(s)] = true
	}

	raw := make(chan models.PriceUpdate, 64)
	v.mu.Lock()
	v.priceSubs = append(v.priceSubs, raw)
	v.mu.Unlock()

	out := make(chan models.PriceUpdate)
	go func() {
		defer close(out)
		defer v.removePriceSub(raw)
		for {
			select {
			case <-ctx.Done():
				return
			case u := <-raw:
				if !want[strings.ToUpper(u.Symbol)] {
					continue
				}
				select {
				case out <- u:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamTransactions returns a channel carrying simulated fills.
func (v *PaperVenue) StreamTransactions(ctx context.Context) (<-chan models.Transaction, error) {
	raw := make(chan models.Transaction, 64)
	v.mu.Lock()
	v.txSubs = append(v.txSubs, raw)
	v.mu.Unlock()

	out := make(chan models.Transaction)
	go func() {
		defer close(out)
		defer v.removeTxSub(raw)
		for {
			select {
			case <-ctx.Done():
				return
			case tx := <-raw:
				select {
				case out <- tx:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (v *PaperVenue) removePriceSub(ch chan models.PriceUpdate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, c := range v.priceSubs {
		if c == ch {
			v.priceSubs = append(v.priceSubs[:i], v.priceSubs[i+1:]...)
			return
		}
	}
}

func (v *PaperVenue) removeTxSub(ch chan models.Transaction) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, c := range v.txSubs {
		if c == ch {
			v.txSubs = append(v.txSubs[:i], v.txSubs[i+1:]...)
			return
		}
	}
}
