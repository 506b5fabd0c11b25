package venue

import (
	"context"
	"math"
	"testing"
	"time"

	apperrors "oanda-trader/internal/errors"
	"oanda-trader/internal/models"
)

func TestPaperVenueOrderAndClose(t *testing.T) {
	v := NewPaperVenue(100000)
	v.SetPrice("EUR_USD", 1.0850)

	res, err := v.PlaceMarketOrder(context.Background(), models.OrderRequest{
		Symbol: "EUR_USD",
		Side:   models.SideLong,
		Units:  10000,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if !res.Filled || res.TradeID == "" {
		t.Fatalf("result = %+v, want a filled trade", res)
	}
	if math.Abs(res.FillPrice-(1.0850+paperSpread)) > 1e-9 {
		t.Fatalf("long fill = %v, want ask %v", res.FillPrice, 1.0850+paperSpread)
	}

	open, _ := v.GetOpenPositions(context.Background())
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}

	v.SetPrice("EUR_USD", 1.0900)
	closeRes, err := v.ClosePosition(context.Background(), res.TradeID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closeRes.FillPrice != 1.0900 {
		t.Fatalf("close price = %v, want 1.0900", closeRes.FillPrice)
	}

	summary, _ := v.GetAccountSummary(context.Background())
	wantPnL := (1.0900 - res.FillPrice) * 10000
	if math.Abs(summary.Balance-(100000+wantPnL)) > 1e-6 {
		t.Fatalf("balance = %v, want %v", summary.Balance, 100000+wantPnL)
	}

	if _, err := v.ClosePosition(context.Background(), res.TradeID); err != apperrors.ErrPositionClosed {
		t.Fatalf("double close err = %v, want ErrPositionClosed", err)
	}
}

func TestPaperVenueStopLossFill(t *testing.T) {
	v := NewPaperVenue(100000)
	v.SetPrice("EUR_USD", 1.0850)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	txs, err := v.StreamTransactions(ctx)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	res, err := v.PlaceMarketOrder(ctx, models.OrderRequest{
		Symbol:   "EUR_USD",
		Side:     models.SideLong,
		Units:    10000,
		StopLoss: 1.0820,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	v.SetPrice("EUR_USD", 1.0810)

	select {
	case tx := <-txs:
		if tx.Type != models.TxStopLossFilled {
			t.Fatalf("tx type = %s, want %s", tx.Type, models.TxStopLossFilled)
		}
		if tx.TradeID != res.TradeID {
			t.Fatalf("tx trade = %s, want %s", tx.TradeID, res.TradeID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stop loss fill not published")
	}

	open, _ := v.GetOpenPositions(context.Background())
	if len(open) != 0 {
		t.Fatalf("position still open after stop loss fill")
	}
}

func TestPaperVenueShortTakeProfit(t *testing.T) {
	v := NewPaperVenue(100000)
	v.SetPrice("GBP_USD", 1.2700)

	res, err := v.PlaceMarketOrder(context.Background(), models.OrderRequest{
		Symbol:     "GBP_USD",
		Side:       models.SideShort,
		Units:      5000,
		TakeProfit: 1.2650,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if math.Abs(res.FillPrice-(1.2700-paperSpread)) > 1e-9 {
		t.Fatalf("short fill = %v, want bid %v", res.FillPrice, 1.2700-paperSpread)
	}

	v.SetPrice("GBP_USD", 1.2640)
	open, _ := v.GetOpenPositions(context.Background())
	if len(open) != 0 {
		t.Fatal("short take profit did not fill on the way down")
	}

	summary, _ := v.GetAccountSummary(context.Background())
	if summary.Balance <= 100000 {
		t.Fatalf("balance = %v, want a profit booked", summary.Balance)
	}
}

func TestPaperVenueRejectsWithoutPriceOrMargin(t *testing.T) {
	v := NewPaperVenue(100)

	_, err := v.PlaceMarketOrder(context.Background(), models.OrderRequest{
		Symbol: "EUR_USD", Side: models.SideLong, Units: 1000,
	})
	if err == nil {
		t.Fatal("order filled with no price set")
	}

	v.SetPrice("EUR_USD", 1.0850)
	_, err = v.PlaceMarketOrder(context.Background(), models.OrderRequest{
		Symbol: "EUR_USD", Side: models.SideLong, Units: 1000000,
	})
	if err != apperrors.ErrInsufficientMargin {
		t.Fatalf("err = %v, want ErrInsufficientMargin", err)
	}
}

func TestPaperVenuePriceStreamFiltersSymbols(t *testing.T) {
	v := NewPaperVenue(100000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates, err := v.StreamPrices(ctx, []string{"EUR_USD"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	v.SetPrice("GBP_USD", 1.2700)
	v.SetPrice("EUR_USD", 1.0850)

	select {
	case u := <-updates:
		if u.Symbol != "EUR_USD" {
			t.Fatalf("received %s, want only EUR_USD", u.Symbol)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}
}
