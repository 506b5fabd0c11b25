package venue

import (
	"context"
	"testing"
	"time"

	"oanda-trader/internal/models"
)

func TestSyntheticFeedPublishesTicks(t *testing.T) {
	v := NewPaperVenue(100000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := v.StreamPrices(ctx, []string{"EUR_USD", "USD_JPY"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	go NewSyntheticFeed(v, []string{"EUR_USD", "USD_JPY"}, time.Millisecond).Run(ctx)

	seen := make(map[string]models.PriceUpdate)
	deadline := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case u := <-updates:
			seen[u.Symbol] = u
		case <-deadline:
			t.Fatalf("ticks for %d of 2 symbols before deadline", len(seen))
		}
	}

	eur := seen["EUR_USD"]
	if eur.Bid <= 0 || eur.Ask <= eur.Bid {
		t.Fatalf("malformed EUR_USD tick: %+v", eur)
	}
	if eur.Mid() < 0.5 || eur.Mid() > 2 {
		t.Fatalf("EUR_USD mid = %v, want near 1.10", eur.Mid())
	}
	jpy := seen["USD_JPY"]
	if jpy.Mid() < 100 || jpy.Mid() > 200 {
		t.Fatalf("USD_JPY mid = %v, want near 150", jpy.Mid())
	}
}

func TestSyntheticFeedMarksOpenTrades(t *testing.T) {
	v := NewPaperVenue(100000)
	v.SetPrice("EUR_USD", seedPrice("EUR_USD"))
	res, err := v.PlaceMarketOrder(context.Background(), models.OrderRequest{
		Symbol: "EUR_USD", Side: models.SideLong, Units: 1000,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewSyntheticFeed(v, []string{"EUR_USD"}, time.Millisecond).Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		open, err := v.GetOpenPositions(ctx)
		if err != nil {
			t.Fatalf("open positions: %v", err)
		}
		if len(open) == 1 && open[0].ID == res.TradeID && open[0].CurrentPrice != res.FillPrice {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("feed never marked the open trade to a new price")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
