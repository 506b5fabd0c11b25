package risk

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "oanda-trader/internal/errors"
	"oanda-trader/internal/models"
)

type fakeReturns struct {
	mu   sync.Mutex
	data map[string][]float64
}

func (f *fakeReturns) Returns(symbol string) []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[symbol]
}

func newTestEngine(limits models.RiskLimits, returns map[string][]float64) (*Engine, *PositionTracker, *EmergencyStop) {
	tracker := NewPositionTracker()
	symbols := []string{"EUR_USD", "GBP_USD", "USD_JPY"}
	corr := NewCorrelationTracker(&fakeReturns{data: returns}, symbols, 0)
	corr.Refresh()
	stop := NewEmergencyStop(nil, zerolog.Nop())
	return NewEngine(limits, tracker, corr, stop, zerolog.Nop()), tracker, stop
}

// correlated builds two return series with the given sign of correlation.
func correlated(n int, invert bool) ([]float64, []float64) {
	a := make([]float64, n)
	b := make([]float64, n)
	for i := range a {
		v := math.Sin(float64(i)) * 0.001
		a[i] = v
		if invert {
			b[i] = -v
		} else {
			b[i] = v
		}
	}
	return a, b
}

func TestEngineDrawdownTracking(t *testing.T) {
	e, _, _ := newTestEngine(models.DefaultRiskLimits(), nil)

	e.UpdateEquity(100000)
	e.UpdateEquity(110000)
	if dd := e.CurrentDrawdown(); dd != 0 {
		t.Fatalf("drawdown at peak = %v, want 0", dd)
	}

	e.UpdateEquity(99000)
	want := (110000.0 - 99000.0) / 110000.0
	if dd := e.CurrentDrawdown(); math.Abs(dd-want) > 1e-9 {
		t.Fatalf("drawdown = %v, want %v", dd, want)
	}

	// Recovery shrinks current drawdown but never max drawdown.
	e.UpdateEquity(109000)
	m := e.Metrics()
	if m.CurrentDrawdown >= want {
		t.Fatalf("current drawdown %v did not shrink on recovery", m.CurrentDrawdown)
	}
	if math.Abs(m.MaxDrawdown-want) > 1e-9 {
		t.Fatalf("max drawdown = %v, want %v to persist", m.MaxDrawdown, want)
	}
	if m.PeakEquity != 110000 {
		t.Fatalf("peak equity = %v, want 110000", m.PeakEquity)
	}
}

func TestEngineDrawdownBreachTriggersStop(t *testing.T) {
	e, _, stop := newTestEngine(models.DefaultRiskLimits(), nil)

	e.UpdateEquity(100000)
	e.UpdateEquity(86000) // 14% drawdown, within the 15% limit
	if !e.EvaluateLimits(context.Background()) {
		t.Fatal("trades suspended at 14% drawdown, limit is 15%")
	}

	e.UpdateEquity(85000) // exactly at the limit, equality never breaches
	if !e.EvaluateLimits(context.Background()) {
		t.Fatal("trades suspended at exactly the drawdown limit")
	}
	if stop.Triggered() {
		t.Fatal("stop triggered at exactly the drawdown limit")
	}

	e.UpdateEquity(84000) // 16%
	if e.EvaluateLimits(context.Background()) {
		t.Fatal("trades still allowed past the drawdown limit")
	}
	if !stop.Triggered() {
		t.Fatal("drawdown breach did not trigger the emergency stop")
	}
}

func TestEngineAggregateRiskSuspendsNewTrades(t *testing.T) {
	limits := models.DefaultRiskLimits()
	e, tracker, stop := newTestEngine(limits, nil)
	e.UpdateEquity(100000)

	// Each stopless position counts at the 2% per-trade limit. Two keep
	// aggregate risk under the 6% account limit; four push it past. Raise
	// the position cap so the count check is not what trips.
	limits.MaxPositions = 10
	e2 := NewEngine(limits, tracker, e.correlations, stop, zerolog.Nop())
	e2.UpdateEquity(100000)
	for i := 0; i < 2; i++ {
		tracker.Open(models.Position{Symbol: "EUR_USD", Side: models.SideLong, Units: 1000, EntryPrice: 1.08})
	}
	if !e2.EvaluateLimits(context.Background()) {
		t.Fatal("trades suspended under the aggregate risk limit")
	}

	tracker.Open(models.Position{Symbol: "EUR_USD", Side: models.SideLong, Units: 1000, EntryPrice: 1.08})
	tracker.Open(models.Position{Symbol: "EUR_USD", Side: models.SideLong, Units: 1000, EntryPrice: 1.08})
	if e2.EvaluateLimits(context.Background()) {
		t.Fatal("trades still allowed past the aggregate risk limit")
	}
	if stop.Triggered() {
		t.Fatal("aggregate risk breach must not trigger the emergency stop")
	}
}

func TestEngineCandidateLimits(t *testing.T) {
	e, tracker, stop := newTestEngine(models.DefaultRiskLimits(), nil)
	e.UpdateEquity(100000)

	if err := e.CheckCandidate("EUR_USD"); err != nil {
		t.Fatalf("empty book denied candidate: %v", err)
	}

	tracker.Open(models.Position{Symbol: "EUR_USD", Side: models.SideLong, Units: 1000, EntryPrice: 1.08})
	if err := e.CheckCandidate("EUR_USD"); err == nil {
		t.Fatal("second EUR_USD position allowed, per-symbol cap is 1")
	}
	if err := e.CheckCandidate("GBP_USD"); err != nil {
		t.Fatalf("GBP_USD denied with only EUR_USD open: %v", err)
	}

	tracker.Open(models.Position{Symbol: "GBP_USD", Side: models.SideLong, Units: 1000, EntryPrice: 1.27})
	tracker.Open(models.Position{Symbol: "USD_JPY", Side: models.SideLong, Units: 1000, EntryPrice: 148.0})
	if err := e.CheckCandidate("AUD_USD"); err == nil {
		t.Fatal("fourth position allowed, cap is 3")
	}

	stop.Trigger(context.Background(), "test")
	if err := e.CheckCandidate("GBP_USD"); err != apperrors.ErrEmergencyStopped {
		t.Fatalf("err = %v with stop active, want ErrEmergencyStopped", err)
	}
}

func TestEngineCorrelationGate(t *testing.T) {
	a, b := correlated(64, false)
	e, tracker, _ := newTestEngine(models.DefaultRiskLimits(), map[string][]float64{
		"EUR_USD": a,
		"GBP_USD": b,
	})
	e.UpdateEquity(100000)

	tracker.Open(models.Position{Symbol: "EUR_USD", Side: models.SideLong, Units: 1000, EntryPrice: 1.08})

	// GBP_USD is perfectly correlated with the open EUR_USD position.
	err := e.CheckCandidate("GBP_USD")
	if err == nil {
		t.Fatal("correlated candidate passed the 0.7 correlation limit")
	}
	var verr *apperrors.ValidationError
	if !apperrors.As(err, &verr) || verr.Field != "correlation" {
		t.Fatalf("err = %v, want a correlation validation error", err)
	}

	// USD_JPY has no return history, so it is treated as uncorrelated.
	if err := e.CheckCandidate("USD_JPY"); err != nil {
		t.Fatalf("uncorrelated candidate denied: %v", err)
	}
}

func TestEngineCorrelationGateUsesAbsoluteValue(t *testing.T) {
	a, b := correlated(64, true)
	e, tracker, _ := newTestEngine(models.DefaultRiskLimits(), map[string][]float64{
		"EUR_USD": a,
		"GBP_USD": b,
	})
	e.UpdateEquity(100000)
	tracker.Open(models.Position{Symbol: "EUR_USD", Side: models.SideLong, Units: 1000, EntryPrice: 1.08})

	if err := e.CheckCandidate("GBP_USD"); err == nil {
		t.Fatal("inversely correlated candidate passed the correlation limit")
	}
}

func TestEngineMetricsStatistics(t *testing.T) {
	e, _, _ := newTestEngine(models.DefaultRiskLimits(), nil)

	equity := 100000.0
	e.UpdateEquity(equity)
	for i := 0; i < 60; i++ {
		if i%5 == 4 {
			equity *= 0.995
		} else {
			equity *= 1.002
		}
		e.UpdateEquity(equity)
	}

	m := e.Metrics()
	if m.Volatility <= 0 {
		t.Fatalf("volatility = %v, want > 0", m.Volatility)
	}
	if m.VaR95 <= 0 {
		t.Fatalf("VaR95 = %v, want > 0 with losing cycles in history", m.VaR95)
	}
	if m.SharpeRatio <= 0 {
		t.Fatalf("sharpe = %v, want > 0 for a rising equity curve", m.SharpeRatio)
	}
}

func TestCorrelationTrackerCadence(t *testing.T) {
	src := &fakeReturns{data: map[string][]float64{}}
	c := NewCorrelationTracker(src, []string{"EUR_USD", "GBP_USD"}, time.Hour)

	base := time.Now()
	c.now = func() time.Time { return base }

	if !c.MaybeRefresh() {
		t.Fatal("first MaybeRefresh did not run")
	}
	if c.MaybeRefresh() {
		t.Fatal("refresh ran again before the interval elapsed")
	}

	c.now = func() time.Time { return base.Add(time.Hour) }
	if !c.MaybeRefresh() {
		t.Fatal("refresh did not run after the interval elapsed")
	}
}

func TestPearsonShortSeriesIsZero(t *testing.T) {
	a, b := correlated(minCorrelationSamples-1, false)
	if r := pearson(a, b); r != 0 {
		t.Fatalf("pearson on short series = %v, want 0", r)
	}
	a, b = correlated(minCorrelationSamples, false)
	if r := pearson(a, b); math.Abs(r-1) > 1e-9 {
		t.Fatalf("pearson on identical series = %v, want 1", r)
	}
}
