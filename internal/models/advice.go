package models

import (
	"fmt"
	"time"
)

// Recommendation is an advisory service trading recommendation.
type Recommendation string

const (
	Buy  Recommendation = "buy"
	Sell Recommendation = "sell"
	Hold Recommendation = "hold"
)

// Side maps a directional recommendation to a position side.
func (r Recommendation) Side() Side {
	if r == Sell {
		return SideShort
	}
	return SideLong
}

// Advice is a validated advisory service response. Advisory output is
// untrusted input; Validate must pass before it reaches the order path.
type Advice struct {
	Symbol             string
	Recommendation     Recommendation
	Confidence         float64 // 0..1
	StopLossDistance   float64 // price distance, > 0 for buy/sell
	TakeProfitDistance float64 // price distance, > 0 for buy/sell
	Reasoning          string
	Timestamp          time.Time
}

// Validate checks the advice at the trust boundary.
func (a *Advice) Validate() error {
	if a.Symbol == "" {
		return fmt.Errorf("advice: symbol is required")
	}
	switch a.Recommendation {
	case Buy, Sell, Hold:
	default:
		return fmt.Errorf("advice: unknown recommendation %q", a.Recommendation)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("advice: confidence %v outside [0,1]", a.Confidence)
	}
	if a.Recommendation != Hold {
		if a.StopLossDistance <= 0 {
			return fmt.Errorf("advice: stop loss distance required for %s", a.Recommendation)
		}
		if a.TakeProfitDistance <= 0 {
			return fmt.Errorf("advice: take profit distance required for %s", a.Recommendation)
		}
	}
	return nil
}
