package models

import "time"

// RiskLimits is the immutable risk configuration the engine enforces.
type RiskLimits struct {
	MaxPositions       int     // max concurrent positions
	MaxRiskPerTrade    float64 // fraction of equity risked per trade
	MaxAccountRisk     float64 // max aggregate open risk fraction
	MaxDrawdown        float64 // drawdown fraction that triggers emergency stop
	MaxCorrelation     float64 // max pairwise correlation for a candidate
	MaxPerSymbol       int     // open positions allowed per symbol
	MaxHoldingDuration time.Duration
}

// DefaultRiskLimits mirrors the production defaults.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositions:       3,
		MaxRiskPerTrade:    0.02,
		MaxAccountRisk:     0.06,
		MaxDrawdown:        0.15,
		MaxCorrelation:     0.7,
		MaxPerSymbol:       1,
		MaxHoldingDuration: 4 * time.Hour,
	}
}

// RiskMetrics is a derived snapshot recomputed every tick.
type RiskMetrics struct {
	TotalPnL        float64
	UnrealizedPnL   float64
	RealizedPnL     float64
	TotalExposure   float64
	CurrentDrawdown float64
	MaxDrawdown     float64
	VaR95           float64
	Volatility      float64
	SharpeRatio     float64
	Equity          float64
	PeakEquity      float64
	OpenPositions   int
	Timestamp       time.Time
}
