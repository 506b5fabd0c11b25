// Package store provides data persistence for trade history and the equity
// curve.
package store

import (
	"context"
	"time"

	"oanda-trader/internal/models"
)

// EquityPoint is a point on the persisted equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
	Drawdown  float64
}

// DataStore persists closed trades and periodic equity snapshots.
type DataStore interface {
	SaveTrade(ctx context.Context, trade models.ClosedTrade) error
	GetTrades(ctx context.Context, from, to time.Time) ([]models.ClosedTrade, error)

	SaveEquityPoint(ctx context.Context, point EquityPoint) error
	GetEquityCurve(ctx context.Context, from, to time.Time) ([]EquityPoint, error)

	Close() error
}
