// Package venue provides trading venue integration. The REST client talks an
// OANDA v3 style API; the paper venue simulates fills locally for testing and
// paper trading.
package venue

import (
	"context"

	"oanda-trader/internal/models"
)

// Venue defines the operations the trader needs from a trading venue.
type Venue interface {
	// Account
	GetAccountSummary(ctx context.Context) (*models.AccountSummary, error)
	GetOpenPositions(ctx context.Context) ([]models.Position, error)

	// Orders
	PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error)
	ClosePosition(ctx context.Context, tradeID string) (*models.OrderResult, error)

	// Streaming
	StreamPrices(ctx context.Context, symbols []string) (<-chan models.PriceUpdate, error)
	StreamTransactions(ctx context.Context) (<-chan models.Transaction, error)
}
