package trader

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	apperrors "oanda-trader/internal/errors"
	"oanda-trader/internal/models"
	"oanda-trader/pkg/utils"
)

// marginRate estimates margin required as a fraction of notional when sizing
// against available margin.
const marginRate = 0.02

// PriceLookup supplies the latest known price for a symbol.
type PriceLookup interface {
	LatestPrice(symbol string) (models.PriceUpdate, bool)
}

// Sizer converts a risk budget and a stop distance into order units.
type Sizer struct {
	accountCurrency string
	riskPerTrade    float64
	prices          PriceLookup
	logger          zerolog.Logger
}

// NewSizer creates a sizer risking riskPerTrade of equity per position.
func NewSizer(accountCurrency string, riskPerTrade float64, prices PriceLookup, logger zerolog.Logger) *Sizer {
	return &Sizer{
		accountCurrency: accountCurrency,
		riskPerTrade:    riskPerTrade,
		prices:          prices,
		logger:          logger.With().Str("component", "sizing").Logger(),
	}
}

// Size computes the unit count for a trade in symbol with the given stop
// distance. A one-unit position gains or loses exactly the price distance in
// quote currency, so units = risk amount / (stop distance converted to
// account currency). The result is floored to whole units.
func (s *Sizer) Size(symbol string, equity, stopDistance, marginAvailable, price float64) (float64, error) {
	if stopDistance <= 0 {
		return 0, apperrors.NewValidationError("stop_distance", stopDistance, "must be positive")
	}
	if equity <= 0 {
		return 0, apperrors.NewValidationError("equity", equity, "must be positive")
	}

	riskAmount := equity * s.riskPerTrade
	conv := s.quoteToAccount(symbol)
	units := math.Floor(riskAmount / (stopDistance * conv))
	if units < 1 {
		return 0, fmt.Errorf("%w: risk budget %.2f too small for stop distance %.5f",
			apperrors.ErrOrderRejected, riskAmount, stopDistance)
	}

	// Respect available margin before the venue has to reject.
	if price > 0 && marginAvailable > 0 {
		maxUnits := math.Floor(marginAvailable / (price * conv * marginRate))
		if maxUnits < 1 {
			return 0, apperrors.ErrInsufficientMargin
		}
		if units > maxUnits {
			s.logger.Debug().
				Str("symbol", symbol).
				Float64("risk_units", units).
				Float64("margin_units", maxUnits).
				Msg("sizing capped by available margin")
			units = maxUnits
		}
	}
	return units, nil
}

// quoteToAccount returns the conversion rate from the pair's quote currency
// to the account currency, using the latest known prices. Unknown crosses
// fall back to 1.0.
func (s *Sizer) quoteToAccount(symbol string) float64 {
	quote := utils.QuoteCurrency(symbol)
	if quote == "" || quote == s.accountCurrency {
		return 1.0
	}

	if u, ok := s.prices.LatestPrice(quote + "_" + s.accountCurrency); ok && u.Mid() > 0 {
		return u.Mid()
	}
	if u, ok := s.prices.LatestPrice(s.accountCurrency + "_" + quote); ok && u.Mid() > 0 {
		return 1.0 / u.Mid()
	}

	s.logger.Warn().
		Str("symbol", symbol).
		Str("quote", quote).
		Str("account", s.accountCurrency).
		Msg("no conversion rate available, assuming 1.0")
	return 1.0
}
