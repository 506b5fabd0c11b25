// Package advisory integrates the external trade advisory service. The
// service's output is untrusted; everything it returns is validated before it
// can influence an order.
package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "oanda-trader/internal/errors"
	"oanda-trader/internal/models"
)

const defaultAdvisoryTimeout = 30 * time.Second

// Advisor produces trade advice for a symbol given recent market context.
type Advisor interface {
	Advise(ctx context.Context, req Request) (*models.Advice, error)
}

// Request is the market context sent to the advisory service.
type Request struct {
	Symbol        string   `json:"symbol"`
	Bid           float64  `json:"bid"`
	Ask           float64  `json:"ask"`
	RecentReturns []float64 `json:"recent_returns,omitempty"`
	Equity        float64  `json:"equity"`
	OpenSymbols   []string `json:"open_symbols,omitempty"`
}

// adviceResponse is the service's wire format.
type adviceResponse struct {
	Recommendation     string  `json:"recommendation"`
	Confidence         float64 `json:"confidence"`
	StopLossDistance   float64 `json:"stop_loss_distance"`
	TakeProfitDistance float64 `json:"take_profit_distance"`
	Reasoning          string  `json:"reasoning"`
}

// HTTPAdvisor calls an advisory service over HTTP JSON.
type HTTPAdvisor struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   zerolog.Logger
}

// HTTPConfig configures the HTTP advisor.
type HTTPConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// NewHTTPAdvisor creates an advisor client.
func NewHTTPAdvisor(cfg HTTPConfig, logger zerolog.Logger) (*HTTPAdvisor, error) {
	if cfg.Endpoint == "" {
		return nil, apperrors.NewValidationError("endpoint", cfg.Endpoint, "advisory endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultAdvisoryTimeout
	}
	return &HTTPAdvisor{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "advisory").Logger(),
	}, nil
}

// Advise requests advice for req.Symbol. Any failure, from transport errors
// to out-of-range fields, comes back as an AdvisoryError so the caller can
// treat the cycle as "no opportunity".
func (a *HTTPAdvisor) Advise(ctx context.Context, req Request) (*models.Advice, error) {
	if req.Symbol == "" {
		return nil, apperrors.NewAdvisoryError("", "symbol is required", nil)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.NewAdvisoryError(req.Symbol, "encoding request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewAdvisoryError(req.Symbol, "building request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewAdvisoryError(req.Symbol, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apperrors.NewAdvisoryError(req.Symbol,
			fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b))), nil)
	}

	var wire adviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, apperrors.NewAdvisoryError(req.Symbol, "malformed response", err)
	}

	advice := &models.Advice{
		Symbol:             req.Symbol,
		Recommendation:     models.Recommendation(strings.ToLower(wire.Recommendation)),
		Confidence:         wire.Confidence,
		StopLossDistance:   wire.StopLossDistance,
		TakeProfitDistance: wire.TakeProfitDistance,
		Reasoning:          wire.Reasoning,
		Timestamp:          time.Now(),
	}
	if err := advice.Validate(); err != nil {
		return nil, apperrors.NewAdvisoryError(req.Symbol, "rejected at validation", err)
	}

	a.logger.Debug().
		Str("symbol", req.Symbol).
		Str("recommendation", string(advice.Recommendation)).
		Float64("confidence", advice.Confidence).
		Msg("advice received")
	return advice, nil
}
