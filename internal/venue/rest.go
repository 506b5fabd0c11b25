package venue

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	apperrors "oanda-trader/internal/errors"
	"oanda-trader/internal/models"
)

const defaultRequestTimeout = 10 * time.Second

// RESTVenue talks an OANDA v3 style REST API. Prices and transactions arrive
// over long-lived chunked HTTP responses carrying one JSON object per line.
type RESTVenue struct {
	baseURL   string
	streamURL string
	accountID string
	token     string
	http      *http.Client
	stream    *http.Client
	logger    zerolog.Logger
}

// RESTConfig configures the REST venue client.
type RESTConfig struct {
	BaseURL   string // e.g. https://api-fxpractice.oanda.com
	StreamURL string // defaults to BaseURL with the stream host prefix
	AccountID string
	Token     string
	Timeout   time.Duration
}

// NewRESTVenue creates a REST client for the given account.
func NewRESTVenue(cfg RESTConfig, logger zerolog.Logger) (*RESTVenue, error) {
	if cfg.BaseURL == "" {
		return nil, apperrors.NewValidationError("base_url", cfg.BaseURL, "venue base URL is required")
	}
	if cfg.AccountID == "" {
		return nil, apperrors.NewValidationError("account_id", cfg.AccountID, "venue account ID is required")
	}
	if cfg.Token == "" {
		return nil, apperrors.NewValidationError("token", "", "venue API token is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	streamURL := cfg.StreamURL
	if streamURL == "" {
		streamURL = strings.Replace(cfg.BaseURL, "https://api-", "https://stream-", 1)
	}

	return &RESTVenue{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		streamURL: strings.TrimRight(streamURL, "/"),
		accountID: cfg.AccountID,
		token:     cfg.Token,
		http:      &http.Client{Timeout: timeout},
		// Stream responses stay open indefinitely, so no client timeout.
		stream: &http.Client{},
		logger: logger.With().Str("component", "venue").Logger(),
	}, nil
}

// accountSummaryResponse mirrors the v3 account summary payload. The API
// encodes decimals as strings.
type accountSummaryResponse struct {
	Account struct {
		Balance         string `json:"balance"`
		NAV             string `json:"NAV"`
		MarginAvailable string `json:"marginAvailable"`
		Currency        string `json:"currency"`
	} `json:"account"`
}

// GetAccountSummary fetches balance, equity and available margin.
func (v *RESTVenue) GetAccountSummary(ctx context.Context) (*models.AccountSummary, error) {
	var resp accountSummaryResponse
	path := fmt.Sprintf("/v3/accounts/%s/summary", v.accountID)
	if err := v.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	balance, err := parseDecimal(resp.Account.Balance, "balance")
	if err != nil {
		return nil, err
	}
	equity, err := parseDecimal(resp.Account.NAV, "NAV")
	if err != nil {
		return nil, err
	}
	margin, err := parseDecimal(resp.Account.MarginAvailable, "marginAvailable")
	if err != nil {
		return nil, err
	}

	return &models.AccountSummary{
		Balance:         balance,
		Equity:          equity,
		MarginAvailable: margin,
		Currency:        resp.Account.Currency,
		Timestamp:       time.Now(),
	}, nil
}

type openTradesResponse struct {
	Trades []struct {
		ID           string `json:"id"`
		Instrument   string `json:"instrument"`
		Price        string `json:"price"`
		CurrentUnits string `json:"currentUnits"`
		OpenTime     string `json:"openTime"`
		StopLoss     *struct {
			Price string `json:"price"`
		} `json:"stopLossOrder"`
		TakeProfit *struct {
			Price string `json:"price"`
		} `json:"takeProfitOrder"`
		UnrealizedPL string `json:"unrealizedPL"`
	} `json:"trades"`
}

// GetOpenPositions fetches the venue's open trades. Negative units encode a
// short position.
func (v *RESTVenue) GetOpenPositions(ctx context.Context) ([]models.Position, error) {
	var resp openTradesResponse
	path := fmt.Sprintf("/v3/accounts/%s/openTrades", v.accountID)
	if err := v.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}

	positions := make([]models.Position, 0, len(resp.Trades))
	for _, tr := range resp.Trades {
		units, err := parseDecimal(tr.CurrentUnits, "currentUnits")
		if err != nil {
			return nil, err
		}
		price, err := parseDecimal(tr.Price, "price")
		if err != nil {
			return nil, err
		}
		side := models.SideLong
		if units < 0 {
			side = models.SideShort
			units = -units
		}

		p := models.Position{
			ID:           tr.ID,
			Symbol:       tr.Instrument,
			Side:         side,
			Units:        units,
			EntryPrice:   price,
			CurrentPrice: price,
		}
		if t, err := time.Parse(time.RFC3339Nano, tr.OpenTime); err == nil {
			p.EntryTime = t
		}
		if tr.StopLoss != nil {
			p.StopLoss, _ = parseDecimal(tr.StopLoss.Price, "stopLoss")
		}
		if tr.TakeProfit != nil {
			p.TakeProfit, _ = parseDecimal(tr.TakeProfit.Price, "takeProfit")
		}
		if pl, err := parseDecimal(tr.UnrealizedPL, "unrealizedPL"); err == nil {
			p.UnrealizedPnL = pl
		}
		positions = append(positions, p)
	}
	return positions, nil
}

type orderResponse struct {
	OrderFillTransaction *struct {
		Price       string `json:"price"`
		TradeOpened *struct {
			TradeID string `json:"tradeID"`
		} `json:"tradeOpened"`
	} `json:"orderFillTransaction"`
	OrderCancelTransaction *struct {
		Reason string `json:"reason"`
	} `json:"orderCancelTransaction"`
}

// PlaceMarketOrder submits a market order with optional stop loss and take
// profit attached on fill.
func (v *RESTVenue) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	units := req.Units
	if req.Side == models.SideShort {
		units = -units
	}
	order := map[string]interface{}{
		"type":         "MARKET",
		"instrument":   req.Symbol,
		"units":        strconv.FormatFloat(units, 'f', 0, 64),
		"timeInForce":  "FOK",
		"positionFill": "DEFAULT",
	}
	if req.StopLoss > 0 {
		order["stopLossOnFill"] = map[string]string{"price": formatPrice(req.Symbol, req.StopLoss)}
	}
	if req.TakeProfit > 0 {
		order["takeProfitOnFill"] = map[string]string{"price": formatPrice(req.Symbol, req.TakeProfit)}
	}

	var resp orderResponse
	path := fmt.Sprintf("/v3/accounts/%s/orders", v.accountID)
	if err := v.postJSON(ctx, path, map[string]interface{}{"order": order}, &resp); err != nil {
		return nil, err
	}

	if resp.OrderFillTransaction == nil {
		reason := "order not filled"
		if resp.OrderCancelTransaction != nil {
			reason = resp.OrderCancelTransaction.Reason
		}
		if strings.Contains(strings.ToUpper(reason), "MARGIN") {
			return nil, apperrors.ErrInsufficientMargin
		}
		return nil, fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, reason)
	}

	fill, err := parseDecimal(resp.OrderFillTransaction.Price, "fill price")
	if err != nil {
		return nil, err
	}
	result := &models.OrderResult{Filled: true, FillPrice: fill}
	if resp.OrderFillTransaction.TradeOpened != nil {
		result.TradeID = resp.OrderFillTransaction.TradeOpened.TradeID
	}
	v.logger.Info().Str("symbol", req.Symbol).Str("trade_id", result.TradeID).Float64("price", fill).Msg("order filled")
	return result, nil
}

// ClosePosition closes the full trade. Closing a trade the venue no longer
// knows returns ErrPositionClosed.
func (v *RESTVenue) ClosePosition(ctx context.Context, tradeID string) (*models.OrderResult, error) {
	var resp orderResponse
	path := fmt.Sprintf("/v3/accounts/%s/trades/%s/close", v.accountID, tradeID)
	err := v.putJSON(ctx, path, map[string]string{"units": "ALL"}, &resp)
	if err != nil {
		var verr *apperrors.VenueError
		if apperrors.As(err, &verr) && verr.StatusCode == http.StatusNotFound {
			return nil, apperrors.ErrPositionClosed
		}
		return nil, err
	}
	if resp.OrderFillTransaction == nil {
		return nil, fmt.Errorf("%w: close produced no fill", apperrors.ErrOrderRejected)
	}
	fill, err := parseDecimal(resp.OrderFillTransaction.Price, "close price")
	if err != nil {
		return nil, err
	}
	return &models.OrderResult{Filled: true, FillPrice: fill, TradeID: tradeID}, nil
}

type pricingStreamMsg struct {
	Type       string `json:"type"`
	Time       string `json:"time"`
	Instrument string `json:"instrument"`
	Bids       []struct {
		Price string `json:"price"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
	} `json:"asks"`
}

// StreamPrices opens the pricing stream for symbols. The returned channel
// closes when the connection drops or ctx is cancelled; reconnecting is the
// caller's job.
func (v *RESTVenue) StreamPrices(ctx context.Context, symbols []string) (<-chan models.PriceUpdate, error) {
	path := fmt.Sprintf("/v3/accounts/%s/pricing/stream", v.accountID)
	body, err := v.openStream(ctx, path, map[string]string{"instruments": strings.Join(symbols, ",")})
	if err != nil {
		return nil, err
	}

	out := make(chan models.PriceUpdate)
	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), 64*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var msg pricingStreamMsg
			if err := json.Unmarshal(line, &msg); err != nil {
				v.logger.Debug().Err(err).Msg("skipping malformed stream line")
				continue
			}
			if msg.Type != "PRICE" || len(msg.Bids) == 0 || len(msg.Asks) == 0 {
				continue
			}
			bid, errB := parseDecimal(msg.Bids[0].Price, "bid")
			ask, errA := parseDecimal(msg.Asks[0].Price, "ask")
			if errB != nil || errA != nil {
				continue
			}
			update := models.PriceUpdate{Symbol: msg.Instrument, Bid: bid, Ask: ask}
			if t, err := time.Parse(time.RFC3339Nano, msg.Time); err == nil {
				update.Timestamp = t
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type transactionStreamMsg struct {
	Type         string `json:"type"`
	ID           string `json:"id"`
	TradeID      string `json:"tradeID"`
	Instrument   string `json:"instrument"`
	Price        string `json:"price"`
	Units        string `json:"units"`
	Time         string `json:"time"`
	Reason       string `json:"reason"`
	TradesClosed []struct {
		TradeID string `json:"tradeID"`
	} `json:"tradesClosed"`
}

// StreamTransactions opens the account transaction stream. Only fill events
// are forwarded; heartbeats and administrative transactions are dropped.
func (v *RESTVenue) StreamTransactions(ctx context.Context) (<-chan models.Transaction, error) {
	path := fmt.Sprintf("/v3/accounts/%s/transactions/stream", v.accountID)
	body, err := v.openStream(ctx, path, nil)
	if err != nil {
		return nil, err
	}

	out := make(chan models.Transaction)
	go func() {
		defer close(out)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 64*1024), 64*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var msg transactionStreamMsg
			if err := json.Unmarshal(line, &msg); err != nil || msg.Type != "ORDER_FILL" {
				continue
			}

			tx := models.Transaction{
				TradeID: msg.TradeID,
				Symbol:  msg.Instrument,
			}
			tx.Price, _ = parseDecimal(msg.Price, "price")
			tx.Units, _ = parseDecimal(msg.Units, "units")
			if t, err := time.Parse(time.RFC3339Nano, msg.Time); err == nil {
				tx.Timestamp = t
			}
			if len(msg.TradesClosed) > 0 && tx.TradeID == "" {
				tx.TradeID = msg.TradesClosed[0].TradeID
			}

			switch msg.Reason {
			case "STOP_LOSS_ORDER":
				tx.Type = models.TxStopLossFilled
			case "TAKE_PROFIT_ORDER":
				tx.Type = models.TxTakeProfitFilled
			case "MARKET_ORDER_TRADE_CLOSE":
				tx.Type = models.TxTradeClose
			default:
				tx.Type = models.TxOrderFill
			}

			select {
			case out <- tx:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (v *RESTVenue) getJSON(ctx context.Context, path string, params map[string]string, out interface{}) error {
	return v.doJSON(ctx, http.MethodGet, v.baseURL, path, params, nil, out)
}

func (v *RESTVenue) postJSON(ctx context.Context, path string, body, out interface{}) error {
	return v.doJSON(ctx, http.MethodPost, v.baseURL, path, nil, body, out)
}

func (v *RESTVenue) putJSON(ctx context.Context, path string, body, out interface{}) error {
	return v.doJSON(ctx, http.MethodPut, v.baseURL, path, nil, body, out)
}

func (v *RESTVenue) doJSON(ctx context.Context, method, base, path string, params map[string]string, body, out interface{}) error {
	u, err := url.Parse(base + path)
	if err != nil {
		return apperrors.NewVenueError(path, 0, "invalid URL", err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, val := range params {
			q.Set(k, val)
		}
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return apperrors.NewVenueError(path, 0, "encoding request", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return apperrors.NewVenueError(path, 0, "building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
		}
		return apperrors.NewVenueError(path, 0, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperrors.NewVenueError(path, resp.StatusCode, strings.TrimSpace(string(b)), nil)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewVenueError(path, 0, "decoding response", err)
	}
	return nil
}

func (v *RESTVenue) openStream(ctx context.Context, path string, params map[string]string) (io.ReadCloser, error) {
	u, err := url.Parse(v.streamURL + path)
	if err != nil {
		return nil, apperrors.NewVenueError(path, 0, "invalid URL", err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, val := range params {
			q.Set(k, val)
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apperrors.NewVenueError(path, 0, "building request", err)
	}
	req.Header.Set("Authorization", "Bearer "+v.token)

	resp, err := v.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConnectionFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, apperrors.NewVenueError(path, resp.StatusCode, strings.TrimSpace(string(b)), nil)
	}
	return resp.Body, nil
}

func parseDecimal(s, field string) (float64, error) {
	if s == "" {
		return 0, apperrors.NewValidationError(field, s, "missing decimal field")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, apperrors.NewValidationError(field, s, "invalid decimal")
	}
	return f, nil
}

// formatPrice renders a price with the venue's expected precision: 3 decimal
// places for JPY-quoted pairs, 5 otherwise.
func formatPrice(symbol string, price float64) string {
	if strings.HasSuffix(symbol, "_JPY") {
		return strconv.FormatFloat(price, 'f', 3, 64)
	}
	return strconv.FormatFloat(price, 'f', 5, 64)
}
