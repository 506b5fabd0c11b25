// Package notify delivers operator notifications for events that matter when
// nobody is watching the terminal.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"oanda-trader/internal/models"
)

// EventType classifies notifications.
type EventType string

const (
	EventTradeOpened   EventType = "TRADE_OPENED"
	EventTradeClosed   EventType = "TRADE_CLOSED"
	EventEmergencyStop EventType = "EMERGENCY_STOP"
	EventError         EventType = "ERROR"
)

// Notification is a single operator-facing message.
type Notification struct {
	Type      EventType `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier delivers notifications. Delivery is best effort; the trading loop
// never blocks on it.
type Notifier interface {
	Send(ctx context.Context, n Notification)
}

// WebhookNotifier posts notifications as JSON to a webhook URL.
type WebhookNotifier struct {
	url    string
	http   *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier creates a webhook notifier. An empty URL yields a
// notifier that only logs.
func NewWebhookNotifier(url string, logger zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Send delivers the notification. Failures are logged, never returned; a
// notification must not be able to break trading.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	w.logger.Info().
		Str("type", string(n.Type)).
		Str("title", n.Title).
		Msg(n.Message)

	if w.url == "" {
		return
	}

	body, err := json.Marshal(n)
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to encode notification")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to build notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		w.logger.Warn().Err(err).Msg("notification delivery failed")
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		w.logger.Warn().Int("status", resp.StatusCode).Msg("notification rejected by webhook")
	}
}

// TradeClosed builds the standard trade-close notification.
func TradeClosed(trade models.ClosedTrade) Notification {
	return Notification{
		Type:  EventTradeClosed,
		Title: fmt.Sprintf("%s closed: %s", trade.Symbol, trade.Reason),
		Message: fmt.Sprintf("%s %s %.0f units, entry %.5f exit %.5f, P&L %.2f",
			trade.Symbol, trade.Side, trade.Units, trade.EntryPrice, trade.ExitPrice, trade.RealizedPnL),
	}
}

// EmergencyStopped builds the emergency stop notification.
func EmergencyStopped(reason string) Notification {
	return Notification{
		Type:    EventEmergencyStop,
		Title:   "EMERGENCY STOP",
		Message: reason,
	}
}
