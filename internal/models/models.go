// Package models provides domain models for the trading agent.
package models

import (
	"time"
)

// Side represents the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the closing side for a position side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// CloseReason explains why a position was closed.
type CloseReason string

const (
	CloseStopLoss      CloseReason = "Stop Loss"
	CloseTakeProfit    CloseReason = "Take Profit"
	CloseTimeLimit     CloseReason = "Time Limit"
	CloseManual        CloseReason = "Manual"
	CloseEmergencyStop CloseReason = "Emergency Stop"
	CloseShutdown      CloseReason = "Shutdown"
)

// PriceUpdate is a normalized price tick published by the ingestion layer.
type PriceUpdate struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Timestamp time.Time
}

// Mid returns the mid price of the update.
func (p PriceUpdate) Mid() float64 {
	return (p.Bid + p.Ask) / 2
}

// AccountSummary is the venue's view of the trading account.
type AccountSummary struct {
	Balance         float64
	Equity          float64
	MarginAvailable float64
	Currency        string
	Timestamp       time.Time
}

// OrderRequest describes a market order to place at the venue.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Units      float64
	StopLoss   float64 // 0 = none
	TakeProfit float64 // 0 = none
}

// OrderResult is the venue's response to a market order.
type OrderResult struct {
	Filled    bool
	FillPrice float64
	TradeID   string
}

// TransactionType identifies venue transaction stream events.
type TransactionType string

const (
	TxOrderFill        TransactionType = "ORDER_FILL"
	TxTradeClose       TransactionType = "TRADE_CLOSE"
	TxStopLossFilled   TransactionType = "STOP_LOSS_FILLED"
	TxTakeProfitFilled TransactionType = "TAKE_PROFIT_FILLED"
)

// Transaction is a venue transaction stream event.
type Transaction struct {
	Type      TransactionType
	TradeID   string
	Symbol    string
	Price     float64
	Units     float64
	Timestamp time.Time
}
