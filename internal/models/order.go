// Package models defines the broker-side and monitor-side data types shared
// across the MT4 execution subsystem.
package models

import (
	"time"
)

// Side is an order direction as reported by the MT4 bridge.
type Side string

const (
	// SideBuy is a long position.
	SideBuy Side = "buy"
	// SideSell is a short position.
	SideSell Side = "sell"
)

// Direction returns +1 for buys and -1 for sells, used when normalizing
// price movement toward take-profit or stop-loss.
func (s Side) Direction() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// OrderStatus is the lifecycle state of a broker order.
type OrderStatus string

const (
	// OrderStatusOpen marks a live position.
	OrderStatusOpen OrderStatus = "open"
	// OrderStatusClosed marks a terminal position. CloseTime must be set.
	OrderStatusClosed OrderStatus = "closed"
	// OrderStatusPending marks a submitted but unfilled order.
	OrderStatusPending OrderStatus = "pending"
)

// Order is the broker-side record of a position as reported by the bridge.
// Prices are in the symbol's quote currency; profit, swap and commission are
// in the account currency.
type Order struct {
	Ticket       int64       `json:"ticket"`
	Symbol       string      `json:"symbol"`
	Side         Side        `json:"side"`
	Volume       float64     `json:"volume"`
	OpenPrice    float64     `json:"openPrice"`
	CurrentPrice float64     `json:"currentPrice,omitempty"`
	StopLoss     float64     `json:"stopLoss,omitempty"`
	TakeProfit   float64     `json:"takeProfit,omitempty"`
	Profit       float64     `json:"profit"`
	Swap         float64     `json:"swap"`
	Commission   float64     `json:"commission"`
	OpenTime     time.Time   `json:"openTime"`
	CloseTime    *time.Time  `json:"closeTime,omitempty"`
	Status       OrderStatus `json:"status"`
	MagicNumber  int         `json:"magicNumber,omitempty"`
}

// IsClosed reports whether the order has reached a terminal state.
func (o *Order) IsClosed() bool {
	return o.Status == OrderStatusClosed
}

// MarkClosed forces terminal state while preserving the closeTime invariant:
// status = closed implies a non-nil close time.
func (o *Order) MarkClosed(at time.Time) {
	o.Status = OrderStatusClosed
	if o.CloseTime == nil {
		t := at
		o.CloseTime = &t
	}
}

// AccountSnapshot is a point-in-time view of the MT4 account.
type AccountSnapshot struct {
	AccountNumber int64   `json:"accountNumber"`
	Broker        string  `json:"broker"`
	Currency      string  `json:"currency"`
	Balance       float64 `json:"balance"`
	Equity        float64 `json:"equity"`
	Margin        float64 `json:"margin"`
	FreeMargin    float64 `json:"freeMargin"`
	MarginLevel   float64 `json:"marginLevel"`
	Profit        float64 `json:"profit"`
}

// FillMarginLevel computes marginLevel = equity / margin * 100, or 0 when no
// margin is in use.
func (a *AccountSnapshot) FillMarginLevel() {
	if a.Margin > 0 {
		a.MarginLevel = a.Equity / a.Margin * 100
	} else {
		a.MarginLevel = 0
	}
}

// SymbolInfo describes a tradeable broker symbol.
type SymbolInfo struct {
	Symbol      string  `json:"symbol"`
	Description string  `json:"description"`
	Digits      int     `json:"digits"`
	Point       float64 `json:"point"`
	Spread      float64 `json:"spread"`
	Bid         float64 `json:"bid"`
	Ask         float64 `json:"ask"`
}

// PriceQuote is a live bid/ask snapshot. Never cached: scalping entries and
// exits are priced off the freshest quote available.
type PriceQuote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Spread float64 `json:"spread"`
}

// CloseAllResult summarizes a close-all sweep. The bridge is authoritative
// for the counts.
type CloseAllResult struct {
	Closed      int     `json:"closed"`
	Failed      int     `json:"failed"`
	TotalProfit float64 `json:"totalProfit"`
}

// BridgeStatus reports bridge-process liveness. Connected is true only when
// the bridge itself confirms its ZeroMQ link to the MT4 terminal.
type BridgeStatus struct {
	Connected bool   `json:"connected"`
	BridgeURL string `json:"bridgeUrl,omitempty"`
	Error     string `json:"error,omitempty"`
}
