package models

import (
	"time"
)

// Position document statuses. A document stays "open" while an MT4 position
// is expected to exist for it; reconciliation closes documents whose tickets
// have vanished from the bridge.
const (
	PositionStatusOpen      = "open"
	PositionStatusClosed    = "closed"
	PositionStatusCancelled = "cancelled"
)

// CloseReasonAlreadyClosed is recorded when reconciliation finds the MT4
// position gone before the monitor could act on it.
const CloseReasonAlreadyClosed = "mt4-already-closed"

// CloseReasonEarlyExitLLM is recorded when the monitor closes a position off
// an exit signal (or the stagnant-loser override).
const CloseReasonEarlyExitLLM = "early-exit-llm"

// EntrySignalData is the strategy context captured at entry time. Only
// Category participates in monitor scoping; the rest rides along for the
// exit-signal generator and post-trade notes.
type EntrySignalData struct {
	Category  string            `json:"category"`
	Direction string            `json:"direction,omitempty"`
	Timeframe string            `json:"timeframe,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MonitoredPosition is the in-memory registry entry owned exclusively by the
// position monitor. The persisted counterpart is PositionDocument.
type MonitoredPosition struct {
	TradeID         string
	UserID          string
	AgentID         string
	Symbol          string
	EntryPrice      float64
	CurrentPrice    float64
	EntryTime       time.Time
	EntrySignalData EntrySignalData
	LastCheckTime   time.Time
	MT4Ticket       int64
}

// PositionDocument is the persisted position state. The monitor writes
// CurrentPrice and Profit; liveness fields (Status, the activation flags)
// are owned by the external MT4 trade manager, so monitor writes must stay
// on disjoint fields.
type PositionDocument struct {
	TradeID               string          `json:"tradeId"`
	UserID                string          `json:"userId"`
	AgentID               string          `json:"agentId"`
	Symbol                string          `json:"symbol"`
	Side                  Side            `json:"side"`
	Status                string          `json:"status"`
	MT4Ticket             int64           `json:"mt4Ticket"`
	EntryPrice            float64         `json:"entryPrice"`
	CurrentPrice          float64         `json:"currentPrice"`
	Profit                float64         `json:"profit"`
	LotSize               float64         `json:"lotSize"`
	StopLoss              float64         `json:"stopLoss,omitempty"`
	TakeProfit            float64         `json:"takeProfit,omitempty"`
	BreakEvenActivated    bool            `json:"breakEvenActivated"`
	TrailingStopActivated bool            `json:"trailingStopActivated"`
	OpenTime              time.Time       `json:"openTime"`
	ClosedAt              *time.Time      `json:"closedAt,omitempty"`
	CloseReason           string          `json:"closeReason,omitempty"`
	EntrySignalData       EntrySignalData `json:"entrySignalData"`
}

// MarkClosed transitions the document to closed with the given reason.
func (d *PositionDocument) MarkClosed(at time.Time, reason string) {
	d.Status = PositionStatusClosed
	t := at
	d.ClosedAt = &t
	d.CloseReason = reason
}

// TradeRecord is the cross-subsystem trade ledger entry. The monitor only
// updates the close annotations and realized P&L; Status stays "filled".
type TradeRecord struct {
	TradeID          string    `json:"tradeId"`
	UserID           string    `json:"userId"`
	AgentID          string    `json:"agentId"`
	Symbol           string    `json:"symbol"`
	Status           string    `json:"status"`
	CloseReason      string    `json:"closeReason,omitempty"`
	PerformanceNotes string    `json:"performanceNotes,omitempty"`
	PnL              float64   `json:"pnl"`
	UpdatedAt        time.Time `json:"updatedAt"`
}
