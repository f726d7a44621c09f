// Package notify delivers post-exit notifications. Delivery is best effort:
// a failed send is logged and never unwinds an already-completed close.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// ExitNotification describes a completed position exit.
type ExitNotification struct {
	UserID     string   `json:"userId"`
	TradeID    string   `json:"tradeId"`
	Symbol     string   `json:"symbol"`
	EntryPrice float64  `json:"entryPrice"`
	ExitPrice  float64  `json:"exitPrice"`
	PnL        float64  `json:"pnl"`
	Reason     string   `json:"reason"`
	Confidence int      `json:"confidence"`
	LLMReasons []string `json:"llmReasons,omitempty"`
}

// Notifier pushes exit notifications to the user-facing channel.
type Notifier interface {
	NotifyExit(ctx context.Context, n ExitNotification) error
}

// LogNotifier writes notifications to the structured log. It is the default
// sink when no external channel is configured.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier returns a Notifier backed by the given logger.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// NotifyExit logs the exit summary. It never fails.
func (n *LogNotifier) NotifyExit(_ context.Context, note ExitNotification) error {
	n.log.Info().
		Str("user_id", note.UserID).
		Str("trade_id", note.TradeID).
		Str("symbol", note.Symbol).
		Float64("entry_price", note.EntryPrice).
		Float64("exit_price", note.ExitPrice).
		Float64("pnl", note.PnL).
		Int("confidence", note.Confidence).
		Str("reason", note.Reason).
		Strs("llm_reasons", note.LLMReasons).
		Msg("position exit notification")
	return nil
}
