package monitor

import (
	"fmt"
	"math"
	"time"

	"github.com/scalpline/mt4-scalper/internal/models"
)

// Exit-policy thresholds. Tuned for one-minute ticks on scalping positions.
const (
	// ProfitProtectThreshold skips LLM evaluation once this share of the
	// distance to take-profit has been covered.
	ProfitProtectThreshold = 0.40
	// StagnantLossThreshold forces an exit once a loser has traveled this
	// share of the distance to its stop.
	StagnantLossThreshold = 0.50
	// StagnantMinAge is the minimum open time before the stagnant-loser
	// rule applies.
	StagnantMinAge = 10 * time.Minute
	// StagnantConfidence is the confidence recorded on forced exits.
	StagnantConfidence = 80
)

// Monitor eligibility. Other symbols and strategies pass through untouched.
const (
	scopeSymbol   = "BTCUSDT"
	scopeCategory = "FIBONACCI_SCALPING"
)

// inScope reports whether the monitor owns exit decisions for this position.
func inScope(pos *models.MonitoredPosition) bool {
	return pos.Symbol == scopeSymbol && pos.EntrySignalData.Category == scopeCategory
}

// progressToTP returns the signed share of the entry-to-take-profit distance
// already covered, respecting side direction. Returns ok=false when the
// take-profit is unset or degenerate.
func progressToTP(doc *models.PositionDocument, currentPrice float64) (float64, bool) {
	if doc.TakeProfit == 0 || doc.EntryPrice == 0 {
		return 0, false
	}
	span := math.Abs(doc.TakeProfit - doc.EntryPrice)
	if span == 0 {
		return 0, false
	}
	return (currentPrice - doc.EntryPrice) * doc.Side.Direction() / span, true
}

// progressToSL returns the signed share of the entry-to-stop distance already
// covered, respecting side direction. Returns ok=false when the stop is unset
// or degenerate.
func progressToSL(doc *models.PositionDocument, currentPrice float64) (float64, bool) {
	if doc.StopLoss == 0 || doc.EntryPrice == 0 {
		return 0, false
	}
	span := math.Abs(doc.EntryPrice - doc.StopLoss)
	if span == 0 {
		return 0, false
	}
	return (doc.EntryPrice - currentPrice) * doc.Side.Direction() / span, true
}

// pnlPercent is profit as a percentage of position value (entry price times
// lot size). When position value is degenerate it falls back to raw price
// change percent.
func pnlPercent(doc *models.PositionDocument, currentPrice, profit float64) float64 {
	positionValue := doc.EntryPrice * doc.LotSize
	if positionValue > 0 {
		return profit / positionValue * 100
	}
	if doc.EntryPrice > 0 {
		return (currentPrice - doc.EntryPrice) / doc.EntryPrice * doc.Side.Direction() * 100
	}
	return 0
}

// stagnantReason formats the forced-exit reason for a stagnant loser.
func stagnantReason(age time.Duration, progress float64) string {
	return fmt.Sprintf("Stagnant loser: %dmin open, %.0f%% to SL",
		int(age.Minutes()), progress*100)
}
