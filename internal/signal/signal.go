// Package signal defines the exit-signal contract between the position
// monitor and the LLM analyzer panel. The generator itself is an external
// collaborator; this package only fixes the shapes flowing across it.
package signal

import (
	"context"

	"github.com/scalpline/mt4-scalper/internal/models"
)

// ExitType selects how much of a position an exit signal targets.
type ExitType string

const (
	// ExitFull closes the whole position.
	ExitFull ExitType = "FULL"
	// ExitPartial requests a partial close. The bridge close endpoint only
	// supports full closes, so callers promote PARTIAL to FULL.
	ExitPartial ExitType = "PARTIAL"
)

// Recommendation is a single analyzer's vote.
type Recommendation struct {
	Exit   bool   `json:"exit"`
	Reason string `json:"reason"`
}

// Recommendations holds the four analyzer votes backing an exit signal.
type Recommendations struct {
	Fibonacci         Recommendation `json:"fibonacci"`
	TrendMomentum     Recommendation `json:"trendMomentum"`
	VolumePriceAction Recommendation `json:"volumePriceAction"`
	SupportResistance Recommendation `json:"supportResistance"`
}

// ExitVotes counts how many analyzers voted to exit, out of four.
func (r Recommendations) ExitVotes() int {
	votes := 0
	for _, rec := range []Recommendation{
		r.Fibonacci, r.TrendMomentum, r.VolumePriceAction, r.SupportResistance,
	} {
		if rec.Exit {
			votes++
		}
	}
	return votes
}

// Unanimous reports whether all four analyzers voted to exit.
func (r Recommendations) Unanimous() bool {
	return r.ExitVotes() == 4
}

// Reasons returns the non-empty per-analyzer reasons in a fixed order, for
// notification payloads.
func (r Recommendations) Reasons() []string {
	var out []string
	for _, rec := range []Recommendation{
		r.Fibonacci, r.TrendMomentum, r.VolumePriceAction, r.SupportResistance,
	} {
		if rec.Reason != "" {
			out = append(out, rec.Reason)
		}
	}
	return out
}

// ExitSignal is the panel's aggregated recommendation for one position.
type ExitSignal struct {
	ShouldExit            bool            `json:"shouldExit"`
	ExitType              ExitType        `json:"exitType"`
	PartialExitPercentage float64         `json:"partialExitPercentage,omitempty"`
	Confidence            int             `json:"confidence"`
	Reason                string          `json:"reason"`
	LLMRecommendations    Recommendations `json:"llmRecommendations"`
}

// ExitContext is the position state handed to the generator.
type ExitContext struct {
	Symbol     string
	EntryPrice float64
	PnLPercent float64
	Entry      models.EntrySignalData
}

// Generator produces exit signals for open positions.
type Generator interface {
	GenerateExitSignal(ctx context.Context, ec ExitContext) (*ExitSignal, error)
}
