package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitVotes(t *testing.T) {
	tests := []struct {
		name  string
		recs  Recommendations
		votes int
	}{
		{
			name:  "none",
			recs:  Recommendations{},
			votes: 0,
		},
		{
			name: "three of four",
			recs: Recommendations{
				Fibonacci:         Recommendation{Exit: true},
				TrendMomentum:     Recommendation{Exit: true},
				SupportResistance: Recommendation{Exit: true},
			},
			votes: 3,
		},
		{
			name: "unanimous",
			recs: Recommendations{
				Fibonacci:         Recommendation{Exit: true},
				TrendMomentum:     Recommendation{Exit: true},
				VolumePriceAction: Recommendation{Exit: true},
				SupportResistance: Recommendation{Exit: true},
			},
			votes: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.votes, tt.recs.ExitVotes())
			assert.Equal(t, tt.votes == 4, tt.recs.Unanimous())
		})
	}
}

func TestReasonsSkipsEmpty(t *testing.T) {
	recs := Recommendations{
		Fibonacci:         Recommendation{Exit: true, Reason: "retrace complete"},
		VolumePriceAction: Recommendation{Reason: "volume fading"},
	}
	assert.Equal(t, []string{"retrace complete", "volume fading"}, recs.Reasons())
}
