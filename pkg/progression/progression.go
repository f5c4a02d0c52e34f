// Package progression computes experience gains and levels from turn metrics.
// Every function is pure; callers persist the results.
package progression

import (
	"math"

	"github.com/vango-go/vai-converse/pkg/core/types"
)

// BaseXP is awarded for every committed turn before the metric bonus.
const BaseXP = 10

// Thresholds[i] is the minimum XP for level i+1.
var Thresholds = []int{0, 100, 300, 600, 1000}

// XPGain returns the experience awarded for one turn.
func XPGain(m types.TurnMetrics) int {
	sum := float64(m.Engagement + m.Coherence + m.ResponseTime)
	return BaseXP + int(math.Round(sum/30))
}

// Level returns the highest level whose threshold xp has reached.
// XP past the last threshold stays at the top level.
func Level(xp int) int {
	level := 1
	for i, threshold := range Thresholds {
		if xp >= threshold {
			level = i + 1
		}
	}
	return level
}

// Apply adds the gain for m to priorXP and derives the resulting level.
func Apply(priorXP int, m types.TurnMetrics) (newXP, newLevel int) {
	newXP = priorXP + XPGain(m)
	return newXP, Level(newXP)
}

// Rating averages the three metrics.
func Rating(m types.TurnMetrics) int {
	return m.Rating()
}

// AverageRating rounds the mean of ratings, or returns 0 for none.
func AverageRating(ratings []int) int {
	if len(ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	return int(math.Round(float64(sum) / float64(len(ratings))))
}
