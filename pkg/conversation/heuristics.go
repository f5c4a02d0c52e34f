package conversation

import (
	"math"
	"strings"
	"time"

	"github.com/vango-go/vai-converse/pkg/core/types"
)

// Score rates a reply with the lexical heuristics used for every turn.
func Score(input, response string, elapsed time.Duration) types.TurnMetrics {
	return types.TurnMetrics{
		Engagement:   engagement(response),
		Coherence:    coherence(input, response),
		ResponseTime: responseTimeScore(elapsed),
	}
}

// engagement rewards lexical variety and length.
func engagement(response string) int {
	words := strings.Split(response, " ")
	unique := make(map[string]struct{}, len(words))
	for _, w := range strings.Split(strings.ToLower(response), " ") {
		unique[w] = struct{}{}
	}
	score := float64(len(unique))/float64(len(words))*100 + float64(len(words))/2
	return int(math.Round(math.Min(100, score)))
}

// coherence rewards reuse of the user's words, from a floor of 50.
func coherence(input, response string) int {
	inputWords := make(map[string]struct{})
	for _, w := range strings.Split(strings.ToLower(input), " ") {
		inputWords[w] = struct{}{}
	}
	responseWords := strings.Split(strings.ToLower(response), " ")
	common := 0
	for _, w := range responseWords {
		if _, ok := inputWords[w]; ok {
			common++
		}
	}
	score := float64(common)/float64(len(responseWords))*100 + 50
	return int(math.Round(math.Min(100, score)))
}

// responseTimeScore maps latency linearly from 100 at 1s to 0 at 5s.
func responseTimeScore(elapsed time.Duration) int {
	ms := float64(elapsed.Milliseconds())
	score := (1 - (ms-1000)/4000) * 100
	return int(math.Round(math.Max(0, math.Min(100, score))))
}
