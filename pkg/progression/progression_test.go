package progression

import (
	"testing"

	"github.com/vango-go/vai-converse/pkg/core/types"
)

func TestXPGain(t *testing.T) {
	tests := []struct {
		m    types.TurnMetrics
		want int
	}{
		{types.TurnMetrics{Engagement: 90, Coherence: 80, ResponseTime: 70}, 18},
		{types.TurnMetrics{}, 10},
		{types.TurnMetrics{Engagement: 100, Coherence: 100, ResponseTime: 100}, 20},
		// 45/30 = 1.5 rounds away from zero.
		{types.TurnMetrics{Engagement: 15, Coherence: 15, ResponseTime: 15}, 12},
	}
	for _, tc := range tests {
		if got := XPGain(tc.m); got != tc.want {
			t.Fatalf("XPGain(%+v) = %d, want %d", tc.m, got, tc.want)
		}
	}
}

func TestLevel(t *testing.T) {
	tests := map[int]int{
		0:    1,
		99:   1,
		100:  2,
		299:  2,
		300:  3,
		599:  3,
		600:  4,
		999:  4,
		1000: 5,
		5000: 5,
	}
	for xp, want := range tests {
		if got := Level(xp); got != want {
			t.Fatalf("Level(%d) = %d, want %d", xp, got, want)
		}
	}
}

func TestLevel_MonotonicInXP(t *testing.T) {
	prev := Level(0)
	for xp := 1; xp <= 1500; xp++ {
		got := Level(xp)
		if got < prev {
			t.Fatalf("Level(%d) = %d dropped below %d", xp, got, prev)
		}
		prev = got
	}
}

func TestApply(t *testing.T) {
	xp, level := Apply(90, types.TurnMetrics{Engagement: 90, Coherence: 80, ResponseTime: 70})
	if xp != 108 || level != 2 {
		t.Fatalf("Apply = (%d, %d), want (108, 2)", xp, level)
	}
}

func TestRating(t *testing.T) {
	if got := Rating(types.TurnMetrics{Engagement: 80, Coherence: 60, ResponseTime: 40}); got != 60 {
		t.Fatalf("Rating = %d, want 60", got)
	}
}

func TestAverageRating(t *testing.T) {
	if got := AverageRating(nil); got != 0 {
		t.Fatalf("AverageRating(nil) = %d", got)
	}
	if got := AverageRating([]int{60, 71}); got != 66 {
		t.Fatalf("AverageRating = %d, want 66", got)
	}
}
