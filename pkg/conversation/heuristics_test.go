package conversation

import (
	"testing"
	"time"
)

func TestEngagement(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"hello world", 100},
		{"a a a a", 27},
		{"", 100},
	}
	for _, tc := range tests {
		if got := engagement(tc.text); got != tc.want {
			t.Fatalf("engagement(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestCoherence(t *testing.T) {
	tests := []struct {
		input, response string
		want            int
	}{
		{"I like jazz", "I like it", 100},
		{"cats", "dogs are fun", 50},
		{"Tell me about rome", "rome is a city in italy", 67},
	}
	for _, tc := range tests {
		if got := coherence(tc.input, tc.response); got != tc.want {
			t.Fatalf("coherence(%q, %q) = %d, want %d", tc.input, tc.response, got, tc.want)
		}
	}
}

func TestResponseTimeScore(t *testing.T) {
	tests := map[time.Duration]int{
		500 * time.Millisecond:  100,
		1000 * time.Millisecond: 100,
		2000 * time.Millisecond: 75,
		3000 * time.Millisecond: 50,
		6000 * time.Millisecond: 0,
	}
	for d, want := range tests {
		if got := responseTimeScore(d); got != want {
			t.Fatalf("responseTimeScore(%v) = %d, want %d", d, got, want)
		}
	}
}
