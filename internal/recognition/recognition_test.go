package recognition

import (
	"testing"

	"github.com/kozaktomas/face-attendance/internal/index"
)

func TestPolicy_Decide(t *testing.T) {
	p := NewPolicy(0.65)

	tests := []struct {
		name  string
		match index.Match
		want  string
	}{
		{"below threshold", index.Match{Identity: "alice", Similarity: 0.649999}, "Unknown"},
		{"at threshold", index.Match{Identity: "alice", Similarity: 0.65}, "alice"},
		{"above threshold", index.Match{Identity: "alice", Similarity: 0.91}, "alice"},
		{"negative", index.Match{Identity: "alice", Similarity: -0.2}, "Unknown"},
		{"no match", index.NoMatch, "Unknown"},
		{"empty identity", index.Match{Similarity: 0.99}, "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Decide(tt.match); got != tt.want {
				t.Errorf("Decide(%+v) = %q, want %q", tt.match, got, tt.want)
			}
		})
	}
}

func TestApplyLiveness(t *testing.T) {
	tests := []struct {
		identity string
		live     bool
		want     string
	}{
		{"alice", true, "alice"},
		{"alice", false, "Spoof Detected"},
		{"Unknown", true, "Unknown"},
		{"Unknown", false, "Spoof Detected"},
	}

	for _, tt := range tests {
		t.Run(tt.identity, func(t *testing.T) {
			if got := ApplyLiveness(tt.identity, tt.live); got != tt.want {
				t.Errorf("ApplyLiveness(%q, %v) = %q, want %q", tt.identity, tt.live, got, tt.want)
			}
		})
	}
}

func TestMarkable(t *testing.T) {
	tests := []struct {
		identity string
		want     bool
	}{
		{"alice", true},
		{"Unknown", false},
		{"Spoof Detected", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.identity, func(t *testing.T) {
			if got := Markable(tt.identity); got != tt.want {
				t.Errorf("Markable(%q) = %v, want %v", tt.identity, got, tt.want)
			}
		})
	}
}
