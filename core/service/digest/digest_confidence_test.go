package digest

import (
	"math"
	"testing"

	"digest_server/core/domain"
)

func TestConfidenceScore(t *testing.T) {
	scorer := NewConfidenceScorer()

	tests := []struct {
		name      string
		draft     string
		wantScore float64
		wantLevel domain.ConfidenceLevel
	}{
		{
			name:      "plain draft keeps baseline",
			draft:     "Thanks for your note about the roadmap.",
			wantScore: 0.5,
			wantLevel: domain.ConfidenceLow,
		},
		{
			name:      "single filler penalized",
			draft:     "I'll get back to you on this.",
			wantScore: 0.35,
			wantLevel: domain.ConfidenceLow,
		},
		{
			name:      "filler penalty capped",
			draft:     "Let me check. I'll look into it. I'll get back to you soon.",
			wantScore: 0.2,
			wantLevel: domain.ConfidenceLow,
		},
		{
			name:      "timeline raises score",
			draft:     "I will review the proposal and reply by Friday.",
			wantScore: 0.65,
			wantLevel: domain.ConfidenceMedium,
		},
		{
			name:      "committed action raises score",
			draft:     "I've attached the updated contract for your records.",
			wantScore: 0.6,
			wantLevel: domain.ConfidenceMedium,
		},
		{
			name:      "timeline plus action",
			draft:     "I will send the full report by Friday.",
			wantScore: 0.75,
			wantLevel: domain.ConfidenceMedium,
		},
		{
			name:      "filler offset by timeline",
			draft:     "I'll get back to you with the numbers by Friday. I will send them as one file.",
			wantScore: 0.6,
			wantLevel: domain.ConfidenceMedium,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, level := scorer.Score(tt.draft)
			if math.Abs(score-tt.wantScore) > 1e-9 {
				t.Errorf("score = %.4f, want %.4f", score, tt.wantScore)
			}
			if level != tt.wantLevel {
				t.Errorf("level = %q, want %q", level, tt.wantLevel)
			}
		})
	}
}

func TestConfidenceMonotonicTimeline(t *testing.T) {
	scorer := NewConfidenceScorer()

	without, _ := scorer.Score("I'll look into it and reply with details.")
	with, _ := scorer.Score("I'll look into it and reply with details by Friday.")
	if with < without {
		t.Errorf("adding a timeline lowered the score: %.2f -> %.2f", without, with)
	}
}

func TestConfidenceClamped(t *testing.T) {
	scorer := NewConfidenceScorer()

	score, level := scorer.Score("Let me check. I'll look into it. I'll get back to you. Let me get back to you later.")
	if score < 0 {
		t.Errorf("score = %.4f, want >= 0", score)
	}
	if level != domain.ConfidenceLow {
		t.Errorf("level = %q, want %q", level, domain.ConfidenceLow)
	}
}
