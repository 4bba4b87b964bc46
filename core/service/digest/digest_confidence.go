package digest

import (
	"regexp"
	"strings"

	"digest_server/core/domain"
)

// =============================================================================
// Reply Confidence Scorer
// =============================================================================

const (
	confidenceBaseline = 0.5
	fillerPenalty      = 0.15
	maxFillerPenalty   = 0.30
	timelineBonus      = 0.15
	actionBonus        = 0.10
)

// ConfidenceScorer rates how committal a draft reply is. Vague filler pulls
// the score down, a concrete timeline or a committed action pushes it up.
type ConfidenceScorer struct {
	fillerPhrases    []string
	timelinePatterns []*regexp.Regexp
	actionPatterns   []*regexp.Regexp
}

func NewConfidenceScorer() *ConfidenceScorer {
	return &ConfidenceScorer{
		fillerPhrases: []string{
			"i'll get back to you",
			"i will get back to you",
			"let me check",
			"i'll look into it",
			"i will look into it",
			"let me get back to you",
		},
		timelinePatterns: compileAll(
			`(?i)\bby\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|tonight|eod|end\s+of\s+(day|week|month))\b`,
			`(?i)\bby\s+eod\s+\w+`,
			`(?i)\bwithin\s+\d+\s+(hour|day|week)s?\b`,
			`(?i)\bby\s+\d{1,2}(:\d{2})?\s*(am|pm)\b`,
		),
		actionPatterns: compileAll(
			`(?i)\bi('ve|\s+have)\s+(attached|included|added|confirmed|scheduled|booked)\b`,
			`(?i)\bi('ll|\s+will)\s+(send|share|upload|submit|forward)\b`,
			`(?i)\bi('ve|\s+have)\s+(sent|shared|uploaded|submitted|forwarded)\b`,
		),
	}
}

// Score rates one draft and maps it onto a confidence level.
func (s *ConfidenceScorer) Score(draft string) (float64, domain.ConfidenceLevel) {
	score := confidenceBaseline
	lower := strings.ToLower(draft)

	penalty := 0.0
	for _, phrase := range s.fillerPhrases {
		if strings.Contains(lower, phrase) {
			penalty += fillerPenalty
		}
	}
	if penalty > maxFillerPenalty {
		penalty = maxFillerPenalty
	}
	score -= penalty

	if matchesAny(s.timelinePatterns, draft) {
		score += timelineBonus
	}
	if matchesAny(s.actionPatterns, draft) {
		score += actionBonus
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, domain.ConfidenceLevelFor(score)
}
