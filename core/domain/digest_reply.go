package domain

// ReplyMethod tags how a draft was produced.
type ReplyMethod string

const (
	// ReplyContentSpecific drafts are composed from validated context fields.
	ReplyContentSpecific ReplyMethod = "content_specific"
	// ReplyOptionalAck is a fixed courtesy acknowledgment for optional intents.
	ReplyOptionalAck ReplyMethod = "optional_acknowledgment"
	// ReplyNotNeeded marks action_only items: the draft is empty and the
	// suggested action on the classification tells the user what to do instead.
	ReplyNotNeeded ReplyMethod = "no_reply_needed"
)

// ConfidenceLevel is the qualitative band for a reply confidence score.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"    // score < 0.60
	ConfidenceMedium ConfidenceLevel = "medium" // 0.60 <= score < 0.80
	ConfidenceHigh   ConfidenceLevel = "high"   // score >= 0.80
)

// ConfidenceLevelFor maps a score onto its band.
func ConfidenceLevelFor(score float64) ConfidenceLevel {
	switch {
	case score >= 0.80:
		return ConfidenceHigh
	case score >= 0.60:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ReplyCandidate is a draft the user may send as-is or edit.
type ReplyCandidate struct {
	Draft      string          `json:"draft"`
	Method     ReplyMethod     `json:"method"`
	Confidence float64         `json:"confidence"` // clamped to [0, 1]
	Level      ConfidenceLevel `json:"level"`
}
