package digest

import (
	"context"
	"strings"

	"digest_server/core/domain"
	"digest_server/core/port/out"
	"digest_server/pkg/logger"
)

// =============================================================================
// Priority Scorer
// =============================================================================

const (
	priorityBase        = 0.3
	subjectKeywordBonus = 0.25
	bodyKeywordBonus    = 0.15
	userSignalBonus     = 0.2
	deadlineBonus       = 0.15
	vipBonus            = 0.2
	automatedPenalty    = 0.3

	vipImportanceThreshold = 0.7
	vipReplyThreshold      = 3
)

// defaultUrgentKeywords flag time pressure and breakage in either the
// subject or the body. Per-user keywords are scored separately.
var defaultUrgentKeywords = []string{
	"urgent", "asap", "immediate", "emergency", "critical", "deadline",
	"rush", "quick", "fast", "now", "today", "tomorrow",
	"approve", "approval", "confirm", "confirmation", "respond", "reply",
	"action", "required", "needed", "please",
	"issue", "problem", "error", "bug", "down", "failed", "broken",
	"help", "support", "fix",
}

// PriorityScorer assigns each digest item a deterministic importance score.
// The sender profile store is optional; without it, VIP detection is off
// and everything else still works.
type PriorityScorer struct {
	profiles out.SenderProfileStore
	keywords []string
}

func NewPriorityScorer(profiles out.SenderProfileStore) *PriorityScorer {
	return &PriorityScorer{
		profiles: profiles,
		keywords: defaultUrgentKeywords,
	}
}

// Score computes the priority of one email for one user.
func (s *PriorityScorer) Score(ctx context.Context, user *domain.UserPreference, email *domain.RawEmail, ectx *domain.ExtractedContext) domain.Priority {
	score := priorityBase
	subject := strings.ToLower(email.Subject)
	body := strings.ToLower(email.Body)

	if containsKeyword(subject, s.keywords) {
		score += subjectKeywordBonus
	}
	if containsKeyword(body, s.keywords) {
		score += bodyKeywordBonus
	}
	if s.matchesUserSignals(user, email, subject, body) {
		score += userSignalBonus
	}
	if ectx != nil && ectx.Deadline != "" {
		score += deadlineBonus
	}
	if s.isVIP(ctx, user, email) {
		score += vipBonus
	}
	if isAutomatedSender(email.From) {
		score -= automatedPenalty
	}

	return domain.Priority(score).Clamp()
}

// matchesUserSignals checks the user's own urgent keywords and important
// sender list.
func (s *PriorityScorer) matchesUserSignals(user *domain.UserPreference, email *domain.RawEmail, subject, body string) bool {
	if user == nil {
		return false
	}
	for _, kw := range user.UrgentKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(subject, kw) || strings.Contains(body, kw) {
			return true
		}
	}
	from := strings.ToLower(email.From)
	for _, sender := range user.ImportantSenders {
		sender = strings.ToLower(strings.TrimSpace(sender))
		if sender == "" {
			continue
		}
		// Entries may be full addresses or bare domains ("@corp.example.com").
		if strings.Contains(from, sender) {
			return true
		}
	}
	return false
}

// isVIP consults the interaction graph. Lookup failures quietly score as
// non-VIP so a graph outage never blocks a digest.
func (s *PriorityScorer) isVIP(ctx context.Context, user *domain.UserPreference, email *domain.RawEmail) bool {
	if s.profiles == nil || user == nil {
		return false
	}
	profile, err := s.profiles.Profile(ctx, user.Identity, email.From)
	if err != nil {
		logger.Default().WithError(err).Debug("sender profile lookup failed")
		return false
	}
	if profile == nil {
		return false
	}
	return profile.VIP ||
		profile.ImportanceScore >= vipImportanceThreshold ||
		profile.RepliesDrafted >= vipReplyThreshold
}

func containsKeyword(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
