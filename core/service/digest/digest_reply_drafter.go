package digest

import (
	"context"
	"fmt"
	"strings"

	"digest_server/core/domain"
	"digest_server/pkg/logger"
)

// =============================================================================
// Reply Drafter
// =============================================================================

const optionalAckConfidence = 0.60

// DraftPolisher refines a deterministic draft through one model call.
// 구현체: core/agent/llm Client
type DraftPolisher interface {
	PolishDraft(ctx context.Context, subject, draft string) (string, error)
}

// ReplyDrafter turns a classification plus validated context into a reply
// candidate. Drafts reference only extracted fields, never model output,
// so nothing appears in a draft that is not in the source email. The
// optional polish pass rewrites tone but adds no information.
type ReplyDrafter struct {
	scorer        *ConfidenceScorer
	polisher      DraftPolisher
	polishEnabled bool
}

func NewReplyDrafter(scorer *ConfidenceScorer, polisher DraftPolisher, polishEnabled bool) *ReplyDrafter {
	return &ReplyDrafter{
		scorer:        scorer,
		polisher:      polisher,
		polishEnabled: polishEnabled && polisher != nil,
	}
}

// Draft produces the reply candidate for one classified email. Returns nil
// when the necessity level rules a reply out entirely.
func (d *ReplyDrafter) Draft(ctx context.Context, email *domain.RawEmail, cls domain.IntentClassification, ectx domain.ExtractedContext) *domain.ReplyCandidate {
	switch cls.Necessity {
	case domain.NecessityRequired:
		return d.contentSpecific(ctx, email, ectx)
	case domain.NecessityOptional:
		return d.optionalAck(cls.Intent, ectx.MainTopic)
	case domain.NecessityActionOnly:
		return &domain.ReplyCandidate{
			Method:     domain.ReplyNotNeeded,
			Confidence: 0,
			Level:      domain.ConfidenceLevelFor(0),
		}
	default:
		return nil
	}
}

func (d *ReplyDrafter) contentSpecific(ctx context.Context, email *domain.RawEmail, ectx domain.ExtractedContext) *domain.ReplyCandidate {
	text := composeDraft(ectx)

	if d.polishEnabled {
		polished, err := d.polisher.PolishDraft(ctx, email.Subject, text)
		if err != nil {
			logger.Default().WithError(err).WithField("external_id", email.ExternalID).
				Warn("draft polish failed, keeping deterministic draft")
		} else if polished != "" {
			text = polished
		}
	}

	score, level := d.scorer.Score(text)
	return &domain.ReplyCandidate{
		Draft:      text,
		Method:     domain.ReplyContentSpecific,
		Confidence: score,
		Level:      level,
	}
}

// composeDraft assembles the deterministic reply body from validated
// context fields only.
func composeDraft(ectx domain.ExtractedContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Thank you for your email about %s.\n", ectx.MainTopic)

	for _, q := range ectx.Questions {
		fmt.Fprintf(&b, "\nRegarding %q - I'll get back to you on this.\n", q)
	}

	if len(ectx.ActionItems) > 0 {
		b.WriteString("\nI'll take care of the following:\n")
		for _, a := range ectx.ActionItems {
			fmt.Fprintf(&b, "- %s\n", a)
		}
		b.WriteString("I will send a confirmation once this is done.\n")
	}

	if ectx.Deadline != "" {
		fmt.Fprintf(&b, "\nI've noted the deadline (%s) and will plan around it.\n", ectx.Deadline)
	}

	b.WriteString("\nBest regards")
	return b.String()
}

// optionalAck returns the fixed courtesy text for intents where replying is
// polite but not expected. The scorer is deliberately not consulted.
func (d *ReplyDrafter) optionalAck(intent domain.Intent, topic string) *domain.ReplyCandidate {
	var text string
	switch intent {
	case domain.IntentAnnouncement:
		text = fmt.Sprintf("Thanks for the heads up! Looking forward to %s.", topic)
	case domain.IntentInvitation:
		text = "Thanks for the invitation! I'll let you know if I can attend."
	default:
		text = "Thanks for your email!"
	}
	return &domain.ReplyCandidate{
		Draft:      text,
		Method:     domain.ReplyOptionalAck,
		Confidence: optionalAckConfidence,
		Level:      domain.ConfidenceLevelFor(optionalAckConfidence),
	}
}
