// Package digest implements the scheduling, batching, and reply pipeline.
package digest

import (
	"regexp"
	"strings"

	"digest_server/core/domain"
)

// =============================================================================
// Context Extractor
// =============================================================================

// ContextExtractor pulls validated questions, action items, and deadlines out
// of an email body. Everything here is deterministic pattern matching; the
// model is never consulted, so a draft built from this output can only
// reference content that is really in the email.
type ContextExtractor struct {
	directedPatterns   []*regexp.Regexp
	rhetoricalPatterns []*regexp.Regexp
	requestPatterns    []*regexp.Regexp
	commitmentPatterns []*regexp.Regexp
	completedPatterns  []*regexp.Regexp
	deadlinePatterns   []*regexp.Regexp
	imperativeVerbs    map[string]bool
}

const (
	maxQuestions     = 3
	maxActionItems   = 3
	maxSnippetLen    = 150
	maxTopicLen      = 100
	minSentenceChars = 10
	minActionChars   = 15
)

var (
	sentenceRe      = regexp.MustCompile(`[^.!?]+[.!?]?`)
	subjectPrefixRe = regexp.MustCompile(`(?i)^\s*(re|fwd|fw)\s*:\s*`)
)

// NewContextExtractor compiles the validation pattern tables.
func NewContextExtractor() *ContextExtractor {
	e := &ContextExtractor{}

	// A question counts only when it is aimed at the recipient.
	e.directedPatterns = compileAll(
		`(?i)\b(can|could|would|will|do|did|have|are)\s+you\b`,
		`(?i)\b(your|you're|you'll|you've)\b`,
		`(?i)\b(what|when|where|how|why)\s+(do|did|will|would|can|could|should)\s+(you|we)\b`,
		`(?i)\bplease\s+(let|tell|send|provide|confirm|advise)\b`,
		`(?i)\bneed\s+(you\s+to|your)\b`,
	)

	// Rhetorical shapes that read as questions but expect no answer.
	e.rhetoricalPatterns = compileAll(
		`(?i)isn't\s+(it|that)\s+(great|amazing|wonderful|exciting)`,
		`(?i)who\s+doesn't\s+(love|want|like)`,
		`(?i)what\s+could\s+be\s+(better|more)`,
		`(?i)\b(right|correct)\s*\?\s*$`,
	)

	// Requests directed at the recipient.
	e.requestPatterns = compileAll(
		`(?i)\b(please|kindly|could\s+you|can\s+you|would\s+you)\b[^.!?]*\b(upload|send|provide|submit|complete|review|confirm|fill|click|share|update|schedule)\b`,
		`(?i)\byou\s+(need|must|should|have)\s+to\b`,
		`(?i)\baction\s+(required|needed)\b`,
	)

	// The sender promising to do something is not a request of the recipient.
	e.commitmentPatterns = compileAll(
		`(?i)\b(i\s+will|i'll|we\s+will|we'll|i\s+am|i'm|we\s+are|we're)\b`,
		`(?i)\b(i|we)\s+(have|has)\s+(sent|attached|completed|finished|uploaded|submitted)\b`,
	)

	// Already-done phrasing disqualifies a sentence as an open obligation.
	e.completedPatterns = compileAll(
		`(?i)\b(has|have|was|were)\s+been\s+\w+(ed|en)\b`,
		`(?i)\balready\s+(sent|done|completed|submitted|handled)\b`,
	)

	e.deadlinePatterns = compileAll(
		`(?i)\b(by|before|until|due)\s+(today|tomorrow|tonight|monday|tuesday|wednesday|thursday|friday|saturday|sunday|eod|end\s+of\s+(day|week|month)|\d{1,2}[/-]\d{1,2}(?:[/-]\d{2,4})?)\b`,
		`(?i)\bdeadline\s+(is\s+|of\s+)?\w+(\s+\d{1,2})?`,
		`(?i)\b(asap|urgently|immediately|right\s+away|as\s+soon\s+as\s+possible)\b`,
		`(?i)\b(this|next)\s+(week|month|quarter)\b`,
	)

	e.imperativeVerbs = map[string]bool{
		"upload": true, "send": true, "provide": true, "submit": true,
		"complete": true, "review": true, "confirm": true, "fill": true,
		"click": true, "download": true, "register": true, "attend": true,
		"join": true, "visit": true, "check": true, "update": true,
		"install": true, "contact": true, "call": true, "email": true,
		"reply": true, "schedule": true,
	}

	return e
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// Extract runs the full validation pipeline over one email.
func (e *ContextExtractor) Extract(email *domain.RawEmail) domain.ExtractedContext {
	body := strings.TrimSpace(email.Body)
	if body == "" || len(body) < minSentenceChars || len(strings.Fields(body)) < 3 {
		ctx := domain.FailedContext()
		ctx.AttachmentCount = email.AttachmentCount
		if topic := e.topicFromSubject(email.Subject); topic != "" {
			ctx.MainTopic = topic
		}
		return ctx
	}

	sentences := splitSentences(body)

	var kept []string // sentences that produced a question or action item
	questions := e.extractQuestions(sentences, &kept)
	actions := e.extractActionItems(sentences, &kept)

	return domain.ExtractedContext{
		Questions:             questions,
		ActionItems:           actions,
		Deadline:              e.extractDeadline(kept),
		MainTopic:             e.extractMainTopic(email.Subject, sentences),
		AttachmentCount:       email.AttachmentCount,
		ExtractedSuccessfully: true,
	}
}

// extractQuestions keeps '?' sentences that are directed at the recipient
// and survive the rhetorical filter.
func (e *ContextExtractor) extractQuestions(sentences []string, kept *[]string) []string {
	questions := []string{}
	for _, s := range sentences {
		if len(questions) >= maxQuestions {
			break
		}
		if !strings.HasSuffix(s, "?") || len(s) < minSentenceChars {
			continue
		}
		if !matchesAny(e.directedPatterns, s) {
			continue
		}
		if matchesAny(e.rhetoricalPatterns, s) {
			continue
		}
		questions = append(questions, snippet(s, maxSnippetLen))
		*kept = append(*kept, s)
	}
	return questions
}

// extractActionItems keeps request sentences and imperative openings, and
// rejects sender commitments and completed work. A directed question that
// also asks for something ("Could you send...?") lands in both lists.
func (e *ContextExtractor) extractActionItems(sentences []string, kept *[]string) []string {
	actions := []string{}
	for _, s := range sentences {
		if len(actions) >= maxActionItems {
			break
		}
		if len(s) < minActionChars {
			continue
		}
		if !matchesAny(e.requestPatterns, s) && !e.startsImperative(s) {
			continue
		}
		if matchesAny(e.commitmentPatterns, s) {
			continue
		}
		if matchesAny(e.completedPatterns, s) {
			continue
		}
		actions = append(actions, snippet(s, maxSnippetLen))
		*kept = append(*kept, s)
	}
	return actions
}

// startsImperative reports whether the sentence opens with a request verb,
// optionally after "please".
func (e *ContextExtractor) startsImperative(sentence string) bool {
	words := strings.Fields(strings.ToLower(sentence))
	if len(words) == 0 {
		return false
	}
	first := strings.Trim(words[0], ",.:;")
	if first == "please" && len(words) > 1 {
		first = strings.Trim(words[1], ",.:;")
	}
	return e.imperativeVerbs[first]
}

// extractDeadline returns the first time-bound phrase found in a sentence
// that also produced a question or action item. A deadline with no kept
// obligation is noise and stays out of the context.
func (e *ContextExtractor) extractDeadline(kept []string) string {
	for _, s := range kept {
		for _, re := range e.deadlinePatterns {
			if m := re.FindString(s); m != "" {
				return strings.TrimSpace(m)
			}
		}
	}
	return ""
}

func (e *ContextExtractor) extractMainTopic(subject string, sentences []string) string {
	if topic := e.topicFromSubject(subject); topic != "" {
		return topic
	}
	for _, s := range sentences {
		if len(s) > 20 && len(s) < 150 {
			return s
		}
	}
	return "your email"
}

func (e *ContextExtractor) topicFromSubject(subject string) string {
	cleaned := subject
	for {
		next := subjectPrefixRe.ReplaceAllString(cleaned, "")
		if next == cleaned {
			break
		}
		cleaned = next
	}
	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) > 10 {
		if len(cleaned) > maxTopicLen {
			return cleaned[:maxTopicLen]
		}
		return cleaned
	}
	return ""
}

// splitSentences cuts text on sentence-final punctuation, keeping the
// terminator attached so question detection still sees the '?'.
func splitSentences(text string) []string {
	raw := sentenceRe.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func snippet(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
