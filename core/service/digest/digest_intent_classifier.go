package digest

import (
	"regexp"
	"strings"

	"digest_server/core/domain"
)

// =============================================================================
// Intent Classifier
// =============================================================================

// intentRule is one row of the ordered classification table. A rule matches
// when every set condition holds; the first matching rule decides the label.
type intentRule struct {
	name        string
	requireAuto bool     // sender must look automated
	markers     []string // any-of substring match on subject+body
	needsAction bool     // body must carry an explicit action request
	needsAsk    bool     // context must hold a validated question or action item
	intent      domain.Intent
	necessity   domain.Necessity
	reason      string
	action      string
}

// IntentClassifier assigns exactly one intent label and a necessity level
// per email. Ordered rules, first match wins, no model output involved.
type IntentClassifier struct {
	rules []intentRule
}

var (
	// 자동 발신 주소 패턴
	automatedLocalRe = regexp.MustCompile(`(?i)^(no-?reply|donotreply|notifications?|newsletter|marketing|promo|offers|system|admin|info|alerts?|mailer-daemon|postmaster)(\+[^@]*)?@`)

	automatedDomains = []string{
		"facebookmail.com",
		"linkedin.com",
		"twitter.com",
		"x.com",
		"instagram.com",
		"pinterest.com",
	}

	actionRequestRe = regexp.MustCompile(`(?i)\b(action\s+(required|needed)|you\s+(need|must|have)\s+to|click\s+(here|below|the\s+link)\s+to\s+(confirm|verify|complete|activate))\b`)
)

// NewIntentClassifier builds the rule table in decision order.
func NewIntentClassifier() *IntentClassifier {
	c := &IntentClassifier{}
	c.initRules()
	return c
}

func (c *IntentClassifier) initRules() {
	c.rules = []intentRule{
		{
			name:        "automated_action_required",
			requireAuto: true,
			needsAction: true,
			intent:      domain.IntentNotifActionReq,
			necessity:   domain.NecessityActionOnly,
			reason:      "automated sender asking for an explicit action",
			action:      "Complete the requested action on the originating service instead of replying.",
		},
		{
			name:        "automated_transactional",
			requireAuto: true,
			markers:     []string{"receipt", "invoice", "order confirmation", "payment received"},
			intent:      domain.IntentTransactional,
			necessity:   domain.NecessityNotNeeded,
			reason:      "automated transactional record",
		},
		{
			name:        "automated_notification",
			requireAuto: true,
			intent:      domain.IntentNotification,
			necessity:   domain.NecessityNotNeeded,
			reason:      "automated sender with no action request",
		},
		{
			name:      "announcement",
			markers:   []string{"save the date", "join us", "upcoming event", "we're excited to announce"},
			intent:    domain.IntentAnnouncement,
			necessity: domain.NecessityOptional,
			reason:    "event or announcement wording",
		},
		{
			name:      "marketing",
			markers:   []string{"exclusive offer", "limited time", "shop now", "buy now"},
			intent:    domain.IntentMarketing,
			necessity: domain.NecessityNotNeeded,
			reason:    "promotional wording",
		},
		{
			name:      "newsletter",
			markers:   []string{"newsletter", "digest", "weekly update", "unsubscribe"},
			intent:    domain.IntentNewsletter,
			necessity: domain.NecessityNotNeeded,
			reason:    "recurring newsletter wording",
		},
		{
			name:      "invitation",
			markers:   []string{"you're invited", "rsvp", "please join us"},
			intent:    domain.IntentInvitation,
			necessity: domain.NecessityOptional,
			reason:    "invitation with an rsvp ask",
		},
		{
			name:      "security_alert",
			markers:   []string{"suspicious sign-in", "suspicious login", "verify your account", "security alert", "unauthorized"},
			intent:    domain.IntentSecurityAlert,
			necessity: domain.NecessityNotNeeded,
			reason:    "credential or account security warning",
			action:    "Review the alert on the originating platform. Never respond to security emails directly.",
		},
		{
			name:      "transactional",
			markers:   []string{"receipt", "invoice", "order confirmation", "payment received"},
			intent:    domain.IntentTransactional,
			necessity: domain.NecessityNotNeeded,
			reason:    "transactional record",
		},
		{
			name:      "substantive",
			needsAsk:  true,
			intent:    domain.IntentSubstantive,
			necessity: domain.NecessityRequired,
			reason:    "contains a validated question or action item directed at you",
		},
		{
			name:      "default_notification",
			intent:    domain.IntentNotification,
			necessity: domain.NecessityNotNeeded,
			reason:    "no reply-worthy content detected",
		},
	}
}

// Classify runs the rule table against one email and its extracted context.
func (c *IntentClassifier) Classify(email *domain.RawEmail, ctx *domain.ExtractedContext) domain.IntentClassification {
	text := strings.ToLower(email.Subject + " " + email.Body)
	auto := isAutomatedSender(email.From)
	asked := len(ctx.ActionItems) > 0 || actionRequestRe.MatchString(email.Body)

	for _, rule := range c.rules {
		if rule.requireAuto && !auto {
			continue
		}
		if rule.needsAction && !asked {
			continue
		}
		if rule.needsAsk && !ctx.HasObligations() {
			continue
		}
		if len(rule.markers) > 0 && !containsAny(text, rule.markers) {
			continue
		}
		return domain.IntentClassification{
			Intent:          rule.intent,
			Necessity:       rule.necessity,
			Reason:          rule.reason,
			SuggestedAction: rule.action,
		}
	}

	// 테이블 마지막 규칙이 항상 매칭되므로 도달하지 않음
	return domain.IntentClassification{
		Intent:    domain.IntentUnknown,
		Necessity: domain.NecessityNotNeeded,
		Reason:    "unclassified",
	}
}

// isAutomatedSender reports whether the address looks like a no-reply or
// bulk-mailing origin.
func isAutomatedSender(from string) bool {
	addr := strings.ToLower(strings.TrimSpace(from))
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = strings.TrimRight(addr[i+1:], ">")
	}
	if automatedLocalRe.MatchString(addr) {
		return true
	}
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		domainPart := addr[i+1:]
		for _, d := range automatedDomains {
			if domainPart == d || strings.HasSuffix(domainPart, "."+d) {
				return true
			}
		}
	}
	return false
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
