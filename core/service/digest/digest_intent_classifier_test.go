package digest

import (
	"testing"

	"digest_server/core/domain"
)

func TestClassifyRuleOrder(t *testing.T) {
	classifier := NewIntentClassifier()
	extractor := NewContextExtractor()

	tests := []struct {
		name          string
		from          string
		subject       string
		body          string
		wantIntent    domain.Intent
		wantNecessity domain.Necessity
	}{
		{
			name:          "automated with action request",
			from:          "noreply@billing.example.com",
			subject:       "Payment method expiring",
			body:          "Your card on file expires soon. You need to update your payment method before Friday.",
			wantIntent:    domain.IntentNotifActionReq,
			wantNecessity: domain.NecessityActionOnly,
		},
		{
			name:          "automated transactional",
			from:          "no-reply@shop.example.com",
			subject:       "Your receipt from Example Shop",
			body:          "Thank you for your purchase. The receipt is attached for your records.",
			wantIntent:    domain.IntentTransactional,
			wantNecessity: domain.NecessityNotNeeded,
		},
		{
			name:          "automated plain notification",
			from:          "notifications@ci.example.com",
			subject:       "Build finished",
			body:          "The nightly build completed without warnings. No further details available.",
			wantIntent:    domain.IntentNotification,
			wantNecessity: domain.NecessityNotNeeded,
		},
		{
			name:          "automated beats marketing markers",
			from:          "marketing@deals.example.com",
			subject:       "Exclusive offer inside",
			body:          "An exclusive offer for loyal customers. Limited time only, while stock lasts.",
			wantIntent:    domain.IntentNotification,
			wantNecessity: domain.NecessityNotNeeded,
		},
		{
			name:          "announcement",
			from:          "colleague@example.com",
			subject:       "Save the date",
			body:          "We're excited to announce our annual summit. Save the date for October 12th.",
			wantIntent:    domain.IntentAnnouncement,
			wantNecessity: domain.NecessityOptional,
		},
		{
			name:          "marketing from human address",
			from:          "sales@vendor.example.com",
			subject:       "A deal for you",
			body:          "This exclusive offer runs through Sunday. Shop now and save twenty percent.",
			wantIntent:    domain.IntentMarketing,
			wantNecessity: domain.NecessityNotNeeded,
		},
		{
			name:          "newsletter",
			from:          "editor@weekly.example.com",
			subject:       "Engineering newsletter, issue 42",
			body:          "Welcome to this week's edition. Unsubscribe at any time from your settings page.",
			wantIntent:    domain.IntentNewsletter,
			wantNecessity: domain.NecessityNotNeeded,
		},
		{
			name:          "invitation",
			from:          "organizer@example.com",
			subject:       "Team offsite",
			body:          "You're invited to the Q4 offsite in Busan. RSVP by the end of the week.",
			wantIntent:    domain.IntentInvitation,
			wantNecessity: domain.NecessityOptional,
		},
		{
			name:          "security alert",
			from:          "accounts@service.example.com",
			subject:       "Security alert",
			body:          "We detected a suspicious sign-in from a new device near Incheon yesterday evening.",
			wantIntent:    domain.IntentSecurityAlert,
			wantNecessity: domain.NecessityNotNeeded,
		},
		{
			name:          "human transactional",
			from:          "accounting@partner.example.com",
			subject:       "Invoice 2024-118",
			body:          "The invoice for the January engagement is attached. Payment terms are net thirty.",
			wantIntent:    domain.IntentTransactional,
			wantNecessity: domain.NecessityNotNeeded,
		},
		{
			name:          "substantive question",
			from:          "kim@client.example.com",
			subject:       "Q3 numbers",
			body:          "Hope the quarter closed well. Could you send me the Q3 numbers by Friday?",
			wantIntent:    domain.IntentSubstantive,
			wantNecessity: domain.NecessityRequired,
		},
		{
			name:          "default notification",
			from:          "colleague@example.com",
			subject:       "FYI",
			body:          "Note: the system will archive this thread automatically. Nothing is expected from anyone.",
			wantIntent:    domain.IntentNotification,
			wantNecessity: domain.NecessityNotNeeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email := &domain.RawEmail{From: tt.from, Subject: tt.subject, Body: tt.body}
			ctx := extractor.Extract(email)
			got := classifier.Classify(email, &ctx)
			if got.Intent != tt.wantIntent {
				t.Errorf("intent = %q, want %q", got.Intent, tt.wantIntent)
			}
			if got.Necessity != tt.wantNecessity {
				t.Errorf("necessity = %q, want %q", got.Necessity, tt.wantNecessity)
			}
			if got.Reason == "" {
				t.Error("reason must never be empty")
			}
		})
	}
}

func TestClassifySecurityAlertSuggestsPlatformAction(t *testing.T) {
	classifier := NewIntentClassifier()
	email := &domain.RawEmail{
		From:    "security@service.example.com",
		Subject: "Verify your account",
		Body:    "We noticed unusual activity. Verify your account on the platform settings page today.",
	}
	ctx := domain.ExtractedContext{ExtractedSuccessfully: true}
	got := classifier.Classify(email, &ctx)
	if got.Intent != domain.IntentSecurityAlert {
		t.Fatalf("intent = %q, want %q", got.Intent, domain.IntentSecurityAlert)
	}
	if got.SuggestedAction == "" {
		t.Error("security alerts must carry a suggested non-reply action")
	}
}

func TestIsAutomatedSender(t *testing.T) {
	tests := []struct {
		from string
		want bool
	}{
		{"noreply@example.com", true},
		{"no-reply@example.com", true},
		{"donotreply@bank.example.com", true},
		{"alerts@monitor.example.com", true},
		{"Example Shop <noreply@shop.example.com>", true},
		{"updates@mail.linkedin.com", true},
		{"kim@client.example.com", false},
		{"jane.doe@example.com", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isAutomatedSender(tt.from); got != tt.want {
			t.Errorf("isAutomatedSender(%q) = %v, want %v", tt.from, got, tt.want)
		}
	}
}
