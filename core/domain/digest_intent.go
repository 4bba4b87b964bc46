package domain

// Intent is the closed taxonomy of email intents. Classification is
// deterministic; the model never assigns these labels.
type Intent string

const (
	IntentAnnouncement   Intent = "announcement"
	IntentNotification   Intent = "notification"
	IntentTransactional  Intent = "transactional"
	IntentMarketing      Intent = "marketing"
	IntentNewsletter     Intent = "newsletter"
	IntentInvitation     Intent = "invitation"
	IntentSecurityAlert  Intent = "security_alert"
	IntentNotifActionReq Intent = "notification_action_required"
	IntentSubstantive    Intent = "substantive"

	// IntentUnknown is the placeholder assigned when an individual item
	// fails during processing. Paired with NecessityRequired so a human
	// looks at it rather than silently dropping it.
	IntentUnknown Intent = "unknown"
)

// Necessity says whether and how an email needs a response.
type Necessity string

const (
	NecessityRequired   Necessity = "required"    // a reply draft is produced
	NecessityOptional   Necessity = "optional"    // courtesy acknowledgment offered
	NecessityNotNeeded  Necessity = "not_needed"  // no reply candidate at all
	NecessityActionOnly Necessity = "action_only" // act elsewhere, do not reply
)

// NeedsDraft reports whether a reply candidate should exist for this level.
func (n Necessity) NeedsDraft() bool {
	return n == NecessityRequired || n == NecessityOptional || n == NecessityActionOnly
}

// Urgent reports whether the item survives a weekend urgent_only filter.
func (n Necessity) Urgent() bool {
	return n == NecessityRequired || n == NecessityActionOnly
}

// IntentClassification is the deterministic ruling for one email.
type IntentClassification struct {
	Intent    Intent    `json:"intent"`
	Necessity Necessity `json:"necessity"`
	Reason    string    `json:"reason"`
	// SuggestedAction is a non-reply instruction (e.g. complete the survey,
	// verify on the originating platform). Set when Necessity is action_only
	// or for security alerts.
	SuggestedAction string `json:"suggested_action,omitempty"`
}
