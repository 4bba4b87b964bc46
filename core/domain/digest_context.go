package domain

// ExtractedContext carries the validated obligations pulled from one email.
// Every field here survived validation: questions are directed at the
// recipient, action items ask the recipient to do something, and the deadline
// is tied to kept content. A downstream draft may reference these fields and
// nothing else.
type ExtractedContext struct {
	Questions   []string `json:"questions"`    // validated, recipient-directed, max 3
	ActionItems []string `json:"action_items"` // validated requests, max 3
	Deadline    string   `json:"deadline"`     // first time-bound phrase, "" when absent
	MainTopic   string   `json:"main_topic"`

	AttachmentCount int `json:"attachment_count"`

	// ExtractedSuccessfully is false when the input was malformed or empty.
	// A failed extraction carries no questions and no action items.
	ExtractedSuccessfully bool `json:"extracted_successfully"`
}

// HasObligations reports whether anything survived validation.
func (c *ExtractedContext) HasObligations() bool {
	return len(c.Questions) > 0 || len(c.ActionItems) > 0
}

// FailedContext returns the canonical empty result for unusable input.
func FailedContext() ExtractedContext {
	return ExtractedContext{
		Questions:             []string{},
		ActionItems:           []string{},
		MainTopic:             "your email",
		ExtractedSuccessfully: false,
	}
}
