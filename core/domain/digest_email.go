package domain

import (
	"strings"
	"time"
)

// RawEmail is one unread message as fetched from the mailbox provider.
// Immutable once fetched; the pipeline never writes back to it.
type RawEmail struct {
	ExternalID      string    `json:"external_id"`
	From            string    `json:"from"` // bare address, lowercased
	FromName        string    `json:"from_name,omitempty"`
	To              string    `json:"to"`
	Subject         string    `json:"subject"`
	Body            string    `json:"body"`
	ReceivedAt      time.Time `json:"received_at"`
	AttachmentCount int       `json:"attachment_count"`
}

// SenderDomain returns the part after '@', or "" when the address is malformed.
func (e *RawEmail) SenderDomain() string {
	at := strings.LastIndexByte(e.From, '@')
	if at < 0 || at == len(e.From)-1 {
		return ""
	}
	return strings.ToLower(e.From[at+1:])
}
