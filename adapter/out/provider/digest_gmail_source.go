package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"time"

	gmail "google.golang.org/api/gmail/v1"

	"digest_server/core/domain"
	"digest_server/core/port/out"
)

// =============================================================================
// Gmail Source
// =============================================================================

const (
	defaultMaxResults = 50
	maxConcurrency    = 10 // Gmail API rate limit 방지
	perMessageTimeout = 30 * time.Second
)

// GmailSource implements out.EmailSource against the Gmail API.
type GmailSource struct {
	api *GmailAPI
}

// NewGmailSource creates the unread-mail source.
func NewGmailSource(api *GmailAPI) *GmailSource {
	return &GmailSource{api: api}
}

// FetchUnread lists unread inbox mail received after opts.Since, bounded by
// opts.MaxResults, and expands each id into a full message in parallel.
func (s *GmailSource) FetchUnread(ctx context.Context, cred domain.SourceCredential, opts out.FetchOptions) ([]domain.RawEmail, error) {
	svc, err := s.api.service(ctx, cred.RefreshToken)
	if err != nil {
		return nil, err
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	// after: 는 epoch 초 단위를 지원하므로 시각 단위 윈도우가 유지된다
	query := fmt.Sprintf("is:unread in:inbox after:%d", opts.Since.Unix())

	var resp *gmail.ListMessagesResponse
	cbErr := s.api.execute("ListUnread", func() error {
		var apiErr error
		resp, apiErr = svc.Users.Messages.List("me").
			Q(query).
			MaxResults(int64(maxResults)).
			Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, s.api.wrapError(cbErr, "failed to list unread messages")
	}

	refs := resp.Messages
	if len(refs) > maxResults {
		refs = refs[:maxResults]
	}
	return s.fetchFullParallel(ctx, svc, refs), nil
}

// fetchFullParallel expands message refs with Format("full") so bodies are
// available for summarization. Failed ids are dropped, input order is kept.
func (s *GmailSource) fetchFullParallel(ctx context.Context, svc *gmail.Service, msgRefs []*gmail.Message) []domain.RawEmail {
	if len(msgRefs) == 0 {
		return nil
	}

	type result struct {
		index int
		email domain.RawEmail
		err   error
	}

	results := make(chan result, len(msgRefs))
	sem := make(chan struct{}, maxConcurrency)

	for i, msgRef := range msgRefs {
		go func(idx int, id string) {
			// 세마포어 획득 (context 취소 시 빠른 종료)
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results <- result{index: idx, err: ctx.Err()}
				return
			}

			msgCtx, cancel := context.WithTimeout(ctx, perMessageTimeout)
			defer cancel()

			fullMsg, err := svc.Users.Messages.Get("me", id).Format("full").Context(msgCtx).Do()
			if err != nil {
				results <- result{index: idx, err: err}
				return
			}
			results <- result{index: idx, email: convertMessage(fullMsg)}
		}(i, msgRef.Id)
	}

	emails := make([]domain.RawEmail, len(msgRefs))
	collected := 0
	for collected < len(msgRefs) {
		select {
		case r := <-results:
			collected++
			if r.err == nil {
				emails[r.index] = r.email
			}
		case <-ctx.Done():
			collected = len(msgRefs)
		}
	}

	filtered := make([]domain.RawEmail, 0, len(emails))
	for _, e := range emails {
		if e.ExternalID != "" {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// convertMessage flattens a Gmail message into the domain shape the engine
// consumes: bare lowercased sender, plain-text body, attachment count.
func convertMessage(msg *gmail.Message) domain.RawEmail {
	email := domain.RawEmail{
		ExternalID: msg.Id,
		ReceivedAt: time.Unix(0, msg.InternalDate*int64(time.Millisecond)),
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				email.Subject = h.Value
			case "From":
				email.From, email.FromName = parseSender(h.Value)
			case "To":
				email.To = h.Value
			case "Date":
				if t, err := mail.ParseDate(h.Value); err == nil {
					email.ReceivedAt = t
				}
			}
		}

		var body messageBody
		extractBody(msg.Payload, &body)
		email.Body = body.preferred()
		email.AttachmentCount = countAttachments(msg.Payload)
	}

	if email.Body == "" {
		email.Body = msg.Snippet
	}
	return email
}

// parseSender splits "Name <addr>" into a lowercased bare address and name.
func parseSender(raw string) (address, name string) {
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw)), ""
	}
	return strings.ToLower(addr.Address), addr.Name
}

type messageBody struct {
	text string
	html string
}

// preferred returns text/plain when present, otherwise the HTML part. The
// engine strips tags during cleaning so raw HTML is acceptable input.
func (b *messageBody) preferred() string {
	if b.text != "" {
		return b.text
	}
	return b.html
}

func extractBody(part *gmail.MessagePart, body *messageBody) {
	if part == nil {
		return
	}

	if part.Body != nil && part.Body.Data != "" {
		if data, err := base64.URLEncoding.DecodeString(part.Body.Data); err == nil {
			switch part.MimeType {
			case "text/plain":
				if body.text == "" {
					body.text = string(data)
				}
			case "text/html":
				if body.html == "" {
					body.html = string(data)
				}
			}
		}
	}

	for _, p := range part.Parts {
		extractBody(p, body)
	}
}

// countAttachments counts named parts; inline images with filenames count too
// since the digest only reports a number.
func countAttachments(part *gmail.MessagePart) int {
	if part == nil {
		return 0
	}
	count := 0
	if part.Filename != "" {
		count++
	}
	for _, p := range part.Parts {
		count += countAttachments(p)
	}
	return count
}
