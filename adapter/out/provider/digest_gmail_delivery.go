package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gmail "google.golang.org/api/gmail/v1"

	"digest_server/core/domain"
	"digest_server/pkg/logger"
)

// =============================================================================
// Gmail Delivery
// =============================================================================

// GmailDelivery sends finished digests back into the owner's own mailbox and
// failure reports to the operator. Implements out.DigestDelivery and
// out.AdminNotifier.
type GmailDelivery struct {
	api   *GmailAPI
	admin domain.SourceCredential
}

// NewGmailDelivery creates the delivery adapter. The admin credential is used
// for failure notifications; an empty credential degrades the notifier to
// log-only.
func NewGmailDelivery(api *GmailAPI, admin domain.SourceCredential) *GmailDelivery {
	return &GmailDelivery{api: api, admin: admin}
}

// Deliver renders the run and sends it to the user from their own account.
func (d *GmailDelivery) Deliver(ctx context.Context, cred domain.SourceCredential, run *domain.DigestRun) error {
	subject, html, err := RenderDigest(run)
	if err != nil {
		return err
	}

	svc, err := d.api.service(ctx, cred.RefreshToken)
	if err != nil {
		return err
	}

	raw := buildRawMessage(cred.Email, subject, html, true)
	gmailMsg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(raw)),
	}

	cbErr := d.api.execute("SendDigest", func() error {
		_, apiErr := svc.Users.Messages.Send("me", gmailMsg).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return d.api.wrapError(cbErr, "failed to send digest")
	}
	return nil
}

// NotifyFailure mails the operator about one user's failed run. Callers treat
// errors here as non-fatal; this method additionally degrades to logging when
// no admin credential is configured.
func (d *GmailDelivery) NotifyFailure(ctx context.Context, identity uuid.UUID, cause error, tickTime time.Time) error {
	if d.admin.RefreshToken == "" || d.admin.Email == "" {
		logger.Default().WithError(cause).WithField("identity", identity.String()).
			Error("digest failed and no admin mailbox is configured")
		return nil
	}

	svc, err := d.api.service(ctx, d.admin.RefreshToken)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("[digest] run failed for %s", identity)
	body := fmt.Sprintf(
		"Digest run failed.\r\n\r\nIdentity: %s\r\nTick: %s\r\nError: %v\r\n",
		identity, tickTime.Format(time.RFC3339), cause,
	)

	raw := buildRawMessage(d.admin.Email, subject, body, false)
	gmailMsg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(raw)),
	}

	cbErr := d.api.execute("NotifyFailure", func() error {
		_, apiErr := svc.Users.Messages.Send("me", gmailMsg).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return d.api.wrapError(cbErr, "failed to send admin notification")
	}
	return nil
}

// buildRawMessage assembles an RFC 2822 message. Gmail requires the raw field
// to be base64url of exactly this wire form.
func buildRawMessage(to, subject, body string, isHTML bool) string {
	var buf strings.Builder

	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	contentType := "text/plain"
	if isHTML {
		contentType = "text/html"
	}
	buf.WriteString(fmt.Sprintf("Content-Type: %s; charset=UTF-8\r\n", contentType))
	buf.WriteString("\r\n")
	buf.WriteString(body)

	return buf.String()
}
