package provider

import (
	"fmt"
	"html/template"
	"strings"

	"digest_server/core/domain"
)

// =============================================================================
// HTML Digest Rendering
// =============================================================================

// digestTmpl is the one-page digest mail. Inline styles only; mail clients
// strip <style> blocks.
var digestTmpl = template.Must(template.New("digest").Parse(`<!DOCTYPE html>
<html>
<body style="margin:0;padding:0;background:#f4f5f7;font-family:Helvetica,Arial,sans-serif;color:#222;">
<div style="max-width:640px;margin:0 auto;padding:24px 16px;">
  <h1 style="font-size:20px;margin:0 0 4px;">Your email digest</h1>
  <p style="font-size:13px;color:#666;margin:0 0 20px;">
    {{.Date}} &middot; {{.Total}} emails processed
    {{- if .RepliesDrafted}} &middot; {{.RepliesDrafted}} draft replies{{end}}
    {{- if .FailedItems}} &middot; {{.FailedItems}} need manual review{{end}}
  </p>
{{range .Sections}}{{if .Items}}
  <h2 style="font-size:14px;text-transform:uppercase;letter-spacing:.05em;color:{{.Color}};border-bottom:2px solid {{.Color}};padding-bottom:4px;margin:24px 0 12px;">{{.Title}}</h2>
{{range .Items}}
  <div style="background:#fff;border-radius:6px;padding:14px 16px;margin-bottom:10px;border-left:4px solid {{$.ColorOf .Bucket}};">
    <div style="font-size:14px;font-weight:bold;margin-bottom:2px;">{{.Subject}}</div>
    <div style="font-size:12px;color:#888;margin-bottom:8px;">
      {{.Sender}}
      {{- if .AttachmentCount}} &middot; {{.AttachmentCount}} attachment{{if gt .AttachmentCount 1}}s{{end}}{{end}}
    </div>
    <div style="font-size:13px;line-height:1.5;margin-bottom:8px;">{{.Summary}}</div>
    <div style="font-size:12px;color:#666;">
      <span style="background:#eef;border-radius:3px;padding:1px 6px;">{{.Intent}}</span>
      <span style="margin-left:6px;">{{.Reason}}</span>
    </div>
    {{- if .SuggestedAction}}
    <div style="font-size:12px;color:#b25a00;margin-top:6px;">Action: {{.SuggestedAction}}</div>
    {{- end}}
    {{- if .Deadline}}
    <div style="font-size:12px;color:#b00020;margin-top:6px;">Deadline: {{.Deadline}}</div>
    {{- end}}
    {{- if .Draft}}
    <div style="background:#f8f9fa;border:1px solid #e3e5e8;border-radius:4px;padding:10px 12px;margin-top:10px;">
      <div style="font-size:11px;color:#888;margin-bottom:4px;">Suggested reply ({{.DraftLevel}} confidence, {{.DraftPct}}%)</div>
      <div style="font-size:12px;line-height:1.5;white-space:pre-line;">{{.Draft}}</div>
    </div>
    {{- end}}
  </div>
{{end}}{{end}}{{end}}
  <p style="font-size:11px;color:#aaa;margin-top:24px;">Generated automatically. Reply drafts are suggestions; review before sending.</p>
</div>
</body>
</html>
`))

type digestView struct {
	Date           string
	Total          int
	RepliesDrafted int
	FailedItems    int
	Sections       []sectionView
}

type sectionView struct {
	Title string
	Color string
	Items []itemView
}

type itemView struct {
	Subject         string
	Sender          string
	Summary         string
	Intent          string
	Reason          string
	SuggestedAction string
	Deadline        string
	Bucket          string
	AttachmentCount int
	Draft           string
	DraftLevel      string
	DraftPct        int
}

// ColorOf maps a bucket name to its accent color. Referenced from inside the
// template for per-item borders.
func (digestView) ColorOf(bucket string) string {
	return bucketColor(bucket)
}

func bucketColor(bucket string) string {
	switch bucket {
	case domain.BucketHigh:
		return "#c0392b"
	case domain.BucketMedium:
		return "#d68910"
	default:
		return "#7f8c8d"
	}
}

// RenderDigest produces the mail subject and HTML body for one finished run.
func RenderDigest(run *domain.DigestRun) (subject, html string, err error) {
	subject = fmt.Sprintf("Daily digest: %d emails", run.TotalProcessed)
	if run.RepliesDrafted > 0 {
		subject = fmt.Sprintf("Daily digest: %d emails, %d replies drafted", run.TotalProcessed, run.RepliesDrafted)
	}

	buckets := domain.Bucketed(run.Items)
	view := digestView{
		Date:           run.TickTime.Format("Monday, January 2, 2006"),
		Total:          run.TotalProcessed,
		RepliesDrafted: run.RepliesDrafted,
		FailedItems:    run.FailedItems,
		Sections: []sectionView{
			{Title: "High priority", Color: bucketColor(domain.BucketHigh), Items: itemViews(buckets.High)},
			{Title: "Medium priority", Color: bucketColor(domain.BucketMedium), Items: itemViews(buckets.Medium)},
			{Title: "Low priority", Color: bucketColor(domain.BucketLow), Items: itemViews(buckets.Low)},
		},
	}

	var buf strings.Builder
	if err := digestTmpl.Execute(&buf, view); err != nil {
		return "", "", fmt.Errorf("render digest: %w", err)
	}
	return subject, buf.String(), nil
}

func itemViews(items []domain.DigestItem) []itemView {
	views := make([]itemView, 0, len(items))
	for i := range items {
		it := &items[i]
		v := itemView{
			Subject:         orUntitled(it.Email.Subject),
			Sender:          senderLine(&it.Email),
			Summary:         it.Summary,
			Intent:          string(it.Classification.Intent),
			Reason:          it.Classification.Reason,
			SuggestedAction: it.Classification.SuggestedAction,
			Deadline:        it.Context.Deadline,
			Bucket:          it.Priority.Bucket(),
			AttachmentCount: it.Email.AttachmentCount,
		}
		if it.Reply != nil && it.Reply.Draft != "" {
			v.Draft = it.Reply.Draft
			v.DraftLevel = string(it.Reply.Level)
			v.DraftPct = int(it.Reply.Confidence * 100)
		}
		views = append(views, v)
	}
	return views
}

func orUntitled(subject string) string {
	if strings.TrimSpace(subject) == "" {
		return "(no subject)"
	}
	return subject
}

func senderLine(e *domain.RawEmail) string {
	if e.FromName != "" {
		return fmt.Sprintf("%s <%s>", e.FromName, e.From)
	}
	return e.From
}
