package provider

import (
	"strings"
	"testing"
	"time"

	"digest_server/core/domain"
)

func TestRenderDigest(t *testing.T) {
	run := &domain.DigestRun{
		TickTime: time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC),
		Items: []domain.DigestItem{
			{
				Email:    domain.RawEmail{From: "kim@client.example.com", FromName: "Kim", Subject: "Q3 numbers"},
				Summary:  "Asks for the Q3 numbers by Friday.",
				Priority: 0.85,
				Classification: domain.IntentClassification{
					Intent:    domain.IntentSubstantive,
					Necessity: domain.NecessityRequired,
					Reason:    "contains a direct request",
				},
				Context: domain.ExtractedContext{Deadline: "by Friday"},
				Reply: &domain.ReplyCandidate{
					Draft:      "Thank you for your email about Q3 numbers.",
					Method:     domain.ReplyContentSpecific,
					Confidence: 0.6,
					Level:      domain.ConfidenceMedium,
				},
			},
			{
				Email:    domain.RawEmail{From: "noreply@ci.example.com", Subject: "Build finished"},
				Summary:  "Nightly build completed.",
				Priority: 0.1,
				Classification: domain.IntentClassification{
					Intent:    domain.IntentNotification,
					Necessity: domain.NecessityNotNeeded,
					Reason:    "automated notification",
				},
			},
		},
	}
	run.Finalize()

	subject, html, err := RenderDigest(run)
	if err != nil {
		t.Fatalf("RenderDigest: %v", err)
	}
	if !strings.Contains(subject, "2 emails") || !strings.Contains(subject, "1 replies drafted") {
		t.Errorf("subject = %q, want counts for emails and drafts", subject)
	}

	for _, want := range []string{
		"Monday, January 8, 2024",
		"Q3 numbers",
		"Kim &lt;kim@client.example.com&gt;",
		"High priority",
		"Low priority",
		"Deadline: by Friday",
		"Thank you for your email about Q3 numbers.",
		"medium confidence, 60%",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered digest missing %q", want)
		}
	}

	// high-priority section must precede low
	if strings.Index(html, "Q3 numbers") > strings.Index(html, "Build finished") {
		t.Error("high priority item must render before low priority item")
	}
}

func TestRenderDigestEscapesContent(t *testing.T) {
	run := &domain.DigestRun{
		TickTime: time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC),
		Items: []domain.DigestItem{{
			Email:   domain.RawEmail{From: "a@b.c", Subject: `<script>alert("x")</script>`},
			Summary: "ok",
		}},
	}
	run.Finalize()

	_, html, err := RenderDigest(run)
	if err != nil {
		t.Fatalf("RenderDigest: %v", err)
	}
	if strings.Contains(html, `<script>alert`) {
		t.Error("subject must be HTML-escaped")
	}
}

func TestRenderDigestEmptySubject(t *testing.T) {
	run := &domain.DigestRun{TickTime: time.Now(), Items: []domain.DigestItem{{
		Email: domain.RawEmail{From: "a@b.c"}, Summary: "ok",
	}}}
	run.Finalize()

	_, html, err := RenderDigest(run)
	if err != nil {
		t.Fatalf("RenderDigest: %v", err)
	}
	if !strings.Contains(html, "(no subject)") {
		t.Error("empty subject must render as (no subject)")
	}
}
