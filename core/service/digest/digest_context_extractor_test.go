package digest

import (
	"strings"
	"testing"

	"digest_server/core/domain"
)

func TestExtractQuestions(t *testing.T) {
	extractor := NewContextExtractor()

	tests := []struct {
		name      string
		body      string
		wantCount int
		wantFirst string
	}{
		{
			name:      "directed question kept",
			body:      "Hope you are well. Could you send me the Q3 numbers by Friday?",
			wantCount: 1,
			wantFirst: "Could you send me the Q3 numbers by Friday?",
		},
		{
			name:      "rhetorical question rejected",
			body:      "Our new product launched today. Isn't that great? More news soon.",
			wantCount: 0,
		},
		{
			name:      "trailing right rejected",
			body:      "The deadline moved to Monday. You already knew that, right?",
			wantCount: 0,
		},
		{
			name:      "undirected question rejected",
			body:      "What is the meaning of all this? Nobody knows for sure.",
			wantCount: 0,
		},
		{
			name: "capped at three",
			body: "Can you review the doc? Could you approve the budget? " +
				"Will you attend the sync? Do you have the latest numbers?",
			wantCount: 3,
		},
		{
			name:      "short question dropped",
			body:      "This is an update on the rollout plan. You ok?",
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := extractor.Extract(&domain.RawEmail{Subject: "Status", Body: tt.body})
			if len(ctx.Questions) != tt.wantCount {
				t.Fatalf("questions = %v, want %d items", ctx.Questions, tt.wantCount)
			}
			if tt.wantFirst != "" && ctx.Questions[0] != tt.wantFirst {
				t.Errorf("first question = %q, want %q", ctx.Questions[0], tt.wantFirst)
			}
		})
	}
}

func TestExtractActionItems(t *testing.T) {
	extractor := NewContextExtractor()

	tests := []struct {
		name      string
		body      string
		wantCount int
		contains  string
	}{
		{
			name:      "please request kept",
			body:      "Quick note before the meeting. Please review the attached proposal before Thursday.",
			wantCount: 1,
			contains:  "review the attached proposal",
		},
		{
			name:      "imperative start kept",
			body:      "The portal is live now. Upload your expense report before the end of the month.",
			wantCount: 1,
			contains:  "Upload your expense report",
		},
		{
			name:      "sender commitment rejected",
			body:      "Thanks for the call earlier today. I will send the updated contract tomorrow morning.",
			wantCount: 0,
		},
		{
			name:      "completed work rejected",
			body:      "Just confirming the report has been submitted to finance already. Nothing else needed.",
			wantCount: 0,
		},
		{
			name:      "you need to kept",
			body:      "One more thing about the audit. You need to confirm your attendance by tomorrow.",
			wantCount: 1,
			contains:  "confirm your attendance",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := extractor.Extract(&domain.RawEmail{Subject: "Follow up", Body: tt.body})
			if len(ctx.ActionItems) != tt.wantCount {
				t.Fatalf("action items = %v, want %d items", ctx.ActionItems, tt.wantCount)
			}
			if tt.contains != "" && !strings.Contains(ctx.ActionItems[0], tt.contains) {
				t.Errorf("action item = %q, want it to contain %q", ctx.ActionItems[0], tt.contains)
			}
		})
	}
}

func TestExtractDeadline(t *testing.T) {
	extractor := NewContextExtractor()

	t.Run("deadline from kept question", func(t *testing.T) {
		ctx := extractor.Extract(&domain.RawEmail{
			Subject: "Q3 numbers",
			Body:    "Hello again from the finance side. Could you send me the Q3 numbers by Friday?",
		})
		if ctx.Deadline != "by Friday" {
			t.Errorf("deadline = %q, want %q", ctx.Deadline, "by Friday")
		}
		// The same sentence is both a question and a request to act.
		if len(ctx.Questions) != 1 || len(ctx.ActionItems) != 1 {
			t.Errorf("questions=%v actions=%v, want one of each", ctx.Questions, ctx.ActionItems)
		}
	})

	t.Run("deadline without kept obligation ignored", func(t *testing.T) {
		ctx := extractor.Extract(&domain.RawEmail{
			Subject: "Newsletter",
			Body:    "Our summer sale ends by Friday. Enjoy the discounts while they last here.",
		})
		if ctx.Deadline != "" {
			t.Errorf("deadline = %q, want empty", ctx.Deadline)
		}
	})

	t.Run("asap detected", func(t *testing.T) {
		ctx := extractor.Extract(&domain.RawEmail{
			Subject: "Access request",
			Body:    "Regarding the staging cluster access. Please confirm your public key asap.",
		})
		if !strings.EqualFold(ctx.Deadline, "asap") {
			t.Errorf("deadline = %q, want %q", ctx.Deadline, "asap")
		}
	})
}

func TestExtractMainTopic(t *testing.T) {
	extractor := NewContextExtractor()

	tests := []struct {
		name    string
		subject string
		body    string
		want    string
	}{
		{
			name:    "subject used when long enough",
			subject: "Re: Quarterly planning kickoff",
			body:    "See you all there next week for the kickoff session.",
			want:    "Quarterly planning kickoff",
		},
		{
			name:    "nested prefixes stripped",
			subject: "Fwd: RE: Budget approval needed",
			body:    "Forwarding for visibility into the process.",
			want:    "Budget approval needed",
		},
		{
			name:    "short subject falls back to body sentence",
			subject: "Hi",
			body:    "The maintenance window moved to Saturday evening. Plan accordingly please everyone.",
			want:    "The maintenance window moved to Saturday evening.",
		},
		{
			name:    "fallback when nothing usable",
			subject: "Hi",
			body:    "Short one. Ok then. Fine now.",
			want:    "your email",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := extractor.Extract(&domain.RawEmail{Subject: tt.subject, Body: tt.body})
			if ctx.MainTopic != tt.want {
				t.Errorf("main topic = %q, want %q", ctx.MainTopic, tt.want)
			}
		})
	}
}

func TestExtractTinyBody(t *testing.T) {
	extractor := NewContextExtractor()

	ctx := extractor.Extract(&domain.RawEmail{Subject: "Server alert triggered", Body: "ok thanks"})
	if ctx.ExtractedSuccessfully {
		t.Error("expected extraction to be marked unsuccessful for a tiny body")
	}
	if len(ctx.Questions) != 0 || len(ctx.ActionItems) != 0 {
		t.Errorf("expected empty obligations, got questions=%v actions=%v", ctx.Questions, ctx.ActionItems)
	}
	if ctx.MainTopic != "Server alert triggered" {
		t.Errorf("main topic = %q, want subject fallback", ctx.MainTopic)
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First one. Second one? Third!")
	want := []string{"First one.", "Second one?", "Third!"}
	if len(got) != len(want) {
		t.Fatalf("sentences = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
