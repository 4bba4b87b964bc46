package digest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"digest_server/core/domain"
)

type stubPolisher struct {
	out   string
	err   error
	calls int
}

func (s *stubPolisher) PolishDraft(ctx context.Context, subject, draft string) (string, error) {
	s.calls++
	return s.out, s.err
}

func substantiveContext() domain.ExtractedContext {
	return domain.ExtractedContext{
		Questions:             []string{"Could you send me the Q3 numbers by Friday?"},
		ActionItems:           []string{"Could you send me the Q3 numbers by Friday?"},
		Deadline:              "by Friday",
		MainTopic:             "Q3 numbers",
		ExtractedSuccessfully: true,
	}
}

func TestDraftContentSpecific(t *testing.T) {
	drafter := NewReplyDrafter(NewConfidenceScorer(), nil, false)
	email := &domain.RawEmail{Subject: "Q3 numbers", Body: "Could you send me the Q3 numbers by Friday?"}
	cls := domain.IntentClassification{Intent: domain.IntentSubstantive, Necessity: domain.NecessityRequired}

	reply := drafter.Draft(context.Background(), email, cls, substantiveContext())
	if reply == nil {
		t.Fatal("expected a reply candidate")
	}
	if reply.Method != domain.ReplyContentSpecific {
		t.Errorf("method = %q, want %q", reply.Method, domain.ReplyContentSpecific)
	}
	for _, want := range []string{"Q3 numbers", "Could you send me the Q3 numbers by Friday?", "by Friday"} {
		if !strings.Contains(reply.Draft, want) {
			t.Errorf("draft missing %q:\n%s", want, reply.Draft)
		}
	}
	if reply.Level != domain.ConfidenceMedium {
		t.Errorf("level = %q, want %q (timeline plus committed action)", reply.Level, domain.ConfidenceMedium)
	}
}

func TestDraftOptionalAck(t *testing.T) {
	drafter := NewReplyDrafter(NewConfidenceScorer(), nil, false)
	email := &domain.RawEmail{Subject: "Save the date"}

	t.Run("announcement", func(t *testing.T) {
		cls := domain.IntentClassification{Intent: domain.IntentAnnouncement, Necessity: domain.NecessityOptional}
		ectx := domain.ExtractedContext{MainTopic: "the annual summit", ExtractedSuccessfully: true}
		reply := drafter.Draft(context.Background(), email, cls, ectx)
		if reply == nil {
			t.Fatal("expected a reply candidate")
		}
		want := "Thanks for the heads up! Looking forward to the annual summit."
		if reply.Draft != want {
			t.Errorf("draft = %q, want %q", reply.Draft, want)
		}
		if reply.Method != domain.ReplyOptionalAck {
			t.Errorf("method = %q, want %q", reply.Method, domain.ReplyOptionalAck)
		}
		if reply.Confidence != optionalAckConfidence || reply.Level != domain.ConfidenceMedium {
			t.Errorf("confidence = %.2f/%s, want fixed 0.60/medium", reply.Confidence, reply.Level)
		}
	})

	t.Run("invitation", func(t *testing.T) {
		cls := domain.IntentClassification{Intent: domain.IntentInvitation, Necessity: domain.NecessityOptional}
		ectx := domain.ExtractedContext{MainTopic: "Team offsite", ExtractedSuccessfully: true}
		reply := drafter.Draft(context.Background(), email, cls, ectx)
		if reply == nil {
			t.Fatal("expected a reply candidate")
		}
		if reply.Draft != "Thanks for the invitation! I'll let you know if I can attend." {
			t.Errorf("unexpected draft %q", reply.Draft)
		}
	})
}

func TestDraftActionOnly(t *testing.T) {
	drafter := NewReplyDrafter(NewConfidenceScorer(), nil, false)
	cls := domain.IntentClassification{
		Intent:          domain.IntentNotifActionReq,
		Necessity:       domain.NecessityActionOnly,
		SuggestedAction: "Complete the requested action on the originating service instead of replying.",
	}

	reply := drafter.Draft(context.Background(), &domain.RawEmail{}, cls, domain.ExtractedContext{})
	if reply == nil {
		t.Fatal("expected a reply candidate")
	}
	if reply.Method != domain.ReplyNotNeeded {
		t.Errorf("method = %q, want %q", reply.Method, domain.ReplyNotNeeded)
	}
	if reply.Draft != "" || reply.Confidence != 0 || reply.Level != domain.ConfidenceLow {
		t.Errorf("got draft=%q confidence=%.2f level=%s, want empty/0/low", reply.Draft, reply.Confidence, reply.Level)
	}
}

func TestDraftNotNeeded(t *testing.T) {
	drafter := NewReplyDrafter(NewConfidenceScorer(), nil, false)
	cls := domain.IntentClassification{Intent: domain.IntentMarketing, Necessity: domain.NecessityNotNeeded}

	if reply := drafter.Draft(context.Background(), &domain.RawEmail{}, cls, domain.ExtractedContext{}); reply != nil {
		t.Errorf("expected nil reply, got %+v", reply)
	}
}

func TestDraftPolish(t *testing.T) {
	email := &domain.RawEmail{Subject: "Q3 numbers"}
	cls := domain.IntentClassification{Intent: domain.IntentSubstantive, Necessity: domain.NecessityRequired}

	t.Run("polished text replaces deterministic draft", func(t *testing.T) {
		polisher := &stubPolisher{out: "Polished version. I will send the numbers by Friday."}
		drafter := NewReplyDrafter(NewConfidenceScorer(), polisher, true)
		reply := drafter.Draft(context.Background(), email, cls, substantiveContext())
		if reply.Draft != polisher.out {
			t.Errorf("draft = %q, want polished text", reply.Draft)
		}
		if polisher.calls != 1 {
			t.Errorf("polisher calls = %d, want 1", polisher.calls)
		}
	})

	t.Run("polish error falls back to deterministic draft", func(t *testing.T) {
		polisher := &stubPolisher{err: errors.New("model unavailable")}
		drafter := NewReplyDrafter(NewConfidenceScorer(), polisher, true)
		reply := drafter.Draft(context.Background(), email, cls, substantiveContext())
		if !strings.Contains(reply.Draft, "Thank you for your email about Q3 numbers.") {
			t.Errorf("expected deterministic fallback, got %q", reply.Draft)
		}
	})

	t.Run("flag off never calls the model", func(t *testing.T) {
		polisher := &stubPolisher{out: "should not be used"}
		drafter := NewReplyDrafter(NewConfidenceScorer(), polisher, false)
		reply := drafter.Draft(context.Background(), email, cls, substantiveContext())
		if polisher.calls != 0 {
			t.Errorf("polisher calls = %d, want 0", polisher.calls)
		}
		if reply.Draft == polisher.out {
			t.Error("polished text used despite disabled flag")
		}
	})
}
