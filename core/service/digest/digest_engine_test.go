package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"digest_server/core/agent/llm"
	"digest_server/core/domain"
)

type stubSummarizer struct {
	batchResults []llm.BatchSummarizeResult
	batchErr     error
	batchCalls   int
	batchInputs  [][]llm.BatchSummarizeInput

	singleOut   string
	singleErr   error
	singleCalls int
}

func (s *stubSummarizer) SummarizeEmailBatch(ctx context.Context, inputs []llm.BatchSummarizeInput) ([]llm.BatchSummarizeResult, error) {
	s.batchCalls++
	s.batchInputs = append(s.batchInputs, inputs)
	return s.batchResults, s.batchErr
}

func (s *stubSummarizer) SummarizeEmail(ctx context.Context, subject, body string) (string, error) {
	s.singleCalls++
	return s.singleOut, s.singleErr
}

func newTestEngine(s BatchSummarizer, cfg EngineConfig) *Engine {
	return NewEngine(EngineDeps{
		Summarizer: s,
		Extractor:  NewContextExtractor(),
		Classifier: NewIntentClassifier(),
		Drafter:    NewReplyDrafter(NewConfidenceScorer(), nil, false),
		Priority:   NewPriorityScorer(nil),
	}, cfg)
}

const longBody = "The quarterly planning review covers budget allocations, staffing changes, " +
	"vendor contracts, and the updated roadmap for every team in the organization this cycle."

func TestProcessBatchShortBodiesSkipModel(t *testing.T) {
	stub := &stubSummarizer{}
	engine := newTestEngine(stub, EngineConfig{})

	emails := []domain.RawEmail{
		{ExternalID: "a", Subject: "Room change", Body: "Meeting moved to 3pm tomorrow, same room."},
		{ExternalID: "b", Subject: "Thanks", Body: "Appreciate the quick turnaround on the review."},
	}

	items := engine.ProcessBatch(context.Background(), nil, emails)
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if stub.batchCalls != 0 || stub.singleCalls != 0 {
		t.Errorf("model called (%d batch, %d single), want none", stub.batchCalls, stub.singleCalls)
	}
	if items[0].Summary != "Meeting moved to 3pm tomorrow, same room." {
		t.Errorf("summary = %q, want cleaned body", items[0].Summary)
	}
}

func TestProcessBatchSingleCallPerGroup(t *testing.T) {
	stub := &stubSummarizer{
		batchResults: []llm.BatchSummarizeResult{{ID: 1, Summary: "Planning review summary."}},
	}
	engine := newTestEngine(stub, EngineConfig{})

	emails := []domain.RawEmail{
		{ExternalID: "short", Subject: "Quick note", Body: "Lunch at noon on Friday works for me."},
		{ExternalID: "long", Subject: "Planning", Body: longBody},
	}

	items := engine.ProcessBatch(context.Background(), nil, emails)
	if stub.batchCalls != 1 {
		t.Fatalf("batch calls = %d, want 1", stub.batchCalls)
	}
	if got := stub.batchInputs[0]; len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("batch inputs = %+v, want only the long email with id 1", got)
	}
	if items[1].Summary != "Planning review summary." {
		t.Errorf("summary = %q, want model output", items[1].Summary)
	}
	if items[0].Email.ExternalID != "short" || items[1].Email.ExternalID != "long" {
		t.Error("output order must match input order")
	}
}

func TestProcessBatchFallbackOnBatchFailure(t *testing.T) {
	stub := &stubSummarizer{
		batchErr:  errors.New("model timeout"),
		singleOut: "Recovered summary.",
	}
	engine := newTestEngine(stub, EngineConfig{})

	emails := []domain.RawEmail{
		{ExternalID: "x", Subject: "Planning", Body: longBody},
		{ExternalID: "y", Subject: "Planning again", Body: longBody},
	}

	items := engine.ProcessBatch(context.Background(), nil, emails)
	if stub.singleCalls != 2 {
		t.Errorf("single calls = %d, want 2", stub.singleCalls)
	}
	for i, it := range items {
		if it.Failed {
			t.Errorf("item %d marked failed despite fallback success", i)
		}
		if it.Summary != "Recovered summary." {
			t.Errorf("item %d summary = %q, want fallback output", i, it.Summary)
		}
	}
}

func TestProcessBatchPlaceholderOnItemFailure(t *testing.T) {
	stub := &stubSummarizer{
		batchErr:  errors.New("model timeout"),
		singleErr: errors.New("still down"),
	}
	engine := newTestEngine(stub, EngineConfig{})

	emails := []domain.RawEmail{
		{ExternalID: "ok", Subject: "Room change", Body: "Meeting moved to 3pm tomorrow, same room."},
		{ExternalID: "bad", Subject: "Planning", Body: longBody},
	}

	items := engine.ProcessBatch(context.Background(), nil, emails)
	if len(items) != 2 {
		t.Fatalf("items = %d, want one per input even on failure", len(items))
	}

	good, bad := items[0], items[1]
	if good.Failed {
		t.Error("model-skipping item must not be failed")
	}
	if !bad.Failed {
		t.Fatal("expected the unsummarizable item to be marked failed")
	}
	if bad.Classification.Intent != domain.IntentUnknown {
		t.Errorf("placeholder intent = %q, want %q", bad.Classification.Intent, domain.IntentUnknown)
	}
	if bad.Classification.Necessity != domain.NecessityRequired {
		t.Errorf("placeholder necessity = %q, want %q", bad.Classification.Necessity, domain.NecessityRequired)
	}
	if bad.Reply != nil {
		t.Errorf("placeholder reply = %+v, want none", bad.Reply)
	}
}

func TestProcessBatchRefetchesMissingIDs(t *testing.T) {
	stub := &stubSummarizer{
		batchResults: []llm.BatchSummarizeResult{{ID: 0, Summary: "First summary."}},
		singleOut:    "Second summary via fallback.",
	}
	engine := newTestEngine(stub, EngineConfig{})

	emails := []domain.RawEmail{
		{ExternalID: "first", Subject: "Planning", Body: longBody},
		{ExternalID: "second", Subject: "More planning", Body: longBody},
	}

	items := engine.ProcessBatch(context.Background(), nil, emails)
	if stub.singleCalls != 1 {
		t.Errorf("single calls = %d, want 1 for the dropped id", stub.singleCalls)
	}
	if items[0].Summary != "First summary." || items[1].Summary != "Second summary via fallback." {
		t.Errorf("summaries = %q / %q", items[0].Summary, items[1].Summary)
	}
}

func TestProcessBatchGrouping(t *testing.T) {
	stub := &stubSummarizer{batchErr: errors.New("force fallback"), singleOut: "s"}
	engine := newTestEngine(stub, EngineConfig{BatchSize: 5})

	emails := make([]domain.RawEmail, 12)
	for i := range emails {
		emails[i] = domain.RawEmail{ExternalID: fmt.Sprintf("m%02d", i), Subject: "Planning", Body: longBody}
	}

	items := engine.ProcessBatch(context.Background(), nil, emails)
	if len(items) != 12 {
		t.Fatalf("items = %d, want 12", len(items))
	}
	if stub.batchCalls != 3 {
		t.Errorf("batch calls = %d, want 3 groups of at most 5", stub.batchCalls)
	}
	for i, it := range items {
		if want := fmt.Sprintf("m%02d", i); it.Email.ExternalID != want {
			t.Errorf("item %d external id = %q, want %q", i, it.Email.ExternalID, want)
		}
	}
}

func TestPrepareEdgeCases(t *testing.T) {
	engine := newTestEngine(&stubSummarizer{}, EngineConfig{})

	t.Run("tiny body uses raw text", func(t *testing.T) {
		p := engine.prepare(domain.RawEmail{Body: "ok thanks"})
		if p.needsModel || p.summary != "ok thanks" {
			t.Errorf("prepared = %+v, want raw body summary without model", p)
		}
	})

	t.Run("low alphanumeric body is unclear", func(t *testing.T) {
		p := engine.prepare(domain.RawEmail{Body: ">>>---###*** &&& %%% !!! ;;;"})
		if p.needsModel || p.summary != "Content unclear" {
			t.Errorf("prepared = %+v, want unclear marker", p)
		}
	})

	t.Run("oversized body truncated before cleaning", func(t *testing.T) {
		huge := strings.Repeat("All hands on deck for the launch window this week. ", 400)
		p := engine.prepare(domain.RawEmail{Body: huge})
		if !p.needsModel {
			t.Fatalf("expected model summarization, got summary %q", p.summary)
		}
		if len(p.cleaned) > 10000 {
			t.Errorf("cleaned length = %d, want at most 10000", len(p.cleaned))
		}
	})

	t.Run("short body truncated to summary width", func(t *testing.T) {
		body := "Extraordinarily comprehensive notwithstanding abbreviations " + strings.Repeat("supercalifragilistic ", 9)
		p := engine.prepare(domain.RawEmail{Body: body})
		if p.needsModel {
			t.Fatal("expected the short-word-count path")
		}
		if len(p.summary) > 203 {
			t.Errorf("summary length = %d, want at most 200 plus ellipsis", len(p.summary))
		}
		if !strings.HasSuffix(p.summary, "...") {
			t.Errorf("summary = %q, want trailing ellipsis", p.summary)
		}
	})
}
