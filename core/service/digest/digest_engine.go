package digest

import (
	"context"
	"strings"
	"time"
	"unicode"

	"digest_server/core/agent/llm"
	"digest_server/core/domain"
	"digest_server/pkg/logger"
	"digest_server/pkg/metrics"
)

// =============================================================================
// Batched Inference Engine
// =============================================================================

// BatchSummarizer is the model-backed summarization surface the engine needs.
// 구현체: core/agent/llm Client
type BatchSummarizer interface {
	SummarizeEmailBatch(ctx context.Context, inputs []llm.BatchSummarizeInput) ([]llm.BatchSummarizeResult, error)
	SummarizeEmail(ctx context.Context, subject, body string) (string, error)
}

// EngineConfig bounds the batching behavior. Zero values fall back to the
// defaults below.
type EngineConfig struct {
	BatchSize         int // emails per model call
	MinWordCount      int // below this, the cleaned body replaces the model summary
	MaxBodyChars      int // bodies above this are truncated before cleaning
	ShortSummaryChars int // truncation width for model-skipping summaries
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BatchSize:         10,
		MinWordCount:      20,
		MaxBodyChars:      10000,
		ShortSummaryChars: 200,
	}
}

// EngineDeps wires the pipeline stages.
type EngineDeps struct {
	Summarizer BatchSummarizer
	Extractor  *ContextExtractor
	Classifier *IntentClassifier
	Drafter    *ReplyDrafter
	Priority   *PriorityScorer
}

// Engine turns a user's unread emails into digest items. Summaries are the
// only model output in an item; everything else is deterministic. One input
// email always yields exactly one output item, in input order.
type Engine struct {
	deps EngineDeps
	cfg  EngineConfig
}

func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MinWordCount <= 0 {
		cfg.MinWordCount = def.MinWordCount
	}
	if cfg.MaxBodyChars <= 0 {
		cfg.MaxBodyChars = def.MaxBodyChars
	}
	if cfg.ShortSummaryChars <= 0 {
		cfg.ShortSummaryChars = def.ShortSummaryChars
	}
	return &Engine{deps: deps, cfg: cfg}
}

// preparedEmail is the pre-pass state for one email within a group.
type preparedEmail struct {
	email      domain.RawEmail
	cleaned    string
	summary    string
	needsModel bool
	failed     bool
}

// ProcessBatch processes all emails in consecutive groups of at most
// BatchSize. The returned slice has one item per input, same order.
func (e *Engine) ProcessBatch(ctx context.Context, user *domain.UserPreference, emails []domain.RawEmail) []domain.DigestItem {
	items := make([]domain.DigestItem, 0, len(emails))
	for start := 0; start < len(emails); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(emails) {
			end = len(emails)
		}
		items = append(items, e.processGroup(ctx, user, emails[start:end])...)
	}
	return items
}

func (e *Engine) processGroup(ctx context.Context, user *domain.UserPreference, group []domain.RawEmail) []domain.DigestItem {
	prepared := make([]preparedEmail, len(group))
	for i, email := range group {
		prepared[i] = e.prepare(email)
	}

	e.summarizeGroup(ctx, prepared)

	items := make([]domain.DigestItem, len(prepared))
	for i := range prepared {
		items[i] = e.buildItem(ctx, user, &prepared[i])
	}
	return items
}

// prepare applies the edge-case rules and decides whether the model is
// needed for this email's summary.
func (e *Engine) prepare(email domain.RawEmail) preparedEmail {
	p := preparedEmail{email: email}

	raw := strings.TrimSpace(email.Body)
	if len(raw) < 10 || len(strings.Fields(raw)) < 3 {
		p.summary = raw
		return p
	}
	if len(raw) > e.cfg.MaxBodyChars {
		raw = raw[:e.cfg.MaxBodyChars]
	}
	if alphanumericRatio(raw) < 0.5 {
		p.summary = "Content unclear"
		return p
	}

	p.cleaned = llm.CleanEmailBody(raw)
	if len(strings.Fields(p.cleaned)) < e.cfg.MinWordCount {
		p.summary = llm.TruncateSummary(p.cleaned, e.cfg.ShortSummaryChars)
		return p
	}

	p.needsModel = true
	return p
}

// summarizeGroup fills in model summaries for every prepared email that
// needs one. The group shares a single model call; on batch failure each
// email falls back to an individual call, and an email whose fallback also
// fails is marked as a placeholder rather than dropped.
func (e *Engine) summarizeGroup(ctx context.Context, prepared []preparedEmail) {
	inputs := make([]llm.BatchSummarizeInput, 0, len(prepared))
	for i := range prepared {
		if prepared[i].needsModel {
			inputs = append(inputs, llm.BatchSummarizeInput{
				ID:      int64(i),
				Subject: prepared[i].email.Subject,
				Body:    prepared[i].cleaned,
			})
		}
	}
	if len(inputs) == 0 {
		return
	}

	start := time.Now()
	results, err := e.deps.Summarizer.SummarizeEmailBatch(ctx, inputs)
	metrics.RecordStage(metrics.StageSummarize, time.Since(start))
	if err != nil {
		logger.Default().WithError(err).Warn("batch summarization failed, falling back to per-email calls")
		for i := range prepared {
			if prepared[i].needsModel {
				e.summarizeSingle(ctx, &prepared[i])
			}
		}
		return
	}

	byID := make(map[int64]string, len(results))
	for _, r := range results {
		byID[r.ID] = strings.TrimSpace(r.Summary)
	}
	for i := range prepared {
		if !prepared[i].needsModel {
			continue
		}
		if summary, ok := byID[int64(i)]; ok && summary != "" {
			prepared[i].summary = summary
			continue
		}
		// The model silently dropped this id from the response.
		e.summarizeSingle(ctx, &prepared[i])
	}
}

func (e *Engine) summarizeSingle(ctx context.Context, p *preparedEmail) {
	start := time.Now()
	summary, err := e.deps.Summarizer.SummarizeEmail(ctx, p.email.Subject, p.cleaned)
	metrics.RecordStage(metrics.StageFallback, time.Since(start))
	if err != nil || strings.TrimSpace(summary) == "" {
		logger.Default().WithError(err).WithField("external_id", p.email.ExternalID).
			Warn("individual summarization failed, emitting placeholder item")
		p.failed = true
		return
	}
	p.summary = strings.TrimSpace(summary)
}

// buildItem runs the deterministic stages for one email. Failed emails get
// the fixed placeholder classification so the digest still surfaces them.
func (e *Engine) buildItem(ctx context.Context, user *domain.UserPreference, p *preparedEmail) domain.DigestItem {
	if p.failed {
		failedCtx := domain.FailedContext()
		failedCtx.AttachmentCount = p.email.AttachmentCount
		return domain.DigestItem{
			Email:   p.email,
			Summary: "Summary unavailable.",
			Classification: domain.IntentClassification{
				Intent:    domain.IntentUnknown,
				Necessity: domain.NecessityRequired,
				Reason:    "processing failed, review manually",
			},
			Context:  failedCtx,
			Priority: e.deps.Priority.Score(ctx, user, &p.email, &failedCtx),
			Failed:   true,
		}
	}

	ectx := e.deps.Extractor.Extract(&p.email)
	cls := e.deps.Classifier.Classify(&p.email, &ectx)

	var reply *domain.ReplyCandidate
	if cls.Necessity != domain.NecessityNotNeeded {
		reply = e.deps.Drafter.Draft(ctx, &p.email, cls, ectx)
	}

	return domain.DigestItem{
		Email:          p.email,
		Summary:        p.summary,
		Priority:       e.deps.Priority.Score(ctx, user, &p.email, &ectx),
		Classification: cls,
		Context:        ectx,
		Reply:          reply,
	}
}

// alphanumericRatio measures how much of the text is letters or digits.
// Encoded blobs and separator art fall well below one half.
func alphanumericRatio(s string) float64 {
	if s == "" {
		return 0
	}
	var alnum, total int
	for _, r := range s {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	return float64(alnum) / float64(total)
}
