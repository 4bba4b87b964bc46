package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	openai "github.com/sashabaranov/go-openai"
)

// =============================================================================
// Batch Summarize
// =============================================================================

// BatchSummarizeInput is one email in a summarization group. Body is expected
// to be already cleaned.
type BatchSummarizeInput struct {
	ID      int64  `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// BatchSummarizeResult is the model's summary for one input ID.
type BatchSummarizeResult struct {
	ID      int64  `json:"id"`
	Summary string `json:"summary"`
}

// SummarizeEmailBatch summarizes a whole group in one API call. The group is
// rendered as [id]-tagged blocks and the model answers with a JSON results
// array keyed by the same ids.
func (c *Client) SummarizeEmailBatch(ctx context.Context, emails []BatchSummarizeInput) ([]BatchSummarizeResult, error) {
	if len(emails) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString("Summarize each of the following emails in 2-3 sentences. ")
	sb.WriteString("Mention only facts present in the email itself.\n\n")

	for _, email := range emails {
		body := truncateText(email.Body, 1000)
		sb.WriteString(fmt.Sprintf("[%d]\nSubject: %s\nBody: %s\n\n", email.ID, email.Subject, body))
	}

	sb.WriteString(`Respond as JSON:
{
  "results": [
    {"id": 1, "summary": "..."},
    ...
  ]
}`)

	resp, err := c.chat(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: sb.String(),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3, // 일관성 확보
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response")
	}

	var result struct {
		Results []BatchSummarizeResult `json:"results"`
	}
	content := stripFences(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("failed to parse batch response: %w", err)
	}

	return result.Results, nil
}

// SummarizeEmail summarizes a single email. Used by the per-email fallback
// path when a batch call fails.
func (c *Client) SummarizeEmail(ctx context.Context, subject, body string) (string, error) {
	prompt := fmt.Sprintf(`Summarize this email in 2-3 sentences. Mention only facts present in the email itself.

Subject: %s
Body: %s`, subject, truncateText(body, 1000))

	return c.Complete(ctx, prompt)
}

// =============================================================================
// Body Cleaning
// =============================================================================

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	quotedLineRe = regexp.MustCompile(`(?m)^>.*$`)
	onWroteRe    = regexp.MustCompile(`(?i)on .* wrote:.*`)

	signatureRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)--\s*\n.*`),        // -- signature
		regexp.MustCompile(`(?i)sent from my.*`),   // Sent from my iPhone
		regexp.MustCompile(`(?i)regards,?\s*\n.*`), // Regards,
		regexp.MustCompile(`(?i)best,?\s*\n.*`),    // Best,
		regexp.MustCompile(`(?i)thanks,?\s*\n.*`),  // Thanks,
		regexp.MustCompile(`(?i)cheers,?\s*\n.*`),  // Cheers,
	}
)

// CleanEmailBody strips HTML, quoted history, and signatures before any
// word counting or model call.
func CleanEmailBody(body string) string {
	body = htmlTagRe.ReplaceAllString(body, "")
	body = quotedLineRe.ReplaceAllString(body, "")
	body = onWroteRe.ReplaceAllString(body, "")

	for _, re := range signatureRes {
		body = re.ReplaceAllString(body, "")
	}

	body = whitespaceRe.ReplaceAllString(body, " ")
	return strings.TrimSpace(body)
}

// TruncateSummary shortens text for the skip-model path.
func TruncateSummary(text string, maxLen int) string {
	return truncateText(text, maxLen)
}

// truncateText truncates text to maxLen characters
func truncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}

// stripFences removes a markdown code fence wrapper when a model returns one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// =============================================================================
// Cost Tracking
// =============================================================================

// Pricing per 1M tokens (as of 2024)
var modelPricing = map[string]struct {
	InputPer1M  float64
	OutputPer1M float64
}{
	"gpt-4o-mini": {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4o":      {InputPer1M: 5.00, OutputPer1M: 15.00},
}

// CalculateCost calculates estimated cost for token usage
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}

	inputCost := float64(promptTokens) / 1_000_000 * pricing.InputPer1M
	outputCost := float64(completionTokens) / 1_000_000 * pricing.OutputPer1M

	return inputCost + outputCost
}
