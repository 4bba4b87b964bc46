// Package llm provides the model client and batch utilities.
package llm

import (
	"context"
	"sync"

	"digest_server/pkg/ratelimit"

	openai "github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4o-mini"

// Client wraps the OpenAI client. Every completion passes through the
// process-wide inference gate, so callers never talk to c.client directly.
type Client struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	gate        *ratelimit.InferenceGate

	mu    sync.Mutex
	usage UsageStats
}

// ClientConfig configures the client.
type ClientConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	// Gate bounds concurrent model calls. nil means ungated (tests only).
	Gate *ratelimit.InferenceGate
}

// UsageStats accumulates token consumption across the process lifetime.
type UsageStats struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	Calls            int64   `json:"calls"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

func NewClient(apiKey string) *Client {
	return NewClientWithConfig(ClientConfig{APIKey: apiKey})
}

func NewClientWithConfig(cfg ClientConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	return &Client{
		client:      openai.NewClient(cfg.APIKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(temperature),
		gate:        cfg.Gate,
	}
}

// Model returns the configured default model name.
func (c *Client) Model() string {
	return c.model
}

// Usage snapshots the accumulated token counters.
func (c *Client) Usage() UsageStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// chat is the single funnel for completions: acquire a gate permit, call the
// API, record usage. The permit is released on every path.
func (c *Client) chat(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if c.gate != nil {
		release, err := c.gate.Acquire(ctx)
		if err != nil {
			return openai.ChatCompletionResponse{}, err
		}
		defer release()
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return resp, err
	}
	c.recordUsage(req.Model, resp.Usage)
	return resp, nil
}

func (c *Client) recordUsage(model string, usage openai.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.PromptTokens += int64(usage.PromptTokens)
	c.usage.CompletionTokens += int64(usage.CompletionTokens)
	c.usage.TotalTokens += int64(usage.TotalTokens)
	c.usage.Calls++
	c.usage.EstimatedCostUSD += CalculateCost(model, usage.PromptTokens, usage.CompletionTokens)
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.chat(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}

	return resp.Choices[0].Message.Content, nil
}

func (c *Client) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.chat(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}

	return resp.Choices[0].Message.Content, nil
}

// CompleteJSON returns a JSON response from the model
func (c *Client) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := c.chat(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "{}", nil
	}

	return resp.Choices[0].Message.Content, nil
}
