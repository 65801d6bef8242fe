// Package llm wraps the chat-completion model used for answer
// generation and temporal intent analysis.
package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/map-community/CHATBOT-AI-sub000/internal/config"
	qaerrors "github.com/map-community/CHATBOT-AI-sub000/internal/errors"
)

// DefaultTimeout bounds a single completion request. Long answers over a
// 50k-character context can take most of a minute.
const DefaultTimeout = 90 * time.Second

// Invoker is the narrow surface the retrieval and composition layers
// depend on. The concrete Client talks to a hosted chat model; tests
// substitute a canned fake.
type Invoker interface {
	// Invoke sends one user prompt and returns the model's text reply.
	Invoke(ctx context.Context, prompt string) (string, error)
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	logger      *slog.Logger
}

var _ Invoker = (*Client)(nil)

// NewClient creates a chat client from the LLM config section.
func NewClient(cfg config.LLMConfig, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, qaerrors.New(qaerrors.ErrCodeMissingAPIKey, "LLM API key not configured", nil).
			WithSuggestion("set DEPTQA_LLM_API_KEY or DEPTQA_API_KEY")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &Client{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		timeout:     DefaultTimeout,
		logger:      logger,
	}, nil
}

// Invoke sends a single user prompt and returns the completion text.
func (c *Client) Invoke(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       c.model,
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(int64(c.maxTokens)),
	})
	if err != nil {
		return "", qaerrors.New(qaerrors.ErrCodeLLMFailed, "completion request failed", err).
			WithDetail("model", c.model)
	}
	if len(resp.Choices) == 0 {
		return "", qaerrors.New(qaerrors.ErrCodeLLMMalformed, "completion returned no choices", nil).
			WithDetail("model", c.model)
	}

	content := resp.Choices[0].Message.Content
	c.logger.Debug("completion finished",
		slog.String("model", c.model),
		slog.Int("prompt_chars", len(prompt)),
		slog.Int("reply_chars", len(content)),
		slog.Duration("took", time.Since(started)))

	return content, nil
}

// DecodeJSON parses a JSON object out of a model reply. Models wrap
// JSON in markdown fences or lead with prose despite instructions, so
// the parse runs on the outermost brace pair.
func DecodeJSON(raw string, v any) error {
	cleaned := strings.TrimSpace(raw)

	// Strip markdown code fences.
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end < start {
		return qaerrors.New(qaerrors.ErrCodeLLMMalformed, "reply contains no JSON object", nil).
			WithDetail("reply", truncateForDetail(raw))
	}

	if err := json.Unmarshal([]byte(cleaned[start:end+1]), v); err != nil {
		return qaerrors.New(qaerrors.ErrCodeLLMMalformed, "reply JSON did not parse", err).
			WithDetail("reply", truncateForDetail(raw))
	}
	return nil
}

// truncateForDetail keeps error details readable in logs.
func truncateForDetail(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
