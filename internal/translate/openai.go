package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI translator.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	HTTPClient  *http.Client
}

// OpenAI translates questions with a chat completion model.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *slog.Logger
}

// NewOpenAI creates an OpenAI translator. An empty BaseURL uses the public API.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &OpenAI{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

// Translate asks the model for a single SQL query answering req.Question.
func (o *OpenAI) Translate(ctx context.Context, req Request) (string, error) {
	o.logger.Debug("translating question", "model", o.model, "table", req.Table)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: req.Question},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoSQL
	}
	o.logger.Debug("translation received", "finish_reason", resp.Choices[0].FinishReason)
	return ExtractSQL(resp.Choices[0].Message.Content)
}

func systemPrompt(req Request) string {
	var b strings.Builder
	dialect := req.Dialect
	if dialect == "" {
		dialect = "duckdb"
	}
	fmt.Fprintf(&b, "You write a single read-only %s SQL query that answers the user's question.\n", dialect)
	b.WriteString("Reply with the query only, in a ```sql code block.\n")
	if req.Table != "" {
		fmt.Fprintf(&b, "Table %q has columns:\n", req.Table)
		for _, c := range req.Columns {
			fmt.Fprintf(&b, "- %s (%s)\n", c.Name, c.Type)
		}
	}
	return b.String()
}

// StatusCode reports the HTTP status carried by an OpenAI error, or 0.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
