package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MegaGrindStone/campus-chat/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI answers queries with an OpenAI-compatible chat completion API. It never reports a matched
// topic.
type OpenAI struct {
	model        string
	systemPrompt string
	temperature  *float32

	client *goopenai.Client
	logger *slog.Logger
}

// OpenAIOption configures an OpenAI answerer.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL     string
	temperature *float32
}

// WithOpenAIBaseURL points the client at an OpenAI-compatible server other than api.openai.com.
func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(c *openAIConfig) {
		c.baseURL = baseURL
	}
}

// WithOpenAITemperature sets the sampling temperature.
func WithOpenAITemperature(t float32) OpenAIOption {
	return func(c *openAIConfig) {
		c.temperature = &t
	}
}

// NewOpenAI creates an OpenAI answerer with the given API key, model and system prompt.
func NewOpenAI(apiKey, model, systemPrompt string, logger *slog.Logger, opts ...OpenAIOption) OpenAI {
	var cfg openAIConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	clientCfg := goopenai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		clientCfg.BaseURL = cfg.baseURL
	}

	return OpenAI{
		model:        model,
		systemPrompt: systemPrompt,
		temperature:  cfg.temperature,
		client:       goopenai.NewClientWithConfig(clientCfg),
		logger:       logger.With(slog.String("module", "openai")),
	}
}

// Ask sends text as a single user message and returns the first completion choice.
func (o OpenAI) Ask(ctx context.Context, text string) (models.Reply, error) {
	msgs := make([]goopenai.ChatCompletionMessage, 0, 2)
	if o.systemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: o.systemPrompt,
		})
	}
	msgs = append(msgs, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: text,
	})

	req := goopenai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
	}
	if o.temperature != nil {
		req.Temperature = *o.temperature
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return models.Reply{}, fmt.Errorf("error sending request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return models.Reply{}, errors.New("no choices found")
	}

	o.logger.Debug("Reply",
		slog.String("model", o.model),
		slog.String("finishReason", string(resp.Choices[0].FinishReason)))

	return models.Reply{Text: resp.Choices[0].Message.Content}, nil
}
