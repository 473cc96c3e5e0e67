package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/campus-chat/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama answers queries with a model served by an Ollama instance. It never reports a matched topic.
type Ollama struct {
	model        string
	systemPrompt string

	client *api.Client
	logger *slog.Logger
}

// NewOllama creates an Ollama answerer for the server at host, which must be a valid URL.
func NewOllama(host, model, systemPrompt string, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		model:        model,
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
		logger:       logger.With(slog.String("module", "ollama")),
	}, nil
}

// Ask sends text as a single user message and returns the complete model reply.
func (o Ollama) Ask(ctx context.Context, text string) (models.Reply, error) {
	msgs := make([]api.Message, 0, 2)
	if o.systemPrompt != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: o.systemPrompt})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: text})

	f := false
	req := api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &f,
	}

	var sb strings.Builder
	if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
		sb.WriteString(res.Message.Content)
		return nil
	}); err != nil {
		return models.Reply{}, fmt.Errorf("error sending request: %w", err)
	}

	o.logger.Debug("Reply", slog.String("model", o.model), slog.Int("length", sb.Len()))
	return models.Reply{Text: sb.String()}, nil
}
