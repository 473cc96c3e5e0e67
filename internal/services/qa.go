package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/campus-chat/internal/models"
	"github.com/tidwall/gjson"
)

// QAEndpoint answers queries through the campus question-answering service: a JSON POST of the form
// {"message": "..."} answered by {"response": "...", "matched": "<topic>"}.
type QAEndpoint struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// StatusError is returned when the backend answers with a non-success status.
type StatusError struct {
	StatusCode int
	Body       string
}

// ErrMalformedResponse is returned when a success response has no usable body.
var ErrMalformedResponse = errors.New("malformed response")

// maxBodySize bounds how much of a response body is read.
const maxBodySize = 1 << 20

// NewQAEndpoint creates a QAEndpoint posting queries to url. A nil client selects http.DefaultClient.
func NewQAEndpoint(url string, client *http.Client, logger *slog.Logger) QAEndpoint {
	if client == nil {
		client = http.DefaultClient
	}
	return QAEndpoint{
		url:    url,
		client: client,
		logger: logger.With(slog.String("module", "qa")),
	}
}

// Ask sends text to the backend and returns its reply. The matched topic is empty when the backend
// reports none.
func (q QAEndpoint) Ask(ctx context.Context, text string) (models.Reply, error) {
	payload, err := json.Marshal(map[string]string{"message": text})
	if err != nil {
		return models.Reply{}, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.url, bytes.NewReader(payload))
	if err != nil {
		return models.Reply{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	q.logger.Debug("Query", slog.String("url", q.url), slog.String("message", text))

	body, err := doRequest(q.client, req)
	if err != nil {
		return models.Reply{}, err
	}

	if !gjson.ValidBytes(body) {
		return models.Reply{}, fmt.Errorf("%w: invalid json", ErrMalformedResponse)
	}
	res := gjson.ParseBytes(body)
	answer := res.Get("response")
	if answer.Type != gjson.String {
		return models.Reply{}, fmt.Errorf("%w: missing response field", ErrMalformedResponse)
	}

	var topic string
	if matched := res.Get("matched"); matched.Type == gjson.String {
		topic = strings.TrimSpace(matched.String())
	}

	return models.Reply{Text: answer.String(), Topic: topic}, nil
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func doRequest(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		const maxErrBody = 256
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrBody {
			msg = msg[:maxErrBody]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}

	return body, nil
}
