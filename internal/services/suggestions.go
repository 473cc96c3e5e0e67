package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/MegaGrindStone/campus-chat/internal/models"
	"github.com/tidwall/gjson"
)

// SuggestionsEndpoint fetches follow-up suggestions with GET <url>?topic=<topic>. The body is either a
// JSON array of strings or an object with a "suggestions" array.
type SuggestionsEndpoint struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// CatalogSuggestions suggests the other catalog topics, in catalog order. It serves deployments whose
// backend has no suggestions endpoint.
type CatalogSuggestions struct {
	catalog models.Catalog
}

// NewSuggestionsEndpoint creates a SuggestionsEndpoint for url. A nil client selects http.DefaultClient.
func NewSuggestionsEndpoint(url string, client *http.Client, logger *slog.Logger) SuggestionsEndpoint {
	if client == nil {
		client = http.DefaultClient
	}
	return SuggestionsEndpoint{
		url:    url,
		client: client,
		logger: logger.With(slog.String("module", "suggestions")),
	}
}

// Suggestions returns the suggestion labels for topic, in the order the backend sent them. Non-string
// entries are skipped.
func (s SuggestionsEndpoint) Suggestions(ctx context.Context, topic string) ([]string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return nil, fmt.Errorf("invalid suggestions url: %w", err)
	}
	q := u.Query()
	q.Set("topic", topic)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := doRequest(s.client, req)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedResponse)
	}
	res := gjson.ParseBytes(body)
	if !res.IsArray() {
		res = res.Get("suggestions")
	}
	if !res.IsArray() {
		return nil, fmt.Errorf("%w: no suggestions array", ErrMalformedResponse)
	}

	var labels []string
	res.ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String {
			labels = append(labels, v.String())
		}
		return true
	})

	s.logger.Debug("Suggestions", slog.String("topic", topic), slog.Int("count", len(labels)))
	return labels, nil
}

// NewCatalogSuggestions creates a CatalogSuggestions over catalog.
func NewCatalogSuggestions(catalog models.Catalog) CatalogSuggestions {
	return CatalogSuggestions{catalog: catalog}
}

// Suggestions returns the labels of every catalog topic except topic, matched by key or query phrase.
func (c CatalogSuggestions) Suggestions(_ context.Context, topic string) ([]string, error) {
	labels := make([]string, 0, len(c.catalog))
	for _, t := range c.catalog {
		if t.Key == topic || t.Query == topic {
			continue
		}
		labels = append(labels, t.Label)
	}
	return labels, nil
}
