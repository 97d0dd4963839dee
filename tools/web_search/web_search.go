package web_search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/tools/web_search/brave"
	"github.com/mohammad-safakhou/deepscout/tools/web_search/models"
	"github.com/mohammad-safakhou/deepscout/tools/web_search/serper"
)

// WebSearcher is a pluggable search backend.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported web search provider")

func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// Tool exposes web search to researchers. It is search-class: near-identical
// queries are folded upstream rather than re-executed.
type Tool struct {
	searcher   WebSearcher
	maxResults int
}

// NewTool builds the research tool from configuration, picking the backend
// and key by provider name.
func NewTool(cfg config.WebSearchConfig) (*Tool, error) {
	apiKey := cfg.BraveAPIKey
	if Provider(cfg.Provider) == SerperProvider {
		apiKey = cfg.SerperAPIKey
	}
	searcher, err := NewWebSearcher(Provider(cfg.Provider), apiKey)
	if err != nil {
		return nil, err
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Tool{searcher: searcher, maxResults: maxResults}, nil
}

func (t *Tool) Name() string { return "web_search" }

func (t *Tool) Description() string {
	return "Search the web for current information. Takes a query string and returns titles, URLs and snippets of the top results."
}

func (t *Tool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "The search query."},
		},
		"required": []string{"query"},
	}
}

func (t *Tool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", errors.New("web_search requires a non-empty query")
	}

	results, err := t.searcher.Discover(ctx, query, t.maxResults)
	if err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}
	if len(results) == 0 {
		return "No results found for: " + query, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return sb.String(), nil
}
