package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SearchTool exposes the knowledge base to researchers as a search-class
// tool: near-identical queries are folded upstream instead of re-executed.
type SearchTool struct {
	store      *Store
	maxResults int
}

func NewSearchTool(store *Store, maxResults int) *SearchTool {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &SearchTool{store: store, maxResults: maxResults}
}

func (t *SearchTool) Name() string { return "search_documents" }

func (t *SearchTool) Description() string {
	return "Search the internal knowledge base for previously ingested documents. Takes a query string and returns matching document IDs with snippets."
}

func (t *SearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "The search query."},
		},
		"required": []string{"query"},
	}
}

func (t *SearchTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", errors.New("search_documents requires a non-empty query")
	}

	hits, err := t.store.Search(query, t.maxResults)
	if err != nil {
		return "", fmt.Errorf("knowledge search: %w", err)
	}
	if len(hits) == 0 {
		return "No documents found for: " + query, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Documents matching %q:\n", query)
	for _, h := range hits {
		fmt.Fprintf(&sb, "%d. [%s] %s\n   %s\n", h.Rank, h.DocID, h.Title, h.Snippet)
	}
	return sb.String(), nil
}

// GetTool retrieves one document by ID.
type GetTool struct {
	store *Store
}

func NewGetTool(store *Store) *GetTool { return &GetTool{store: store} }

func (t *GetTool) Name() string { return "get_document_by_id" }

func (t *GetTool) Description() string {
	return "Retrieve the full text of one knowledge base document by its ID."
}

func (t *GetTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"doc_id": map[string]any{"type": "string", "description": "The document ID, as returned by search_documents."},
		},
		"required": []string{"doc_id"},
	}
}

func (t *GetTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	id, _ := args["doc_id"].(string)
	if strings.TrimSpace(id) == "" {
		return "", errors.New("get_document_by_id requires a doc_id")
	}

	doc, ok := t.store.Get(id)
	if !ok {
		return "", fmt.Errorf("document %q not found", id)
	}
	return fmt.Sprintf("%s\n%s\n\n%s", doc.Title, doc.URL, doc.Text), nil
}
