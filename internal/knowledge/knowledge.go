package knowledge

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/google/uuid"
)

// Document is one entry in the knowledge base.
type Document struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Text    string    `json:"text"`
	AddedAt time.Time `json:"added_at"`
}

// SearchHit is one BM25 match.
type SearchHit struct {
	DocID   string  `json:"doc_id"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// Store is a BM25 document index. With an index directory it persists
// across restarts; without one it lives in memory.
type Store struct {
	mu    sync.RWMutex
	index bleve.Index
	meta  map[string]Document
}

// Open creates or reopens a store. An empty dir selects the in-memory index.
func Open(dir string) (*Store, error) {
	var (
		index    bleve.Index
		err      error
		reopened bool
	)
	if dir == "" {
		index, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	} else if _, statErr := os.Stat(dir); statErr == nil {
		index, err = bleve.Open(dir)
		reopened = true
	} else {
		index, err = bleve.New(dir, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open knowledge index: %w", err)
	}
	s := &Store{index: index, meta: make(map[string]Document)}
	if reopened {
		if err := s.rebuildMeta(); err != nil {
			index.Close()
			return nil, fmt.Errorf("restore knowledge documents: %w", err)
		}
	}
	return s, nil
}

// rebuildMeta reloads document fields from the stored index so Get and
// Search keep working across restarts.
func (s *Store) rebuildMeta() error {
	const page = 500
	query := bleve.NewMatchAllQuery()
	for from := 0; ; from += page {
		req := bleve.NewSearchRequestOptions(query, page, from, false)
		req.Fields = []string{"title", "url", "text", "added_at"}
		res, err := s.index.Search(req)
		if err != nil {
			return err
		}
		for _, hit := range res.Hits {
			doc := Document{ID: hit.ID}
			if v, ok := hit.Fields["title"].(string); ok {
				doc.Title = v
			}
			if v, ok := hit.Fields["url"].(string); ok {
				doc.URL = v
			}
			if v, ok := hit.Fields["text"].(string); ok {
				doc.Text = v
			}
			if v, ok := hit.Fields["added_at"].(string); ok {
				if ts, err := time.Parse(time.RFC3339, v); err == nil {
					doc.AddedAt = ts
				}
			}
			s.meta[hit.ID] = doc
		}
		if len(res.Hits) == 0 || from+len(res.Hits) >= int(res.Total) {
			return nil
		}
	}
}

// IngestPage indexes a fetched page so researchers can re-query it with
// search_documents later in the run. Empty pages are skipped.
func (s *Store) IngestPage(ctx context.Context, url, title, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_, err := s.Add(Document{Title: title, URL: url, Text: text})
	return err
}

// Add indexes one document, assigning an ID when none is set.
func (s *Store) Add(doc Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.AddedAt.IsZero() {
		doc.AddedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.Index(doc.ID, doc); err != nil {
		return "", fmt.Errorf("index document: %w", err)
	}
	s.meta[doc.ID] = doc
	return doc.ID, nil
}

// Get returns one document by ID.
func (s *Store) Get(id string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.meta[id]
	return doc, ok
}

// Count returns the number of indexed documents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.meta)
}

// Search runs a BM25 query and returns the top k hits.
func (s *Store) Search(q string, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 5
	}
	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k*3, 0, false)

	s.mu.RLock()
	res, err := s.index.Search(req)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	var out []SearchHit
	for i, hit := range res.Hits {
		s.mu.RLock()
		doc := s.meta[hit.ID]
		s.mu.RUnlock()
		out = append(out, SearchHit{
			DocID:   hit.ID,
			Title:   doc.Title,
			URL:     doc.URL,
			Snippet: snippet(doc.Text),
			Score:   hit.Score,
			Rank:    i + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// Close releases the underlying index.
func (s *Store) Close() error {
	return s.index.Close()
}

func snippet(text string) string {
	const max = 280
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
