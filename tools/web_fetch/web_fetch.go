package web_fetch

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/deepscout/config"
	"github.com/mohammad-safakhou/deepscout/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/deepscout/tools/web_fetch/models"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

// WebFetcher retrieves one page and extracts its readable content.
type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	ChromedpFetcherType FetcherType = "chromedp"
	HTTPFetcherType     FetcherType = "http"
)

var ErrUnsupportedFetcher = errors.New("unsupported fetcher type")

func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int, userAgent string) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case ChromedpFetcherType:
		return &chromedp.Fetch{Timeout: timeout, MaxChars: maxChars, UserAgent: userAgent}, nil
	case HTTPFetcherType, "":
		return &httpFetch{timeout: timeout, maxChars: maxChars, userAgent: userAgent}, nil
	default:
		return nil, ErrUnsupportedFetcher
	}
}

// httpFetch retrieves pages with a plain GET. Cheaper than a browser and
// good enough for server-rendered pages.
type httpFetch struct {
	timeout   time.Duration
	maxChars  int
	userAgent string
}

func (f *httpFetch) Exec(ctx context.Context, pageURL string) (models.Result, error) {
	if strings.TrimSpace(pageURL) == "" {
		return models.Result{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return models.Result{}, err
	}
	ua := f.userAgent
	if ua == "" {
		ua = "deepscout/1.0"
	}
	req.Header.Set("User-Agent", ua)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.Result{URL: pageURL, Status: 599, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return models.Result{URL: pageURL, Status: resp.StatusCode, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	html := string(body)

	parsed, _ := url.Parse(pageURL)
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return models.Result{URL: pageURL, Status: resp.StatusCode, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	text := article.TextContent
	if len(text) > f.maxChars {
		text = text[:f.maxChars]
	}

	sum := sha1.Sum(body)

	return models.Result{
		URL:      pageURL,
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		SiteName: article.SiteName,
		Text:     strings.TrimSpace(text),
		TopImage: article.Image,
		HTMLHash: hex.EncodeToString(sum[:]),
		Status:   resp.StatusCode,
		RenderMS: int(time.Since(t0) / time.Millisecond),
	}, nil
}

// Ingestor receives successfully fetched pages, e.g. to index them for
// later document lookups.
type Ingestor interface {
	IngestPage(ctx context.Context, url, title, text string) error
}

// Tool exposes page fetching to researchers.
type Tool struct {
	fetcher  WebFetcher
	ingestor Ingestor
}

func NewTool(cfg config.WebFetchConfig) (*Tool, error) {
	fetcher, err := NewWebFetcher(FetcherType(cfg.Fetcher), cfg.Timeout, cfg.MaxChars, cfg.UserAgent)
	if err != nil {
		return nil, err
	}
	return &Tool{fetcher: fetcher}, nil
}

// SetIngestor registers a sink for fetched pages. Indexing is best effort and
// never fails the fetch.
func (t *Tool) SetIngestor(ing Ingestor) { t.ingestor = ing }

func (t *Tool) Name() string { return "web_fetch" }

func (t *Tool) Description() string {
	return "Fetch one web page by URL and return its readable text content."
}

func (t *Tool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "description": "The absolute URL to fetch."},
		},
		"required": []string{"url"},
	}
}

func (t *Tool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	pageURL, _ := args["url"].(string)
	if strings.TrimSpace(pageURL) == "" {
		return "", errors.New("web_fetch requires a url")
	}

	result, err := t.fetcher.Exec(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("web fetch: %w", err)
	}
	if result.Text == "" {
		return fmt.Sprintf("No readable content extracted from %s (status %d)", pageURL, result.Status), nil
	}
	if t.ingestor != nil {
		_ = t.ingestor.IngestPage(ctx, result.URL, result.Title, result.Text)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n%s\n\n%s", result.Title, result.URL, result.Text)
	return sb.String(), nil
}
