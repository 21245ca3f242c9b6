// Package crawl fetches web documentation as markdown through the
// Firecrawl HTTP API.
package crawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sematica-ai/memory-engine/internal/config"
	"github.com/sematica-ai/memory-engine/internal/observability"
)

// Page is one crawled document rendered to markdown.
type Page struct {
	URL      string                 `json:"url"`
	Markdown string                 `json:"markdown"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Service crawls documentation sites. Implementations return pages as
// markdown with main-content extraction applied.
type Service interface {
	// Crawl walks a site starting at url, visiting at most limit pages.
	Crawl(ctx context.Context, url string, limit int) ([]Page, error)
	// Scrape fetches a single page.
	Scrape(ctx context.Context, url string) (Page, error)
}

// FirecrawlClient implements Service against the Firecrawl v1 API.
// Crawls are asynchronous jobs; the client submits the job and polls its
// status until completion or the configured timeout.
type FirecrawlClient struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	pollTimeout  time.Duration
	httpClient   *http.Client
	logger       *observability.Logger
}

var _ Service = (*FirecrawlClient)(nil)

// NewFirecrawlClient builds a Firecrawl client from configuration. The
// API key is required.
func NewFirecrawlClient(cfg config.CrawlerConfig, logger *observability.Logger) (*FirecrawlClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("firecrawl: api key is required")
	}
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.firecrawl.dev"
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Minute
	}
	return &FirecrawlClient{
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		logger:       logger.WithComponent("crawl"),
	}, nil
}

type scrapeOptions struct {
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type crawlRequest struct {
	URL           string        `json:"url"`
	Limit         int           `json:"limit"`
	ScrapeOptions scrapeOptions `json:"scrapeOptions"`
}

type crawlSubmitResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	Error   string `json:"error"`
}

type firecrawlDocument struct {
	Markdown string                 `json:"markdown"`
	Metadata map[string]interface{} `json:"metadata"`
}

type crawlStatusResponse struct {
	Status string              `json:"status"`
	Error  string              `json:"error"`
	Data   []firecrawlDocument `json:"data"`
}

type scrapeRequest struct {
	URL             string   `json:"url"`
	Formats         []string `json:"formats"`
	OnlyMainContent bool     `json:"onlyMainContent"`
}

type scrapeResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error"`
	Data    firecrawlDocument `json:"data"`
}

// Crawl submits a crawl job and polls until it completes.
func (c *FirecrawlClient) Crawl(ctx context.Context, url string, limit int) ([]Page, error) {
	if limit <= 0 {
		limit = 1000
	}

	var submitted crawlSubmitResponse
	if err := c.post(ctx, "/v1/crawl", crawlRequest{
		URL:   url,
		Limit: limit,
		ScrapeOptions: scrapeOptions{
			Formats:         []string{"markdown"},
			OnlyMainContent: true,
		},
	}, &submitted); err != nil {
		return nil, fmt.Errorf("submit crawl: %w", err)
	}
	if submitted.ID == "" {
		return nil, fmt.Errorf("submit crawl: %s", nonEmpty(submitted.Error, "no job id returned"))
	}

	c.logger.Info().Str("url", url).Str("job_id", submitted.ID).Int("limit", limit).Msg("Crawl started")

	status, err := c.pollCrawl(ctx, submitted.ID)
	if err != nil {
		return nil, err
	}

	pages := make([]Page, 0, len(status.Data))
	for _, doc := range status.Data {
		pages = append(pages, docToPage(doc, url))
	}
	return pages, nil
}

// pollCrawl waits on the crawl job with constant backoff until it
// reports completed, fails, or the poll timeout elapses.
func (c *FirecrawlClient) pollCrawl(ctx context.Context, jobID string) (*crawlStatusResponse, error) {
	policy := backoff.WithContext(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(c.pollInterval),
			backoff.WithMultiplier(1),
			backoff.WithRandomizationFactor(0),
			backoff.WithMaxElapsedTime(c.pollTimeout),
		),
		ctx,
	)

	var status crawlStatusResponse
	operation := func() error {
		status = crawlStatusResponse{}
		if err := c.get(ctx, "/v1/crawl/"+jobID, &status); err != nil {
			return backoff.Permanent(err)
		}
		switch status.Status {
		case "completed":
			return nil
		case "failed", "cancelled":
			return backoff.Permanent(fmt.Errorf("crawl job %s %s: %s", jobID, status.Status, status.Error))
		}
		return fmt.Errorf("crawl job %s still %s", jobID, nonEmpty(status.Status, "pending"))
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("poll crawl: %w", err)
	}
	return &status, nil
}

// Scrape fetches one page synchronously.
func (c *FirecrawlClient) Scrape(ctx context.Context, url string) (Page, error) {
	var resp scrapeResponse
	if err := c.post(ctx, "/v1/scrape", scrapeRequest{
		URL:             url,
		Formats:         []string{"markdown"},
		OnlyMainContent: true,
	}, &resp); err != nil {
		return Page{}, fmt.Errorf("scrape: %w", err)
	}
	if !resp.Success {
		return Page{}, fmt.Errorf("scrape %s: %s", url, nonEmpty(resp.Error, "request failed"))
	}
	return docToPage(resp.Data, url), nil
}

// docToPage resolves the page URL from metadata ("url", then
// "sourceURL"), falling back to the request URL.
func docToPage(doc firecrawlDocument, fallbackURL string) Page {
	pageURL := fallbackURL
	if u, ok := doc.Metadata["url"].(string); ok && u != "" {
		pageURL = u
	} else if u, ok := doc.Metadata["sourceURL"].(string); ok && u != "" {
		pageURL = u
	}
	return Page{URL: pageURL, Markdown: doc.Markdown, Metadata: doc.Metadata}
}

func (c *FirecrawlClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *FirecrawlClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *FirecrawlClient) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call firecrawl: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read firecrawl response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("firecrawl returned status %d: %s", resp.StatusCode, truncate(string(payload), 200))
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode firecrawl response: %w", err)
	}
	return nil
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
