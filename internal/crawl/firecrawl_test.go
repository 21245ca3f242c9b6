package crawl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sematica-ai/memory-engine/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) *FirecrawlClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewFirecrawlClient(config.CrawlerConfig{
		APIKey:       "test-key",
		BaseURL:      server.URL,
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  time.Second,
	}, nil)
	require.NoError(t, err)
	return client
}

func TestNewFirecrawlClient_RequiresAPIKey(t *testing.T) {
	_, err := NewFirecrawlClient(config.CrawlerConfig{}, nil)
	assert.Error(t, err)
}

func TestCrawl_SubmitsAndPolls(t *testing.T) {
	var polls atomic.Int64
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/crawl", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com/docs", req["url"])
		assert.EqualValues(t, 25, req["limit"])

		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "id": "job-1"})
	})
	mux.HandleFunc("GET /v1/crawl/job-1", func(w http.ResponseWriter, r *http.Request) {
		// First poll reports the job in flight, second completes it.
		if polls.Add(1) == 1 {
			json.NewEncoder(w).Encode(map[string]interface{}{"status": "scraping"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "completed",
			"data": []map[string]interface{}{
				{"markdown": "# Page One", "metadata": map[string]interface{}{"url": "https://example.com/docs/one"}},
				{"markdown": "# Page Two", "metadata": map[string]interface{}{"sourceURL": "https://example.com/docs/two"}},
				{"markdown": "# No Metadata"},
			},
		})
	})

	client := newTestClient(t, mux)
	pages, err := client.Crawl(context.Background(), "https://example.com/docs", 25)
	require.NoError(t, err)
	require.Len(t, pages, 3)

	assert.GreaterOrEqual(t, polls.Load(), int64(2))
	assert.Equal(t, "https://example.com/docs/one", pages[0].URL)
	assert.Equal(t, "https://example.com/docs/two", pages[1].URL, "sourceURL is the fallback key")
	assert.Equal(t, "https://example.com/docs", pages[2].URL, "request url is the last resort")
	assert.Equal(t, "# Page One", pages[0].Markdown)
}

func TestCrawl_JobFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/crawl", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "id": "job-2"})
	})
	mux.HandleFunc("GET /v1/crawl/job-2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "failed", "error": "robots.txt disallows"})
	})

	client := newTestClient(t, mux)
	_, err := client.Crawl(context.Background(), "https://example.com", 10)
	assert.ErrorContains(t, err, "robots.txt disallows")
}

func TestCrawl_SubmitRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/crawl", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "invalid url"})
	})

	client := newTestClient(t, mux)
	_, err := client.Crawl(context.Background(), "not-a-url", 10)
	assert.ErrorContains(t, err, "invalid url")
}

func TestScrape(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/scrape", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com/page", req["url"])
		assert.Equal(t, true, req["onlyMainContent"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    map[string]interface{}{"markdown": "# Single Page"},
		})
	})

	client := newTestClient(t, mux)
	page, err := client.Scrape(context.Background(), "https://example.com/page")
	require.NoError(t, err)
	assert.Equal(t, "# Single Page", page.Markdown)
	assert.Equal(t, "https://example.com/page", page.URL)
}

func TestScrape_HTTPError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))

	_, err := client.Scrape(context.Background(), "https://example.com")
	assert.ErrorContains(t, err, "status 429")
}
