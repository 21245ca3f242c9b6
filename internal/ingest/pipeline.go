package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sematica-ai/memory-engine/internal/crawl"
	"github.com/sematica-ai/memory-engine/internal/embedding"
	"github.com/sematica-ai/memory-engine/internal/observability"
	"github.com/sematica-ai/memory-engine/internal/storage"
)

// Normalizer is the slice of the normalize package the pipeline uses.
type Normalizer interface {
	Normalize(ctx context.Context, text, source string, domains []string) ([]*storage.Insight, error)
}

// ProgressFunc reports pipeline progress: the 1-based current item, the
// total item count, and the URL being processed.
type ProgressFunc func(current, total int, url string)

// Config tunes the ingestion pipeline.
type Config struct {
	// MaxChars caps chunk size for markdown splitting.
	MaxChars int
	// MinConfidence drops normalized insights scoring below it. This is
	// the only place the threshold applies.
	MinConfidence float64
}

// Ingestor orchestrates crawl -> clean -> split -> normalize -> embed ->
// store for knowledge bases.
type Ingestor struct {
	store      *storage.Store
	normalizer Normalizer
	embedder   embedding.Embedder
	crawler    crawl.Service
	cfg        Config
	logger     *observability.Logger
}

// NewIngestor wires the pipeline. The crawler may be nil when only
// directory ingestion is used.
func NewIngestor(store *storage.Store, normalizer Normalizer, embedder embedding.Embedder,
	crawler crawl.Service, cfg Config, logger *observability.Logger,
) *Ingestor {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 4000
	}
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Ingestor{
		store:      store,
		normalizer: normalizer,
		embedder:   embedder,
		crawler:    crawler,
		cfg:        cfg,
		logger:     logger.WithComponent("ingest"),
	}
}

// IngestCrawl crawls a site and ingests every page into the knowledge
// base. Returns the total chunks stored.
func (ing *Ingestor) IngestCrawl(ctx context.Context, kbID, url string, limit int, progress ProgressFunc) (int, error) {
	if ing.crawler == nil {
		return 0, fmt.Errorf("no crawl service configured")
	}
	pages, err := ing.crawler.Crawl(ctx, url, limit)
	if err != nil {
		return 0, err
	}

	total := 0
	for i, page := range pages {
		if progress != nil {
			progress(i+1, len(pages), page.URL)
		}
		stored, err := ing.IngestPage(ctx, kbID, page)
		if err != nil {
			return total, err
		}
		total += stored
	}
	return total, nil
}

// IngestScrape fetches one URL and ingests it.
func (ing *Ingestor) IngestScrape(ctx context.Context, kbID, url string) (int, error) {
	if ing.crawler == nil {
		return 0, fmt.Errorf("no crawl service configured")
	}
	page, err := ing.crawler.Scrape(ctx, url)
	if err != nil {
		return 0, err
	}
	return ing.IngestPage(ctx, kbID, page)
}

// IngestPage processes one crawled page: clean, split, normalize each
// chunk (failures are logged and skipped), filter by confidence, embed
// everything in one batch call, and store. Returns chunks stored.
func (ing *Ingestor) IngestPage(ctx context.Context, kbID string, page crawl.Page) (int, error) {
	cleaned := CleanMarkdown(page.Markdown)
	textChunks := SplitMarkdown(cleaned, ing.cfg.MaxChars)

	var insights []*storage.Insight
	for _, chunk := range textChunks {
		normalized, err := ing.normalizer.Normalize(ctx, chunk, page.URL, nil)
		if err != nil {
			ing.logger.Warn().Str("url", page.URL).Err(err).Msg("Failed to normalize chunk")
			continue
		}
		insights = append(insights, normalized...)
	}
	if len(insights) == 0 {
		return 0, nil
	}

	kept := insights[:0]
	for _, insight := range insights {
		if insight.Confidence >= ing.cfg.MinConfidence {
			kept = append(kept, insight)
		}
	}
	if dropped := len(insights) - len(kept); dropped > 0 {
		ing.logger.Info().
			Int("dropped", dropped).
			Int("total", len(insights)).
			Float64("threshold", ing.cfg.MinConfidence).
			Msg("Filtered insights below confidence threshold")
	}
	if len(kept) == 0 {
		return 0, nil
	}

	// One embedding call per page, not per chunk.
	texts := make([]string, len(kept))
	for i, insight := range kept {
		texts[i] = insight.NormalizedText
	}
	vectors, err := ing.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed page %s: %w", page.URL, err)
	}

	stored := 0
	for i, insight := range kept {
		chunk := &storage.KBChunk{
			KBID:           kbID,
			Text:           insight.Text,
			NormalizedText: insight.NormalizedText,
			Frame:          insight.Frame,
			Domains:        insight.Domains,
			Entities:       insight.Entities,
			Problems:       insight.Problems,
			Resolutions:    insight.Resolutions,
			Contexts:       insight.Contexts,
			Confidence:     insight.Confidence,
			SourceURL:      page.URL,
			Embedding:      vectors[i],
		}
		if _, err := ing.store.InsertKBChunk(ctx, chunk); err != nil {
			return stored, fmt.Errorf("store chunk from %s: %w", page.URL, err)
		}
		stored++
	}
	return stored, nil
}

// IngestFromDirectory loads previously crawled Firecrawl JSON files
// ({"markdown": ..., "metadata": {"sourceURL": ...}}) from a directory
// in name order and ingests each as a page.
func (ing *Ingestor) IngestFromDirectory(ctx context.Context, kbID, dir string, progress ProgressFunc) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	total := 0
	for i, name := range files {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return total, fmt.Errorf("read %s: %w", path, err)
		}

		var doc struct {
			Markdown string                 `json:"markdown"`
			Metadata map[string]interface{} `json:"metadata"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return total, fmt.Errorf("parse %s: %w", path, err)
		}

		url := strings.TrimSuffix(name, ".json")
		if u, ok := doc.Metadata["sourceURL"].(string); ok && u != "" {
			url = u
		} else if u, ok := doc.Metadata["url"].(string); ok && u != "" {
			url = u
		}

		if progress != nil {
			progress(i+1, len(files), url)
		}
		stored, err := ing.IngestPage(ctx, kbID, crawl.Page{URL: url, Markdown: doc.Markdown, Metadata: doc.Metadata})
		if err != nil {
			return total, err
		}
		total += stored
	}
	return total, nil
}
