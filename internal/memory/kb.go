package memory

import (
	"context"
	"strings"

	"github.com/sematica-ai/memory-engine/internal/ingest"
	"github.com/sematica-ai/memory-engine/internal/storage"
)

// AddKnowledgeBaseRequest describes a knowledge-base ingestion. With
// ScrapeOnly set, only the single URL is fetched instead of a crawl.
type AddKnowledgeBaseRequest struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	ScrapeOnly  bool   `json:"scrape_only,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// AddKnowledgeBaseResult reports one completed ingestion.
type AddKnowledgeBaseResult struct {
	KnowledgeBase *storage.KnowledgeBase `json:"knowledge_base"`
	ChunksStored  int                    `json:"chunks_stored"`
}

// AddKnowledgeBase creates a named knowledge base and ingests its source
// URL through the pipeline. Duplicate names are rejected.
func (s *Service) AddKnowledgeBase(ctx context.Context, req AddKnowledgeBaseRequest, progress ingest.ProgressFunc) (*AddKnowledgeBaseResult, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, NewError(CodeInvalidField, "name is required").WithDetail("field", "name")
	}
	if strings.TrimSpace(req.URL) == "" {
		return nil, NewError(CodeInvalidField, "url is required").WithDetail("field", "url")
	}
	if s.ingestor == nil {
		return nil, NewError(CodeStorageError, "no ingestion pipeline configured")
	}

	sourceType := "crawl"
	if req.ScrapeOnly {
		sourceType = "scrape"
	}
	kb, err := s.store.CreateKnowledgeBase(ctx, req.Name, req.Description, sourceType)
	if err != nil {
		return nil, WrapError(err)
	}

	stored, err := s.ingestKB(ctx, kb.ID, req.URL, req.ScrapeOnly, req.Limit, progress)
	if err != nil {
		// Do not leave a half-ingested base behind.
		if delErr := s.store.DeleteKnowledgeBase(ctx, kb.ID); delErr != nil {
			s.logger.Warn().Err(delErr).Str("kb", req.Name).Msg("Failed to clean up knowledge base after ingest error")
		}
		return nil, err
	}

	s.logger.Info().Str("kb", req.Name).Int("chunks", stored).Msg("Knowledge base ingested")
	return &AddKnowledgeBaseResult{KnowledgeBase: kb, ChunksStored: stored}, nil
}

func (s *Service) ingestKB(ctx context.Context, kbID, url string, scrapeOnly bool, limit int, progress ingest.ProgressFunc) (int, error) {
	var stored int
	var err error
	if scrapeOnly {
		stored, err = s.ingestor.IngestScrape(ctx, kbID, url)
	} else {
		stored, err = s.ingestor.IngestCrawl(ctx, kbID, url, limit, progress)
	}
	if err != nil {
		return stored, WrapError(err)
	}
	return stored, nil
}

// RefreshKnowledgeBase drops a knowledge base's chunks and re-ingests
// from the given URL, keeping the base record and its id stable.
func (s *Service) RefreshKnowledgeBase(ctx context.Context, name, url string, scrapeOnly bool, limit int, progress ingest.ProgressFunc) (*AddKnowledgeBaseResult, error) {
	if s.ingestor == nil {
		return nil, NewError(CodeStorageError, "no ingestion pipeline configured")
	}
	kb, err := s.store.GetKnowledgeBaseByName(ctx, name)
	if err != nil {
		return nil, WrapError(err)
	}
	if _, err := s.store.DeleteKnowledgeBaseChunks(ctx, kb.ID); err != nil {
		return nil, WrapError(err)
	}

	stored, err := s.ingestKB(ctx, kb.ID, url, scrapeOnly, limit, progress)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("kb", name).Int("chunks", stored).Msg("Knowledge base refreshed")
	return &AddKnowledgeBaseResult{KnowledgeBase: kb, ChunksStored: stored}, nil
}

// IngestKnowledgeBaseDirectory creates (or reuses) a knowledge base and
// loads previously crawled Firecrawl JSON files from a local directory.
func (s *Service) IngestKnowledgeBaseDirectory(ctx context.Context, name, dir string, progress ingest.ProgressFunc) (*AddKnowledgeBaseResult, error) {
	if s.ingestor == nil {
		return nil, NewError(CodeStorageError, "no ingestion pipeline configured")
	}
	kb, err := s.store.GetKnowledgeBaseByName(ctx, name)
	if err != nil {
		kb, err = s.store.CreateKnowledgeBase(ctx, name, "", "directory")
		if err != nil {
			return nil, WrapError(err)
		}
	}

	stored, err := s.ingestor.IngestFromDirectory(ctx, kb.ID, dir, progress)
	if err != nil {
		return nil, WrapError(err)
	}
	return &AddKnowledgeBaseResult{KnowledgeBase: kb, ChunksStored: stored}, nil
}

// SearchKnowledgeBase embeds the query and ranks chunks by cosine
// similarity. An empty kbName searches every knowledge base.
func (s *Service) SearchKnowledgeBase(ctx context.Context, query, kbName string, limit int) ([]*storage.KBSearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, NewError(CodeInvalidField, "query is required").WithDetail("field", "query")
	}

	kbID := ""
	if kbName != "" {
		kb, err := s.store.GetKnowledgeBaseByName(ctx, kbName)
		if err != nil {
			return nil, WrapError(err)
		}
		kbID = kb.ID
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, WrapError(err)
	}
	results, err := s.store.SearchKBByEmbedding(ctx, vec, kbID, limit)
	if err != nil {
		return nil, WrapError(err)
	}
	return results, nil
}

// ListKnowledgeBases returns every knowledge base with its chunk count.
func (s *Service) ListKnowledgeBases(ctx context.Context) ([]storage.KnowledgeBaseInfo, error) {
	list, err := s.store.ListKnowledgeBases(ctx)
	if err != nil {
		return nil, WrapError(err)
	}
	return list, nil
}

// DeleteKnowledgeBase removes a knowledge base by name, cascading its
// chunks.
func (s *Service) DeleteKnowledgeBase(ctx context.Context, name string) error {
	kb, err := s.store.GetKnowledgeBaseByName(ctx, name)
	if err != nil {
		return WrapError(err)
	}
	if err := s.store.DeleteKnowledgeBase(ctx, kb.ID); err != nil {
		return WrapError(err)
	}
	return nil
}
