package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/sematica-ai/memory-engine/internal/embedding"
	"github.com/sematica-ai/memory-engine/internal/ingest"
	"github.com/sematica-ai/memory-engine/internal/observability"
	"github.com/sematica-ai/memory-engine/internal/storage"
)

// Normalizer is the slice of the normalize package the service uses.
type Normalizer interface {
	Normalize(ctx context.Context, text, source string, domains []string) ([]*storage.Insight, error)
}

// Service implements the memory engine operations over the store, the
// normalizer, and the embedder. All methods return *Error on failure.
type Service struct {
	store      *storage.Store
	normalizer Normalizer
	embedder   embedding.Embedder
	ingestor   *ingest.Ingestor
	logger     *observability.Logger
}

// NewService wires the memory service. The ingestor may be nil when no
// crawling capability is configured; knowledge-base ingestion then
// fails with STORAGE_ERROR.
func NewService(store *storage.Store, normalizer Normalizer, embedder embedding.Embedder,
	ingestor *ingest.Ingestor, logger *observability.Logger,
) *Service {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Service{
		store:      store,
		normalizer: normalizer,
		embedder:   embedder,
		ingestor:   ingestor,
		logger:     logger.WithComponent("memory"),
	}
}

// StoreInsightRequest carries one store operation. Domain accepts a
// comma-separated list; Git is optional provenance.
type StoreInsightRequest struct {
	Text   string             `json:"text"`
	Domain string             `json:"domain,omitempty"`
	Source string             `json:"source,omitempty"`
	Git    storage.GitContext `json:"git,omitempty"`
}

// StoredInsight is one normalized insight as returned by StoreInsight.
type StoredInsight struct {
	ID         string        `json:"id"`
	Normalized string        `json:"normalized"`
	Frame      storage.Frame `json:"frame"`
	Confidence float64       `json:"confidence"`
}

// StoreInsightResult reports what a store operation produced.
type StoreInsightResult struct {
	Stored   int             `json:"stored"`
	Insights []StoredInsight `json:"insights"`
	Message  string          `json:"message,omitempty"`
}

// StoreInsight normalizes free text into frame-classified insights,
// embeds them in one batch call, and stores each with its subjects and
// derived relations. No confidence threshold applies here; everything
// the normalizer extracts is kept.
func (s *Service) StoreInsight(ctx context.Context, req StoreInsightRequest) (*StoreInsightResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, NewError(CodeInvalidField, "text is required").WithDetail("field", "text")
	}

	var domains []string
	for _, d := range strings.Split(req.Domain, ",") {
		if d = strings.TrimSpace(d); d != "" {
			domains = append(domains, d)
		}
	}

	insights, err := s.normalizer.Normalize(ctx, req.Text, req.Source, domains)
	if err != nil {
		return nil, WrapError(err)
	}
	if len(insights) == 0 {
		return &StoreInsightResult{Message: "No insights extracted from text."}, nil
	}

	texts := make([]string, len(insights))
	for i, insight := range insights {
		texts[i] = insight.NormalizedText
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, WrapError(fmt.Errorf("embed insights: %w", err))
	}

	result := &StoreInsightResult{}
	for i, insight := range insights {
		insight.Embedding = vectors[i]
		id, err := s.store.InsertInsight(ctx, insight, req.Git)
		if err != nil {
			return nil, WrapError(err)
		}
		result.Stored++
		result.Insights = append(result.Insights, StoredInsight{
			ID:         id,
			Normalized: insight.NormalizedText,
			Frame:      insight.Frame,
			Confidence: insight.Confidence,
		})
	}

	s.logger.Info().Int("stored", result.Stored).Strs("domains", domains).Msg("Stored insights")
	return result, nil
}

// SearchInsights embeds the query and ranks stored insights by cosine
// similarity, optionally restricted to a domain.
func (s *Service) SearchInsights(ctx context.Context, query, domain string, limit int) ([]*storage.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, NewError(CodeInvalidField, "query is required").WithDetail("field", "query")
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, WrapError(fmt.Errorf("embed query: %w", err))
	}
	results, err := s.store.SearchByEmbedding(ctx, vec, domain, limit)
	if err != nil {
		return nil, WrapError(err)
	}
	return results, nil
}

// GetInsight loads one insight by id.
func (s *Service) GetInsight(ctx context.Context, id string) (*storage.Insight, error) {
	insight, err := s.store.GetInsight(ctx, id)
	if err != nil {
		return nil, WrapError(err)
	}
	return insight, nil
}

// UpdateInsight applies a partial update over the allowlisted fields.
func (s *Service) UpdateInsight(ctx context.Context, id string, fields map[string]interface{}) (*storage.Insight, error) {
	insight, err := s.store.UpdateInsight(ctx, id, fields)
	if err != nil {
		return nil, WrapError(err)
	}
	return insight, nil
}

// Forget permanently deletes an insight and its graph links.
func (s *Service) Forget(ctx context.Context, id string) error {
	if err := s.store.DeleteInsight(ctx, id); err != nil {
		return WrapError(err)
	}
	return nil
}

// ListInsights returns insights newest first with optional domain and
// frame filters.
func (s *Service) ListInsights(ctx context.Context, domain, frame string, limit int) ([]*storage.Insight, error) {
	var f storage.Frame
	if frame != "" {
		parsed, err := storage.ParseFrame(frame)
		if err != nil {
			return nil, NewError(CodeInvalidField, err.Error()).WithDetail("field", "frame")
		}
		f = parsed
	}
	insights, err := s.store.ListInsights(ctx, domain, f, limit)
	if err != nil {
		return nil, WrapError(err)
	}
	return insights, nil
}

// SearchBySubject returns insights tagged with the named subject.
func (s *Service) SearchBySubject(ctx context.Context, name, kind string, limit int) ([]*storage.Insight, error) {
	var k storage.SubjectKind
	if kind != "" {
		parsed, err := storage.ParseSubjectKind(kind)
		if err != nil {
			return nil, NewError(CodeInvalidField, err.Error()).WithDetail("field", "kind")
		}
		k = parsed
	}
	insights, err := s.store.SearchBySubject(ctx, name, k, limit)
	if err != nil {
		return nil, WrapError(err)
	}
	return insights, nil
}

// RelatedInsights returns insights connected through the relation graph,
// strongest edges first.
func (s *Service) RelatedInsights(ctx context.Context, id string, limit int) ([]*storage.SearchResult, error) {
	results, err := s.store.RelatedInsights(ctx, id, limit)
	if err != nil {
		return nil, WrapError(err)
	}
	return results, nil
}

// AddSubjectRelation records a typed edge between two existing subjects.
func (s *Service) AddSubjectRelation(ctx context.Context, fromName, fromKind, relation, toName, toKind string) error {
	fk, err := storage.ParseSubjectKind(fromKind)
	if err != nil {
		return NewError(CodeInvalidField, err.Error()).WithDetail("field", "from_kind")
	}
	tk, err := storage.ParseSubjectKind(toKind)
	if err != nil {
		return NewError(CodeInvalidField, err.Error()).WithDetail("field", "to_kind")
	}
	rel, err := storage.ParseRelationType(relation)
	if err != nil {
		return NewError(CodeInvalidField, err.Error()).WithDetail("field", "relation")
	}

	ok, err := s.store.AddSubjectRelation(ctx, fromName, fk, rel, toName, tk)
	if err != nil {
		return WrapError(err)
	}
	if !ok {
		return NewError(CodeNotFound, "one or both subjects do not exist").
			WithDetail("from", fromName).WithDetail("to", toName)
	}
	return nil
}

// GetSubjectRelations returns the graph edges touching one subject. An
// empty kind matches the name under any kind; an empty relationType
// matches every edge type.
func (s *Service) GetSubjectRelations(ctx context.Context, name, kind, relationType string, limit int) ([]storage.SubjectRelation, error) {
	var k storage.SubjectKind
	if kind != "" {
		parsed, err := storage.ParseSubjectKind(kind)
		if err != nil {
			return nil, NewError(CodeInvalidField, err.Error()).WithDetail("field", "kind")
		}
		k = parsed
	}
	var rel storage.RelationType
	if relationType != "" {
		parsed, err := storage.ParseRelationType(relationType)
		if err != nil {
			return nil, NewError(CodeInvalidField, err.Error()).WithDetail("field", "relation")
		}
		rel = parsed
	}
	relations, err := s.store.GetSubjectRelations(ctx, name, k, rel, limit)
	if err != nil {
		return nil, WrapError(err)
	}
	return relations, nil
}
