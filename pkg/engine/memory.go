package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// GitContext carries optional version-control provenance.
type GitContext struct {
	Repo    string `json:"repo,omitempty"`
	PR      string `json:"pr,omitempty"`
	Author  string `json:"author,omitempty"`
	Project string `json:"project,omitempty"`
	Task    string `json:"task,omitempty"`
}

// Insight is one normalized assertion stored in memory.
type Insight struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	NormalizedText string    `json:"normalized_text"`
	Frame          string    `json:"frame"`
	Domains        []string  `json:"domains"`
	Entities       []string  `json:"entities"`
	Problems       []string  `json:"problems"`
	Resolutions    []string  `json:"resolutions"`
	Contexts       []string  `json:"contexts"`
	Confidence     float64   `json:"confidence"`
	Source         string    `json:"source"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SearchResult pairs an insight with its similarity or relation score.
type SearchResult struct {
	Insight *Insight `json:"insight"`
	Score   float64  `json:"score"`
}

// StoreInsightRequest stores free text as normalized insights.
type StoreInsightRequest struct {
	Text   string     `json:"text"`
	Domain string     `json:"domain,omitempty"`
	Source string     `json:"source,omitempty"`
	Git    GitContext `json:"git,omitempty"`
}

// StoredInsight is one normalized insight as returned by StoreInsight.
type StoredInsight struct {
	ID         string  `json:"id"`
	Normalized string  `json:"normalized"`
	Frame      string  `json:"frame"`
	Confidence float64 `json:"confidence"`
}

// StoreInsightResult reports what a store operation produced.
type StoreInsightResult struct {
	Stored   int             `json:"stored"`
	Insights []StoredInsight `json:"insights"`
	Message  string          `json:"message,omitempty"`
}

// StoreInsight normalizes and stores free text.
func (c *Client) StoreInsight(ctx context.Context, req StoreInsightRequest) (*StoreInsightResult, error) {
	var out StoreInsightResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/insights", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search ranks stored insights by semantic similarity to the query.
func (c *Client) Search(ctx context.Context, query, domain string, limit int) ([]*SearchResult, error) {
	req := map[string]interface{}{"query": query}
	if domain != "" {
		req["domain"] = domain
	}
	if limit > 0 {
		req["limit"] = limit
	}
	var out struct {
		Results []*SearchResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", nil, req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// ListInsights returns insights newest first with optional filters.
func (c *Client) ListInsights(ctx context.Context, domain, frame string, limit int) ([]*Insight, error) {
	q := url.Values{}
	if domain != "" {
		q.Set("domain", domain)
	}
	if frame != "" {
		q.Set("frame", frame)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Insights []*Insight `json:"insights"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/insights", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Insights, nil
}

// GetInsight loads one insight by id.
func (c *Client) GetInsight(ctx context.Context, id string) (*Insight, error) {
	var out Insight
	if err := c.do(ctx, http.MethodGet, "/api/v1/insights/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateInsight applies a partial update over the allowlisted fields.
func (c *Client) UpdateInsight(ctx context.Context, id string, fields map[string]interface{}) (*Insight, error) {
	var out Insight
	if err := c.do(ctx, http.MethodPatch, "/api/v1/insights/"+url.PathEscape(id), nil, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ForgetInsight permanently deletes an insight.
func (c *Client) ForgetInsight(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/insights/"+url.PathEscape(id), nil, nil, nil)
}

// RelatedInsights returns insights connected through the relation graph.
func (c *Client) RelatedInsights(ctx context.Context, id string, limit int) ([]*SearchResult, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Results []*SearchResult `json:"results"`
	}
	path := fmt.Sprintf("/api/v1/insights/%s/related", url.PathEscape(id))
	if err := c.do(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// SubjectRelation is one typed edge between two subjects.
type SubjectRelation struct {
	FromName     string `json:"from_name"`
	FromKind     string `json:"from_kind"`
	RelationType string `json:"relation_type"`
	ToName       string `json:"to_name"`
	ToKind       string `json:"to_kind"`
}

// SearchBySubject returns insights tagged with the named subject.
func (c *Client) SearchBySubject(ctx context.Context, name, kind string, limit int) ([]*Insight, error) {
	q := url.Values{}
	q.Set("name", name)
	if kind != "" {
		q.Set("kind", kind)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Insights []*Insight `json:"insights"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/subjects/insights", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Insights, nil
}

// AddSubjectRelation records a typed edge between two existing subjects.
func (c *Client) AddSubjectRelation(ctx context.Context, rel SubjectRelation) error {
	req := map[string]string{
		"from_name": rel.FromName,
		"from_kind": rel.FromKind,
		"relation":  rel.RelationType,
		"to_name":   rel.ToName,
		"to_kind":   rel.ToKind,
	}
	return c.do(ctx, http.MethodPost, "/api/v1/subjects/relations", nil, req, nil)
}

// GetSubjectRelations returns the graph edges touching one subject.
// Kind and relation are optional filters; limit <= 0 uses the server
// default.
func (c *Client) GetSubjectRelations(ctx context.Context, name, kind, relation string, limit int) ([]SubjectRelation, error) {
	q := url.Values{}
	q.Set("name", name)
	if kind != "" {
		q.Set("kind", kind)
	}
	if relation != "" {
		q.Set("relation", relation)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Relations []SubjectRelation `json:"relations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/subjects/relations", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Relations, nil
}

// KnowledgeBase describes one ingested documentation source.
type KnowledgeBase struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	SourceType  string    `json:"source_type"`
	ChunkCount  int       `json:"chunk_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// KBChunk is one stored chunk of an ingested page.
type KBChunk struct {
	ID             string  `json:"id"`
	KBID           string  `json:"kb_id"`
	NormalizedText string  `json:"normalized_text"`
	Frame          string  `json:"frame"`
	Confidence     float64 `json:"confidence"`
	SourceURL      string  `json:"source_url"`
}

// KBSearchResult pairs a chunk with its similarity score.
type KBSearchResult struct {
	Chunk *KBChunk `json:"chunk"`
	Score float64  `json:"score"`
}

// AddKnowledgeBaseRequest describes a knowledge-base ingestion.
type AddKnowledgeBaseRequest struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	ScrapeOnly  bool   `json:"scrape_only,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// AddKnowledgeBaseResult reports one completed ingestion.
type AddKnowledgeBaseResult struct {
	KnowledgeBase *KnowledgeBase `json:"knowledge_base"`
	ChunksStored  int            `json:"chunks_stored"`
}

// AddKnowledgeBase creates a knowledge base and ingests its source URL.
// Ingestion runs synchronously; large crawls can take minutes.
func (c *Client) AddKnowledgeBase(ctx context.Context, req AddKnowledgeBaseRequest) (*AddKnowledgeBaseResult, error) {
	var out AddKnowledgeBaseResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/kb", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListKnowledgeBases returns every knowledge base with its chunk count.
func (c *Client) ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error) {
	var out struct {
		KnowledgeBases []KnowledgeBase `json:"knowledge_bases"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/kb", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.KnowledgeBases, nil
}

// SearchKnowledgeBase ranks chunks by semantic similarity. An empty kb
// name searches every knowledge base.
func (c *Client) SearchKnowledgeBase(ctx context.Context, query, kb string, limit int) ([]*KBSearchResult, error) {
	req := map[string]interface{}{"query": query}
	if kb != "" {
		req["kb"] = kb
	}
	if limit > 0 {
		req["limit"] = limit
	}
	var out struct {
		Results []*KBSearchResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/kb/search", nil, req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// DeleteKnowledgeBase removes a knowledge base by name.
func (c *Client) DeleteKnowledgeBase(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/kb/"+url.PathEscape(name), nil, nil, nil)
}
