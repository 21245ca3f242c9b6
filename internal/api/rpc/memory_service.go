// Package rpc exposes the memory service over connect. Request and
// response shapes are hand-written JSON types served by unary handlers,
// so any connect or plain JSON-POST client can call them without
// generated stubs.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/sematica-ai/memory-engine/internal/memory"
	"github.com/sematica-ai/memory-engine/internal/observability"
	"github.com/sematica-ai/memory-engine/internal/storage"
)

// Procedure paths served under the connect mount.
const (
	ProcedureStoreInsight        = "/memory.v1.MemoryService/StoreInsight"
	ProcedureSearchInsights      = "/memory.v1.MemoryService/SearchInsights"
	ProcedureUpdateInsight       = "/memory.v1.MemoryService/UpdateInsight"
	ProcedureForgetInsight       = "/memory.v1.MemoryService/ForgetInsight"
	ProcedureListInsights        = "/memory.v1.MemoryService/ListInsights"
	ProcedureSearchBySubject     = "/memory.v1.MemoryService/SearchBySubject"
	ProcedureRelatedInsights     = "/memory.v1.MemoryService/RelatedInsights"
	ProcedureAddSubjectRelation  = "/memory.v1.MemoryService/AddSubjectRelation"
	ProcedureGetSubjectRelations = "/memory.v1.MemoryService/GetSubjectRelations"
	ProcedureSearchKnowledgeBase = "/memory.v1.MemoryService/SearchKnowledgeBase"
	ProcedureListKnowledgeBases  = "/memory.v1.MemoryService/ListKnowledgeBases"
)

// MemoryService adapts the memory service to connect handlers.
type MemoryService struct {
	svc    *memory.Service
	logger *observability.Logger
}

// NewMemoryService creates the connect adapter.
func NewMemoryService(svc *memory.Service, logger *observability.Logger) *MemoryService {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &MemoryService{svc: svc, logger: logger.WithComponent("rpc")}
}

// jsonCodec serializes the hand-written message types with plain
// encoding/json instead of protobuf.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	return json.Unmarshal(data, msg)
}

// Mount registers every procedure on the mux.
func (s *MemoryService) Mount(mux *http.ServeMux) {
	codec := connect.WithCodec(jsonCodec{})
	mux.Handle(ProcedureStoreInsight, connect.NewUnaryHandler(ProcedureStoreInsight, s.StoreInsight, codec))
	mux.Handle(ProcedureSearchInsights, connect.NewUnaryHandler(ProcedureSearchInsights, s.SearchInsights, codec))
	mux.Handle(ProcedureUpdateInsight, connect.NewUnaryHandler(ProcedureUpdateInsight, s.UpdateInsight, codec))
	mux.Handle(ProcedureForgetInsight, connect.NewUnaryHandler(ProcedureForgetInsight, s.ForgetInsight, codec))
	mux.Handle(ProcedureListInsights, connect.NewUnaryHandler(ProcedureListInsights, s.ListInsights, codec))
	mux.Handle(ProcedureSearchBySubject, connect.NewUnaryHandler(ProcedureSearchBySubject, s.SearchBySubject, codec))
	mux.Handle(ProcedureRelatedInsights, connect.NewUnaryHandler(ProcedureRelatedInsights, s.RelatedInsights, codec))
	mux.Handle(ProcedureAddSubjectRelation, connect.NewUnaryHandler(ProcedureAddSubjectRelation, s.AddSubjectRelation, codec))
	mux.Handle(ProcedureGetSubjectRelations, connect.NewUnaryHandler(ProcedureGetSubjectRelations, s.GetSubjectRelations, codec))
	mux.Handle(ProcedureSearchKnowledgeBase, connect.NewUnaryHandler(ProcedureSearchKnowledgeBase, s.SearchKnowledgeBase, codec))
	mux.Handle(ProcedureListKnowledgeBases, connect.NewUnaryHandler(ProcedureListKnowledgeBases, s.ListKnowledgeBases, codec))
}

// connectError maps service error codes onto connect codes.
func connectError(err error) *connect.Error {
	svcErr := memory.WrapError(err)
	code := connect.CodeInternal
	switch svcErr.Code {
	case memory.CodeNotFound, memory.CodeTaskNotFound:
		code = connect.CodeNotFound
	case memory.CodeInvalidField:
		code = connect.CodeInvalidArgument
	case memory.CodeLockConflict, memory.CodeConcurrencyConflict:
		code = connect.CodeAborted
	case memory.CodeInvalidTransition, memory.CodeDependencyNotMet:
		code = connect.CodeFailedPrecondition
	}
	return connect.NewError(code, errors.New(svcErr.Reason))
}

// StoreInsightRequest mirrors memory.StoreInsightRequest on the wire.
type StoreInsightRequest struct {
	Text   string             `json:"text"`
	Domain string             `json:"domain,omitempty"`
	Source string             `json:"source,omitempty"`
	Git    storage.GitContext `json:"git,omitempty"`
}

func (s *MemoryService) StoreInsight(ctx context.Context, req *connect.Request[StoreInsightRequest]) (*connect.Response[memory.StoreInsightResult], error) {
	result, err := s.svc.StoreInsight(ctx, memory.StoreInsightRequest{
		Text:   req.Msg.Text,
		Domain: req.Msg.Domain,
		Source: req.Msg.Source,
		Git:    req.Msg.Git,
	})
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(result), nil
}

// SearchRequest is the shared query shape for similarity searches.
type SearchRequest struct {
	Query  string `json:"query"`
	Domain string `json:"domain,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// SearchResponse carries scored insights.
type SearchResponse struct {
	Results []*storage.SearchResult `json:"results"`
}

func (s *MemoryService) SearchInsights(ctx context.Context, req *connect.Request[SearchRequest]) (*connect.Response[SearchResponse], error) {
	results, err := s.svc.SearchInsights(ctx, req.Msg.Query, req.Msg.Domain, req.Msg.Limit)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&SearchResponse{Results: results}), nil
}

// UpdateInsightRequest applies a partial update by id.
type UpdateInsightRequest struct {
	ID     string                 `json:"id"`
	Fields map[string]interface{} `json:"fields"`
}

// InsightResponse wraps one insight.
type InsightResponse struct {
	Insight *storage.Insight `json:"insight"`
}

func (s *MemoryService) UpdateInsight(ctx context.Context, req *connect.Request[UpdateInsightRequest]) (*connect.Response[InsightResponse], error) {
	insight, err := s.svc.UpdateInsight(ctx, req.Msg.ID, req.Msg.Fields)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&InsightResponse{Insight: insight}), nil
}

// ForgetInsightRequest deletes one insight by id.
type ForgetInsightRequest struct {
	ID string `json:"id"`
}

// ForgetInsightResponse confirms a deletion.
type ForgetInsightResponse struct {
	Deleted bool `json:"deleted"`
}

func (s *MemoryService) ForgetInsight(ctx context.Context, req *connect.Request[ForgetInsightRequest]) (*connect.Response[ForgetInsightResponse], error) {
	if err := s.svc.Forget(ctx, req.Msg.ID); err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&ForgetInsightResponse{Deleted: true}), nil
}

// ListInsightsRequest filters the newest-first listing.
type ListInsightsRequest struct {
	Domain string `json:"domain,omitempty"`
	Frame  string `json:"frame,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// InsightsResponse carries a plain insight list.
type InsightsResponse struct {
	Insights []*storage.Insight `json:"insights"`
}

func (s *MemoryService) ListInsights(ctx context.Context, req *connect.Request[ListInsightsRequest]) (*connect.Response[InsightsResponse], error) {
	insights, err := s.svc.ListInsights(ctx, req.Msg.Domain, req.Msg.Frame, req.Msg.Limit)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&InsightsResponse{Insights: insights}), nil
}

// SubjectSearchRequest looks insights up through the subject graph.
type SubjectSearchRequest struct {
	Name  string `json:"name"`
	Kind  string `json:"kind,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (s *MemoryService) SearchBySubject(ctx context.Context, req *connect.Request[SubjectSearchRequest]) (*connect.Response[InsightsResponse], error) {
	insights, err := s.svc.SearchBySubject(ctx, req.Msg.Name, req.Msg.Kind, req.Msg.Limit)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&InsightsResponse{Insights: insights}), nil
}

// RelatedInsightsRequest walks the insight relation graph from one id.
type RelatedInsightsRequest struct {
	ID    string `json:"id"`
	Limit int    `json:"limit,omitempty"`
}

func (s *MemoryService) RelatedInsights(ctx context.Context, req *connect.Request[RelatedInsightsRequest]) (*connect.Response[SearchResponse], error) {
	results, err := s.svc.RelatedInsights(ctx, req.Msg.ID, req.Msg.Limit)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&SearchResponse{Results: results}), nil
}

// AddSubjectRelationRequest records a typed edge between two subjects.
type AddSubjectRelationRequest struct {
	FromName string `json:"from_name"`
	FromKind string `json:"from_kind"`
	Relation string `json:"relation"`
	ToName   string `json:"to_name"`
	ToKind   string `json:"to_kind"`
}

// AddSubjectRelationResponse confirms the edge was recorded.
type AddSubjectRelationResponse struct {
	Added bool `json:"added"`
}

func (s *MemoryService) AddSubjectRelation(ctx context.Context, req *connect.Request[AddSubjectRelationRequest]) (*connect.Response[AddSubjectRelationResponse], error) {
	err := s.svc.AddSubjectRelation(ctx, req.Msg.FromName, req.Msg.FromKind, req.Msg.Relation, req.Msg.ToName, req.Msg.ToKind)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&AddSubjectRelationResponse{Added: true}), nil
}

// GetSubjectRelationsRequest names one subject. Kind and Relation are
// optional filters; Limit defaults to 50.
type GetSubjectRelationsRequest struct {
	Name     string `json:"name"`
	Kind     string `json:"kind,omitempty"`
	Relation string `json:"relation,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// SubjectRelationsResponse carries the edges touching a subject.
type SubjectRelationsResponse struct {
	Relations []storage.SubjectRelation `json:"relations"`
}

func (s *MemoryService) GetSubjectRelations(ctx context.Context, req *connect.Request[GetSubjectRelationsRequest]) (*connect.Response[SubjectRelationsResponse], error) {
	relations, err := s.svc.GetSubjectRelations(ctx, req.Msg.Name, req.Msg.Kind, req.Msg.Relation, req.Msg.Limit)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&SubjectRelationsResponse{Relations: relations}), nil
}

// KBSearchRequest searches knowledge-base chunks.
type KBSearchRequest struct {
	Query string `json:"query"`
	KB    string `json:"kb,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// KBSearchResponse carries scored chunks.
type KBSearchResponse struct {
	Results []*storage.KBSearchResult `json:"results"`
}

func (s *MemoryService) SearchKnowledgeBase(ctx context.Context, req *connect.Request[KBSearchRequest]) (*connect.Response[KBSearchResponse], error) {
	results, err := s.svc.SearchKnowledgeBase(ctx, req.Msg.Query, req.Msg.KB, req.Msg.Limit)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&KBSearchResponse{Results: results}), nil
}

// ListKnowledgeBasesRequest has no parameters.
type ListKnowledgeBasesRequest struct{}

// ListKnowledgeBasesResponse carries the knowledge bases with counts.
type ListKnowledgeBasesResponse struct {
	KnowledgeBases []storage.KnowledgeBaseInfo `json:"knowledge_bases"`
}

func (s *MemoryService) ListKnowledgeBases(ctx context.Context, _ *connect.Request[ListKnowledgeBasesRequest]) (*connect.Response[ListKnowledgeBasesResponse], error) {
	list, err := s.svc.ListKnowledgeBases(ctx)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&ListKnowledgeBasesResponse{KnowledgeBases: list}), nil
}
