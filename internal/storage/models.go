// Package storage provides the SQLite persistence layer for the memory
// engine: insights, the subject knowledge graph, knowledge bases, and
// versioned schema migrations.
package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Frame classifies an insight into one of the six semantic frames.
type Frame string

const (
	FrameCausal      Frame = "causal"
	FrameConstraint  Frame = "constraint"
	FramePattern     Frame = "pattern"
	FrameEquivalence Frame = "equivalence"
	FrameTaxonomy    Frame = "taxonomy"
	FrameProcedure   Frame = "procedure"
)

// ParseFrame validates a frame value. Unknown values are an error so bad
// data fails at load time instead of propagating.
func ParseFrame(s string) (Frame, error) {
	switch f := Frame(s); f {
	case FrameCausal, FrameConstraint, FramePattern, FrameEquivalence, FrameTaxonomy, FrameProcedure:
		return f, nil
	}
	return "", fmt.Errorf("unknown frame %q", s)
}

// SubjectKind categorizes a node in the knowledge graph.
type SubjectKind string

const (
	SubjectKindDomain     SubjectKind = "domain"
	SubjectKindEntity     SubjectKind = "entity"
	SubjectKindProblem    SubjectKind = "problem"
	SubjectKindResolution SubjectKind = "resolution"
	SubjectKindContext    SubjectKind = "context"
	SubjectKindRepo       SubjectKind = "repo"
	SubjectKindPR         SubjectKind = "pr"
	SubjectKindPerson     SubjectKind = "person"
	SubjectKindProject    SubjectKind = "project"
	SubjectKindTask       SubjectKind = "task"
)

// ParseSubjectKind validates a subject kind value.
func ParseSubjectKind(s string) (SubjectKind, error) {
	switch k := SubjectKind(s); k {
	case SubjectKindDomain, SubjectKindEntity, SubjectKindProblem, SubjectKindResolution,
		SubjectKindContext, SubjectKindRepo, SubjectKindPR, SubjectKindPerson,
		SubjectKindProject, SubjectKindTask:
		return k, nil
	}
	return "", fmt.Errorf("unknown subject kind %q", s)
}

// RelationType names a typed edge in the knowledge graph.
type RelationType string

const (
	RelationContains      RelationType = "contains"
	RelationScopes        RelationType = "scopes"
	RelationFrames        RelationType = "frames"
	RelationSolvedBy      RelationType = "solved_by"
	RelationImplementedIn RelationType = "implemented_in"
	RelationAppliesTo     RelationType = "applies_to"
	RelationInvolves      RelationType = "involves"
	RelationHasProblem    RelationType = "has_problem"
	RelationAddresses     RelationType = "addresses"
	RelationProduces      RelationType = "produces"
	RelationWorksOn       RelationType = "works_on"
	RelationAuthors       RelationType = "authors"
	RelationResolves      RelationType = "resolves"
	RelationSharedSubject RelationType = "shared_subject"
)

// ParseRelationType validates a relation type value.
func ParseRelationType(s string) (RelationType, error) {
	switch r := RelationType(s); r {
	case RelationContains, RelationScopes, RelationFrames, RelationSolvedBy,
		RelationImplementedIn, RelationAppliesTo, RelationInvolves, RelationHasProblem,
		RelationAddresses, RelationProduces, RelationWorksOn, RelationAuthors,
		RelationResolves, RelationSharedSubject:
		return r, nil
	}
	return "", fmt.Errorf("unknown relation type %q", s)
}

// Insight is one atomic, normalized assertion with its tags and embedding.
type Insight struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	NormalizedText string    `json:"normalized_text"`
	Frame          Frame     `json:"frame"`
	Domains        []string  `json:"domains"`
	Entities       []string  `json:"entities"`
	Problems       []string  `json:"problems"`
	Resolutions    []string  `json:"resolutions"`
	Contexts       []string  `json:"contexts"`
	Confidence     float64   `json:"confidence"`
	Source         string    `json:"source"`
	Embedding      []float32 `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// GitContext carries optional version-control provenance for an insight.
// Empty fields are skipped; each set field becomes a subject linked to the
// insight.
type GitContext struct {
	Repo    string `json:"repo,omitempty"`
	PR      string `json:"pr,omitempty"`
	Author  string `json:"author,omitempty"`
	Project string `json:"project,omitempty"`
	Task    string `json:"task,omitempty"`
}

// Empty reports whether no git fields are set.
func (g GitContext) Empty() bool {
	return g.Repo == "" && g.PR == "" && g.Author == "" && g.Project == "" && g.Task == ""
}

// Subject is a node in the knowledge graph, unique by (name, kind).
type Subject struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Kind      SubjectKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
}

// SubjectRelation is one outgoing typed edge between two subjects.
type SubjectRelation struct {
	FromName     string       `json:"from_name"`
	FromKind     SubjectKind  `json:"from_kind"`
	RelationType RelationType `json:"relation_type"`
	ToName       string       `json:"to_name"`
	ToKind       SubjectKind  `json:"to_kind"`
}

// SearchResult pairs an insight with its similarity or relation score.
type SearchResult struct {
	Insight *Insight `json:"insight"`
	Score   float64  `json:"score"`
}

// KnowledgeBase groups ingested chunks from one documentation source.
type KnowledgeBase struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	SourceType  string    `json:"source_type"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// KBChunk is one normalized chunk of an ingested documentation page.
type KBChunk struct {
	ID             string    `json:"id"`
	KBID           string    `json:"kb_id"`
	Text           string    `json:"text"`
	NormalizedText string    `json:"normalized_text"`
	Frame          Frame     `json:"frame"`
	Domains        []string  `json:"domains"`
	Entities       []string  `json:"entities"`
	Problems       []string  `json:"problems"`
	Resolutions    []string  `json:"resolutions"`
	Contexts       []string  `json:"contexts"`
	Confidence     float64   `json:"confidence"`
	SourceURL      string    `json:"source_url"`
	Embedding      []float32 `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NormalizeSubjectName lowercases and trims a subject name. All subject
// lookups and inserts go through this form.
func NormalizeSubjectName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SubjectID derives the deterministic id for a subject. The same
// (kind, name) pair always maps to the same id, so re-inserting a subject
// is a no-op.
func SubjectID(kind SubjectKind, name string) string {
	name = NormalizeSubjectName(name)
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(string(kind)+":"+name)).String()
}
