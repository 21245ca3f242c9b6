package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// upsertSubject inserts a subject if absent and returns its deterministic
// id. Blank names (after normalization) return "".
func upsertSubject(ctx context.Context, q DB, kind SubjectKind, name, now string) (string, error) {
	name = NormalizeSubjectName(name)
	if name == "" {
		return "", nil
	}
	id := SubjectID(kind, name)
	if _, err := q.ExecContext(ctx,
		"INSERT OR IGNORE INTO subjects (id, name, kind, created_at) VALUES (?, ?, ?, ?)",
		id, name, string(kind), now,
	); err != nil {
		return "", fmt.Errorf("upsert subject %s/%s: %w", kind, name, err)
	}
	return id, nil
}

// subjectTags maps each tag list of an insight or chunk onto its subject
// kind, in a stable iteration order.
func subjectTags(domains, entities, problems, resolutions, contexts []string) []struct {
	kind  SubjectKind
	names []string
} {
	return []struct {
		kind  SubjectKind
		names []string
	}{
		{SubjectKindDomain, domains},
		{SubjectKindEntity, entities},
		{SubjectKindProblem, problems},
		{SubjectKindResolution, resolutions},
		{SubjectKindContext, contexts},
	}
}

// linkSubjects upserts a subject per tag and joins each to the owning row
// through joinTable (insight_subjects or kb_chunk_subjects). It returns
// the subject ids grouped by kind for relation derivation.
func linkSubjects(ctx context.Context, q DB, joinTable, joinColumn, ownerID string,
	domains, entities, problems, resolutions, contexts []string, now string,
) (map[SubjectKind][]string, error) {
	byKind := make(map[SubjectKind][]string)
	for _, group := range subjectTags(domains, entities, problems, resolutions, contexts) {
		for _, name := range group.names {
			id, err := upsertSubject(ctx, q, group.kind, name, now)
			if err != nil {
				return nil, err
			}
			if id == "" {
				continue
			}
			if _, err := q.ExecContext(ctx,
				fmt.Sprintf("INSERT OR IGNORE INTO %s (%s, subject_id) VALUES (?, ?)", joinTable, joinColumn),
				ownerID, id,
			); err != nil {
				return nil, fmt.Errorf("link subject: %w", err)
			}
			byKind[group.kind] = append(byKind[group.kind], id)
		}
	}
	return byKind, nil
}

// autoRelationRules drive the subject edges derived on insight insert:
// each rule links every subject of the from kind to every subject of the
// to kind present on the same insight.
var autoRelationRules = []struct {
	from     SubjectKind
	relation RelationType
	to       SubjectKind
}{
	{SubjectKindContext, RelationFrames, SubjectKindProblem},
	{SubjectKindContext, RelationAppliesTo, SubjectKindDomain},
	{SubjectKindContext, RelationInvolves, SubjectKindEntity},
	{SubjectKindEntity, RelationHasProblem, SubjectKindProblem},
	{SubjectKindProblem, RelationSolvedBy, SubjectKindResolution},
	{SubjectKindResolution, RelationAppliesTo, SubjectKindEntity},
	{SubjectKindDomain, RelationScopes, SubjectKindEntity},
}

func insertSubjectRelation(ctx context.Context, q DB, fromID string, rel RelationType, toID, now string) error {
	if fromID == "" || toID == "" {
		return nil
	}
	_, err := q.ExecContext(ctx,
		"INSERT OR IGNORE INTO subject_relations (from_subject_id, to_subject_id, relation_type, created_at) VALUES (?, ?, ?, ?)",
		fromID, toID, string(rel), now,
	)
	if err != nil {
		return fmt.Errorf("insert subject relation %s: %w", rel, err)
	}
	return nil
}

// deriveAutoRelations applies autoRelationRules over the subjects of one
// insight. Duplicate edges are ignored.
func deriveAutoRelations(ctx context.Context, q DB, byKind map[SubjectKind][]string, now string) error {
	for _, rule := range autoRelationRules {
		for _, fromID := range byKind[rule.from] {
			for _, toID := range byKind[rule.to] {
				if err := insertSubjectRelation(ctx, q, fromID, rule.relation, toID, now); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// applyGitContext creates subjects for the git provenance fields, links
// them to the insight, and wires the fixed provenance edges between them.
// Resolutions already extracted on the insight gain implemented_in edges
// toward the PR.
func applyGitContext(ctx context.Context, q DB, insightID string, git GitContext, resolutionIDs []string, now string) error {
	if git.Empty() {
		return nil
	}

	ids := map[SubjectKind]string{}
	for kind, name := range map[SubjectKind]string{
		SubjectKindRepo:    git.Repo,
		SubjectKindPR:      git.PR,
		SubjectKindPerson:  git.Author,
		SubjectKindProject: git.Project,
		SubjectKindTask:    git.Task,
	} {
		if name == "" {
			continue
		}
		id, err := upsertSubject(ctx, q, kind, name, now)
		if err != nil {
			return err
		}
		if id == "" {
			continue
		}
		ids[kind] = id
		if _, err := q.ExecContext(ctx,
			"INSERT OR IGNORE INTO insight_subjects (insight_id, subject_id) VALUES (?, ?)",
			insightID, id,
		); err != nil {
			return fmt.Errorf("link git subject: %w", err)
		}
	}

	edges := []struct {
		from SubjectKind
		rel  RelationType
		to   SubjectKind
	}{
		{SubjectKindRepo, RelationContains, SubjectKindProject},
		{SubjectKindProject, RelationContains, SubjectKindTask},
		{SubjectKindTask, RelationProduces, SubjectKindPR},
		{SubjectKindPerson, RelationAuthors, SubjectKindPR},
		{SubjectKindPerson, RelationWorksOn, SubjectKindProject},
	}
	for _, e := range edges {
		if err := insertSubjectRelation(ctx, q, ids[e.from], e.rel, ids[e.to], now); err != nil {
			return err
		}
	}

	if prID := ids[SubjectKindPR]; prID != "" {
		for _, resID := range resolutionIDs {
			if err := insertSubjectRelation(ctx, q, resID, RelationImplementedIn, prID, now); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddSubjectRelation records a typed edge between two existing subjects.
// It returns false without error when either endpoint does not exist.
func (s *Store) AddSubjectRelation(ctx context.Context, fromName string, fromKind SubjectKind, rel RelationType, toName string, toKind SubjectKind) (bool, error) {
	fromID, err := s.lookupSubjectID(ctx, fromName, fromKind)
	if err != nil {
		return false, err
	}
	toID, err := s.lookupSubjectID(ctx, toName, toKind)
	if err != nil {
		return false, err
	}
	if fromID == "" || toID == "" {
		return false, nil
	}
	if err := insertSubjectRelation(ctx, s.db, fromID, rel, toID, nowUTC()); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) lookupSubjectID(ctx context.Context, name string, kind SubjectKind) (string, error) {
	name = NormalizeSubjectName(name)
	if name == "" {
		return "", nil
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM subjects WHERE name = ? AND kind = ?", name, string(kind),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("lookup subject %s/%s: %w", kind, name, err)
	}
	return id, nil
}

// lookupSubjectIDs resolves every subject with the given name. An empty
// kind matches any kind, so a name shared across kinds yields all ids.
func (s *Store) lookupSubjectIDs(ctx context.Context, name string, kind SubjectKind) ([]string, error) {
	name = NormalizeSubjectName(name)
	if name == "" {
		return nil, nil
	}
	query := "SELECT id FROM subjects WHERE name = ?"
	args := []interface{}{name}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, string(kind))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup subjects %q: %w", name, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subject id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSubjectRelations returns the edges touching a subject, outgoing
// before incoming, each with both endpoints resolved. An empty kind
// matches the name under any kind; an empty relationType matches every
// edge type; limit defaults to 50.
func (s *Store) GetSubjectRelations(ctx context.Context, name string, kind SubjectKind, relationType RelationType, limit int) ([]SubjectRelation, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.lookupSubjectIDs(ctx, name, kind)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf(`
		SELECT f.name, f.kind, r.relation_type, t.name, t.kind,
		       CASE WHEN r.from_subject_id IN (%[1]s) THEN 0 ELSE 1 END AS direction
		FROM subject_relations r
		JOIN subjects f ON f.id = r.from_subject_id
		JOIN subjects t ON t.id = r.to_subject_id
		WHERE (r.from_subject_id IN (%[1]s) OR r.to_subject_id IN (%[1]s))`, placeholders)

	args := make([]interface{}, 0, 3*len(ids)+2)
	for i := 0; i < 3; i++ {
		for _, id := range ids {
			args = append(args, id)
		}
	}
	if relationType != "" {
		query += " AND r.relation_type = ?"
		args = append(args, string(relationType))
	}
	query += " ORDER BY direction, r.relation_type, t.name LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subject relations: %w", err)
	}
	defer rows.Close()

	var relations []SubjectRelation
	for rows.Next() {
		var rel SubjectRelation
		var fromKind, relType, toKind string
		var direction int
		if err := rows.Scan(&rel.FromName, &fromKind, &relType, &rel.ToName, &toKind, &direction); err != nil {
			return nil, fmt.Errorf("scan subject relation: %w", err)
		}
		rel.FromKind = SubjectKind(fromKind)
		rel.RelationType = RelationType(relType)
		rel.ToKind = SubjectKind(toKind)
		relations = append(relations, rel)
	}
	return relations, rows.Err()
}

// SearchBySubject returns insights tagged with the named subject, newest
// first. An empty kind matches any kind.
func (s *Store) SearchBySubject(ctx context.Context, name string, kind SubjectKind, limit int) ([]*Insight, error) {
	name = NormalizeSubjectName(name)
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT DISTINCT i.id, i.text, i.normalized_text, i.frame, i.domains, i.entities,
		       i.problems, i.resolutions, i.contexts, i.confidence, i.source, i.embedding,
		       i.created_at, i.updated_at
		FROM insights i
		JOIN insight_subjects js ON js.insight_id = i.id
		JOIN subjects s ON s.id = js.subject_id
		WHERE s.name = ?`
	args := []interface{}{name}
	if kind != "" {
		query += " AND s.kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY i.created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search by subject: %w", err)
	}
	defer rows.Close()

	var insights []*Insight
	for rows.Next() {
		insight, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		insights = append(insights, insight)
	}
	return insights, rows.Err()
}

// ListSubjects returns subjects, optionally filtered by kind, ordered by
// name.
func (s *Store) ListSubjects(ctx context.Context, kind SubjectKind, limit int) ([]Subject, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT id, name, kind, created_at FROM subjects"
	args := []interface{}{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY name LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []Subject
	for rows.Next() {
		var sub Subject
		var kindStr, createdAt string
		if err := rows.Scan(&sub.ID, &sub.Name, &kindStr, &createdAt); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		sub.Kind = SubjectKind(kindStr)
		sub.CreatedAt = parseTime(createdAt)
		subjects = append(subjects, sub)
	}
	return subjects, rows.Err()
}
