package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const insightColumns = `id, text, normalized_text, frame, domains, entities,
	problems, resolutions, contexts, confidence, source, embedding,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInsight(row rowScanner) (*Insight, error) {
	var (
		insight                                           Insight
		frame                                             string
		domains, entities, problems, resolutions, ctxsRaw string
		embedding                                         []byte
		createdAt, updatedAt                              string
	)
	if err := row.Scan(
		&insight.ID, &insight.Text, &insight.NormalizedText, &frame,
		&domains, &entities, &problems, &resolutions, &ctxsRaw,
		&insight.Confidence, &insight.Source, &embedding,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	insight.Frame = Frame(frame)
	insight.Domains = decodeTags(domains)
	insight.Entities = decodeTags(entities)
	insight.Problems = decodeTags(problems)
	insight.Resolutions = decodeTags(resolutions)
	insight.Contexts = decodeTags(ctxsRaw)
	insight.CreatedAt = parseTime(createdAt)
	insight.UpdatedAt = parseTime(updatedAt)

	vec, err := UnmarshalVector(embedding)
	if err != nil {
		return nil, fmt.Errorf("decode embedding for %s: %w", insight.ID, err)
	}
	insight.Embedding = vec
	return &insight, nil
}

// InsertInsight stores one insight with its subjects, derived subject
// relations, and optional git provenance, all in one transaction. A blank
// ID is assigned. Returns the insight id.
func (s *Store) InsertInsight(ctx context.Context, insight *Insight, git GitContext) (string, error) {
	if insight.ID == "" {
		insight.ID = uuid.NewString()
	}
	now := nowUTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO insights (id, text, normalized_text, frame, domains, entities,
			problems, resolutions, contexts, confidence, source, embedding,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		insight.ID, insight.Text, insight.NormalizedText, string(insight.Frame),
		encodeTags(insight.Domains), encodeTags(insight.Entities),
		encodeTags(insight.Problems), encodeTags(insight.Resolutions),
		encodeTags(insight.Contexts), insight.Confidence, insight.Source,
		MarshalVector(insight.Embedding), now, now,
	); err != nil {
		return "", fmt.Errorf("insert insight: %w", err)
	}

	byKind, err := linkSubjects(ctx, tx, "insight_subjects", "insight_id", insight.ID,
		insight.Domains, insight.Entities, insight.Problems, insight.Resolutions,
		insight.Contexts, now)
	if err != nil {
		return "", err
	}
	if err := deriveAutoRelations(ctx, tx, byKind, now); err != nil {
		return "", err
	}
	if err := applyGitContext(ctx, tx, insight.ID, git, byKind[SubjectKindResolution], now); err != nil {
		return "", err
	}
	if err := s.linkSharedSubjects(ctx, tx, insight.ID, now); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit insert: %w", err)
	}

	insight.CreatedAt = parseTime(now)
	insight.UpdatedAt = insight.CreatedAt

	s.logger.Debug().
		Str("insight_id", insight.ID).
		Str("frame", string(insight.Frame)).
		Float64("confidence", insight.Confidence).
		Msg("Inserted insight")
	return insight.ID, nil
}

// linkSharedSubjects maintains the shared_subject edges between the new
// insight and every earlier insight with at least one subject in common.
// Weight is the shared subject count; the pair is kept canonical with
// from_id < to_id.
func (s *Store) linkSharedSubjects(ctx context.Context, tx *sql.Tx, insightID, now string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO insight_relations (from_id, to_id, relation_type, weight, created_at)
		SELECT MIN(a.insight_id, b.insight_id), MAX(a.insight_id, b.insight_id), 'shared_subject', COUNT(*), ?
		FROM insight_subjects a
		JOIN insight_subjects b ON a.subject_id = b.subject_id AND b.insight_id != a.insight_id
		WHERE a.insight_id = ?
		GROUP BY b.insight_id
		ON CONFLICT(from_id, to_id, relation_type) DO UPDATE SET weight = excluded.weight
	`, now, insightID)
	if err != nil {
		return fmt.Errorf("link shared subjects: %w", err)
	}
	return nil
}

// GetInsight loads one insight by id.
func (s *Store) GetInsight(ctx context.Context, id string) (*Insight, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM insights WHERE id = ?", insightColumns), id)
	insight, err := scanInsight(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("insight %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get insight: %w", err)
	}
	return insight, nil
}

// updatableFields is the allowlist for UpdateInsight. Anything else is
// rejected with ErrInvalidField.
var updatableFields = map[string]bool{
	"text":            true,
	"normalized_text": true,
	"frame":           true,
	"domains":         true,
	"entities":        true,
	"problems":        true,
	"resolutions":     true,
	"contexts":        true,
	"confidence":      true,
	"source":          true,
}

var tagFields = map[string]bool{
	"domains":     true,
	"entities":    true,
	"problems":    true,
	"resolutions": true,
	"contexts":    true,
}

// UpdateInsight applies a partial update over the allowlisted fields and
// returns the updated row. Unknown fields, bad frames, and out-of-range
// confidence are rejected before anything is written.
func (s *Store) UpdateInsight(ctx context.Context, id string, fields map[string]interface{}) (*Insight, error) {
	if len(fields) == 0 {
		return s.GetInsight(ctx, id)
	}

	// Deterministic SQL regardless of map iteration order.
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var (
		sets []string
		args []interface{}
	)
	for _, key := range keys {
		value := fields[key]
		if !updatableFields[key] {
			return nil, fmt.Errorf("%w: %q", ErrInvalidField, key)
		}
		switch {
		case key == "frame":
			str, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: frame must be a string", ErrInvalidField)
			}
			frame, err := ParseFrame(str)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidField, err)
			}
			sets = append(sets, "frame = ?")
			args = append(args, string(frame))
		case key == "confidence":
			conf, ok := toFloat(value)
			if !ok || conf < 0 || conf > 1 {
				return nil, fmt.Errorf("%w: confidence must be in [0,1]", ErrInvalidField)
			}
			sets = append(sets, "confidence = ?")
			args = append(args, conf)
		case tagFields[key]:
			tags, ok := toStringSlice(value)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a list of strings", ErrInvalidField, key)
			}
			sets = append(sets, key+" = ?")
			args = append(args, encodeTags(tags))
		default:
			str, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidField, key)
			}
			sets = append(sets, key+" = ?")
			args = append(args, str)
		}
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, nowUTC(), id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE insights SET %s WHERE id = ?", strings.Join(sets, ", ")), args...)
	if err != nil {
		return nil, fmt.Errorf("update insight: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update insight: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("insight %s: %w", id, ErrNotFound)
	}
	return s.GetInsight(ctx, id)
}

// DeleteInsight removes an insight; joins and relations cascade.
func (s *Store) DeleteInsight(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM insights WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete insight: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete insight: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("insight %s: %w", id, ErrNotFound)
	}
	return nil
}

// SearchByEmbedding ranks stored insights by cosine similarity against
// the query vector. Rows without embeddings are excluded; ties keep
// insertion order. An optional domain restricts candidates to insights
// tagged with it.
func (s *Store) SearchByEmbedding(ctx context.Context, query []float32, domain string, limit int) ([]*SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}

	sqlQuery := fmt.Sprintf("SELECT %s FROM insights WHERE embedding IS NOT NULL", insightColumns)
	args := []interface{}{}
	if domain != "" {
		sqlQuery += " AND domains LIKE ?"
		args = append(args, `%"`+domain+`"%`)
	}
	sqlQuery += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search insights: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		insight, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		if len(insight.Embedding) != len(query) || isZeroVector(insight.Embedding) {
			continue
		}
		score := CosineSimilarity(query, insight.Embedding)
		results = append(results, &SearchResult{Insight: insight, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ListInsights returns insights newest first, optionally filtered by
// domain tag and frame.
func (s *Store) ListInsights(ctx context.Context, domain string, frame Frame, limit int) ([]*Insight, error) {
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf("SELECT %s FROM insights WHERE 1=1", insightColumns)
	args := []interface{}{}
	if domain != "" {
		query += " AND domains LIKE ?"
		args = append(args, `%"`+domain+`"%`)
	}
	if frame != "" {
		query += " AND frame = ?"
		args = append(args, string(frame))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
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

// RelatedInsights returns insights connected to the given one through
// insight_relations, strongest edges first.
func (s *Store) RelatedInsights(ctx context.Context, id string, limit int) ([]*SearchResult, error) {
	if _, err := s.GetInsight(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, r.weight
		FROM insight_relations r
		JOIN insights i ON i.id = CASE WHEN r.from_id = ? THEN r.to_id ELSE r.from_id END
		WHERE r.from_id = ? OR r.to_id = ?
		ORDER BY r.weight DESC, i.created_at DESC
		LIMIT ?`, prefixColumns("i", insightColumns)),
		id, id, id, limit)
	if err != nil {
		return nil, fmt.Errorf("query related insights: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var (
			insight                                           Insight
			frame                                             string
			domains, entities, problems, resolutions, ctxsRaw string
			embedding                                         []byte
			createdAt, updatedAt                              string
			weight                                            float64
		)
		if err := rows.Scan(
			&insight.ID, &insight.Text, &insight.NormalizedText, &frame,
			&domains, &entities, &problems, &resolutions, &ctxsRaw,
			&insight.Confidence, &insight.Source, &embedding,
			&createdAt, &updatedAt, &weight,
		); err != nil {
			return nil, fmt.Errorf("scan related insight: %w", err)
		}
		insight.Frame = Frame(frame)
		insight.Domains = decodeTags(domains)
		insight.Entities = decodeTags(entities)
		insight.Problems = decodeTags(problems)
		insight.Resolutions = decodeTags(resolutions)
		insight.Contexts = decodeTags(ctxsRaw)
		insight.CreatedAt = parseTime(createdAt)
		insight.UpdatedAt = parseTime(updatedAt)
		vec, err := UnmarshalVector(embedding)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for %s: %w", insight.ID, err)
		}
		insight.Embedding = vec
		results = append(results, &SearchResult{Insight: &insight, Score: weight})
	}
	return results, rows.Err()
}

// prefixColumns qualifies each column in a comma-separated list with a
// table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toStringSlice(v interface{}) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	case nil:
		return nil, true
	}
	return nil, false
}
