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

const kbChunkColumns = `id, kb_id, text, normalized_text, frame, domains, entities,
	problems, resolutions, contexts, confidence, source_url, embedding,
	created_at, updated_at`

// CreateKnowledgeBase registers a new knowledge base. Names are unique;
// a duplicate returns an error wrapping ErrDuplicateName.
func (s *Store) CreateKnowledgeBase(ctx context.Context, name, description, sourceType string) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		SourceType:  sourceType,
	}
	now := nowUTC()
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO knowledge_bases (id, name, description, source_type, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		kb.ID, kb.Name, kb.Description, kb.SourceType, now, now,
	); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("knowledge base %q: %w", name, ErrDuplicateName)
		}
		return nil, fmt.Errorf("create knowledge base %q: %w", name, err)
	}
	kb.CreatedAt = parseTime(now)
	kb.UpdatedAt = kb.CreatedAt
	return kb, nil
}

// GetKnowledgeBaseByName looks a knowledge base up by its unique name.
func (s *Store) GetKnowledgeBaseByName(ctx context.Context, name string) (*KnowledgeBase, error) {
	return s.scanKB(s.db.QueryRowContext(ctx,
		"SELECT id, name, description, source_type, created_at, updated_at FROM knowledge_bases WHERE name = ?", name), name)
}

// GetKnowledgeBase loads a knowledge base by id.
func (s *Store) GetKnowledgeBase(ctx context.Context, id string) (*KnowledgeBase, error) {
	return s.scanKB(s.db.QueryRowContext(ctx,
		"SELECT id, name, description, source_type, created_at, updated_at FROM knowledge_bases WHERE id = ?", id), id)
}

func (s *Store) scanKB(row *sql.Row, key string) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	var createdAt, updatedAt string
	if err := row.Scan(&kb.ID, &kb.Name, &kb.Description, &kb.SourceType, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("knowledge base %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get knowledge base: %w", err)
	}
	kb.CreatedAt = parseTime(createdAt)
	kb.UpdatedAt = parseTime(updatedAt)
	return &kb, nil
}

// KnowledgeBaseInfo pairs a knowledge base with its chunk count.
type KnowledgeBaseInfo struct {
	KnowledgeBase
	ChunkCount int `json:"chunk_count"`
}

// ListKnowledgeBases returns all knowledge bases with chunk counts,
// newest first.
func (s *Store) ListKnowledgeBases(ctx context.Context) ([]KnowledgeBaseInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kb.id, kb.name, kb.description, kb.source_type, kb.created_at, kb.updated_at,
		       COUNT(c.id)
		FROM knowledge_bases kb
		LEFT JOIN kb_chunks c ON c.kb_id = kb.id
		GROUP BY kb.id
		ORDER BY kb.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list knowledge bases: %w", err)
	}
	defer rows.Close()

	var list []KnowledgeBaseInfo
	for rows.Next() {
		var info KnowledgeBaseInfo
		var createdAt, updatedAt string
		if err := rows.Scan(&info.ID, &info.Name, &info.Description, &info.SourceType,
			&createdAt, &updatedAt, &info.ChunkCount); err != nil {
			return nil, fmt.Errorf("scan knowledge base: %w", err)
		}
		info.CreatedAt = parseTime(createdAt)
		info.UpdatedAt = parseTime(updatedAt)
		list = append(list, info)
	}
	return list, rows.Err()
}

// DeleteKnowledgeBase removes a knowledge base and cascades its chunks.
func (s *Store) DeleteKnowledgeBase(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM knowledge_bases WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete knowledge base: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete knowledge base: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("knowledge base %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteKnowledgeBaseChunks removes all chunks of a knowledge base while
// keeping the base itself, used before a refresh re-ingests its source.
func (s *Store) DeleteKnowledgeBaseChunks(ctx context.Context, kbID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM kb_chunks WHERE kb_id = ?", kbID)
	if err != nil {
		return 0, fmt.Errorf("delete knowledge base chunks: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete knowledge base chunks: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE knowledge_bases SET updated_at = ? WHERE id = ?", nowUTC(), kbID); err != nil {
		return 0, fmt.Errorf("touch knowledge base: %w", err)
	}
	return int(affected), nil
}

// InsertKBChunk stores one normalized chunk with its subjects in a single
// transaction. Chunks get subjects but no derived subject relations.
func (s *Store) InsertKBChunk(ctx context.Context, chunk *KBChunk) (string, error) {
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	now := nowUTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin chunk insert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO kb_chunks (id, kb_id, text, normalized_text, frame, domains, entities,
			problems, resolutions, contexts, confidence, source_url, embedding,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.KBID, chunk.Text, chunk.NormalizedText, string(chunk.Frame),
		encodeTags(chunk.Domains), encodeTags(chunk.Entities),
		encodeTags(chunk.Problems), encodeTags(chunk.Resolutions),
		encodeTags(chunk.Contexts), chunk.Confidence, chunk.SourceURL,
		MarshalVector(chunk.Embedding), now, now,
	); err != nil {
		return "", fmt.Errorf("insert kb chunk: %w", err)
	}

	if _, err := linkSubjects(ctx, tx, "kb_chunk_subjects", "kb_chunk_id", chunk.ID,
		chunk.Domains, chunk.Entities, chunk.Problems, chunk.Resolutions,
		chunk.Contexts, now); err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE knowledge_bases SET updated_at = ? WHERE id = ?", now, chunk.KBID); err != nil {
		return "", fmt.Errorf("touch knowledge base: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit chunk insert: %w", err)
	}

	chunk.CreatedAt = parseTime(now)
	chunk.UpdatedAt = chunk.CreatedAt
	return chunk.ID, nil
}

// SearchKBByEmbedding ranks chunks of one knowledge base by cosine
// similarity against the query vector. An empty kbID searches across all
// knowledge bases.
func (s *Store) SearchKBByEmbedding(ctx context.Context, query []float32, kbID string, limit int) ([]*KBSearchResult, error) {
	if limit <= 0 {
		limit = 5
	}

	sqlQuery := fmt.Sprintf("SELECT %s FROM kb_chunks WHERE embedding IS NOT NULL", kbChunkColumns)
	args := []interface{}{}
	if kbID != "" {
		sqlQuery += " AND kb_id = ?"
		args = append(args, kbID)
	}
	sqlQuery += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search kb chunks: %w", err)
	}
	defer rows.Close()

	var results []*KBSearchResult
	for rows.Next() {
		chunk, err := scanKBChunk(rows)
		if err != nil {
			return nil, err
		}
		if len(chunk.Embedding) != len(query) || isZeroVector(chunk.Embedding) {
			continue
		}
		results = append(results, &KBSearchResult{
			Chunk: chunk,
			Score: CosineSimilarity(query, chunk.Embedding),
		})
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

// KBSearchResult pairs a chunk with its similarity score.
type KBSearchResult struct {
	Chunk *KBChunk `json:"chunk"`
	Score float64  `json:"score"`
}

// ListKBChunks returns the chunks of a knowledge base in insertion order.
func (s *Store) ListKBChunks(ctx context.Context, kbID string, limit int) ([]*KBChunk, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM kb_chunks WHERE kb_id = ? ORDER BY rowid LIMIT ?", kbChunkColumns),
		kbID, limit)
	if err != nil {
		return nil, fmt.Errorf("list kb chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*KBChunk
	for rows.Next() {
		chunk, err := scanKBChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func scanKBChunk(row rowScanner) (*KBChunk, error) {
	var (
		chunk                                             KBChunk
		frame                                             string
		domains, entities, problems, resolutions, ctxsRaw string
		embedding                                         []byte
		createdAt, updatedAt                              string
	)
	if err := row.Scan(
		&chunk.ID, &chunk.KBID, &chunk.Text, &chunk.NormalizedText, &frame,
		&domains, &entities, &problems, &resolutions, &ctxsRaw,
		&chunk.Confidence, &chunk.SourceURL, &embedding,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan kb chunk: %w", err)
	}
	chunk.Frame = Frame(frame)
	chunk.Domains = decodeTags(domains)
	chunk.Entities = decodeTags(entities)
	chunk.Problems = decodeTags(problems)
	chunk.Resolutions = decodeTags(resolutions)
	chunk.Contexts = decodeTags(ctxsRaw)
	chunk.CreatedAt = parseTime(createdAt)
	chunk.UpdatedAt = parseTime(updatedAt)

	vec, err := UnmarshalVector(embedding)
	if err != nil {
		return nil, fmt.Errorf("decode embedding for chunk %s: %w", chunk.ID, err)
	}
	chunk.Embedding = vec
	return &chunk, nil
}
