package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// bootstrapSchema creates the tables that predate the versioned
// migrations. Safe to re-run.
const bootstrapSchema = `
CREATE TABLE IF NOT EXISTS insights (
	id TEXT PRIMARY KEY,
	text TEXT NOT NULL,
	normalized_text TEXT NOT NULL,
	frame TEXT NOT NULL,
	domains TEXT NOT NULL DEFAULT '[]',
	entities TEXT NOT NULL DEFAULT '[]',
	problems TEXT NOT NULL DEFAULT '[]',
	resolutions TEXT NOT NULL DEFAULT '[]',
	contexts TEXT NOT NULL DEFAULT '[]',
	confidence REAL NOT NULL DEFAULT 1.0,
	source TEXT NOT NULL DEFAULT '',
	embedding BLOB,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_insights_frame ON insights(frame);

CREATE TABLE IF NOT EXISTS schema_versions (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL,
	description TEXT NOT NULL
);
`

// migrationFunc applies one schema change inside the given transaction and
// returns a human-readable description recorded in schema_versions.
type migrationFunc func(ctx context.Context, tx *sql.Tx) (string, error)

type migration struct {
	version int
	fn      migrationFunc
}

// migrations are applied in ascending version order. Never reorder or
// renumber entries; append only.
var migrations = []migration{
	{1, migrateSubjectIndex},
	{2, migrateExtractionColumns},
	{3, migrateInsightRelations},
	{4, migrateSubjectRelations},
	{5, migrateKnowledgeBases},
	{6, migrateTaskTables},
	{7, migrateTaskInvariants},
}

// Initialize bootstraps the base schema and applies any pending
// migrations. Each migration runs in its own transaction together with
// its schema_versions record, so a failure leaves the version unchanged
// and the next open retries it. Running Initialize on an up-to-date
// database is a no-op.
func (s *Store) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, bootstrapSchema); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}

	var current sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_versions").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if int64(m.version) <= current.Int64 {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}

		desc, err := m.fn(ctx, tx)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
		if desc == "" {
			desc = fmt.Sprintf("migration %d", m.version)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_versions (version, applied_at, description) VALUES (?, ?, ?)",
			m.version, nowUTC(), desc,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}

		s.logger.Info().Int("version", m.version).Str("description", desc).Msg("Applied migration")
	}

	return nil
}

// SchemaVersion returns the highest applied migration version, 0 for a
// fresh database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var current sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_versions").Scan(&current); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(current.Int64), nil
}

func migrateSubjectIndex(ctx context.Context, tx *sql.Tx) (string, error) {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS subjects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(name, kind)
		);
		CREATE INDEX IF NOT EXISTS idx_subjects_name ON subjects(name);
		CREATE INDEX IF NOT EXISTS idx_subjects_kind ON subjects(kind);

		CREATE TABLE IF NOT EXISTS insight_subjects (
			insight_id TEXT NOT NULL REFERENCES insights(id) ON DELETE CASCADE,
			subject_id TEXT NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
			PRIMARY KEY (insight_id, subject_id)
		);
		CREATE INDEX IF NOT EXISTS idx_insight_subjects_subject ON insight_subjects(subject_id);
	`); err != nil {
		return "", err
	}

	// Backfill subjects from tags on pre-migration insights.
	rows, err := tx.QueryContext(ctx, "SELECT id, domains, entities FROM insights")
	if err != nil {
		return "", err
	}
	defer rows.Close()

	type legacyRow struct {
		id       string
		domains  []string
		entities []string
	}
	var legacy []legacyRow
	for rows.Next() {
		var id, domainsJSON, entitiesJSON string
		if err := rows.Scan(&id, &domainsJSON, &entitiesJSON); err != nil {
			return "", err
		}
		var lr legacyRow
		lr.id = id
		_ = json.Unmarshal([]byte(domainsJSON), &lr.domains)
		_ = json.Unmarshal([]byte(entitiesJSON), &lr.entities)
		legacy = append(legacy, lr)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	now := nowUTC()
	for _, lr := range legacy {
		for kind, names := range map[SubjectKind][]string{
			SubjectKindDomain: lr.domains,
			SubjectKindEntity: lr.entities,
		} {
			for _, raw := range names {
				name := NormalizeSubjectName(raw)
				if name == "" {
					continue
				}
				subjectID := SubjectID(kind, name)
				if _, err := tx.ExecContext(ctx,
					"INSERT OR IGNORE INTO subjects (id, name, kind, created_at) VALUES (?, ?, ?, ?)",
					subjectID, name, string(kind), now,
				); err != nil {
					return "", err
				}
				if _, err := tx.ExecContext(ctx,
					"INSERT OR IGNORE INTO insight_subjects (insight_id, subject_id) VALUES (?, ?)",
					lr.id, subjectID,
				); err != nil {
					return "", err
				}
			}
		}
	}

	return "Add subjects table and insight_subjects join table with backfill", nil
}

func migrateExtractionColumns(ctx context.Context, tx *sql.Tx) (string, error) {
	rows, err := tx.QueryContext(ctx, "PRAGMA table_info(insights)")
	if err != nil {
		return "", err
	}
	existing := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			rows.Close()
			return "", err
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}

	for _, col := range []string{"problems", "resolutions", "contexts"} {
		if existing[col] {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("ALTER TABLE insights ADD COLUMN %s TEXT NOT NULL DEFAULT '[]'", col),
		); err != nil {
			return "", err
		}
	}

	return "Add problems, resolutions, contexts columns to insights", nil
}

func migrateInsightRelations(ctx context.Context, tx *sql.Tx) (string, error) {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS insight_relations (
			from_id TEXT NOT NULL REFERENCES insights(id) ON DELETE CASCADE,
			to_id TEXT NOT NULL REFERENCES insights(id) ON DELETE CASCADE,
			relation_type TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 1.0,
			created_at TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (from_id, to_id, relation_type)
		);
		CREATE INDEX IF NOT EXISTS idx_relations_from ON insight_relations(from_id);
		CREATE INDEX IF NOT EXISTS idx_relations_to ON insight_relations(to_id);
	`); err != nil {
		return "", err
	}

	// Backfill one shared_subject edge per insight pair with at least one
	// subject in common, weight = shared subject count. Canonical order
	// from_id < to_id keeps the pair unique.
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO insight_relations (from_id, to_id, relation_type, weight, created_at)
		SELECT a.insight_id, b.insight_id, 'shared_subject', COUNT(*), ?
		FROM insight_subjects a
		JOIN insight_subjects b ON a.subject_id = b.subject_id AND a.insight_id < b.insight_id
		GROUP BY a.insight_id, b.insight_id
	`, nowUTC()); err != nil {
		return "", err
	}

	return "Add insight_relations table with shared-subject backfill", nil
}

func migrateSubjectRelations(ctx context.Context, tx *sql.Tx) (string, error) {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS subject_relations (
			from_subject_id TEXT NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
			to_subject_id TEXT NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
			relation_type TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (from_subject_id, to_subject_id, relation_type)
		);
		CREATE INDEX IF NOT EXISTS idx_subrel_from ON subject_relations(from_subject_id);
		CREATE INDEX IF NOT EXISTS idx_subrel_to ON subject_relations(to_subject_id);
		CREATE INDEX IF NOT EXISTS idx_subrel_type ON subject_relations(relation_type);
	`); err != nil {
		return "", err
	}
	return "Add subject_relations table for subject hierarchy", nil
}

func migrateKnowledgeBases(ctx context.Context, tx *sql.Tx) (string, error) {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS knowledge_bases (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			source_type TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_kb_name ON knowledge_bases(name);

		CREATE TABLE IF NOT EXISTS kb_chunks (
			id TEXT PRIMARY KEY,
			kb_id TEXT NOT NULL REFERENCES knowledge_bases(id) ON DELETE CASCADE,
			text TEXT NOT NULL,
			normalized_text TEXT NOT NULL,
			frame TEXT NOT NULL,
			domains TEXT NOT NULL DEFAULT '[]',
			entities TEXT NOT NULL DEFAULT '[]',
			problems TEXT NOT NULL DEFAULT '[]',
			resolutions TEXT NOT NULL DEFAULT '[]',
			contexts TEXT NOT NULL DEFAULT '[]',
			confidence REAL NOT NULL DEFAULT 1.0,
			source_url TEXT NOT NULL DEFAULT '',
			embedding BLOB,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_kb_chunks_kb_id ON kb_chunks(kb_id);
		CREATE INDEX IF NOT EXISTS idx_kb_chunks_frame ON kb_chunks(frame);
		CREATE INDEX IF NOT EXISTS idx_kb_chunks_source_url ON kb_chunks(source_url);

		CREATE TABLE IF NOT EXISTS kb_chunk_subjects (
			kb_chunk_id TEXT NOT NULL REFERENCES kb_chunks(id) ON DELETE CASCADE,
			subject_id TEXT NOT NULL REFERENCES subjects(id) ON DELETE CASCADE,
			PRIMARY KEY (kb_chunk_id, subject_id)
		);
		CREATE INDEX IF NOT EXISTS idx_kb_chunk_subjects_subject ON kb_chunk_subjects(subject_id);

		CREATE TABLE IF NOT EXISTS kb_insight_relations (
			kb_chunk_id TEXT NOT NULL REFERENCES kb_chunks(id) ON DELETE CASCADE,
			insight_id TEXT NOT NULL REFERENCES insights(id) ON DELETE CASCADE,
			relation_type TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 1.0,
			created_at TEXT NOT NULL,
			PRIMARY KEY (kb_chunk_id, insight_id, relation_type)
		);
		CREATE INDEX IF NOT EXISTS idx_kb_insight_rel_chunk ON kb_insight_relations(kb_chunk_id);
		CREATE INDEX IF NOT EXISTS idx_kb_insight_rel_insight ON kb_insight_relations(insight_id);
		CREATE INDEX IF NOT EXISTS idx_kb_insight_rel_type ON kb_insight_relations(relation_type);
	`); err != nil {
		return "", err
	}
	return "Add knowledge_bases, kb_chunks, kb_chunk_subjects, kb_insight_relations tables", nil
}

func migrateTaskTables(ctx context.Context, tx *sql.Tx) (string, error) {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			owner TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

		CREATE TABLE IF NOT EXISTS task_locks (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			resource TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_task_locks_task ON task_locks(task_id);

		CREATE TABLE IF NOT EXISTS task_dependencies (
			task_id TEXT NOT NULL,
			depends_on_task_id TEXT NOT NULL,
			PRIMARY KEY (task_id, depends_on_task_id)
		);

		CREATE TABLE IF NOT EXISTS task_events (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			actor TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events(task_id);
	`); err != nil {
		return "", err
	}
	return "Add tasks, task_locks, task_dependencies, task_events tables", nil
}

// migrateTaskInvariants installs the DB-enforced state machine rules:
// the active-lock unique index, lock path-prefix overlap rejection,
// transition validation, dependency gating, and append-only events.
// The CAS layer in the task store maps the RAISE messages back to typed
// errors, so the message text here is part of the contract.
func migrateTaskInvariants(ctx context.Context, tx *sql.Tx) (string, error) {
	if _, err := tx.ExecContext(ctx, `
		CREATE UNIQUE INDEX IF NOT EXISTS ux_task_locks_active_resource
			ON task_locks(resource) WHERE active = 1;

		CREATE TRIGGER IF NOT EXISTS trg_task_locks_no_overlap
		BEFORE INSERT ON task_locks
		FOR EACH ROW WHEN NEW.active = 1
		BEGIN
			SELECT CASE WHEN EXISTS (
				SELECT 1 FROM task_locks
				WHERE active = 1
				  AND task_id != NEW.task_id
				  AND (resource = NEW.resource
				       OR resource LIKE NEW.resource || '/%'
				       OR NEW.resource LIKE resource || '/%')
			) THEN RAISE(ABORT, 'lock conflict: overlapping active lock') END;
		END;

		CREATE TRIGGER IF NOT EXISTS trg_tasks_valid_transition
		BEFORE UPDATE OF status ON tasks
		FOR EACH ROW WHEN NEW.status != OLD.status
		BEGIN
			SELECT CASE WHEN NOT (
				(OLD.status = 'todo' AND NEW.status IN ('in_progress', 'canceled'))
				OR (OLD.status = 'in_progress' AND NEW.status IN ('done', 'failed', 'blocked', 'canceled'))
				OR (OLD.status = 'blocked' AND NEW.status IN ('todo', 'canceled'))
				OR (OLD.status = 'failed' AND NEW.status IN ('todo', 'canceled'))
			) THEN RAISE(ABORT, 'invalid task state transition') END;
		END;

		CREATE TRIGGER IF NOT EXISTS trg_tasks_dependency_gate
		BEFORE UPDATE OF status ON tasks
		FOR EACH ROW WHEN NEW.status = 'in_progress'
		BEGIN
			SELECT CASE WHEN EXISTS (
				SELECT 1 FROM task_dependencies d
				LEFT JOIN tasks t ON t.task_id = d.depends_on_task_id
				WHERE d.task_id = NEW.task_id
				  AND (t.status IS NULL OR t.status != 'done')
			) THEN RAISE(ABORT, 'task dependencies not complete') END;
		END;

		CREATE TRIGGER IF NOT EXISTS trg_task_events_no_update
		BEFORE UPDATE ON task_events
		BEGIN
			SELECT RAISE(ABORT, 'task_events is append-only');
		END;

		CREATE TRIGGER IF NOT EXISTS trg_task_events_no_delete
		BEFORE DELETE ON task_events
		BEGIN
			SELECT RAISE(ABORT, 'task_events is append-only');
		END;
	`); err != nil {
		return "", err
	}
	return "Add active-lock index and state machine triggers", nil
}
