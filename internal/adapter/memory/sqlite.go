package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

var _ domain.MemoryStore = (*SQLiteStore)(nil)

// SQLiteStore keeps conversation records in a local SQLite database.
// SemanticSearch is keyword relevance over an FTS5 index ranked by bm25.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("%w: create data dir: %v", domain.ErrMemoryUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrMemoryUnavailable, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrMemoryUnavailable, err)
		}
	}

	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrMemoryUnavailable, err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// migrateSQLite creates the schema if it doesn't exist.
func migrateSQLite(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS records (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS records_session ON records(user_id, session_id);

		CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
			content, content=records, content_rowid=rowid
		);

		CREATE TRIGGER IF NOT EXISTS records_ai AFTER INSERT ON records BEGIN
			INSERT INTO records_fts(rowid, content) VALUES (new.rowid, new.content);
		END;

		CREATE TRIGGER IF NOT EXISTS records_ad AFTER DELETE ON records BEGIN
			INSERT INTO records_fts(records_fts, rowid, content) VALUES ('delete', old.rowid, old.content);
		END;
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Name implements domain.MemoryStore.
func (s *SQLiteStore) Name() string { return "sqlite" }

// StoreInteraction writes the user turn and the agent turn in one transaction.
func (s *SQLiteStore) StoreInteraction(ctx context.Context, in domain.Interaction) error {
	if err := validateInteraction("SQLiteStore.StoreInteraction", in); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrMemoryStore, err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insert = `
		INSERT INTO records (id, user_id, session_id, role, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, rec := range interactionRecords(in) {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("%w: marshal metadata: %v", domain.ErrMemoryStore, err)
		}
		if _, err := tx.ExecContext(ctx, insert,
			rec.ID, rec.UserID, rec.SessionID, rec.Role, rec.Content, string(meta),
			rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("%w: insert: %v", domain.ErrMemoryStore, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrMemoryStore, err)
	}
	return nil
}

// RecentMessages returns the last limit records of a session, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, userID, sessionID string, limit int) ([]domain.MemoryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, session_id, role, content, metadata, created_at
		 FROM records
		 WHERE user_id = ? AND session_id = ?
		 ORDER BY rowid DESC
		 LIMIT ?`,
		userID, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: recent: %v", domain.ErrMemoryUnavailable, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// SemanticSearch returns the user's records that best match query across
// all sessions.
func (s *SQLiteStore) SemanticSearch(ctx context.Context, userID, query string, limit int) ([]domain.MemoryRecord, error) {
	terms := searchTerms(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.user_id, r.session_id, r.role, r.content, r.metadata, r.created_at
		 FROM records_fts f
		 JOIN records r ON r.rowid = f.rowid
		 WHERE records_fts MATCH ? AND r.user_id = ?
		 ORDER BY bm25(records_fts)
		 LIMIT ?`,
		strings.Join(quoted, " OR "), userID, limit,
	)
	if err != nil {
		s.logger.Debug("fts search failed, falling back to LIKE", "error", err)
		return s.likeSearch(ctx, userID, terms[0], limit)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// likeSearch is a fallback when the FTS5 MATCH is rejected.
func (s *SQLiteStore) likeSearch(ctx context.Context, userID, term string, limit int) ([]domain.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, session_id, role, content, metadata, created_at
		 FROM records
		 WHERE user_id = ? AND content LIKE ?
		 ORDER BY rowid DESC
		 LIMIT ?`,
		userID, "%"+term+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", domain.ErrMemoryUnavailable, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]domain.MemoryRecord, error) {
	var out []domain.MemoryRecord
	for rows.Next() {
		var (
			rec       domain.MemoryRecord
			meta      string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.SessionID, &rec.Role, &rec.Content, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", domain.ErrMemoryUnavailable, err)
		}
		if meta != "" && meta != "null" {
			_ = json.Unmarshal([]byte(meta), &rec.Metadata)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", domain.ErrMemoryUnavailable, err)
	}
	return out, nil
}
