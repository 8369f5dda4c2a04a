// Package postgres is the PostgreSQL implementation of the project and
// cache stores. Several hosts may point at one database, but only one
// clipsage process owns it at a time: startup reconciliation rewrites every
// Processing row, so ownership is held as a session advisory lock.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kalambet/clipsage/internal/cache"
	"github.com/kalambet/clipsage/internal/project"
	"github.com/kalambet/clipsage/internal/storage"
)

const (
	schemaLockID int64 = 2026101601
	ownerLockID  int64 = 2026101602
)

// ErrOwned is returned by Acquire when another session holds the database.
var ErrOwned = errors.New("another clipsage process owns this database")

// Store persists projects and cache entries in PostgreSQL.
type Store struct {
	db    *sql.DB
	owner *sql.Conn
}

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// OpenDB opens a pgx-backed *sql.DB and checks connectivity.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// Open connects to dsn and bootstraps the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := OpenDB(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := New(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Acquire(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Acquire takes the ownership lock on a dedicated connection and keeps it
// until Close. It fails with ErrOwned instead of waiting.
func (s *Store) Acquire(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("reserve owner connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, ownerLockID).Scan(&ok); err != nil {
		conn.Close()
		return fmt.Errorf("acquire owner lock: %w", err)
	}
	if !ok {
		conn.Close()
		return ErrOwned
	}
	s.owner = conn
	return nil
}

// Close releases the ownership lock and closes the underlying pool.
func (s *Store) Close() error {
	if s.owner != nil {
		if _, err := s.owner.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, ownerLockID); err != nil {
			slog.Warn("releasing owner lock", "error", err)
		}
		s.owner.Close()
		s.owner = nil
	}
	return s.db.Close()
}

// EnsureSchema creates tables and indexes if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	file_name TEXT NOT NULL,
	file_size_bytes BIGINT NOT NULL,
	mime_type TEXT NOT NULL,
	media_kind TEXT NOT NULL,
	duration_seconds DOUBLE PRECISION,
	status TEXT NOT NULL,
	progress_percent INTEGER NOT NULL DEFAULT 0,
	result JSONB,
	error_reason TEXT NOT NULL DEFAULT '',
	processing_duration_ms BIGINT,
	chat_history JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	raw_payload BYTEA
);

CREATE INDEX IF NOT EXISTS idx_projects_created_at ON projects(created_at DESC);

CREATE TABLE IF NOT EXISTS analysis_cache (
	fingerprint TEXT PRIMARY KEY,
	result JSONB NOT NULL,
	file_name TEXT NOT NULL,
	file_size_bytes BIGINT NOT NULL,
	duration_seconds DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// SaveProject upserts a project. A nil payload keeps the stored one.
func (s *Store) SaveProject(ctx context.Context, rec project.Record) error {
	p := rec.Project

	var result any
	if p.Result != nil {
		b, err := json.Marshal(p.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		result = string(b)
	}
	chat := p.ChatHistory
	if chat == nil {
		chat = []project.ChatMessage{}
	}
	chatJSON, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("marshal chat history: %w", err)
	}
	var duration, processingMs, payload any
	if p.DurationSeconds != nil {
		duration = *p.DurationSeconds
	}
	if p.ProcessingDurationMs != nil {
		processingMs = *p.ProcessingDurationMs
	}
	if rec.Payload != nil {
		payload = rec.Payload
	}

	const query = `
INSERT INTO projects (
	id, file_name, file_size_bytes, mime_type, media_kind, duration_seconds, status, progress_percent,
	result, error_reason, processing_duration_ms, chat_history, created_at, updated_at, raw_payload
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12::jsonb, $13, $14, $15)
ON CONFLICT (id) DO UPDATE SET
	file_name = EXCLUDED.file_name,
	file_size_bytes = EXCLUDED.file_size_bytes,
	mime_type = EXCLUDED.mime_type,
	media_kind = EXCLUDED.media_kind,
	duration_seconds = EXCLUDED.duration_seconds,
	status = EXCLUDED.status,
	progress_percent = EXCLUDED.progress_percent,
	result = EXCLUDED.result,
	error_reason = EXCLUDED.error_reason,
	processing_duration_ms = EXCLUDED.processing_duration_ms,
	chat_history = EXCLUDED.chat_history,
	updated_at = EXCLUDED.updated_at,
	raw_payload = COALESCE(EXCLUDED.raw_payload, projects.raw_payload)`

	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.FileName, p.FileSizeBytes, p.MimeType, string(p.MediaKind), duration, string(p.Status), p.ProgressPercent,
		result, p.ErrorReason, processingMs, string(chatJSON), p.CreatedAt.UTC(), time.Now().UTC(), payload,
	)
	if err != nil {
		return fmt.Errorf("upsert project %s: %w", p.ID, err)
	}
	return nil
}

// LoadProjects returns all projects, most recent first.
func (s *Store) LoadProjects(ctx context.Context) ([]project.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, file_name, file_size_bytes, mime_type, media_kind, duration_seconds, status, progress_percent,
	result, error_reason, processing_duration_ms, chat_history, created_at, raw_payload
FROM projects
ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var out []project.Record
	for rows.Next() {
		var (
			p            project.Project
			mediaKind    string
			status       string
			duration     sql.NullFloat64
			result       []byte
			processingMs sql.NullInt64
			chat         []byte
			payload      []byte
		)
		if err := rows.Scan(&p.ID, &p.FileName, &p.FileSizeBytes, &p.MimeType, &mediaKind, &duration, &status,
			&p.ProgressPercent, &result, &p.ErrorReason, &processingMs, &chat, &p.CreatedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.MediaKind = project.MediaKind(mediaKind)
		p.Status = project.Status(status)
		if duration.Valid {
			d := duration.Float64
			p.DurationSeconds = &d
		}
		if processingMs.Valid {
			ms := processingMs.Int64
			p.ProcessingDurationMs = &ms
		}
		if len(result) > 0 {
			var a project.Analysis
			if err := json.Unmarshal(result, &a); err != nil {
				return nil, fmt.Errorf("unmarshal result of %s: %w", p.ID, err)
			}
			p.Result = &a
		}
		p.ChatHistory = []project.ChatMessage{}
		if len(chat) > 0 {
			if err := json.Unmarshal(chat, &p.ChatHistory); err != nil {
				return nil, fmt.Errorf("unmarshal chat history of %s: %w", p.ID, err)
			}
		}
		out = append(out, project.Record{Project: p, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}

// DeleteProject removes a project. Unknown ids yield storage.ErrNotFound.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetCacheEntry looks up a cached analysis.
func (s *Store) GetCacheEntry(ctx context.Context, fingerprint string) (cache.Entry, bool, error) {
	var (
		e      cache.Entry
		result []byte
	)
	err := s.db.QueryRowContext(ctx, `
SELECT fingerprint, result, file_name, file_size_bytes, duration_seconds, created_at
FROM analysis_cache WHERE fingerprint = $1`, fingerprint,
	).Scan(&e.Fingerprint, &result, &e.FileName, &e.FileSizeBytes, &e.DurationSeconds, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("query cache entry: %w", err)
	}
	if err := json.Unmarshal(result, &e.Result); err != nil {
		return cache.Entry{}, false, fmt.Errorf("unmarshal cache entry %s: %w", fingerprint, err)
	}
	return e, true, nil
}

// PutCacheEntry upserts a cache entry.
func (s *Store) PutCacheEntry(ctx context.Context, e cache.Entry) error {
	b, err := json.Marshal(e.Result)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO analysis_cache (fingerprint, result, file_name, file_size_bytes, duration_seconds, created_at)
VALUES ($1, $2::jsonb, $3, $4, $5, $6)
ON CONFLICT (fingerprint) DO UPDATE SET
	result = EXCLUDED.result,
	file_name = EXCLUDED.file_name,
	file_size_bytes = EXCLUDED.file_size_bytes,
	duration_seconds = EXCLUDED.duration_seconds,
	created_at = EXCLUDED.created_at`,
		e.Fingerprint, string(b), e.FileName, e.FileSizeBytes, e.DurationSeconds, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// CountCacheEntries returns the number of cached analyses.
func (s *Store) CountCacheEntries(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}
