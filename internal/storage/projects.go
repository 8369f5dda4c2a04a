package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/clipsage/internal/project"
)

const projectColumns = `id, file_name, file_size_bytes, mime_type, media_kind, duration_seconds, status,
	progress_percent, result_json, error_reason, processing_duration_ms, chat_json, created_at, raw_payload`

// SaveProject upserts a project. The stored payload is only replaced when
// rec.Payload is non-nil.
func (s *Store) SaveProject(ctx context.Context, rec project.Record) error {
	cols, err := encodeProject(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, file_name, file_size_bytes, mime_type, media_kind, duration_seconds, status,
			progress_percent, result_json, error_reason, processing_duration_ms, chat_json, created_at, updated_at, raw_payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			file_name = excluded.file_name,
			file_size_bytes = excluded.file_size_bytes,
			mime_type = excluded.mime_type,
			media_kind = excluded.media_kind,
			duration_seconds = excluded.duration_seconds,
			status = excluded.status,
			progress_percent = excluded.progress_percent,
			result_json = excluded.result_json,
			error_reason = excluded.error_reason,
			processing_duration_ms = excluded.processing_duration_ms,
			chat_json = excluded.chat_json,
			updated_at = excluded.updated_at,
			raw_payload = COALESCE(excluded.raw_payload, projects.raw_payload)`,
		cols.id, cols.fileName, cols.fileSize, cols.mimeType, cols.mediaKind, cols.duration, cols.status,
		cols.progress, cols.result, cols.errorReason, cols.processingMs, cols.chat,
		formatTime(cols.createdAt), formatTime(time.Now()), cols.payload,
	)
	if err != nil {
		return fmt.Errorf("saving project %s: %w", rec.Project.ID, err)
	}
	return nil
}

// LoadProjects returns every project, most recent first.
func (s *Store) LoadProjects(ctx context.Context) ([]project.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var out []project.Record
	for rows.Next() {
		rec, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetProject returns a single project by id.
func (s *Store) GetProject(ctx context.Context, id string) (project.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	rec, err := scanProject(row)
	if err == sql.ErrNoRows {
		return project.Record{}, ErrNotFound
	}
	return rec, err
}

// DeleteProject removes a project and its payload.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting project %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// projectCols is a project flattened into column values.
type projectCols struct {
	id           string
	fileName     string
	fileSize     int64
	mimeType     string
	mediaKind    string
	duration     any
	status       string
	progress     int
	result       any
	errorReason  string
	processingMs any
	chat         string
	createdAt    time.Time
	payload      any
}

func encodeProject(rec project.Record) (projectCols, error) {
	p := rec.Project
	c := projectCols{
		id:          p.ID,
		fileName:    p.FileName,
		fileSize:    p.FileSizeBytes,
		mimeType:    p.MimeType,
		mediaKind:   string(p.MediaKind),
		status:      string(p.Status),
		progress:    p.ProgressPercent,
		errorReason: p.ErrorReason,
		createdAt:   p.CreatedAt,
	}
	if p.DurationSeconds != nil {
		c.duration = *p.DurationSeconds
	}
	if p.ProcessingDurationMs != nil {
		c.processingMs = *p.ProcessingDurationMs
	}
	if p.Result != nil {
		b, err := json.Marshal(p.Result)
		if err != nil {
			return projectCols{}, fmt.Errorf("encoding result: %w", err)
		}
		c.result = string(b)
	}
	chat := p.ChatHistory
	if chat == nil {
		chat = []project.ChatMessage{}
	}
	b, err := json.Marshal(chat)
	if err != nil {
		return projectCols{}, fmt.Errorf("encoding chat history: %w", err)
	}
	c.chat = string(b)
	if rec.Payload != nil {
		c.payload = rec.Payload
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (project.Record, error) {
	var (
		p            project.Project
		mediaKind    string
		status       string
		duration     sql.NullFloat64
		result       sql.NullString
		processingMs sql.NullInt64
		chat         string
		createdAt    string
		payload      []byte
	)
	err := row.Scan(&p.ID, &p.FileName, &p.FileSizeBytes, &p.MimeType, &mediaKind, &duration, &status,
		&p.ProgressPercent, &result, &p.ErrorReason, &processingMs, &chat, &createdAt, &payload)
	if err != nil {
		return project.Record{}, err
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
	if result.Valid && result.String != "" {
		var a project.Analysis
		if err := json.Unmarshal([]byte(result.String), &a); err != nil {
			return project.Record{}, fmt.Errorf("decoding result of %s: %w", p.ID, err)
		}
		p.Result = &a
	}
	p.ChatHistory = []project.ChatMessage{}
	if chat != "" {
		if err := json.Unmarshal([]byte(chat), &p.ChatHistory); err != nil {
			return project.Record{}, fmt.Errorf("decoding chat history of %s: %w", p.ID, err)
		}
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return project.Record{}, fmt.Errorf("parsing created_at: %w", err)
	}
	p.CreatedAt = t

	return project.Record{Project: p, Payload: payload}, nil
}
