package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kalambet/clipsage/internal/cache"
)

// GetCacheEntry looks up a cached analysis by fingerprint.
func (s *Store) GetCacheEntry(ctx context.Context, fingerprint string) (cache.Entry, bool, error) {
	var (
		e         cache.Entry
		result    string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, result_json, file_name, file_size_bytes, duration_seconds, created_at
		FROM analysis_cache WHERE fingerprint = ?`, fingerprint,
	).Scan(&e.Fingerprint, &result, &e.FileName, &e.FileSizeBytes, &e.DurationSeconds, &createdAt)
	if err == sql.ErrNoRows {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("reading cache entry: %w", err)
	}
	if err := json.Unmarshal([]byte(result), &e.Result); err != nil {
		return cache.Entry{}, false, fmt.Errorf("decoding cache entry %s: %w", fingerprint, err)
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("parsing created_at: %w", err)
	}
	e.CreatedAt = t
	return e, true, nil
}

// PutCacheEntry upserts a cache entry by fingerprint.
func (s *Store) PutCacheEntry(ctx context.Context, e cache.Entry) error {
	b, err := json.Marshal(e.Result)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_cache (fingerprint, result_json, file_name, file_size_bytes, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			result_json = excluded.result_json,
			file_name = excluded.file_name,
			file_size_bytes = excluded.file_size_bytes,
			duration_seconds = excluded.duration_seconds,
			created_at = excluded.created_at`,
		e.Fingerprint, string(b), e.FileName, e.FileSizeBytes, e.DurationSeconds, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// CountCacheEntries returns the number of cached analyses.
func (s *Store) CountCacheEntries(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cache entries: %w", err)
	}
	return n, nil
}
