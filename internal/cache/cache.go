// Package cache deduplicates inference runs by a cheap content fingerprint.
//
// The fingerprint is derived from metadata only: the file name, its size in
// bytes and its duration rounded to whole seconds. Reading the payload to hash
// it would cost as much as the encode step the cache is meant to skip. Two
// different files with identical name, size and rounded duration collide;
// that trade-off is accepted.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kalambet/clipsage/internal/project"
)

// Entry is one cached analysis.
type Entry struct {
	Fingerprint     string
	Result          project.Analysis
	CreatedAt       time.Time
	FileName        string
	FileSizeBytes   int64
	DurationSeconds float64
}

// Store persists cache entries.
type Store interface {
	GetCacheEntry(ctx context.Context, fingerprint string) (Entry, bool, error)
	PutCacheEntry(ctx context.Context, e Entry) error
}

// Fingerprint returns "<fileName>_<sizeBytes>_<round(durationSeconds)>".
func Fingerprint(fileName string, sizeBytes int64, durationSeconds float64) string {
	return fmt.Sprintf("%s_%d_%d", fileName, sizeBytes, int64(math.Round(durationSeconds)))
}

// Cache wraps a Store with the lookup rules: lookups and writes only happen
// when the duration is known, and lookup errors count as misses.
type Cache struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Cache backed by store.
func New(store Store) *Cache {
	return &Cache{store: store, logger: slog.Default(), now: time.Now}
}

// Key returns the fingerprint for p, or "" when the duration is unknown.
func Key(p project.Project) string {
	d := p.Duration()
	if d <= 0 {
		return ""
	}
	return Fingerprint(p.FileName, p.FileSizeBytes, d)
}

// Lookup returns the cached analysis for p, if any.
func (c *Cache) Lookup(ctx context.Context, p project.Project) (project.Analysis, bool) {
	key := Key(p)
	if key == "" || c == nil || c.store == nil {
		return project.Analysis{}, false
	}
	e, ok, err := c.store.GetCacheEntry(ctx, key)
	if err != nil {
		c.logger.Warn("cache lookup failed", "fingerprint", key, "error", err)
		return project.Analysis{}, false
	}
	if !ok {
		return project.Analysis{}, false
	}
	return e.Result, true
}

// Remember stores result under p's fingerprint. It does nothing when the
// duration is unknown.
func (c *Cache) Remember(ctx context.Context, p project.Project, result project.Analysis) error {
	key := Key(p)
	if key == "" || c == nil || c.store == nil {
		return nil
	}
	err := c.store.PutCacheEntry(ctx, Entry{
		Fingerprint:     key,
		Result:          result.Clone(),
		CreatedAt:       c.now().UTC(),
		FileName:        p.FileName,
		FileSizeBytes:   p.FileSizeBytes,
		DurationSeconds: p.Duration(),
	})
	if err != nil {
		return project.WrapError(project.ErrPersistence, "cache put", err)
	}
	return nil
}
