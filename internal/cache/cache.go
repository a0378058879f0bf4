// Package cache provides a SQLite-backed keyword cache with TTL expiry.
// Each cache domain (image URLs, keyword research data) lives in its own
// single-file database. Lookups are case-insensitive and entries self-heal:
// an expired row is deleted on read.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Store maps normalized keywords to JSON-serializable values of type T.
// Storage failures are treated as cache misses; the cache is an
// optimization, never a correctness dependency.
type Store[T any] struct {
	db    *sql.DB
	table string
	ttl   time.Duration

	now func() time.Time
}

// Open creates (or reuses) the cache database at dir/<table>.db.
func Open[T any](dir, table string, ttl time.Duration) (*Store[T], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	dbPath := filepath.Join(dir, table+".db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(10000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store[T]{
		db:    db,
		table: table,
		ttl:   ttl,
		now:   time.Now,
	}
	if err := s.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(err, fmt.Errorf("close cache db after schema init failure: %w", closeErr))
		}
		return nil, err
	}
	return s, nil
}

func (s *Store[T]) initSchema() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			keyword TEXT PRIMARY KEY,
			value_json TEXT NOT NULL,
			stored_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_stored_at ON %[1]s(stored_at);
	`, s.table)

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init cache schema %s: %w", s.table, err)
	}
	return nil
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Get returns the cached value for key, or ok=false when the entry is
// missing, expired, or unreadable. Expired entries are deleted as a side
// effect of the read.
func (s *Store[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	key = normalizeKey(key)

	var valueJSON string
	var storedAt int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT value_json, stored_at FROM %s WHERE keyword = ?`, s.table),
		key,
	).Scan(&valueJSON, &storedAt)
	if err == sql.ErrNoRows {
		return zero, false
	}
	if err != nil {
		log.Warn().Err(err).Str("table", s.table).Str("keyword", key).Msg("cache read failed, treating as miss")
		return zero, false
	}

	age := s.now().Sub(time.Unix(storedAt, 0))
	if age > s.ttl {
		// Lazy eviction on read.
		if err := s.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("table", s.table).Str("keyword", key).Msg("failed to evict expired cache entry")
		}
		return zero, false
	}

	var value T
	if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
		log.Warn().Err(err).Str("table", s.table).Str("keyword", key).Msg("cache entry unreadable, treating as miss")
		return zero, false
	}
	return value, true
}

// Put upserts the value for key; the last write wins unconditionally.
func (s *Store[T]) Put(ctx context.Context, key string, value T) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (keyword, value_json, stored_at) VALUES (?, ?, ?)
		ON CONFLICT(keyword) DO UPDATE SET
			value_json = excluded.value_json,
			stored_at = excluded.stored_at
	`, s.table), normalizeKey(key), string(valueJSON), s.now().Unix())
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Delete removes the entry for key if present.
func (s *Store[T]) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE keyword = ?`, s.table),
		normalizeKey(key),
	)
	if err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Sweep deletes every expired entry and returns the count removed. Get
// self-heals, so Sweep is housekeeping rather than a correctness
// requirement.
func (s *Store[T]) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.ttl).Unix()
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE stored_at < ?`, s.table),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep cache: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store[T]) Close() error {
	return s.db.Close()
}
