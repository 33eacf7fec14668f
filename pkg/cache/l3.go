package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// SQLiteL3Store is the production l3Store: a single local table,
// spec.md §6's persisted-state layout
// (cache_entries(fingerprint PRIMARY KEY, value, stored_at, ttl_ms,
// access_count)) plus a confidence column holding the confidence each entry
// was stored under.
type SQLiteL3Store struct {
	db *sql.DB
}

// OpenSQLiteL3Store opens (creating if absent) the SQLite file at path and
// ensures the cache_entries table exists.
func OpenSQLiteL3Store(path string) (*SQLiteL3Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer, avoid SQLITE_BUSY

	const ddl = `CREATE TABLE IF NOT EXISTS cache_entries (
		fingerprint TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		stored_at INTEGER NOT NULL,
		ttl_ms INTEGER NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 1.0
	)`
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache_entries table: %w", err)
	}
	return &SQLiteL3Store{db: db}, nil
}

func (s *SQLiteL3Store) Close() error { return s.db.Close() }

func (s *SQLiteL3Store) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT value, stored_at, ttl_ms, access_count, confidence FROM cache_entries WHERE fingerprint = ?`,
		fingerprint)

	var (
		value                     []byte
		storedAtUnix, ttlMS       int64
		accessCount               int
		confidence                float64
	)
	if err := row.Scan(&value, &storedAtUnix, &ttlMS, &accessCount, &confidence); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("l3 get %q: %w", fingerprint, err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE cache_entries SET access_count = access_count + 1 WHERE fingerprint = ?`, fingerprint); err != nil {
		return nil, fmt.Errorf("l3 bump access_count %q: %w", fingerprint, err)
	}

	return &Entry{
		Fingerprint:  fingerprint,
		Value:        value,
		StoredAt:     time.UnixMilli(storedAtUnix),
		Tier:         TierL3,
		TTL:          time.Duration(ttlMS) * time.Millisecond,
		AccessCount:  accessCount + 1,
		LastAccessAt: time.Now(),
		Confidence:   confidence,
	}, nil
}

func (s *SQLiteL3Store) Put(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (fingerprint, value, stored_at, ttl_ms, access_count, confidence)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			value = excluded.value,
			stored_at = excluded.stored_at,
			ttl_ms = excluded.ttl_ms,
			confidence = excluded.confidence
	`, e.Fingerprint, e.Value, e.StoredAt.UnixMilli(), e.TTL.Milliseconds(), e.Confidence)
	if err != nil {
		return fmt.Errorf("l3 put %q: %w", e.Fingerprint, err)
	}
	return nil
}

func (s *SQLiteL3Store) Delete(ctx context.Context, fingerprint string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("l3 delete %q: %w", fingerprint, err)
	}
	return nil
}

func (s *SQLiteL3Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fingerprint FROM cache_entries`)
	if err != nil {
		return nil, fmt.Errorf("l3 list keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("l3 scan key: %w", err)
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}
