package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite persists session entries in a local SQLite database.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (and creates if needed) the database at dsn.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLite{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS session_entries (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init session database: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Snapshot(ctx context.Context) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM session_entries`)
	if err != nil {
		return nil, fmt.Errorf("read session entries: %w", err)
	}
	defer rows.Close()
	out := map[string]any{}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		v, err := decodeValue([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decode session entry %q: %w", key, err)
		}
		out[key] = v
	}
	return out, rows.Err()
}

func (s *SQLite) Put(ctx context.Context, entries map[string]any) error {
	encoded, err := encodeEntries(entries)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, k := range sortedKeys(encoded) {
		raw := encoded[k]
		if raw == nil {
			_, err = tx.ExecContext(ctx, `DELETE FROM session_entries WHERE key = ?`, k)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO session_entries(key, value, updated_at) VALUES(?, ?, ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				k, string(raw), now)
		}
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write session entry %q: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Dispose(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM session_entries WHERE key = ?`, k); err != nil {
			return fmt.Errorf("delete session entry %q: %w", k, err)
		}
	}
	return nil
}

func (s *SQLite) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_entries`); err != nil {
		return fmt.Errorf("clear session entries: %w", err)
	}
	return nil
}
