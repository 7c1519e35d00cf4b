// Package sqlite provides a [memory.Store] backed by a local SQLite database
// file, using the pure-Go modernc.org/sqlite driver.
//
// The database runs in WAL mode. Each save is a single upsert statement.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/chatrelay/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.Store  = (*Store)(nil)
	_ memory.Pinger = (*Store)(nil)
)

// Store is the SQLite-backed conversation store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path, creating parent directories as
// needed, and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}

	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS conversation_state (
		session_key TEXT PRIMARY KEY,
		state       TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_state_updated ON conversation_state(updated_at);
	`)
	return err
}

// Load implements [memory.Store].
func (s *Store) Load(ctx context.Context, key string) (memory.State, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM conversation_state WHERE session_key = ?`, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Decode(nil)
	}
	if err != nil {
		return memory.State{}, fmt.Errorf("sqlite store: load %q: %w", key, err)
	}
	return memory.Decode([]byte(raw))
}

// Save implements [memory.Store].
func (s *Store) Save(ctx context.Context, key string, state memory.State) error {
	raw, err := memory.Encode(state)
	if err != nil {
		return fmt.Errorf("sqlite store: save %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_state (session_key, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: save %q: %w", key, err)
	}
	return nil
}

// Keys returns every stored session key ordered by most recent update.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_key FROM conversation_state ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlite store: keys: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Ping implements [memory.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
