package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/chatrelay/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.Store  = (*Store)(nil)
	_ memory.Pinger = (*Store)(nil)
)

// Store is the PostgreSQL-backed conversation store. It holds a single
// [pgxpool.Pool]. All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a connection pool to the database at dsn, verifies it with
// a ping and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Load implements [memory.Store].
func (s *Store) Load(ctx context.Context, key string) (memory.State, error) {
	const q = `SELECT state FROM conversation_state WHERE session_key = $1`

	var raw []byte
	err := s.pool.QueryRow(ctx, q, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.Decode(nil)
	}
	if err != nil {
		return memory.State{}, fmt.Errorf("postgres store: load %q: %w", key, err)
	}
	return memory.Decode(raw)
}

// Save implements [memory.Store]. The row is upserted in one statement.
func (s *Store) Save(ctx context.Context, key string, state memory.State) error {
	const q = `
		INSERT INTO conversation_state (session_key, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_key)
		DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`

	raw, err := memory.Encode(state)
	if err != nil {
		return fmt.Errorf("postgres store: save %q: %w", key, err)
	}
	if _, err := s.pool.Exec(ctx, q, key, raw); err != nil {
		return fmt.Errorf("postgres store: save %q: %w", key, err)
	}
	return nil
}

// Delete removes the row for key. Deleting an unknown key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversation_state WHERE session_key = $1`, key); err != nil {
		return fmt.Errorf("postgres store: delete %q: %w", key, err)
	}
	return nil
}

// Ping implements [memory.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
