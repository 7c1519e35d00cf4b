// Package postgres provides a PostgreSQL-backed [memory.Store].
//
// Each conversation is one row in conversation_state, keyed by session key,
// with the full history in a JSONB column. Saves are single-statement
// upserts, so a failed write leaves the previous row intact.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	state, _ := store.Load(ctx, userID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlConversationState = `
CREATE TABLE IF NOT EXISTS conversation_state (
    session_key  TEXT         PRIMARY KEY,
    state        JSONB        NOT NULL DEFAULT '{"memory":[]}',
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversation_state_updated_at
    ON conversation_state (updated_at);
`

// Migrate creates the conversation_state table if it does not exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlConversationState); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
