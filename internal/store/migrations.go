package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// schema is the PostgreSQL schema, applied idempotently at startup.
//
// Messages reference their conversation rather than being embedded in it, so
// a conversation's history is a query by conversation_id and the row never
// grows unbounded. ULID message IDs make (created_at, id) a stable total
// order.
const schema = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	username TEXT UNIQUE NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	avatar TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS conversations (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	participant_lo UUID NOT NULL,
	participant_hi UUID NOT NULL,
	last_message TEXT NOT NULL DEFAULT '',
	seen_by JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT conversations_pair_unique UNIQUE (participant_lo, participant_hi),
	CONSTRAINT conversations_pair_ordered CHECK (participant_lo < participant_hi)
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id UUID NOT NULL REFERENCES conversations(id),
	author_id UUID NOT NULL,
	text TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_conversations_lo ON conversations(participant_lo);
CREATE INDEX IF NOT EXISTS idx_conversations_hi ON conversations(participant_hi);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id);
`

// RunMigrations applies the schema to the given PostgreSQL database.
func RunMigrations(ctx context.Context, databaseURL string) error {
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, schema)
	return err
}
