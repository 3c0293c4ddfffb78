package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// RunMigrations applies the schema to a PostgreSQL database. Statements
// are idempotent so this is safe to run on every startup.
func RunMigrations(databaseURL string) error {
	ctx := context.Background()

	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS chats (
		id UUID PRIMARY KEY,
		participant_a TEXT NOT NULL,
		participant_b TEXT NOT NULL,
		last_message_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- One chat per unordered participant pair. The pair is normalized
	-- (participant_a < participant_b) before every lookup and insert.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_chats_participants
		ON chats (participant_a, participant_b);

	CREATE INDEX IF NOT EXISTS idx_chats_updated_at ON chats (updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		message_type TEXT NOT NULL DEFAULT 'text',
		file_url TEXT,
		file_mime_type TEXT,
		read BOOLEAN NOT NULL DEFAULT FALSE,
		delivered BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages (chat_id, id);
	CREATE INDEX IF NOT EXISTS idx_messages_unread
		ON messages (chat_id, receiver_id) WHERE read = FALSE;
	`)
	return err
}
