package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/aaaashutosh/medicate-connect/internal/models"
)

// SQLiteStore handles SQLite database operations. It is the development
// and test store; semantics match PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/medicate.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/medicate.db"
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	// The whole store goes through one connection so in-memory databases
	// keep their schema across calls.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		participant_a TEXT NOT NULL,
		participant_b TEXT NOT NULL,
		last_message_id TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_chats_participants
		ON chats (participant_a, participant_b);

	CREATE INDEX IF NOT EXISTS idx_chats_updated_at ON chats (updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		message_type TEXT NOT NULL DEFAULT 'text',
		file_url TEXT DEFAULT '',
		file_mime_type TEXT DEFAULT '',
		read INTEGER NOT NULL DEFAULT 0,
		delivered INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages (chat_id, id);
	CREATE INDEX IF NOT EXISTS idx_messages_unread
		ON messages (chat_id, receiver_id, read);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const sqliteChatColumns = `id, participant_a, participant_b, COALESCE(last_message_id, ''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteChat(row rowScanner) (*models.Chat, error) {
	chat := &models.Chat{}
	var id string
	err := row.Scan(
		&id,
		&chat.ParticipantA,
		&chat.ParticipantB,
		&chat.LastMessageID,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	chat.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// GetOrCreateChat returns the chat for the unordered pair, creating it on
// first use. INSERT OR IGNORE plus the unique participant index makes the
// loser of a creation race fall through to the winner's row.
func (s *SQLiteStore) GetOrCreateChat(ctx context.Context, userA, userB string) (*models.Chat, error) {
	a, b := models.NormalizePair(userA, userB)
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO chats (id, participant_a, participant_b, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New().String(), a, b, now, now)
	if err != nil {
		return nil, err
	}

	return scanSQLiteChat(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteChatColumns+` FROM chats
		WHERE participant_a = ? AND participant_b = ?
	`, a, b))
}

// GetChat retrieves a chat by id.
func (s *SQLiteStore) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	chat, err := scanSQLiteChat(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteChatColumns+` FROM chats WHERE id = ?
	`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return chat, nil
}

// SaveMessage persists a message and bumps the parent chat in a single
// transaction.
func (s *SQLiteStore) SaveMessage(ctx context.Context, in SaveMessageInput) (*models.Message, error) {
	chat, err := s.GetChat(ctx, in.ChatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	if !chat.HasParticipant(in.SenderID) || !chat.HasParticipant(in.ReceiverID) {
		return nil, ErrNotParticipant
	}

	msg := &models.Message{
		ID:           ulid.Make().String(),
		ChatID:       in.ChatID,
		SenderID:     in.SenderID,
		ReceiverID:   in.ReceiverID,
		Content:      in.Content,
		MessageType:  in.MessageType,
		FileURL:      in.FileURL,
		FileMimeType: in.FileMimeType,
		Delivered:    in.Delivered,
		CreatedAt:    time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, receiver_id, content, message_type, file_url, file_mime_type, read, delivered, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, msg.ID, msg.ChatID.String(), msg.SenderID, msg.ReceiverID, msg.Content, string(msg.MessageType), msg.FileURL, msg.FileMimeType, msg.Delivered, msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE chats SET last_message_id = ?, updated_at = ? WHERE id = ?
	`, msg.ID, msg.CreatedAt, msg.ChatID.String())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

const sqliteMessageColumns = `id, chat_id, sender_id, receiver_id, content, message_type, COALESCE(file_url, ''), COALESCE(file_mime_type, ''), read, delivered, created_at`

func scanSQLiteMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var chatID string
	err := row.Scan(
		&msg.ID,
		&chatID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Content,
		&msg.MessageType,
		&msg.FileURL,
		&msg.FileMimeType,
		&msg.Read,
		&msg.Delivered,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.ChatID, err = uuid.Parse(chatID)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages retrieves one page of a chat's messages, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID uuid.UUID, page, pageSize int) ([]models.Message, error) {
	limit, offset := normalizePage(page, pageSize)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteMessageColumns+` FROM messages
		WHERE chat_id = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`, chatID.String(), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// MarkRead flips all unread messages addressed to receiverID in the chat.
func (s *SQLiteStore) MarkRead(ctx context.Context, chatID uuid.UUID, receiverID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET read = 1
		WHERE chat_id = ? AND receiver_id = ? AND read = 0
	`, chatID.String(), receiverID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListChatsForUser builds the user's chat list, most recently active first.
func (s *SQLiteStore) ListChatsForUser(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteChatColumns+` FROM chats
		WHERE participant_a = ? OR participant_b = ?
		ORDER BY updated_at DESC
	`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		chat, err := scanSQLiteChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *chat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	summaries := make([]models.ChatSummary, 0, len(chats))
	for _, chat := range chats {
		summary := models.ChatSummary{
			Chat:             chat,
			OtherParticipant: chat.OtherParticipant(userID),
		}

		if chat.LastMessageID != "" {
			msg, err := scanSQLiteMessage(s.db.QueryRowContext(ctx, `
				SELECT `+sqliteMessageColumns+` FROM messages WHERE id = ?
			`, chat.LastMessageID))
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return nil, err
			}
			if err == nil {
				summary.LastMessage = msg
			}
		}

		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM messages
			WHERE chat_id = ? AND receiver_id = ? AND read = 0
		`, chat.ID.String(), userID).Scan(&summary.UnreadCount)
		if err != nil {
			return nil, err
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}
