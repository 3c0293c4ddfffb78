package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/aaaashutosh/medicate-connect/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const chatColumns = `id, participant_a, participant_b, COALESCE(last_message_id, ''), created_at, updated_at`

func scanChat(row pgx.Row) (*models.Chat, error) {
	chat := &models.Chat{}
	err := row.Scan(
		&chat.ID,
		&chat.ParticipantA,
		&chat.ParticipantB,
		&chat.LastMessageID,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// GetOrCreateChat returns the chat for the unordered pair, creating it on
// first use. The unique index on (participant_a, participant_b) resolves
// creation races: the losing insert matches zero rows and falls through to
// the re-read of the winner's row.
func (s *PostgresStore) GetOrCreateChat(ctx context.Context, userA, userB string) (*models.Chat, error) {
	a, b := models.NormalizePair(userA, userB)

	chat, err := scanChat(s.pool.QueryRow(ctx, `
		INSERT INTO chats (id, participant_a, participant_b)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_a, participant_b) DO NOTHING
		RETURNING `+chatColumns+`
	`, uuid.New(), a, b))
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	return scanChat(s.pool.QueryRow(ctx, `
		SELECT `+chatColumns+` FROM chats
		WHERE participant_a = $1 AND participant_b = $2
	`, a, b))
}

// GetChat retrieves a chat by id.
func (s *PostgresStore) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	chat, err := scanChat(s.pool.QueryRow(ctx, `
		SELECT `+chatColumns+` FROM chats WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return chat, nil
}

// SaveMessage persists a message and bumps the parent chat in a single
// transaction. Broadcast to live connections happens only after this
// returns, so delivery order follows insertion order.
func (s *PostgresStore) SaveMessage(ctx context.Context, in SaveMessageInput) (*models.Message, error) {
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, receiver_id, content, message_type, file_url, file_mime_type, read, delivered, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10)
	`, msg.ID, msg.ChatID, msg.SenderID, msg.ReceiverID, msg.Content, msg.MessageType, msg.FileURL, msg.FileMimeType, msg.Delivered, msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE chats SET last_message_id = $1, updated_at = $2 WHERE id = $3
	`, msg.ID, msg.CreatedAt, msg.ChatID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return msg, nil
}

const messageColumns = `id, chat_id, sender_id, receiver_id, content, message_type, COALESCE(file_url, ''), COALESCE(file_mime_type, ''), read, delivered, created_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	msg := &models.Message{}
	err := row.Scan(
		&msg.ID,
		&msg.ChatID,
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
	return msg, nil
}

// ListMessages retrieves one page of a chat's messages, oldest first.
// ULIDs sort by creation time, so ordering by id is insertion order.
func (s *PostgresStore) ListMessages(ctx context.Context, chatID uuid.UUID, page, pageSize int) ([]models.Message, error) {
	limit, offset := normalizePage(page, pageSize)

	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = $1
		ORDER BY id ASC
		LIMIT $2 OFFSET $3
	`, chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// MarkRead flips all unread messages addressed to receiverID in the chat.
// The WHERE clause only matches unread rows, so repeat calls are no-ops.
func (s *PostgresStore) MarkRead(ctx context.Context, chatID uuid.UUID, receiverID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages SET read = TRUE
		WHERE chat_id = $1 AND receiver_id = $2 AND read = FALSE
	`, chatID, receiverID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListChatsForUser builds the user's chat list, most recently active first.
func (s *PostgresStore) ListChatsForUser(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+chatColumns+` FROM chats
		WHERE participant_a = $1 OR participant_b = $1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
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
			msg, err := scanMessage(s.pool.QueryRow(ctx, `
				SELECT `+messageColumns+` FROM messages WHERE id = $1
			`, chat.LastMessageID))
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return nil, err
			}
			if err == nil {
				summary.LastMessage = msg
			}
		}

		err = s.pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM messages
			WHERE chat_id = $1 AND receiver_id = $2 AND read = FALSE
		`, chat.ID, userID).Scan(&summary.UnreadCount)
		if err != nil {
			return nil, err
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}
