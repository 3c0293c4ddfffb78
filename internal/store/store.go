package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/aaaashutosh/medicate-connect/internal/models"
)

var (
	// ErrNotParticipant is returned when a message references a sender or
	// receiver outside the chat's participant pair.
	ErrNotParticipant = errors.New("store: user is not a participant of the chat")

	// ErrChatNotFound is returned when a message targets a chat id with
	// no backing row.
	ErrChatNotFound = errors.New("store: chat not found")
)

// DefaultPageSize is the message page size used when the caller passes 0.
const DefaultPageSize = 50

// SaveMessageInput carries the client-supplied fields of a new message.
// The store assigns the id and timestamp; any client-side temporary id is
// discarded.
type SaveMessageInput struct {
	ChatID       uuid.UUID
	SenderID     string
	ReceiverID   string
	Content      string
	MessageType  models.MessageType
	FileURL      string
	FileMimeType string
	Delivered    bool
}

// ChatStore defines durable storage for chats and messages. Both
// PostgresStore and SQLiteStore implement this interface.
type ChatStore interface {
	Close()
	Ping(ctx context.Context) error

	// GetOrCreateChat returns the chat for the unordered pair
	// (userA, userB), creating it if absent. Safe under concurrent calls
	// for the same pair: the unique index on the normalized pair makes
	// the loser of a race re-read the winner's row.
	GetOrCreateChat(ctx context.Context, userA, userB string) (*models.Chat, error)

	// GetChat returns the chat with the given id, or (nil, nil) if it
	// does not exist.
	GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error)

	// SaveMessage persists a message and bumps the parent chat's
	// last_message_id and updated_at.
	SaveMessage(ctx context.Context, in SaveMessageInput) (*models.Message, error)

	// ListMessages returns one page of a chat's messages in ascending
	// chronological order. Pages are 1-based; an empty chat yields an
	// empty slice, not an error.
	ListMessages(ctx context.Context, chatID uuid.UUID, page, pageSize int) ([]models.Message, error)

	// MarkRead flips read to true on every unread message in the chat
	// addressed to receiverID and returns the number of rows changed.
	// Idempotent.
	MarkRead(ctx context.Context, chatID uuid.UUID, receiverID string) (int64, error)

	// ListChatsForUser returns one summary per chat the user participates
	// in, most recently active first.
	ListChatsForUser(ctx context.Context, userID string) ([]models.ChatSummary, error)
}

func normalizePage(page, pageSize int) (limit, offset int) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if page <= 0 {
		page = 1
	}
	return pageSize, (page - 1) * pageSize
}
