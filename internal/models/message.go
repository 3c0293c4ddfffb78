package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageReport MessageType = "report"
	MessageVoice  MessageType = "voice"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageReport, MessageVoice:
		return true
	}
	return false
}

// Message is a single chat message. IDs are ULIDs, so lexicographic order
// is insertion order within a chat.
type Message struct {
	ID           string      `json:"id"` // ULID
	ChatID       uuid.UUID   `json:"chatId"`
	SenderID     string      `json:"senderId"`
	ReceiverID   string      `json:"receiverId"`
	Content      string      `json:"content"`
	MessageType  MessageType `json:"messageType"`
	FileURL      string      `json:"fileUrl,omitempty"`
	FileMimeType string      `json:"fileMimeType,omitempty"`
	Read         bool        `json:"read"`
	Delivered    bool        `json:"delivered"`
	CreatedAt    time.Time   `json:"createdAt"`
}

// MessageTypeForMime maps an uploaded file's MIME type to the message type
// a client should use when sending it.
func MessageTypeForMime(mime string) MessageType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MessageImage
	case strings.HasPrefix(mime, "audio/"):
		return MessageVoice
	case mime == "application/pdf",
		mime == "application/msword",
		mime == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return MessageReport
	}
	return MessageFile
}
