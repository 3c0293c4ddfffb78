package models

import (
	"time"

	"github.com/google/uuid"
)

// Chat is a two-party conversation. The participant pair is normalized so
// that ParticipantA < ParticipantB lexicographically; the store enforces at
// most one chat per normalized pair.
type Chat struct {
	ID            uuid.UUID `json:"id"`
	ParticipantA  string    `json:"participantA"`
	ParticipantB  string    `json:"participantB"`
	LastMessageID string    `json:"lastMessageId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Participants returns the participant pair in normalized order.
func (c *Chat) Participants() [2]string {
	return [2]string{c.ParticipantA, c.ParticipantB}
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Chat) HasParticipant(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

// OtherParticipant returns the counterpart of userID in the chat, or ""
// if userID is not a participant.
func (c *Chat) OtherParticipant(userID string) string {
	switch userID {
	case c.ParticipantA:
		return c.ParticipantB
	case c.ParticipantB:
		return c.ParticipantA
	}
	return ""
}

// NormalizePair orders a participant pair so (A,B) and (B,A) map to the
// same chat key.
func NormalizePair(userA, userB string) (string, string) {
	if userB < userA {
		return userB, userA
	}
	return userA, userB
}

// ChatSummary is one row of a user's chat list: the chat, who the
// conversation is with, the most recent message, and how many messages are
// still unread by the user the list was built for.
type ChatSummary struct {
	Chat             Chat     `json:"chat"`
	OtherParticipant string   `json:"otherParticipant"`
	LastMessage      *Message `json:"lastMessage,omitempty"`
	UnreadCount      int      `json:"unreadCount"`
}
