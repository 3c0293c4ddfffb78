package ws

import (
	"encoding/json"

	"github.com/aaaashutosh/medicate-connect/internal/models"
)

// EventType names a frame on the realtime channel.
type EventType string

const (
	// Client to server, echoed/forwarded back.
	EventMessage      EventType = "message"
	EventTyping       EventType = "typing"
	EventMarkAsRead   EventType = "mark_as_read"
	EventCallOffer    EventType = "call_offer"
	EventCallAnswer   EventType = "call_answer"
	EventIceCandidate EventType = "ice_candidate"
	EventCallEnd      EventType = "call_end"

	// Server to client only.
	EventMessagesRead   EventType = "messages_read"
	EventPresenceUpdate EventType = "presence_update"
	EventRefreshChats   EventType = "refresh_chats"
	EventOnlineUsers    EventType = "online_users"
	EventCallFailed     EventType = "call_failed"
	EventError          EventType = "error"
)

// Event is the wire envelope for every frame in both directions.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an envelope around a payload value.
func NewEvent(t EventType, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payload types are all plain structs; a marshal failure is a
		// programming error.
		panic(err)
	}
	return Event{Type: t, Data: data}
}

// MessagePayload is the inbound message frame. ClientID is a
// client-generated correlation id echoed back on the persisted message so
// optimistic UI copies are reconciled by id, not by content matching.
type MessagePayload struct {
	SenderID     string             `json:"senderId"`
	ReceiverID   string             `json:"receiverId"`
	ChatID       string             `json:"chatId,omitempty"`
	Content      string             `json:"content"`
	MessageType  models.MessageType `json:"messageType"`
	FileURL      string             `json:"fileUrl,omitempty"`
	FileMimeType string             `json:"fileMimeType,omitempty"`
	ClientID     string             `json:"clientId,omitempty"`
}

// MessageEvent is the outbound persisted message, sent to every live
// connection of both sender and receiver.
type MessageEvent struct {
	models.Message
	ClientID string `json:"clientId,omitempty"`
}

// TypingPayload is the inbound typing frame.
type TypingPayload struct {
	ChatID     string `json:"chatId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

// TypingEvent is the typing frame forwarded to the receiver.
type TypingEvent struct {
	ChatID   string `json:"chatId"`
	SenderID string `json:"senderId"`
	IsTyping bool   `json:"isTyping"`
}

// MarkAsReadPayload is the inbound read-receipt frame. SenderID is the
// author of the messages being read; ReceiverID is the reader.
type MarkAsReadPayload struct {
	ChatID     string `json:"chatId"`
	SenderID   string `json:"senderId,omitempty"`
	ReceiverID string `json:"receiverId"`
}

// MessagesReadEvent notifies the author that their messages were read.
type MessagesReadEvent struct {
	ChatID   string `json:"chatId"`
	ReaderID string `json:"readerId"`
}

// PresenceEvent is broadcast to every connection when a user's
// reachability flips.
type PresenceEvent struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// OnlineUsersEvent seeds a fresh connection with the current presence map.
type OnlineUsersEvent struct {
	UserIDs []string `json:"userIds"`
}

// CallOfferPayload starts call negotiation. Offer is the opaque SDP blob;
// the relay never inspects it.
type CallOfferPayload struct {
	To       string          `json:"to"`
	From     string          `json:"from"`
	Offer    json.RawMessage `json:"offer"`
	CallID   string          `json:"callId"`
	CallType string          `json:"callType"` // "audio" or "video"
}

// CallOfferEvent is the offer as forwarded to the callee.
type CallOfferEvent struct {
	From     string          `json:"from"`
	Offer    json.RawMessage `json:"offer"`
	CallID   string          `json:"callId"`
	CallType string          `json:"callType"`
}

// CallAnswerPayload answers a pending offer.
type CallAnswerPayload struct {
	To     string          `json:"to"`
	From   string          `json:"from"`
	Answer json.RawMessage `json:"answer"`
	CallID string          `json:"callId"`
}

// CallAnswerEvent is the answer as forwarded to the caller.
type CallAnswerEvent struct {
	From   string          `json:"from"`
	Answer json.RawMessage `json:"answer"`
	CallID string          `json:"callId"`
}

// IceCandidatePayload carries one ICE candidate in either direction. These
// may arrive before or interleaved with offer/answer; the relay forwards
// without buffering or sequencing.
type IceCandidatePayload struct {
	To        string          `json:"to"`
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
	CallID    string          `json:"callId"`
}

// IceCandidateEvent is the candidate as forwarded to the peer.
type IceCandidateEvent struct {
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
	CallID    string          `json:"callId"`
}

// CallEndPayload tears down a call. Best-effort: dropped if the target is
// offline.
type CallEndPayload struct {
	To     string `json:"to"`
	CallID string `json:"callId"`
}

// CallEndEvent is the hang-up as forwarded to the peer.
type CallEndEvent struct {
	CallID string `json:"callId"`
}

// CallFailedEvent tells the caller their offer could not be relayed.
type CallFailedEvent struct {
	Message string `json:"message"`
}

// ErrorEvent is a typed error scoped to the originating connection.
// Errors never cross the connection boundary as raw panics.
type ErrorEvent struct {
	Message string `json:"message"`
}
