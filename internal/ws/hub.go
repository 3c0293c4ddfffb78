package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aaaashutosh/medicate-connect/internal/events"
	"github.com/aaaashutosh/medicate-connect/internal/metrics"
	"github.com/aaaashutosh/medicate-connect/internal/store"
)

// Hub is the protocol glue between live connections, the connection
// registry, and the chat store: it routes message/typing/read events,
// broadcasts presence transitions, and relays call signaling. The server
// holds no call state; the relay is a dumb pipe keyed by target user id.
type Hub struct {
	registry *Registry
	store    store.ChatStore
	redis    *store.RedisStore // optional
	events   *events.Publisher // optional, nil-safe
	typing   *typingTracker
	logger   zerolog.Logger
}

// NewHub creates a hub. redisStore and publisher may be nil.
func NewHub(chatStore store.ChatStore, redisStore *store.RedisStore, publisher *events.Publisher, logger zerolog.Logger) *Hub {
	h := &Hub{
		registry: NewRegistry(),
		store:    chatStore,
		redis:    redisStore,
		events:   publisher,
		logger:   logger,
	}
	h.typing = newTypingTracker(DefaultTypingTTL, h.typingExpired)
	return h
}

// Registry exposes the connection registry for health/stats reads.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// HandleConnect registers a new connection, broadcasts the online
// transition if it is the user's first, and seeds the connection with the
// current presence snapshot.
func (h *Hub) HandleConnect(c Conn) {
	first := h.registry.Register(c)

	metrics.ActiveConnections.Set(float64(h.registry.ConnectionCount()))
	metrics.OnlineUsers.Set(float64(h.registry.UserCount()))

	if first {
		// 0 -> 1 connections: the user just became reachable.
		h.broadcast(NewEvent(EventPresenceUpdate, PresenceEvent{UserID: c.UserID(), IsOnline: true}))
	}

	h.send(c, NewEvent(EventOnlineUsers, OnlineUsersEvent{UserIDs: h.registry.OnlineUsers()}))

	h.logger.Info().
		Str("user_id", c.UserID()).
		Str("conn_id", c.ID().String()).
		Bool("first", first).
		Msg("connection opened")
}

// HandleDisconnect removes a connection and broadcasts the offline
// transition if it was the user's last.
func (h *Hub) HandleDisconnect(ctx context.Context, c Conn) {
	userID, last := h.registry.Unregister(c.ID())
	if userID == "" {
		return
	}

	metrics.ActiveConnections.Set(float64(h.registry.ConnectionCount()))
	metrics.OnlineUsers.Set(float64(h.registry.UserCount()))

	if last {
		// 1 -> 0 connections: the user is gone.
		h.broadcast(NewEvent(EventPresenceUpdate, PresenceEvent{UserID: userID, IsOnline: false}))
		h.typing.DropUser(userID)

		if h.redis != nil {
			if err := h.redis.SetLastSeen(ctx, userID, time.Now().UTC()); err != nil {
				h.logger.Warn().Err(err).Str("user_id", userID).Msg("last-seen write failed")
			}
		}
	}

	h.logger.Info().
		Str("user_id", userID).
		Str("conn_id", c.ID().String()).
		Bool("last", last).
		Msg("connection closed")
}

// Dispatch handles one inbound event from a connection. It runs on the
// connection's read goroutine; store calls are the only suspension points,
// and every registry read used for fan-out happens after they return.
func (h *Hub) Dispatch(ctx context.Context, c Conn, e Event) {
	metrics.EventsReceived.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case EventMessage:
		h.handleMessage(ctx, c, e.Data)
	case EventTyping:
		h.handleTyping(c, e.Data)
	case EventMarkAsRead:
		h.handleMarkAsRead(ctx, c, e.Data)
	case EventCallOffer:
		h.handleCallOffer(ctx, c, e.Data)
	case EventCallAnswer:
		h.handleCallAnswer(c, e.Data)
	case EventIceCandidate:
		h.handleIceCandidate(c, e.Data)
	case EventCallEnd:
		h.handleCallEnd(c, e.Data)
	default:
		h.sendError(c, "unknown event type: "+string(e.Type))
	}
}

// handleMessage persists an inbound chat message and fans it out. The
// write always happens before any broadcast; if the receiver has no live
// connections the message still lands in the store and is picked up on the
// receiver's next list call.
func (h *Hub) handleMessage(ctx context.Context, c Conn, data json.RawMessage) {
	var p MessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "malformed message payload")
		return
	}

	if p.SenderID == "" || p.ReceiverID == "" {
		h.sendError(c, "senderId and receiverId are required")
		return
	}
	if p.SenderID != c.UserID() {
		h.sendError(c, "senderId does not match connection")
		return
	}
	if p.MessageType == "" {
		p.MessageType = "text"
	}
	if !p.MessageType.Valid() {
		h.sendError(c, "invalid messageType")
		return
	}
	if p.Content == "" && p.FileURL == "" {
		h.sendError(c, "message content is required")
		return
	}

	var chatID uuid.UUID
	if p.ChatID != "" {
		id, err := uuid.Parse(p.ChatID)
		if err != nil {
			h.sendError(c, "invalid chatId")
			return
		}
		chatID = id
	} else {
		chat, err := h.store.GetOrCreateChat(ctx, p.SenderID, p.ReceiverID)
		if err != nil {
			h.logger.Error().Err(err).Msg("chat resolution failed")
			h.sendError(c, "failed to send message")
			return
		}
		chatID = chat.ID
	}

	start := time.Now()
	msg, err := h.store.SaveMessage(ctx, store.SaveMessageInput{
		ChatID:       chatID,
		SenderID:     p.SenderID,
		ReceiverID:   p.ReceiverID,
		Content:      p.Content,
		MessageType:  p.MessageType,
		FileURL:      p.FileURL,
		FileMimeType: p.FileMimeType,
		Delivered:    h.registry.IsOnline(p.ReceiverID),
	})
	if err != nil {
		h.logger.Error().Err(err).Str("chat_id", chatID.String()).Msg("message persist failed")
		h.sendError(c, "failed to send message")
		return
	}
	metrics.PersistLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesPersisted.WithLabelValues(string(msg.MessageType)).Inc()

	out := NewEvent(EventMessage, MessageEvent{Message: *msg, ClientID: p.ClientID})

	// The store call suspended; the set of live connections may have
	// changed. Read the registry fresh before emitting.
	for _, conn := range h.registry.Connections(msg.SenderID) {
		h.send(conn, out)
	}
	receiverConns := h.registry.Connections(msg.ReceiverID)
	for _, conn := range receiverConns {
		h.send(conn, out)
	}
	refresh := NewEvent(EventRefreshChats, struct{}{})
	for _, conn := range receiverConns {
		h.send(conn, refresh)
	}

	h.events.PublishMessageCreated(ctx, events.MessageCreated{
		ChatID:     msg.ChatID.String(),
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
	})
}

// handleTyping forwards a typing indicator to the receiver and arms the
// server-side expiry that covers lost stop signals.
func (h *Hub) handleTyping(c Conn, data json.RawMessage) {
	var p TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "malformed typing payload")
		return
	}
	if p.ChatID == "" || p.SenderID == "" || p.ReceiverID == "" {
		h.sendError(c, "chatId, senderId and receiverId are required")
		return
	}

	if p.IsTyping {
		h.typing.Touch(p.ChatID, p.SenderID, p.ReceiverID)
	} else {
		h.typing.Stop(p.ChatID, p.SenderID)
	}

	ev := NewEvent(EventTyping, TypingEvent{ChatID: p.ChatID, SenderID: p.SenderID, IsTyping: p.IsTyping})
	for _, conn := range h.registry.Connections(p.ReceiverID) {
		h.send(conn, ev)
	}
}

// typingExpired synthesizes the stop signal when a typing indicator ages
// out without the client sending one.
func (h *Hub) typingExpired(chatID, from, to string) {
	ev := NewEvent(EventTyping, TypingEvent{ChatID: chatID, SenderID: from, IsTyping: false})
	for _, conn := range h.registry.Connections(to) {
		h.send(conn, ev)
	}
}

// handleMarkAsRead bulk-marks the reader's unread messages and notifies
// the author's connections so their UI can flip read indicators.
func (h *Hub) handleMarkAsRead(ctx context.Context, c Conn, data json.RawMessage) {
	var p MarkAsReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "malformed mark_as_read payload")
		return
	}
	if p.ChatID == "" || p.ReceiverID == "" {
		h.sendError(c, "chatId and receiverId are required")
		return
	}

	chatID, err := uuid.Parse(p.ChatID)
	if err != nil {
		h.sendError(c, "invalid chatId")
		return
	}

	n, err := h.store.MarkRead(ctx, chatID, p.ReceiverID)
	if err != nil {
		h.logger.Error().Err(err).Str("chat_id", p.ChatID).Msg("mark read failed")
		h.sendError(c, "failed to mark messages as read")
		return
	}
	metrics.MessagesRead.Add(float64(n))

	// The counterpart is whoever authored the messages just read. Derive
	// it from the chat row when the payload omits it.
	author := p.SenderID
	if author == "" {
		chat, err := h.store.GetChat(ctx, chatID)
		if err != nil || chat == nil {
			return
		}
		author = chat.OtherParticipant(p.ReceiverID)
	}

	ev := NewEvent(EventMessagesRead, MessagesReadEvent{ChatID: p.ChatID, ReaderID: p.ReceiverID})
	for _, conn := range h.registry.Connections(author) {
		h.send(conn, ev)
	}
}

// handleCallOffer relays an offer to every live connection of the callee,
// or tells the caller the callee is unreachable. Calls have no
// store-and-forward: an offline callee fails the call immediately.
func (h *Hub) handleCallOffer(ctx context.Context, c Conn, data json.RawMessage) {
	var p CallOfferPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "malformed call_offer payload")
		return
	}
	if p.To == "" || p.From == "" {
		h.sendError(c, "to and from are required")
		return
	}

	targets := h.registry.Connections(p.To)
	if len(targets) == 0 {
		metrics.CallsFailed.Inc()
		h.send(c, NewEvent(EventCallFailed, CallFailedEvent{Message: "Receiver is offline."}))

		h.events.PublishCallMissed(ctx, events.CallMissed{
			CallID:   p.CallID,
			CallerID: p.From,
			CalleeID: p.To,
			CallType: p.CallType,
		})
		return
	}

	metrics.CallsRelayed.WithLabelValues(string(EventCallOffer)).Inc()
	ev := NewEvent(EventCallOffer, CallOfferEvent{From: p.From, Offer: p.Offer, CallID: p.CallID, CallType: p.CallType})
	for _, conn := range targets {
		h.send(conn, ev)
	}
}

// handleCallAnswer relays an answer to the caller's connections.
func (h *Hub) handleCallAnswer(c Conn, data json.RawMessage) {
	var p CallAnswerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "malformed call_answer payload")
		return
	}

	targets := h.registry.Connections(p.To)
	if len(targets) == 0 {
		return
	}

	metrics.CallsRelayed.WithLabelValues(string(EventCallAnswer)).Inc()
	ev := NewEvent(EventCallAnswer, CallAnswerEvent{From: p.From, Answer: p.Answer, CallID: p.CallID})
	for _, conn := range targets {
		h.send(conn, ev)
	}
}

// handleIceCandidate relays one ICE candidate. No ordering relative to
// offer/answer is imposed; tolerating early candidates is the client state
// machine's job.
func (h *Hub) handleIceCandidate(c Conn, data json.RawMessage) {
	var p IceCandidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "malformed ice_candidate payload")
		return
	}

	targets := h.registry.Connections(p.To)
	if len(targets) == 0 {
		return
	}

	metrics.CallsRelayed.WithLabelValues(string(EventIceCandidate)).Inc()
	ev := NewEvent(EventIceCandidate, IceCandidateEvent{From: p.From, Candidate: p.Candidate, CallID: p.CallID})
	for _, conn := range targets {
		h.send(conn, ev)
	}
}

// handleCallEnd relays a hang-up as a courtesy notification. Dropped
// silently if the target is offline.
func (h *Hub) handleCallEnd(c Conn, data json.RawMessage) {
	var p CallEndPayload
	if err := json.Unmarshal(data, &p); err != nil {
		h.sendError(c, "malformed call_end payload")
		return
	}

	targets := h.registry.Connections(p.To)
	if len(targets) == 0 {
		return
	}

	metrics.CallsRelayed.WithLabelValues(string(EventCallEnd)).Inc()
	ev := NewEvent(EventCallEnd, CallEndEvent{CallID: p.CallID})
	for _, conn := range targets {
		h.send(conn, ev)
	}
}

func (h *Hub) send(c Conn, e Event) {
	if c.Send(e) {
		metrics.EventsSent.WithLabelValues(string(e.Type)).Inc()
	} else {
		metrics.EventsDropped.Inc()
	}
}

func (h *Hub) broadcast(e Event) {
	h.registry.Broadcast(e)
	metrics.EventsSent.WithLabelValues(string(e.Type)).Add(float64(h.registry.ConnectionCount()))
}

func (h *Hub) sendError(c Conn, msg string) {
	h.send(c, NewEvent(EventError, ErrorEvent{Message: msg}))
}
