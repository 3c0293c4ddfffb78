// Package medicate is a Go client for the Medicate Connect realtime
// channel: the websocket session, typed send helpers, and the call state
// machine that drives WebRTC negotiation over the signaling relay.
package medicate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aaaashutosh/medicate-connect/internal/ws"
)

// EventHandler receives the raw payload of one inbound event.
type EventHandler func(data json.RawMessage)

// Client is one realtime session: a single websocket connection with the
// user id passed as connection metadata. A user may run any number of
// Clients concurrently (tabs, devices); the server fans out to all of
// them.
type Client struct {
	userID string
	conn   *websocket.Conn

	writeMu sync.Mutex

	handlerMu sync.RWMutex
	handlers  map[ws.EventType][]EventHandler
}

// Dial opens a session against a server base URL such as
// "http://localhost:8080".
func Dial(ctx context.Context, baseURL, userID string) (*Client, error) {
	if userID == "" {
		return nil, fmt.Errorf("medicate: userID is required")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"userId": {userID}}.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	return &Client{
		userID:   userID,
		conn:     conn,
		handlers: make(map[ws.EventType][]EventHandler),
	}, nil
}

// UserID returns the id this session was opened as.
func (c *Client) UserID() string {
	return c.userID
}

// On registers a handler for an event type. Handlers run on the Listen
// goroutine in arrival order.
func (c *Client) On(t ws.EventType, fn EventHandler) {
	c.handlerMu.Lock()
	c.handlers[t] = append(c.handlers[t], fn)
	c.handlerMu.Unlock()
}

// Listen reads events until the connection closes or ctx is cancelled.
// Callers usually run it on its own goroutine.
func (c *Client) Listen(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var event ws.Event
		if err := c.conn.ReadJSON(&event); err != nil {
			return err
		}

		c.handlerMu.RLock()
		handlers := c.handlers[event.Type]
		c.handlerMu.RUnlock()

		for _, fn := range handlers {
			fn(event.Data)
		}
	}
}

// Emit sends one event frame.
func (c *Client) Emit(t ws.EventType, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(ws.NewEvent(t, payload))
}

// SendMessage emits a chat message and returns the generated correlation
// id. The server echoes the id back on the persisted message so the
// caller can reconcile its optimistic copy.
func (c *Client) SendMessage(p ws.MessagePayload) (clientID string, err error) {
	if p.SenderID == "" {
		p.SenderID = c.userID
	}
	if p.ClientID == "" {
		p.ClientID = uuid.NewString()
	}
	return p.ClientID, c.Emit(ws.EventMessage, p)
}

// SendTyping emits a typing indicator.
func (c *Client) SendTyping(chatID, receiverID string, isTyping bool) error {
	return c.Emit(ws.EventTyping, ws.TypingPayload{
		ChatID:     chatID,
		SenderID:   c.userID,
		ReceiverID: receiverID,
		IsTyping:   isTyping,
	})
}

// MarkAsRead marks every message addressed to this user in the chat as
// read. senderID identifies the author whose connections should get the
// messages_read notification.
func (c *Client) MarkAsRead(chatID, senderID string) error {
	return c.Emit(ws.EventMarkAsRead, ws.MarkAsReadPayload{
		ChatID:     chatID,
		SenderID:   senderID,
		ReceiverID: c.userID,
	})
}

// SendCallOffer relays a call offer. Implements Signaler.
func (c *Client) SendCallOffer(to, callID, callType string, offer json.RawMessage) error {
	return c.Emit(ws.EventCallOffer, ws.CallOfferPayload{
		To:       to,
		From:     c.userID,
		Offer:    offer,
		CallID:   callID,
		CallType: callType,
	})
}

// SendCallAnswer relays a call answer. Implements Signaler.
func (c *Client) SendCallAnswer(to, callID string, answer json.RawMessage) error {
	return c.Emit(ws.EventCallAnswer, ws.CallAnswerPayload{
		To:     to,
		From:   c.userID,
		Answer: answer,
		CallID: callID,
	})
}

// SendIceCandidate relays one ICE candidate. Implements Signaler.
func (c *Client) SendIceCandidate(to, callID string, candidate json.RawMessage) error {
	return c.Emit(ws.EventIceCandidate, ws.IceCandidatePayload{
		To:        to,
		From:      c.userID,
		Candidate: candidate,
		CallID:    callID,
	})
}

// SendCallEnd relays a hang-up. Implements Signaler.
func (c *Client) SendCallEnd(to, callID string) error {
	return c.Emit(ws.EventCallEnd, ws.CallEndPayload{To: to, CallID: callID})
}

// BindCallMachine routes relayed signaling events into a call machine.
func (c *Client) BindCallMachine(m *CallMachine) {
	c.On(ws.EventCallOffer, func(data json.RawMessage) {
		var p ws.CallOfferEvent
		if json.Unmarshal(data, &p) == nil {
			m.HandleOffer(p.From, p.CallID, p.CallType, p.Offer)
		}
	})
	c.On(ws.EventCallAnswer, func(data json.RawMessage) {
		var p ws.CallAnswerEvent
		if json.Unmarshal(data, &p) == nil {
			m.HandleAnswer(p.CallID, p.Answer)
		}
	})
	c.On(ws.EventIceCandidate, func(data json.RawMessage) {
		var p ws.IceCandidateEvent
		if json.Unmarshal(data, &p) == nil {
			m.HandleRemoteCandidate(p.CallID, p.Candidate)
		}
	})
	c.On(ws.EventCallEnd, func(data json.RawMessage) {
		var p ws.CallEndEvent
		if json.Unmarshal(data, &p) == nil {
			m.HandleRemoteEnd(p.CallID)
		}
	})
	c.On(ws.EventCallFailed, func(data json.RawMessage) {
		var p ws.CallFailedEvent
		if json.Unmarshal(data, &p) == nil {
			m.HandleCallFailed(p.Message)
		}
	})
}

// Close closes the session.
func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
