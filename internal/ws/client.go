package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 * 1024
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The user id is opaque and auth lives upstream; browsers connect
	// from any origin, same as the REST API.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one websocket connection. It implements Conn; inbound frames
// are dispatched to the hub on the read goroutine, outbound frames drain
// through a buffered channel on the write goroutine so a slow consumer
// never blocks the hub.
type Client struct {
	id     uuid.UUID
	userID string
	conn   *websocket.Conn
	hub    *Hub
	logger zerolog.Logger

	send chan Event

	mu     sync.Mutex
	closed bool
}

// ID returns the connection id.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// UserID returns the id of the user who opened the connection.
func (c *Client) UserID() string {
	return c.userID
}

// Send queues an event for delivery. Returns false when the buffer is
// full; the write pump then tears the connection down rather than letting
// backpressure reach the hub.
func (c *Client) Send(e Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- e:
		return true
	default:
		c.closed = true
		close(c.send)
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ServeWS upgrades an HTTP request into a hub connection. The user id
// arrives as connection metadata (the userId query parameter); validating
// that identity is the auth collaborator's job.
func ServeWS(hub *Hub, logger zerolog.Logger, w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, `{"error":"userId query parameter is required"}`, http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		id:     uuid.New(),
		userID: userID,
		conn:   conn,
		hub:    hub,
		logger: logger,
		send:   make(chan Event, sendBufferSize),
	}

	hub.HandleConnect(client)

	go client.writePump()
	go client.readPump()
}

// readPump reads frames off the wire and dispatches them to the hub. It
// owns the disconnect path: when the read loop ends, the connection is
// unregistered and the write pump is told to stop.
func (c *Client) readPump() {
	// The upgrade request's context dies with the HTTP handler; hub
	// dispatch outlives it.
	ctx := context.Background()

	defer func() {
		c.hub.HandleDisconnect(ctx, c)
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Str("user_id", c.userID).Msg("websocket read error")
			}
			return
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.Send(NewEvent(EventError, ErrorEvent{Message: "malformed event frame"}))
			continue
		}

		c.hub.Dispatch(ctx, c, event)
	}
}

// writePump drains the send channel onto the wire and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
