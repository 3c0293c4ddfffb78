package ws

import (
	"sync"

	"github.com/google/uuid"
)

// Conn is one live transport connection. *Client is the production
// implementation; tests use in-memory fakes.
type Conn interface {
	ID() uuid.UUID
	UserID() string

	// Send queues an event for delivery. Returns false if the
	// connection's outbound buffer is full or the connection is closed;
	// delivery is best-effort on top of persistence.
	Send(e Event) bool
}

// Registry maps a user id to the set of that user's live connections. A
// user with several tabs or devices has several entries. Nothing here is
// persisted; the registry is rebuilt from new connections after a restart.
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]Conn
	users map[string]map[uuid.UUID]Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[uuid.UUID]Conn),
		users: make(map[string]map[uuid.UUID]Conn),
	}
}

// Register adds a connection. Idempotent per connection id. Returns true
// when this is the user's first live connection (the 0 to 1 transition
// that should trigger an online broadcast).
func (r *Registry) Register(c Conn) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.ID()]; ok {
		return false
	}
	r.conns[c.ID()] = c

	set, ok := r.users[c.UserID()]
	if !ok {
		set = make(map[uuid.UUID]Conn)
		r.users[c.UserID()] = set
	}
	set[c.ID()] = c

	return len(set) == 1
}

// Unregister removes a connection. Returns the owning user id and whether
// this was the user's last connection (the 1 to 0 transition that should
// trigger an offline broadcast). Unknown connections return ("", false).
func (r *Registry) Unregister(connID uuid.UUID) (userID string, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return "", false
	}
	delete(r.conns, connID)

	userID = c.UserID()
	set := r.users[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.users, userID)
		return userID, true
	}
	return userID, false
}

// Connections returns the user's live connections. Empty slice for
// unknown or offline users, never an error.
func (r *Registry) Connections(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	conns := make([]Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// OnlineUsers returns the ids of all currently reachable users.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.users))
	for id := range r.users {
		users = append(users, id)
	}
	return users
}

// Broadcast queues an event on every live connection.
func (r *Registry) Broadcast(e Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.conns {
		c.Send(e)
	}
}

// ConnectionCount returns the number of live connections across all users.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// UserCount returns the number of distinct online users.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
