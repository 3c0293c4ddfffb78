package ws

import (
	"testing"

	"github.com/google/uuid"
)

func TestRegistryFirstAndLastTransitions(t *testing.T) {
	r := NewRegistry()

	c1 := newFakeConn("alice")
	c2 := newFakeConn("alice")

	if first := r.Register(c1); !first {
		t.Fatal("expected first connection to report the 0 to 1 transition")
	}
	if first := r.Register(c2); first {
		t.Fatal("second connection must not report a transition")
	}
	if !r.IsOnline("alice") {
		t.Fatal("alice should be online with two connections")
	}

	if _, last := r.Unregister(c1.id); last {
		t.Fatal("closing one of two connections must not report the last transition")
	}
	if !r.IsOnline("alice") {
		t.Fatal("alice should still be online with one connection")
	}

	userID, last := r.Unregister(c2.id)
	if userID != "alice" || !last {
		t.Fatalf("expected (alice, true), got (%s, %v)", userID, last)
	}
	if r.IsOnline("alice") {
		t.Fatal("alice should be offline after her last connection closed")
	}
}

func TestRegistryRegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn("bob")

	r.Register(c)
	if first := r.Register(c); first {
		t.Fatal("re-registering the same connection must not report a transition")
	}
	if got := r.ConnectionCount(); got != 1 {
		t.Fatalf("expected 1 connection, got %d", got)
	}
}

func TestRegistryUnregisterUnknown(t *testing.T) {
	r := NewRegistry()

	userID, last := r.Unregister(uuid.New())
	if userID != "" || last {
		t.Fatalf("unknown connection should return (\"\", false), got (%q, %v)", userID, last)
	}
}

func TestRegistryConnectionsAndOnlineUsers(t *testing.T) {
	r := NewRegistry()

	a1 := newFakeConn("alice")
	a2 := newFakeConn("alice")
	b1 := newFakeConn("bob")
	r.Register(a1)
	r.Register(a2)
	r.Register(b1)

	if got := len(r.Connections("alice")); got != 2 {
		t.Fatalf("expected 2 connections for alice, got %d", got)
	}
	if got := len(r.Connections("nobody")); got != 0 {
		t.Fatalf("expected empty slice for unknown user, got %d", got)
	}

	online := r.OnlineUsers()
	if len(online) != 2 {
		t.Fatalf("expected 2 online users, got %d: %v", len(online), online)
	}
	seen := map[string]bool{}
	for _, id := range online {
		seen[id] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Fatalf("expected alice and bob online, got %v", online)
	}
	if got := r.UserCount(); got != 2 {
		t.Fatalf("expected user count 2, got %d", got)
	}
}

func TestRegistryBroadcast(t *testing.T) {
	r := NewRegistry()

	conns := []*fakeConn{newFakeConn("a"), newFakeConn("b"), newFakeConn("b")}
	for _, c := range conns {
		r.Register(c)
	}

	r.Broadcast(NewEvent(EventPresenceUpdate, PresenceEvent{UserID: "a", IsOnline: true}))

	for i, c := range conns {
		if got := len(c.received(EventPresenceUpdate)); got != 1 {
			t.Fatalf("conn %d: expected 1 broadcast event, got %d", i, got)
		}
	}
}
