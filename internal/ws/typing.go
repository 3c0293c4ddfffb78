package ws

import (
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing indicator stays alive without a
// refresh before the server synthesizes the stop signal.
const DefaultTypingTTL = 4 * time.Second

type typingKey struct {
	chatID string
	from   string
}

// typingTracker expires typing indicators server-side so a lost
// "stopped typing" frame cannot leave the receiver's UI stuck. Receivers
// run their own independent timer as well; this one covers clients that
// disappear mid-keystroke.
type typingTracker struct {
	mu     sync.Mutex
	ttl    time.Duration
	timers map[typingKey]*time.Timer

	// onExpire is called off the tracker's lock when a typing state ages
	// out without an explicit stop.
	onExpire func(chatID, from, to string)
}

func newTypingTracker(ttl time.Duration, onExpire func(chatID, from, to string)) *typingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &typingTracker{
		ttl:      ttl,
		timers:   make(map[typingKey]*time.Timer),
		onExpire: onExpire,
	}
}

// Touch arms (or re-arms) the expiry timer for a directed typing pair.
func (t *typingTracker) Touch(chatID, from, to string) {
	key := typingKey{chatID: chatID, from: from}

	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[key]; ok {
		timer.Reset(t.ttl)
		return
	}
	t.timers[key] = time.AfterFunc(t.ttl, func() {
		t.expire(key, to)
	})
}

// Stop clears the timer for a directed pair after an explicit
// "stopped typing" frame. Returns false if no indicator was active.
func (t *typingTracker) Stop(chatID, from string) bool {
	key := typingKey{chatID: chatID, from: from}

	t.mu.Lock()
	defer t.mu.Unlock()

	timer, ok := t.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, key)
	return true
}

// DropUser cancels every indicator the user owns; called when their last
// connection closes.
func (t *typingTracker) DropUser(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, timer := range t.timers {
		if key.from == userID {
			timer.Stop()
			delete(t.timers, key)
		}
	}
}

func (t *typingTracker) expire(key typingKey, to string) {
	t.mu.Lock()
	_, ok := t.timers[key]
	if ok {
		delete(t.timers, key)
	}
	t.mu.Unlock()

	if ok && t.onExpire != nil {
		t.onExpire(key.chatID, key.from, to)
	}
}
