package client

import (
	"sync"
	"time"

	"github.com/markb/chatsync/internal/log"
	"github.com/markb/chatsync/internal/protocol"
)

// DefaultTypingTimeout is how long a typing indicator stays alive without
// a refresh.
const DefaultTypingTimeout = 3 * time.Second

// TypingUser is one entry in a conversation's typing list.
type TypingUser struct {
	UserID   string
	UserName string
}

type typingKey struct {
	conv string
	user string
}

// TypingCoordinator derives, per conversation, the list of users currently
// typing. Each entry owns one expiry timer in an explicit timer table; a
// refresh debounces (stops and restarts) the timer rather than stacking a
// second one, and Close drains the whole table deterministically.
type TypingCoordinator struct {
	mu      sync.Mutex
	timeout time.Duration
	byConv  map[string][]TypingUser
	timers  map[typingKey]*time.Timer
	sub     *Subscription
	closed  bool
}

// NewTypingCoordinator creates a coordinator subscribed to bus. A zero
// timeout selects DefaultTypingTimeout.
func NewTypingCoordinator(bus *Bus, timeout time.Duration) *TypingCoordinator {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	t := &TypingCoordinator{
		timeout: timeout,
		byConv:  make(map[string][]TypingUser),
		timers:  make(map[typingKey]*time.Timer),
	}
	t.sub = bus.On(protocol.EventTyping, t.handleTyping)
	return t
}

func (t *TypingCoordinator) handleTyping(frame *protocol.Frame) {
	var p protocol.TypingPayload
	if err := frame.DecodePayload(&p); err != nil {
		log.Debug("typing: dropping malformed payload", "error", err.Error())
		return
	}
	if p.UserID == "" || p.Conversation.ID == "" {
		log.Debug("typing: dropping payload without user or conversation")
		return
	}

	if p.IsTyping {
		t.start(p.Conversation.Key(), p.UserID, p.UserName)
	} else {
		t.stop(p.Conversation.Key(), p.UserID)
	}
}

// start adds the user to the conversation's typing list (if absent) and
// (re)arms their expiry timer.
func (t *TypingCoordinator) start(convKey, userID, userName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	key := typingKey{conv: convKey, user: userID}
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
	} else {
		t.byConv[convKey] = append(t.byConv[convKey], TypingUser{UserID: userID, UserName: userName})
	}
	t.timers[key] = time.AfterFunc(t.timeout, func() {
		t.expire(convKey, userID)
	})
}

// stop removes the user immediately and cancels their timer. Idempotent.
func (t *TypingCoordinator) stop(convKey, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(convKey, userID)
}

// expire is the timer callback for an entry that was never refreshed.
func (t *TypingCoordinator) expire(convKey, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.removeLocked(convKey, userID)
}

func (t *TypingCoordinator) removeLocked(convKey, userID string) {
	key := typingKey{conv: convKey, user: userID}
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}

	users := t.byConv[convKey]
	for i, u := range users {
		if u.UserID == userID {
			t.byConv[convKey] = append(users[:i:i], users[i+1:]...)
			break
		}
	}
	if len(t.byConv[convKey]) == 0 {
		delete(t.byConv, convKey)
	}
}

// Typing returns a snapshot of the users typing in the conversation.
func (t *TypingCoordinator) Typing(conv protocol.ConversationRef) []TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.byConv[conv.Key()]
	out := make([]TypingUser, len(users))
	copy(out, users)
	return out
}

// Reset clears all typing state and pending timers. Invoked on a
// disconnect: with no snapshot event for typing, stale indicators would
// otherwise survive until their timers fire.
func (t *TypingCoordinator) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drainLocked()
}

// Close cancels the bus subscription and every pending timer so no
// callback fires into disposed state.
func (t *TypingCoordinator) Close() {
	t.mu.Lock()
	t.closed = true
	t.drainLocked()
	t.mu.Unlock()

	if t.sub != nil {
		t.sub.Cancel()
		t.sub = nil
	}
}

func (t *TypingCoordinator) drainLocked() {
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
	t.byConv = make(map[string][]TypingUser)
}
