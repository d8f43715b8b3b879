package client

import (
	"sync"

	"github.com/markb/chatsync/internal/log"
	"github.com/markb/chatsync/internal/protocol"
)

// PresenceTracker derives the online-user set from incremental
// presence_update events and authoritative online_users snapshots. The
// snapshot replaces the set wholesale and is the resync mechanism that
// repairs any drift after a reconnect.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
	subs   []*Subscription
}

// NewPresenceTracker creates a tracker subscribed to bus.
func NewPresenceTracker(bus *Bus) *PresenceTracker {
	t := &PresenceTracker{online: make(map[string]struct{})}
	t.subs = append(t.subs,
		bus.On(protocol.EventPresenceUpdate, t.handleUpdate),
		bus.On(protocol.EventOnlineUsers, t.handleSnapshot),
	)
	return t
}

func (t *PresenceTracker) handleUpdate(frame *protocol.Frame) {
	var p protocol.PresencePayload
	if err := frame.DecodePayload(&p); err != nil {
		log.Debug("presence: dropping malformed payload", "error", err.Error())
		return
	}
	if p.UserID == "" {
		log.Debug("presence: dropping update without user_id")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if p.Status == protocol.StatusOnline {
		t.online[p.UserID] = struct{}{}
	} else {
		delete(t.online, p.UserID)
	}
}

func (t *PresenceTracker) handleSnapshot(frame *protocol.Frame) {
	var p protocol.OnlineUsersPayload
	if err := frame.DecodePayload(&p); err != nil {
		log.Debug("presence: dropping malformed snapshot", "error", err.Error())
		return
	}

	next := make(map[string]struct{}, len(p.Users))
	for _, id := range p.Users {
		if id == "" {
			continue
		}
		next[id] = struct{}{}
	}

	t.mu.Lock()
	t.online = next
	t.mu.Unlock()
}

// IsOnline reports whether the user is currently in the online set.
func (t *PresenceTracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// OnlineUsers returns a snapshot of the online set.
func (t *PresenceTracker) OnlineUsers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	users := make([]string, 0, len(t.online))
	for id := range t.online {
		users = append(users, id)
	}
	return users
}

// Close releases the tracker's bus subscriptions.
func (t *PresenceTracker) Close() {
	for _, s := range t.subs {
		s.Cancel()
	}
	t.subs = nil
}
