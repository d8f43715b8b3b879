// Package client implements the chatsync client-side coordinator: one
// logical connection per authenticated principal, transparently reconnected,
// demultiplexed into typed event channels, and folded into short-lived UI
// state (typing, presence, call rosters, per-conversation message logs).
// Nothing here is durable; all state is process memory rebuilt from
// snapshot events after a reconnect.
package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/markb/chatsync/internal/protocol"
)

// Config holds coordinator parameters.
type Config struct {
	URL           string        // hub websocket endpoint
	Token         string        // optional bearer token
	UserName      string        // display name attached to outbound typing
	MaxRetries    int           // reconnect attempt bound (default 8)
	TypingTimeout time.Duration // typing expiry (default 3s)
	Dial          Dialer        // test injection
}

// Coordinator is the explicitly constructed, test-injectable aggregate
// owning the connection, the bus, and every tracker for one principal.
// It is passed by reference to consumers rather than imported as ambient
// global state.
type Coordinator struct {
	cfg      Config
	bus      *Bus
	conn     *ConnManager
	presence *PresenceTracker
	typing   *TypingCoordinator
	calls    *CallSessionTracker
	feed     *FeedNotifier

	storesMu sync.Mutex
	stores   map[string]*MessageStore

	onConnect    func()
	onDisconnect func()
	onError      func(error)
}

// New creates a coordinator. Connect must be called before the outbound
// surface is usable.
func New(cfg Config) *Coordinator {
	bus := NewBus()
	c := &Coordinator{
		cfg:    cfg,
		bus:    bus,
		stores: make(map[string]*MessageStore),
	}
	c.conn = NewConnManager(ConnConfig{
		URL:        cfg.URL,
		Token:      cfg.Token,
		UserName:   cfg.UserName,
		MaxRetries: cfg.MaxRetries,
		Dial:       cfg.Dial,
	}, bus)
	c.presence = NewPresenceTracker(bus)
	c.typing = NewTypingCoordinator(bus, cfg.TypingTimeout)
	c.calls = NewCallSessionTracker(bus)
	c.feed = NewFeedNotifier(bus)

	c.conn.OnConnect(func() {
		if fn := c.onConnect; fn != nil {
			fn()
		}
	})
	c.conn.OnDisconnect(func() {
		// No snapshot event repairs typing state, so clear it rather than
		// letting stale indicators linger until their timers fire.
		c.typing.Reset()
		if fn := c.onDisconnect; fn != nil {
			fn()
		}
	})
	c.conn.OnError(func(err error) {
		c.typing.Reset()
		if fn := c.onError; fn != nil {
			fn(err)
		}
	})
	return c
}

// OnConnect sets the consumer callback for the synthetic connect signal.
// Set before calling Connect.
func (c *Coordinator) OnConnect(fn func()) { c.onConnect = fn }

// OnDisconnect sets the consumer callback for final disconnection. Set
// before calling Connect; the field is read from connection goroutines.
func (c *Coordinator) OnDisconnect(fn func()) { c.onDisconnect = fn }

// OnError sets the consumer callback for non-fatal transport errors. Set
// before calling Connect.
func (c *Coordinator) OnError(fn func(error)) { c.onError = fn }

// Connect opens the connection for the given principal id.
func (c *Coordinator) Connect(principalID string) error {
	return c.conn.Connect(principalID)
}

// Disconnect tears down the connection and cancels pending reconnects.
func (c *Coordinator) Disconnect() {
	c.conn.Disconnect()
}

// State returns the connection state.
func (c *Coordinator) State() ConnState {
	return c.conn.State()
}

// Bus returns the event bus for consumers needing raw frame access.
func (c *Coordinator) Bus() *Bus { return c.bus }

// Presence returns the presence tracker.
func (c *Coordinator) Presence() *PresenceTracker { return c.presence }

// Typing returns the typing coordinator.
func (c *Coordinator) Typing() *TypingCoordinator { return c.typing }

// Calls returns the call session tracker.
func (c *Coordinator) Calls() *CallSessionTracker { return c.calls }

// Feed returns the feed notifier.
func (c *Coordinator) Feed() *FeedNotifier { return c.feed }

// Store returns the message store scoped to the given conversation,
// creating it on first use.
func (c *Coordinator) Store(conv protocol.ConversationRef) *MessageStore {
	c.storesMu.Lock()
	defer c.storesMu.Unlock()
	if s, ok := c.stores[conv.Key()]; ok {
		return s
	}
	s := NewMessageStore(c.bus, conv)
	c.stores[conv.Key()] = s
	return s
}

// ReleaseStore closes and removes the store for a conversation, typically
// when its UI surface unmounts.
func (c *Coordinator) ReleaseStore(conv protocol.ConversationRef) {
	c.storesMu.Lock()
	defer c.storesMu.Unlock()
	if s, ok := c.stores[conv.Key()]; ok {
		s.Close()
		delete(c.stores, conv.Key())
	}
}

// SendMessage sends a message to a conversation. Fire-and-forget: delivery
// is not guaranteed and nothing is queued while disconnected.
func (c *Coordinator) SendMessage(conv protocol.ConversationRef, content string) error {
	return c.conn.Send(protocol.NewSendMessageCommand(conv, content))
}

// SendTyping reports the principal's typing state for a conversation.
func (c *Coordinator) SendTyping(conv protocol.ConversationRef, isTyping bool) error {
	return c.conn.Send(protocol.NewTypingCommand(conv, c.conn.PrincipalID(), c.cfg.UserName, isTyping))
}

// MarkRead reports the principal's read position in a conversation.
func (c *Coordinator) MarkRead(conv protocol.ConversationRef, messageID string) error {
	return c.conn.Send(protocol.NewMarkReadCommand(conv, messageID))
}

// SendReaction toggles the principal's reaction on a message.
func (c *Coordinator) SendReaction(conv protocol.ConversationRef, messageID, emoji string) error {
	return c.conn.Send(protocol.NewSendReactionCommand(conv, messageID, emoji))
}

// SendCallSignal relays an opaque signaling blob to one call member.
func (c *Coordinator) SendCallSignal(callID, targetID, kind string, data json.RawMessage) error {
	return c.conn.Send(protocol.NewCallSignalCommand(callID, targetID, kind, data))
}

// SendCallAction sends a call lifecycle or flag action.
func (c *Coordinator) SendCallAction(callID, action string) error {
	return c.conn.Send(protocol.NewCallActionCommand(callID, action))
}

// InviteCall invites another user to a call. An empty callID asks the hub
// to mint one.
func (c *Coordinator) InviteCall(callID, targetID, callType string) error {
	return c.conn.Send(protocol.NewCallInviteCommand(callID, targetID, callType))
}

// DismissCall clears the pending incoming-call notification.
func (c *Coordinator) DismissCall() {
	c.calls.DismissCall()
}

// Close disconnects and releases every tracker, store, and pending timer.
// Guaranteed teardown for all exit paths of the owning consumer.
func (c *Coordinator) Close() {
	c.conn.Disconnect()
	c.typing.Close()
	c.presence.Close()
	c.calls.Close()
	c.feed.Close()

	c.storesMu.Lock()
	for key, s := range c.stores {
		s.Close()
		delete(c.stores, key)
	}
	c.storesMu.Unlock()
}
