package client

import (
	"testing"
	"time"

	"github.com/markb/chatsync/internal/protocol"
)

func typingFrame(conv protocol.ConversationRef, userID string, isTyping bool) *protocol.Frame {
	return protocol.NewFrame(protocol.EventTyping, protocol.TypingPayload{
		Conversation: conv,
		UserID:       userID,
		IsTyping:     isTyping,
	})
}

func TestTypingStartAndStop(t *testing.T) {
	bus := NewBus()
	tc := NewTypingCoordinator(bus, time.Minute)
	defer tc.Close()

	conv := protocol.ConversationRef{Kind: protocol.KindChannel, ID: "c1"}
	bus.Dispatch(typingFrame(conv, "u1", true))
	bus.Dispatch(typingFrame(conv, "u2", true))

	if got := len(tc.Typing(conv)); got != 2 {
		t.Fatalf("expected 2 typing users, got %d", got)
	}

	bus.Dispatch(typingFrame(conv, "u1", false))
	users := tc.Typing(conv)
	if len(users) != 1 || users[0].UserID != "u2" {
		t.Errorf("expected only u2 typing, got %v", users)
	}
}

func TestTypingExpiry(t *testing.T) {
	bus := NewBus()
	tc := NewTypingCoordinator(bus, 30*time.Millisecond)
	defer tc.Close()

	conv := protocol.ConversationRef{Kind: protocol.KindChannel, ID: "c1"}
	bus.Dispatch(typingFrame(conv, "u1", true))

	if got := len(tc.Typing(conv)); got != 1 {
		t.Fatalf("expected 1 typing user, got %d", got)
	}

	waitFor(t, time.Second, func() bool {
		return len(tc.Typing(conv)) == 0
	})
}

func TestTypingRefreshDebounces(t *testing.T) {
	bus := NewBus()
	tc := NewTypingCoordinator(bus, 60*time.Millisecond)
	defer tc.Close()

	conv := protocol.ConversationRef{Kind: protocol.KindChannel, ID: "c1"}
	bus.Dispatch(typingFrame(conv, "u1", true))

	// Refresh before expiry; the timer restarts rather than stacking.
	time.Sleep(35 * time.Millisecond)
	bus.Dispatch(typingFrame(conv, "u1", true))

	time.Sleep(35 * time.Millisecond)
	if got := len(tc.Typing(conv)); got != 1 {
		t.Errorf("refreshed entry should survive the original deadline, got %d", got)
	}
	if users := tc.Typing(conv); len(users) == 1 && users[0].UserID != "u1" {
		t.Errorf("unexpected user: %v", users)
	}

	waitFor(t, time.Second, func() bool {
		return len(tc.Typing(conv)) == 0
	})
}

func TestTypingRefreshKeepsSingleEntry(t *testing.T) {
	bus := NewBus()
	tc := NewTypingCoordinator(bus, time.Minute)
	defer tc.Close()

	conv := protocol.ConversationRef{Kind: protocol.KindChannel, ID: "c1"}
	bus.Dispatch(typingFrame(conv, "u1", true))
	bus.Dispatch(typingFrame(conv, "u1", true))

	if got := len(tc.Typing(conv)); got != 1 {
		t.Errorf("refresh must not duplicate the entry, got %d", got)
	}
}

func TestTypingConversationIsolation(t *testing.T) {
	bus := NewBus()
	tc := NewTypingCoordinator(bus, time.Minute)
	defer tc.Close()

	convA := protocol.ConversationRef{Kind: protocol.KindChannel, ID: "a"}
	convB := protocol.ConversationRef{Kind: protocol.KindDirect, ID: "b"}
	bus.Dispatch(typingFrame(convA, "u1", true))

	if got := len(tc.Typing(convB)); got != 0 {
		t.Errorf("typing in A should not appear in B, got %d", got)
	}
}

func TestTypingStopUnknownUserIsNoOp(t *testing.T) {
	bus := NewBus()
	tc := NewTypingCoordinator(bus, time.Minute)
	defer tc.Close()

	conv := protocol.ConversationRef{Kind: protocol.KindChannel, ID: "c1"}
	bus.Dispatch(typingFrame(conv, "ghost", false))

	if got := len(tc.Typing(conv)); got != 0 {
		t.Errorf("expected no typing users, got %d", got)
	}
}

func TestTypingReset(t *testing.T) {
	bus := NewBus()
	tc := NewTypingCoordinator(bus, time.Minute)
	defer tc.Close()

	convA := protocol.ConversationRef{Kind: protocol.KindChannel, ID: "a"}
	convB := protocol.ConversationRef{Kind: protocol.KindGroup, ID: "b"}
	bus.Dispatch(typingFrame(convA, "u1", true))
	bus.Dispatch(typingFrame(convB, "u2", true))

	tc.Reset()

	if len(tc.Typing(convA)) != 0 || len(tc.Typing(convB)) != 0 {
		t.Error("reset should clear every conversation")
	}

	// The coordinator keeps working after a reset.
	bus.Dispatch(typingFrame(convA, "u3", true))
	if got := len(tc.Typing(convA)); got != 1 {
		t.Errorf("expected 1 typing user after reset, got %d", got)
	}
}

func TestTypingCloseIgnoresLateEvents(t *testing.T) {
	bus := NewBus()
	tc := NewTypingCoordinator(bus, time.Minute)

	conv := protocol.ConversationRef{Kind: protocol.KindChannel, ID: "c1"}
	bus.Dispatch(typingFrame(conv, "u1", true))
	tc.Close()

	bus.Dispatch(typingFrame(conv, "u2", true))
	if got := len(tc.Typing(conv)); got != 0 {
		t.Errorf("closed coordinator should hold no state, got %d", got)
	}
}
