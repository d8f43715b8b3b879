package client

import (
	"testing"
	"time"

	"github.com/markb/chatsync/internal/protocol"
)

var testConv = protocol.ConversationRef{Kind: protocol.KindChannel, ID: "general"}

func messageFrame(conv protocol.ConversationRef, id, content string) *protocol.Frame {
	return protocol.NewFrame(protocol.EventNewMessage, protocol.MessagePayload{
		ID:           id,
		Conversation: conv,
		Content:      content,
		Timestamp:    time.Now().UTC(),
	})
}

func TestStoreAppendsInOrder(t *testing.T) {
	bus := NewBus()
	s := NewMessageStore(bus, testConv)
	defer s.Close()

	bus.Dispatch(messageFrame(testConv, "m1", "one"))
	bus.Dispatch(messageFrame(testConv, "m2", "two"))
	bus.Dispatch(messageFrame(testConv, "m3", "three"))

	msgs := s.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" || msgs[2].ID != "m3" {
		t.Errorf("order not preserved: %v", msgs)
	}
}

func TestStoreDuplicateAppendIsNoOp(t *testing.T) {
	bus := NewBus()
	s := NewMessageStore(bus, testConv)
	defer s.Close()

	bus.Dispatch(messageFrame(testConv, "m1", "one"))
	bus.Dispatch(messageFrame(testConv, "m1", "one again"))

	if s.Len() != 1 {
		t.Errorf("redelivered message should not duplicate, got %d entries", s.Len())
	}
	msg, _ := s.Get("m1")
	if msg.Content != "one" {
		t.Errorf("original content should win: %s", msg.Content)
	}
}

func TestStoreConversationIsolation(t *testing.T) {
	bus := NewBus()
	s := NewMessageStore(bus, testConv)
	defer s.Close()

	other := protocol.ConversationRef{Kind: protocol.KindDirect, ID: "dm1"}
	bus.Dispatch(messageFrame(other, "m1", "elsewhere"))
	// Same id, different kind: still a different conversation.
	sameIDOtherKind := protocol.ConversationRef{Kind: protocol.KindGroup, ID: "general"}
	bus.Dispatch(messageFrame(sameIDOtherKind, "m2", "elsewhere too"))

	if s.Len() != 0 {
		t.Errorf("store should only hold its own conversation, got %d entries", s.Len())
	}
}

func TestStoreEdit(t *testing.T) {
	bus := NewBus()
	s := NewMessageStore(bus, testConv)
	defer s.Close()

	bus.Dispatch(messageFrame(testConv, "m1", "typo"))
	bus.Dispatch(protocol.NewFrame(protocol.EventMessageEdited, protocol.EditPayload{
		MessageID:    "m1",
		Conversation: testConv,
		Content:      "fixed",
	}))

	msg, ok := s.Get("m1")
	if !ok {
		t.Fatal("message should exist")
	}
	if msg.Content != "fixed" || !msg.IsEdited {
		t.Errorf("edit not applied: %+v", msg)
	}
}

func TestStoreDeleteTombstones(t *testing.T) {
	bus := NewBus()
	s := NewMessageStore(bus, testConv)
	defer s.Close()

	bus.Dispatch(messageFrame(testConv, "m1", "one"))
	bus.Dispatch(messageFrame(testConv, "m2", "two"))
	bus.Dispatch(messageFrame(testConv, "m3", "three"))

	bus.Dispatch(protocol.NewFrame(protocol.EventMessageDeleted, protocol.DeletePayload{
		MessageID:    "m2",
		Conversation: testConv,
	}))

	if s.Len() != 3 {
		t.Fatalf("delete must tombstone, not remove; got %d entries", s.Len())
	}
	msgs := s.Messages()
	if msgs[1].ID != "m2" {
		t.Error("ordering changed after delete")
	}
	if !msgs[1].IsDeleted || msgs[1].Content != DeletedPlaceholder {
		t.Errorf("tombstone mismatch: %+v", msgs[1])
	}
}

func TestStoreReactionWholesaleReplace(t *testing.T) {
	bus := NewBus()
	s := NewMessageStore(bus, testConv)
	defer s.Close()

	bus.Dispatch(messageFrame(testConv, "m1", "one"))

	bus.Dispatch(protocol.NewFrame(protocol.EventMessageReaction, protocol.ReactionPayload{
		MessageID:    "m1",
		Conversation: testConv,
		Reactions: []protocol.Reaction{
			{Emoji: "👍", UserIDs: []string{"u1", "u2"}, Count: 2},
		},
	}))
	bus.Dispatch(protocol.NewFrame(protocol.EventMessageReaction, protocol.ReactionPayload{
		MessageID:    "m1",
		Conversation: testConv,
		Reactions: []protocol.Reaction{
			{Emoji: "👍", UserIDs: []string{"u1"}, Count: 1},
		},
	}))

	msg, _ := s.Get("m1")
	if len(msg.Reactions) != 1 || msg.Reactions[0].Count != 1 {
		t.Errorf("second event should replace the first wholesale: %+v", msg.Reactions)
	}
}

func TestStoreEventForUnknownIDIsNoOp(t *testing.T) {
	bus := NewBus()
	s := NewMessageStore(bus, testConv)
	defer s.Close()

	bus.Dispatch(protocol.NewFrame(protocol.EventMessageEdited, protocol.EditPayload{
		MessageID: "ghost",
		Content:   "nope",
	}))
	bus.Dispatch(protocol.NewFrame(protocol.EventMessageDeleted, protocol.DeletePayload{
		MessageID: "ghost",
	}))

	if s.Len() != 0 {
		t.Errorf("events for unknown ids must not create entries, got %d", s.Len())
	}
}

func TestStoreSeed(t *testing.T) {
	bus := NewBus()
	s := NewMessageStore(bus, testConv)
	defer s.Close()

	bus.Dispatch(messageFrame(testConv, "stale", "pre-seed"))

	s.Seed([]protocol.MessagePayload{
		{ID: "h1", Conversation: testConv, Content: "old"},
		{ID: "h2", Conversation: protocol.ConversationRef{Kind: protocol.KindDirect, ID: "dm"}, Content: "foreign"},
		{ID: "h3", Conversation: testConv, Content: "older"},
	})

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("seed should keep only own-conversation entries, got %d", len(msgs))
	}
	if msgs[0].ID != "h1" || msgs[1].ID != "h3" {
		t.Errorf("seed order mismatch: %v", msgs)
	}

	// Live events still apply after seeding.
	bus.Dispatch(messageFrame(testConv, "m1", "live"))
	if s.Len() != 3 {
		t.Errorf("expected 3 entries after live append, got %d", s.Len())
	}
}
