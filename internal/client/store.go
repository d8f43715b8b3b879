package client

import (
	"sync"
	"time"

	"github.com/markb/chatsync/internal/log"
	"github.com/markb/chatsync/internal/protocol"
)

// DeletedPlaceholder replaces the content of a tombstoned message.
const DeletedPlaceholder = "This message was deleted"

// Message is one entry in a conversation's ordered log.
type Message struct {
	ID           string
	SenderID     string
	SenderName   string
	Conversation protocol.ConversationRef
	Content      string
	Timestamp    time.Time
	Reactions    []protocol.Reaction
	IsEdited     bool
	IsDeleted    bool
}

// MessageStore maintains an append-only ordered log for one conversation,
// with idempotent projection of edit, delete, and reaction events onto
// existing entries. The bus is global; the store filters by its own
// conversation reference, so a store scoped to conversation A never sees
// appends for conversation B. Events for ids not present locally are
// silent no-ops: they belong to another conversation or predate the
// loaded history window.
type MessageStore struct {
	mu       sync.RWMutex
	conv     protocol.ConversationRef
	messages []Message
	index    map[string]int
	subs     []*Subscription
}

// NewMessageStore creates a store scoped to conv, subscribed to bus.
func NewMessageStore(bus *Bus, conv protocol.ConversationRef) *MessageStore {
	s := &MessageStore{conv: conv, index: make(map[string]int)}
	s.subs = append(s.subs,
		bus.On(protocol.EventNewMessage, s.handleNew),
		bus.On(protocol.EventMessageReaction, s.handleReaction),
		bus.On(protocol.EventMessageEdited, s.handleEdited),
		bus.On(protocol.EventMessageDeleted, s.handleDeleted),
	)
	return s
}

// Conversation returns the reference this store is scoped to.
func (s *MessageStore) Conversation() protocol.ConversationRef {
	return s.conv
}

// Seed replaces the log with an initial page of history, keeping only
// messages belonging to this conversation.
func (s *MessageStore) Seed(history []protocol.MessagePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = s.messages[:0]
	s.index = make(map[string]int, len(history))
	for _, p := range history {
		if p.Conversation != s.conv || p.ID == "" {
			continue
		}
		if _, ok := s.index[p.ID]; ok {
			continue
		}
		s.index[p.ID] = len(s.messages)
		s.messages = append(s.messages, fromPayload(p))
	}
}

func (s *MessageStore) handleNew(frame *protocol.Frame) {
	var p protocol.MessagePayload
	if err := frame.DecodePayload(&p); err != nil {
		log.Debug("store: dropping malformed new_message", "error", err.Error())
		return
	}
	if p.Conversation != s.conv || p.ID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[p.ID]; ok {
		// Redelivered message; the log already holds it.
		return
	}
	s.index[p.ID] = len(s.messages)
	s.messages = append(s.messages, fromPayload(p))
}

func (s *MessageStore) handleReaction(frame *protocol.Frame) {
	var p protocol.ReactionPayload
	if err := frame.DecodePayload(&p); err != nil {
		log.Debug("store: dropping malformed message_reaction", "error", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[p.MessageID]
	if !ok {
		return
	}
	// Wholesale replace; the server owns aggregated counts.
	s.messages[i].Reactions = p.Reactions
}

func (s *MessageStore) handleEdited(frame *protocol.Frame) {
	var p protocol.EditPayload
	if err := frame.DecodePayload(&p); err != nil {
		log.Debug("store: dropping malformed message_edited", "error", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[p.MessageID]
	if !ok {
		return
	}
	s.messages[i].Content = p.Content
	s.messages[i].IsEdited = true
}

func (s *MessageStore) handleDeleted(frame *protocol.Frame) {
	var p protocol.DeletePayload
	if err := frame.DecodePayload(&p); err != nil {
		log.Debug("store: dropping malformed message_deleted", "error", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[p.MessageID]
	if !ok {
		return
	}
	// Tombstone: position and ordering are preserved for history rendering.
	s.messages[i].Content = DeletedPlaceholder
	s.messages[i].IsDeleted = true
}

// Messages returns a snapshot of the ordered log.
func (s *MessageStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Get returns the message with the given id, if present.
func (s *MessageStore) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return s.messages[i], true
}

// Len returns the number of entries, tombstones included.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Close releases the store's bus subscriptions.
func (s *MessageStore) Close() {
	for _, sub := range s.subs {
		sub.Cancel()
	}
	s.subs = nil
}

func fromPayload(p protocol.MessagePayload) Message {
	return Message{
		ID:           p.ID,
		SenderID:     p.SenderID,
		SenderName:   p.SenderName,
		Conversation: p.Conversation,
		Content:      p.Content,
		Timestamp:    p.Timestamp,
		Reactions:    p.Reactions,
		IsEdited:     p.IsEdited,
		IsDeleted:    p.IsDeleted,
	}
}
