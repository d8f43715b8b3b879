package hub

import (
	"github.com/markb/chatsync/internal/observability"
	"github.com/markb/chatsync/internal/protocol"
)

// Service provides hub functionality to the HTTP server and to the
// surrounding system's REST layer.
type Service struct {
	hub       *Hub
	jwtSecret string
}

// Config holds hub configuration.
type Config struct {
	// JWTSecret enables token validation on connect when non-empty.
	JWTSecret string

	// Metrics receives connection and frame counts when telemetry is
	// enabled; nil disables recording.
	Metrics *observability.Metrics
}

// NewService creates a new hub service.
func NewService(cfg Config) *Service {
	h := NewHub()
	h.metrics = cfg.Metrics
	return &Service{
		hub:       h,
		jwtSecret: cfg.JWTSecret,
	}
}

// Hub returns the connection hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Stats returns current hub statistics.
func (s *Service) Stats() HubStats {
	return s.hub.Stats()
}

// NotifyEdited broadcasts a message edit performed through the REST layer.
// Message edits and deletes have no inbound command; they originate outside
// this process and are only fanned out here.
func (s *Service) NotifyEdited(conv protocol.ConversationRef, messageID, content string) {
	s.hub.broadcast(protocol.NewFrame(protocol.EventMessageEdited, protocol.EditPayload{
		MessageID:    messageID,
		Conversation: conv,
		Content:      content,
	}), "")
}

// NotifyDeleted broadcasts a message deletion performed through the REST
// layer. Clients tombstone; nothing is removed.
func (s *Service) NotifyDeleted(conv protocol.ConversationRef, messageID string) {
	s.hub.broadcast(protocol.NewFrame(protocol.EventMessageDeleted, protocol.DeletePayload{
		MessageID:    messageID,
		Conversation: conv,
	}), "")
}

// NotifyFeed broadcasts a feed toast (feed_notification, new_recognition,
// or new_kudos) produced by the surrounding system.
func (s *Service) NotifyFeed(eventType string, item protocol.FeedItemPayload) {
	switch eventType {
	case protocol.EventFeedNotification, protocol.EventNewRecognition, protocol.EventNewKudos:
		s.hub.broadcast(protocol.NewFrame(eventType, item), "")
	}
}

// HubStats contains hub statistics.
type HubStats struct {
	Connections     int `json:"connections"`
	OnlineUsers     int `json:"online_users"`
	ActiveCalls     int `json:"active_calls"`
	TrackedMessages int `json:"tracked_messages"`
}

// Stats returns current statistics.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{
		Connections:     len(h.conns),
		OnlineUsers:     len(h.byPrincipal),
		ActiveCalls:     len(h.calls),
		TrackedMessages: len(h.messages),
	}
}
