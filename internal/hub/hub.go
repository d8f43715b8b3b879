// Package hub implements the server side of the chatsync protocol: one
// connection per principal, presence fan-out, typing and message relay,
// server-owned reaction aggregation, and call session signaling. It is the
// symmetric counterpart of the client coordinator's state machine.
package hub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/markb/chatsync/internal/log"
	"github.com/markb/chatsync/internal/observability"
	"github.com/markb/chatsync/internal/protocol"
)

// maxTrackedMessages bounds the in-memory reaction bookkeeping window.
// Reactions for evicted messages become no-ops, which clients tolerate.
const maxTrackedMessages = 4096

// Hub manages all connections and derived server state.
type Hub struct {
	metrics *observability.Metrics // nil when telemetry is disabled

	mu          sync.RWMutex
	conns       map[string]*Conn // connID -> Conn
	byPrincipal map[string]*Conn // principalID -> Conn

	messages   map[string]*messageMeta // messageID -> reaction bookkeeping
	trackOrder []string                // FIFO eviction order

	calls    map[string]*callState          // callID -> call
	lastRead map[string]map[string]string   // principalID -> conversation key -> messageID
}

// messageMeta is the server-owned reaction aggregate for one message.
type messageMeta struct {
	conv       protocol.ConversationRef
	reactions  map[string]map[string]struct{} // emoji -> set of userIDs
	emojiOrder []string
}

// callState is one active call session.
type callState struct {
	callType     string
	roomID       string
	initiatorID  string
	participants map[string]string // userID -> userName
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conns:       make(map[string]*Conn),
		byPrincipal: make(map[string]*Conn),
		messages:    make(map[string]*messageMeta),
		calls:       make(map[string]*callState),
		lastRead:    make(map[string]map[string]string),
	}
}

// registerConn adds a connection, enforcing one connection per principal.
// Returns the displaced connection (closed by the caller) and whether the
// principal was previously offline.
func (h *Hub) registerConn(c *Conn) (displaced *Conn, cameOnline bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	displaced = h.byPrincipal[c.principalID]
	if displaced != nil {
		delete(h.conns, displaced.id)
	}
	h.conns[c.id] = c
	h.byPrincipal[c.principalID] = c
	return displaced, displaced == nil
}

// unregisterConn removes a connection. Returns whether the principal went
// offline and any call frames to broadcast for rosters they silently left.
func (h *Hub) unregisterConn(c *Conn) (wentOffline bool, callEvents []*protocol.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, c.id)
	if h.byPrincipal[c.principalID] == c {
		delete(h.byPrincipal, c.principalID)
		wentOffline = true
		callEvents = h.leaveAllCallsLocked(c.principalID)
	}
	return wentOffline, callEvents
}

// onlineUsers returns the authoritative presence snapshot.
func (h *Hub) onlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users := make([]string, 0, len(h.byPrincipal))
	for id := range h.byPrincipal {
		users = append(users, id)
	}
	return users
}

// allConns returns a snapshot of every connection.
func (h *Hub) allConns() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

// broadcast sends a frame to every connection except excludeConnID.
func (h *Hub) broadcast(frame *protocol.Frame, excludeConnID string) {
	for _, c := range h.allConns() {
		if c.id == excludeConnID {
			continue
		}
		c.Send(frame)
	}
}

// sendToPrincipal delivers a frame to one principal's connection, if any.
func (h *Hub) sendToPrincipal(principalID string, frame *protocol.Frame) bool {
	h.mu.RLock()
	c := h.byPrincipal[principalID]
	h.mu.RUnlock()
	if c == nil {
		return false
	}
	c.Send(frame)
	return true
}

// recordMessage starts reaction bookkeeping for a new message, evicting the
// oldest tracked message beyond the window.
func (h *Hub) recordMessage(id string, conv protocol.ConversationRef) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.messages[id]; ok {
		return
	}
	h.messages[id] = &messageMeta{
		conv:      conv,
		reactions: make(map[string]map[string]struct{}),
	}
	h.trackOrder = append(h.trackOrder, id)
	if len(h.trackOrder) > maxTrackedMessages {
		evicted := h.trackOrder[0]
		h.trackOrder = h.trackOrder[1:]
		delete(h.messages, evicted)
	}
}

// toggleReaction flips userID's reaction on a message and returns the full
// aggregated reaction list for broadcasting. ok is false for untracked ids.
func (h *Hub) toggleReaction(messageID, userID, emoji string) (reactions []protocol.Reaction, conv protocol.ConversationRef, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	meta, found := h.messages[messageID]
	if !found {
		return nil, protocol.ConversationRef{}, false
	}

	set := meta.reactions[emoji]
	if set == nil {
		set = make(map[string]struct{})
		meta.reactions[emoji] = set
		meta.emojiOrder = append(meta.emojiOrder, emoji)
	}
	if _, has := set[userID]; has {
		delete(set, userID)
	} else {
		set[userID] = struct{}{}
	}

	for _, e := range meta.emojiOrder {
		users := meta.reactions[e]
		if len(users) == 0 {
			continue
		}
		ids := make([]string, 0, len(users))
		for id := range users {
			ids = append(ids, id)
		}
		reactions = append(reactions, protocol.Reaction{Emoji: e, UserIDs: ids, Count: len(ids)})
	}
	if reactions == nil {
		reactions = []protocol.Reaction{}
	}
	return reactions, meta.conv, true
}

// markRead records a principal's read position for a conversation.
func (h *Hub) markRead(principalID string, conv protocol.ConversationRef, messageID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastRead[principalID] == nil {
		h.lastRead[principalID] = make(map[string]string)
	}
	h.lastRead[principalID][conv.Key()] = messageID
}

// LastRead returns a principal's read position for a conversation.
func (h *Hub) LastRead(principalID string, conv protocol.ConversationRef) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastRead[principalID][conv.Key()]
}

// startCall creates a call session for an invite, minting a call id when the
// caller did not supply one. The initiator joins immediately.
func (h *Hub) startCall(callID, initiatorID, initiatorName, callType string) (id, roomID string) {
	if callID == "" {
		callID = uuid.New().String()
	}
	roomID = "call:" + callID

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.calls[callID]; !ok {
		h.calls[callID] = &callState{
			callType:     callType,
			roomID:       roomID,
			initiatorID:  initiatorID,
			participants: map[string]string{initiatorID: initiatorName},
		}
	}
	return callID, roomID
}

// joinCall adds a participant to an existing call. Idempotent.
func (h *Hub) joinCall(callID, userID, userName string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	call, ok := h.calls[callID]
	if !ok {
		return false
	}
	call.participants[userID] = userName
	return true
}

// leaveCall removes a participant. Returns whether the call emptied out.
func (h *Hub) leaveCall(callID, userID string) (left, emptied bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	call, ok := h.calls[callID]
	if !ok {
		return false, false
	}
	if _, in := call.participants[userID]; !in {
		return false, false
	}
	delete(call.participants, userID)
	if len(call.participants) == 0 {
		delete(h.calls, callID)
		return true, true
	}
	return true, false
}

// endCall drops the session outright.
func (h *Hub) endCall(callID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.calls[callID]; !ok {
		return false
	}
	delete(h.calls, callID)
	return true
}

// inCall reports whether the user is a participant of the call.
func (h *Hub) inCall(callID, userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	call, ok := h.calls[callID]
	if !ok {
		return false
	}
	_, in := call.participants[userID]
	return in
}

// leaveAllCallsLocked removes a disconnecting principal from every call and
// returns the frames to broadcast. Caller holds h.mu.
func (h *Hub) leaveAllCallsLocked(userID string) []*protocol.Frame {
	var events []*protocol.Frame
	for callID, call := range h.calls {
		if _, in := call.participants[userID]; !in {
			continue
		}
		delete(call.participants, userID)
		events = append(events, protocol.NewFrame(protocol.EventParticipantLeft, protocol.ParticipantPayload{
			CallID: callID,
			UserID: userID,
		}))
		if len(call.participants) == 0 {
			delete(h.calls, callID)
			events = append(events, protocol.NewFrame(protocol.EventCallEnded, protocol.CallLifecyclePayload{
				CallID: callID,
			}))
		}
	}
	if len(events) > 0 {
		log.Debug("hub: removed disconnected principal from calls", "principal_id", userID, "events", len(events))
	}
	return events
}
