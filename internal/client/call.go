package client

import (
	"sync"

	"github.com/markb/chatsync/internal/log"
	"github.com/markb/chatsync/internal/protocol"
)

// Participant is one member of a call roster.
type Participant struct {
	UserID          string
	UserName        string
	Avatar          string
	IsMuted         bool
	IsVideoOn       bool
	IsScreenSharing bool
}

// IncomingCall is the single-slot incoming-call notification. A second
// incoming call while one is pending overwrites the first; last relevant
// event wins.
type IncomingCall struct {
	CallID        string
	InitiatorID   string
	InitiatorName string
	CallType      string
	RoomID        string
}

// CallSessionTracker derives per-call participant rosters and per-participant
// mute/video/screen-share flags. Every reducer is idempotent and keyed by
// (callID, userID); flag events for absent participants are tolerated no-ops
// since they may arrive ahead of the join.
type CallSessionTracker struct {
	mu       sync.RWMutex
	sessions map[string][]Participant
	incoming *IncomingCall
	subs     []*Subscription
}

// NewCallSessionTracker creates a tracker subscribed to bus.
func NewCallSessionTracker(bus *Bus) *CallSessionTracker {
	t := &CallSessionTracker{sessions: make(map[string][]Participant)}
	t.subs = append(t.subs,
		bus.On(protocol.EventIncomingCall, t.handleIncoming),
		bus.On(protocol.EventCallDeclined, t.handleDeclined),
		bus.On(protocol.EventCallEnded, t.handleEnded),
		bus.On(protocol.EventParticipantJoined, t.handleJoined),
		bus.On(protocol.EventParticipantLeft, t.handleLeft),
		bus.On(protocol.EventParticipantMute, t.handleMute),
		bus.On(protocol.EventParticipantVideo, t.handleVideo),
		bus.On(protocol.EventParticipantScreenShare, t.handleScreenShare),
	)
	return t
}

func (t *CallSessionTracker) handleIncoming(frame *protocol.Frame) {
	var p protocol.IncomingCallPayload
	if err := frame.DecodePayload(&p); err != nil {
		log.Debug("call: dropping malformed incoming_call", "error", err.Error())
		return
	}
	if p.CallID == "" {
		log.Debug("call: dropping incoming_call without call_id")
		return
	}

	t.mu.Lock()
	t.incoming = &IncomingCall{
		CallID:        p.CallID,
		InitiatorID:   p.InitiatorID,
		InitiatorName: p.InitiatorName,
		CallType:      p.CallType,
		RoomID:        p.RoomID,
	}
	t.mu.Unlock()
}

func (t *CallSessionTracker) handleDeclined(frame *protocol.Frame) {
	t.clearIncoming()
}

func (t *CallSessionTracker) handleEnded(frame *protocol.Frame) {
	t.clearIncoming()

	var p protocol.CallLifecyclePayload
	if err := frame.DecodePayload(&p); err != nil || p.CallID == "" {
		return
	}
	t.mu.Lock()
	delete(t.sessions, p.CallID)
	t.mu.Unlock()
}

// DismissCall clears the incoming-call slot, equivalent in effect to the
// server-driven call_declined and call_ended clears.
func (t *CallSessionTracker) DismissCall() {
	t.clearIncoming()
}

func (t *CallSessionTracker) clearIncoming() {
	t.mu.Lock()
	t.incoming = nil
	t.mu.Unlock()
}

func (t *CallSessionTracker) handleJoined(frame *protocol.Frame) {
	var p protocol.ParticipantPayload
	if err := frame.DecodePayload(&p); err != nil {
		log.Debug("call: dropping malformed participant_joined", "error", err.Error())
		return
	}
	if p.CallID == "" || p.UserID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.sessions[p.CallID] {
		if existing.UserID == p.UserID {
			// Duplicate join is a no-op, not a second entry.
			return
		}
	}
	t.sessions[p.CallID] = append(t.sessions[p.CallID], Participant{
		UserID:    p.UserID,
		UserName:  p.UserName,
		Avatar:    p.Avatar,
		IsVideoOn: true,
	})
}

func (t *CallSessionTracker) handleLeft(frame *protocol.Frame) {
	var p protocol.ParticipantPayload
	if err := frame.DecodePayload(&p); err != nil || p.CallID == "" || p.UserID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	roster := t.sessions[p.CallID]
	for i, existing := range roster {
		if existing.UserID == p.UserID {
			t.sessions[p.CallID] = append(roster[:i:i], roster[i+1:]...)
			break
		}
	}
	if len(t.sessions[p.CallID]) == 0 {
		delete(t.sessions, p.CallID)
	}
}

func (t *CallSessionTracker) handleMute(frame *protocol.Frame) {
	var p protocol.ParticipantMutePayload
	if err := frame.DecodePayload(&p); err != nil {
		return
	}
	t.updateParticipant(p.CallID, p.UserID, func(part *Participant) {
		part.IsMuted = p.IsMuted
	})
}

func (t *CallSessionTracker) handleVideo(frame *protocol.Frame) {
	var p protocol.ParticipantVideoPayload
	if err := frame.DecodePayload(&p); err != nil {
		return
	}
	t.updateParticipant(p.CallID, p.UserID, func(part *Participant) {
		part.IsVideoOn = p.IsVideoOn
	})
}

func (t *CallSessionTracker) handleScreenShare(frame *protocol.Frame) {
	var p protocol.ParticipantScreenSharePayload
	if err := frame.DecodePayload(&p); err != nil {
		return
	}
	t.updateParticipant(p.CallID, p.UserID, func(part *Participant) {
		part.IsScreenSharing = p.IsScreenSharing
	})
}

func (t *CallSessionTracker) updateParticipant(callID, userID string, apply func(*Participant)) {
	if callID == "" || userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	roster := t.sessions[callID]
	for i := range roster {
		if roster[i].UserID == userID {
			apply(&roster[i])
			return
		}
	}
	// Flag change for a participant we have not seen join: tolerated.
}

// Participants returns a snapshot of the call's roster.
func (t *CallSessionTracker) Participants(callID string) []Participant {
	t.mu.RLock()
	defer t.mu.RUnlock()
	roster := t.sessions[callID]
	out := make([]Participant, len(roster))
	copy(out, roster)
	return out
}

// IncomingCall returns a copy of the pending incoming call, or nil.
func (t *CallSessionTracker) IncomingCall() *IncomingCall {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.incoming == nil {
		return nil
	}
	call := *t.incoming
	return &call
}

// Close releases the tracker's bus subscriptions.
func (t *CallSessionTracker) Close() {
	for _, s := range t.subs {
		s.Cancel()
	}
	t.subs = nil
}
