package client

import (
	"testing"

	"github.com/markb/chatsync/internal/protocol"
)

func joinedFrame(callID, userID string) *protocol.Frame {
	return protocol.NewFrame(protocol.EventParticipantJoined, protocol.ParticipantPayload{
		CallID: callID,
		UserID: userID,
	})
}

func TestCallRosterJoinAndLeave(t *testing.T) {
	bus := NewBus()
	tracker := NewCallSessionTracker(bus)
	defer tracker.Close()

	bus.Dispatch(joinedFrame("c1", "u1"))
	bus.Dispatch(joinedFrame("c1", "u2"))

	if got := len(tracker.Participants("c1")); got != 2 {
		t.Fatalf("expected 2 participants, got %d", got)
	}

	bus.Dispatch(protocol.NewFrame(protocol.EventParticipantLeft, protocol.ParticipantPayload{
		CallID: "c1",
		UserID: "u1",
	}))

	roster := tracker.Participants("c1")
	if len(roster) != 1 || roster[0].UserID != "u2" {
		t.Errorf("expected only u2, got %v", roster)
	}
}

func TestCallDuplicateJoinIsNoOp(t *testing.T) {
	bus := NewBus()
	tracker := NewCallSessionTracker(bus)
	defer tracker.Close()

	bus.Dispatch(joinedFrame("c1", "u1"))
	bus.Dispatch(joinedFrame("c1", "u1"))

	if got := len(tracker.Participants("c1")); got != 1 {
		t.Errorf("duplicate join should not add a second entry, got %d", got)
	}
}

func TestCallParticipantFlags(t *testing.T) {
	bus := NewBus()
	tracker := NewCallSessionTracker(bus)
	defer tracker.Close()

	bus.Dispatch(joinedFrame("c1", "u1"))

	roster := tracker.Participants("c1")
	if !roster[0].IsVideoOn {
		t.Error("video should default on at join")
	}

	bus.Dispatch(protocol.NewFrame(protocol.EventParticipantMute, protocol.ParticipantMutePayload{
		CallID: "c1", UserID: "u1", IsMuted: true,
	}))
	bus.Dispatch(protocol.NewFrame(protocol.EventParticipantVideo, protocol.ParticipantVideoPayload{
		CallID: "c1", UserID: "u1", IsVideoOn: false,
	}))
	bus.Dispatch(protocol.NewFrame(protocol.EventParticipantScreenShare, protocol.ParticipantScreenSharePayload{
		CallID: "c1", UserID: "u1", IsScreenSharing: true,
	}))

	roster = tracker.Participants("c1")
	p := roster[0]
	if !p.IsMuted || p.IsVideoOn || !p.IsScreenSharing {
		t.Errorf("flag state mismatch: %+v", p)
	}
}

func TestCallFlagForUnknownParticipant(t *testing.T) {
	bus := NewBus()
	tracker := NewCallSessionTracker(bus)
	defer tracker.Close()

	// Flag events may arrive ahead of the join; tolerated as no-ops.
	bus.Dispatch(protocol.NewFrame(protocol.EventParticipantMute, protocol.ParticipantMutePayload{
		CallID: "c1", UserID: "ghost", IsMuted: true,
	}))

	if got := len(tracker.Participants("c1")); got != 0 {
		t.Errorf("flag for unknown participant should not create one, got %d", got)
	}
}

func TestIncomingCallOverwrite(t *testing.T) {
	bus := NewBus()
	tracker := NewCallSessionTracker(bus)
	defer tracker.Close()

	bus.Dispatch(protocol.NewFrame(protocol.EventIncomingCall, protocol.IncomingCallPayload{
		CallID: "c1", InitiatorID: "u1",
	}))
	bus.Dispatch(protocol.NewFrame(protocol.EventIncomingCall, protocol.IncomingCallPayload{
		CallID: "c2", InitiatorID: "u2",
	}))

	call := tracker.IncomingCall()
	if call == nil || call.CallID != "c2" {
		t.Errorf("second incoming call should overwrite the first, got %+v", call)
	}
}

func TestIncomingCallClearedOnDecline(t *testing.T) {
	bus := NewBus()
	tracker := NewCallSessionTracker(bus)
	defer tracker.Close()

	bus.Dispatch(protocol.NewFrame(protocol.EventIncomingCall, protocol.IncomingCallPayload{
		CallID: "c1", InitiatorID: "u1",
	}))
	bus.Dispatch(protocol.NewFrame(protocol.EventCallDeclined, protocol.CallLifecyclePayload{CallID: "c1"}))

	if tracker.IncomingCall() != nil {
		t.Error("decline should clear the incoming slot")
	}
}

func TestCallEndedClearsSession(t *testing.T) {
	bus := NewBus()
	tracker := NewCallSessionTracker(bus)
	defer tracker.Close()

	bus.Dispatch(protocol.NewFrame(protocol.EventIncomingCall, protocol.IncomingCallPayload{
		CallID: "c1", InitiatorID: "u1",
	}))
	bus.Dispatch(joinedFrame("c1", "u1"))
	bus.Dispatch(joinedFrame("c1", "u2"))

	bus.Dispatch(protocol.NewFrame(protocol.EventCallEnded, protocol.CallLifecyclePayload{CallID: "c1"}))

	if tracker.IncomingCall() != nil {
		t.Error("ended call should clear the incoming slot")
	}
	if got := len(tracker.Participants("c1")); got != 0 {
		t.Errorf("ended call should drop the roster, got %d", got)
	}
}

func TestDismissCall(t *testing.T) {
	bus := NewBus()
	tracker := NewCallSessionTracker(bus)
	defer tracker.Close()

	bus.Dispatch(protocol.NewFrame(protocol.EventIncomingCall, protocol.IncomingCallPayload{
		CallID: "c1", InitiatorID: "u1",
	}))
	tracker.DismissCall()

	if tracker.IncomingCall() != nil {
		t.Error("dismiss should clear the incoming slot")
	}
}

func TestIncomingCallReturnsCopy(t *testing.T) {
	bus := NewBus()
	tracker := NewCallSessionTracker(bus)
	defer tracker.Close()

	bus.Dispatch(protocol.NewFrame(protocol.EventIncomingCall, protocol.IncomingCallPayload{
		CallID: "c1", InitiatorID: "u1",
	}))

	call := tracker.IncomingCall()
	call.CallID = "mutated"

	if got := tracker.IncomingCall().CallID; got != "c1" {
		t.Errorf("caller mutation leaked into tracker state: %s", got)
	}
}
