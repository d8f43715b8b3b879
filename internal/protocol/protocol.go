// Package protocol defines the wire format shared by the chatsync client
// coordinator and the server-side hub. Every frame is a JSON object with a
// "type" discriminator and a typed payload; payloads are decoded at the
// dispatch boundary so downstream handlers receive statically known shapes.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame is one discrete message unit on the logical connection.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Server-to-client event types
const (
	EventTyping                 = "typing"
	EventNewMessage             = "new_message"
	EventMessageReaction        = "message_reaction"
	EventMessageEdited          = "message_edited"
	EventMessageDeleted         = "message_deleted"
	EventPresenceUpdate         = "presence_update"
	EventOnlineUsers            = "online_users"
	EventIncomingCall           = "incoming_call"
	EventCallDeclined           = "call_declined"
	EventCallEnded              = "call_ended"
	EventParticipantJoined      = "participant_joined"
	EventParticipantLeft        = "participant_left"
	EventParticipantMute        = "participant_mute_changed"
	EventParticipantVideo       = "participant_video_changed"
	EventParticipantScreenShare = "participant_screen_share_changed"
	EventFeedNotification       = "feed_notification"
	EventNewRecognition         = "new_recognition"
	EventNewKudos               = "new_kudos"

	// EventCallSignal is a relayed signaling blob; same shape as the
	// outbound call_signal command, with sender_id stamped by the hub.
	EventCallSignal = "call_signal"
)

// Client-to-server command types
const (
	CommandSendMessage  = "send_message"
	CommandTyping       = "typing"
	CommandMarkRead     = "mark_read"
	CommandSendReaction = "send_reaction"
	CommandCallSignal   = "call_signal"
	CommandCallAction   = "call_action"
)

// ConversationKind distinguishes channel, group, and direct-message threads.
type ConversationKind string

const (
	KindChannel ConversationKind = "channel"
	KindGroup   ConversationKind = "group"
	KindDirect  ConversationKind = "dm"
)

// ConversationRef identifies a channel, group, or direct-message thread.
type ConversationRef struct {
	Kind ConversationKind `json:"kind"`
	ID   string           `json:"id"`
}

// Key returns a stable map key for the conversation.
func (r ConversationRef) Key() string {
	return string(r.Kind) + ":" + r.ID
}

// Reaction is an aggregated emoji reaction on a message. The server owns
// the counts; clients replace, never increment.
type Reaction struct {
	Emoji   string   `json:"emoji"`
	UserIDs []string `json:"user_ids"`
	Count   int      `json:"count"`
}

// TypingPayload carries a typing indicator change.
type TypingPayload struct {
	Conversation ConversationRef `json:"conversation"`
	UserID       string          `json:"user_id"`
	UserName     string          `json:"user_name,omitempty"`
	IsTyping     bool            `json:"is_typing"`
}

// MessagePayload is a full message as delivered by new_message.
type MessagePayload struct {
	ID           string          `json:"id"`
	SenderID     string          `json:"sender_id"`
	SenderName   string          `json:"sender_name,omitempty"`
	Conversation ConversationRef `json:"conversation"`
	Content      string          `json:"content"`
	Timestamp    time.Time       `json:"timestamp"`
	Reactions    []Reaction      `json:"reactions,omitempty"`
	IsEdited     bool            `json:"is_edited,omitempty"`
	IsDeleted    bool            `json:"is_deleted,omitempty"`
}

// ReactionPayload replaces a message's aggregated reactions wholesale.
type ReactionPayload struct {
	MessageID    string          `json:"message_id"`
	Conversation ConversationRef `json:"conversation"`
	Reactions    []Reaction      `json:"reactions"`
}

// EditPayload carries an in-place content edit.
type EditPayload struct {
	MessageID    string          `json:"message_id"`
	Conversation ConversationRef `json:"conversation"`
	Content      string          `json:"content"`
}

// DeletePayload marks a message deleted. The entry is tombstoned, not removed.
type DeletePayload struct {
	MessageID    string          `json:"message_id"`
	Conversation ConversationRef `json:"conversation"`
}

// PresencePayload is an incremental online/offline change for one user.
type PresencePayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

// StatusOnline is the only presence status that adds a user to the online
// set; every other status removes them.
const StatusOnline = "online"

// OnlineUsersPayload is the authoritative presence snapshot.
type OnlineUsersPayload struct {
	Users []string `json:"users"`
}

// IncomingCallPayload announces a call to its invitees.
type IncomingCallPayload struct {
	CallID        string `json:"call_id"`
	InitiatorID   string `json:"initiator_id"`
	InitiatorName string `json:"initiator_name,omitempty"`
	CallType      string `json:"call_type"`
	RoomID        string `json:"room_id"`
}

// CallLifecyclePayload is shared by call_declined and call_ended.
type CallLifecyclePayload struct {
	CallID string `json:"call_id"`
	UserID string `json:"user_id,omitempty"`
}

// ParticipantPayload is shared by participant_joined and participant_left.
type ParticipantPayload struct {
	CallID   string `json:"call_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// ParticipantMutePayload carries a mute flag change.
type ParticipantMutePayload struct {
	CallID  string `json:"call_id"`
	UserID  string `json:"user_id"`
	IsMuted bool   `json:"is_muted"`
}

// ParticipantVideoPayload carries a camera flag change.
type ParticipantVideoPayload struct {
	CallID    string `json:"call_id"`
	UserID    string `json:"user_id"`
	IsVideoOn bool   `json:"is_video_on"`
}

// ParticipantScreenSharePayload carries a screen-share flag change.
type ParticipantScreenSharePayload struct {
	CallID          string `json:"call_id"`
	UserID          string `json:"user_id"`
	IsScreenSharing bool   `json:"is_screen_sharing"`
}

// FeedItemPayload is shared by feed_notification, new_recognition, and
// new_kudos toast events.
type FeedItemPayload struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id,omitempty"`
	SenderName  string    `json:"sender_name,omitempty"`
	RecipientID string    `json:"recipient_id,omitempty"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// SendMessagePayload is the outbound send_message command.
type SendMessagePayload struct {
	Conversation ConversationRef `json:"conversation"`
	Content      string          `json:"content"`
}

// MarkReadPayload is the outbound mark_read command.
type MarkReadPayload struct {
	Conversation ConversationRef `json:"conversation"`
	MessageID    string          `json:"message_id"`
}

// SendReactionPayload is the outbound send_reaction command.
type SendReactionPayload struct {
	Conversation ConversationRef `json:"conversation"`
	MessageID    string          `json:"message_id"`
	Emoji        string          `json:"emoji"`
}

// CallSignalPayload relays an opaque signaling blob (offer, answer,
// candidate) to one call member. The media transport itself lives outside
// this layer; only the relay is modeled.
type CallSignalPayload struct {
	CallID   string          `json:"call_id"`
	TargetID string          `json:"target_id"`
	SenderID string          `json:"sender_id,omitempty"` // stamped by the hub on relay
	Kind     string          `json:"kind"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Call actions accepted by the hub.
const (
	CallActionInvite      = "invite"
	CallActionAccept      = "accept"
	CallActionDecline     = "decline"
	CallActionLeave       = "leave"
	CallActionEnd         = "end"
	CallActionMute        = "mute"
	CallActionUnmute      = "unmute"
	CallActionVideoOn     = "video_on"
	CallActionVideoOff    = "video_off"
	CallActionScreenStart = "screen_start"
	CallActionScreenStop  = "screen_stop"
)

// CallActionPayload is the outbound call_action command. TargetID and
// CallType are only meaningful for invite.
type CallActionPayload struct {
	CallID   string `json:"call_id"`
	Action   string `json:"action"`
	TargetID string `json:"target_id,omitempty"`
	CallType string `json:"call_type,omitempty"`
}

// NewFrame builds a frame for the given type and payload. The payload must
// be marshalable; in particular, any caller-supplied json.RawMessage (the
// call signal data) must hold valid JSON. A payload that fails to marshal
// yields a frame with an empty payload rather than an error.
func NewFrame(frameType string, payload any) *Frame {
	data, _ := json.Marshal(payload)
	return &Frame{Type: frameType, Payload: data}
}

// Encode serializes a frame to JSON bytes.
func (f *Frame) Encode() ([]byte, error) {
	return json.Marshal(f)
}

// Decode parses JSON bytes into a Frame.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("invalid frame: missing type")
	}
	return &f, nil
}

// DecodePayload unmarshals the frame payload into v.
func (f *Frame) DecodePayload(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", f.Type)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", f.Type, err)
	}
	return nil
}
