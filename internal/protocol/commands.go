package protocol

import "encoding/json"

// NewSendMessageCommand builds an outbound send_message frame.
func NewSendMessageCommand(conv ConversationRef, content string) *Frame {
	return NewFrame(CommandSendMessage, SendMessagePayload{
		Conversation: conv,
		Content:      content,
	})
}

// NewTypingCommand builds an outbound typing frame.
func NewTypingCommand(conv ConversationRef, userID, userName string, isTyping bool) *Frame {
	return NewFrame(CommandTyping, TypingPayload{
		Conversation: conv,
		UserID:       userID,
		UserName:     userName,
		IsTyping:     isTyping,
	})
}

// NewMarkReadCommand builds an outbound mark_read frame.
func NewMarkReadCommand(conv ConversationRef, messageID string) *Frame {
	return NewFrame(CommandMarkRead, MarkReadPayload{
		Conversation: conv,
		MessageID:    messageID,
	})
}

// NewSendReactionCommand builds an outbound send_reaction frame.
func NewSendReactionCommand(conv ConversationRef, messageID, emoji string) *Frame {
	return NewFrame(CommandSendReaction, SendReactionPayload{
		Conversation: conv,
		MessageID:    messageID,
		Emoji:        emoji,
	})
}

// NewCallSignalCommand builds an outbound call_signal frame. Data is an
// opaque signaling blob relayed to the target untouched.
func NewCallSignalCommand(callID, targetID, kind string, data json.RawMessage) *Frame {
	return NewFrame(CommandCallSignal, CallSignalPayload{
		CallID:   callID,
		TargetID: targetID,
		Kind:     kind,
		Data:     data,
	})
}

// NewCallActionCommand builds an outbound call_action frame.
func NewCallActionCommand(callID, action string) *Frame {
	return NewFrame(CommandCallAction, CallActionPayload{
		CallID: callID,
		Action: action,
	})
}

// NewCallInviteCommand builds an outbound invite call_action frame. An
// empty callID asks the hub to mint one.
func NewCallInviteCommand(callID, targetID, callType string) *Frame {
	return NewFrame(CommandCallAction, CallActionPayload{
		CallID:   callID,
		Action:   CallActionInvite,
		TargetID: targetID,
		CallType: callType,
	})
}
