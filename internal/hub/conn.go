package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/markb/chatsync/internal/log"
	"github.com/markb/chatsync/internal/protocol"
)

const (
	// Send buffer size for outbound frames
	sendBufferSize = 256

	// Time allowed to write a frame
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message
	pongWait = 30 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = 25 * time.Second

	// Maximum frame size
	maxFrameSize = 256 * 1024 // 256KB
)

// Conn represents one principal's WebSocket connection.
type Conn struct {
	id          string
	principalID string
	userName    string
	ws          *websocket.Conn
	hub         *Hub
	send        chan []byte   // outbound frame queue
	done        chan struct{} // closed when connection ends
	closeOnce   sync.Once
}

// NewConn creates and registers a connection for a principal. A previous
// connection for the same principal is displaced and closed; presence
// events fire only on the offline/online edge.
func (h *Hub) NewConn(ws *websocket.Conn, principalID, userName string) *Conn {
	conn := &Conn{
		id:          uuid.New().String(),
		principalID: principalID,
		userName:    userName,
		ws:          ws,
		hub:         h,
		send:        make(chan []byte, sendBufferSize),
		done:        make(chan struct{}),
	}

	displaced, cameOnline := h.registerConn(conn)
	h.metrics.AddConnections(1)
	if displaced != nil {
		log.Debug("hub: displacing previous connection", "principal_id", principalID)
		displaced.closeSocketOnly()
	}
	if cameOnline {
		h.broadcast(protocol.NewFrame(protocol.EventPresenceUpdate, protocol.PresencePayload{
			UserID: principalID,
			Status: protocol.StatusOnline,
		}), conn.id)
	}

	// Authoritative snapshot for the joining connection.
	conn.Send(protocol.NewFrame(protocol.EventOnlineUsers, protocol.OnlineUsersPayload{
		Users: h.onlineUsers(),
	}))
	return conn
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// PrincipalID returns the principal the connection belongs to.
func (c *Conn) PrincipalID() string { return c.principalID }

// Send queues a frame for delivery, dropping it if the buffer is full.
func (c *Conn) Send(frame *protocol.Frame) {
	data, err := frame.Encode()
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		log.Warn("hub: send buffer full, dropping frame", "conn_id", c.id, "frame_type", frame.Type)
	}
}

// Close tears down the connection and fans out presence and call cleanup.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
		c.hub.metrics.AddConnections(-1)

		wentOffline, callEvents := c.hub.unregisterConn(c)
		for _, frame := range callEvents {
			c.hub.broadcast(frame, c.id)
		}
		if wentOffline {
			c.hub.broadcast(protocol.NewFrame(protocol.EventPresenceUpdate, protocol.PresencePayload{
				UserID: c.principalID,
				Status: "offline",
			}), c.id)
		}
	})
}

// closeSocketOnly closes a displaced socket without offline fan-out; the
// replacing connection keeps the principal online.
func (c *Conn) closeSocketOnly() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
		c.hub.metrics.AddConnections(-1)
	})
}

// ReadPump reads frames from the WebSocket until it fails.
func (c *Conn) ReadPump() {
	defer c.Close()

	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug("hub: read error", "conn_id", c.id, "error", err.Error())
			}
			return
		}

		c.hub.metrics.AddFramesReceived(1)
		frame, err := protocol.Decode(data)
		if err != nil {
			log.Debug("hub: invalid frame", "conn_id", c.id, "error", err.Error(), "len", len(data))
			continue
		}
		c.handleFrame(frame)
	}
}

// WritePump writes queued frames and pings until the connection ends.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			c.hub.metrics.AddFramesSent(1)

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// handleFrame routes inbound commands.
func (c *Conn) handleFrame(frame *protocol.Frame) {
	switch frame.Type {
	case protocol.CommandSendMessage:
		c.handleSendMessage(frame)
	case protocol.CommandTyping:
		c.handleTyping(frame)
	case protocol.CommandMarkRead:
		c.handleMarkRead(frame)
	case protocol.CommandSendReaction:
		c.handleSendReaction(frame)
	case protocol.CommandCallSignal:
		c.handleCallSignal(frame)
	case protocol.CommandCallAction:
		c.handleCallAction(frame)
	default:
		log.Debug("hub: unknown frame type", "conn_id", c.id, "frame_type", frame.Type)
	}
}

func (c *Conn) handleSendMessage(frame *protocol.Frame) {
	var p protocol.SendMessagePayload
	if err := frame.DecodePayload(&p); err != nil || p.Conversation.ID == "" {
		return
	}

	msg := protocol.MessagePayload{
		ID:           uuid.New().String(),
		SenderID:     c.principalID,
		SenderName:   c.userName,
		Conversation: p.Conversation,
		Content:      p.Content,
		Timestamp:    time.Now().UTC(),
	}
	c.hub.recordMessage(msg.ID, msg.Conversation)

	// The sender receives the authoritative copy too; its local store
	// appends from the broadcast like everyone else.
	c.hub.broadcast(protocol.NewFrame(protocol.EventNewMessage, msg), "")
}

func (c *Conn) handleTyping(frame *protocol.Frame) {
	var p protocol.TypingPayload
	if err := frame.DecodePayload(&p); err != nil || p.Conversation.ID == "" {
		return
	}

	// The hub, not the client, decides whose typing state this is.
	p.UserID = c.principalID
	if p.UserName == "" {
		p.UserName = c.userName
	}
	c.hub.broadcast(protocol.NewFrame(protocol.EventTyping, p), c.id)
}

func (c *Conn) handleMarkRead(frame *protocol.Frame) {
	var p protocol.MarkReadPayload
	if err := frame.DecodePayload(&p); err != nil || p.MessageID == "" {
		return
	}
	c.hub.markRead(c.principalID, p.Conversation, p.MessageID)
}

func (c *Conn) handleSendReaction(frame *protocol.Frame) {
	var p protocol.SendReactionPayload
	if err := frame.DecodePayload(&p); err != nil || p.MessageID == "" || p.Emoji == "" {
		return
	}

	reactions, conv, ok := c.hub.toggleReaction(p.MessageID, c.principalID, p.Emoji)
	if !ok {
		// Reaction for a message outside the tracked window.
		return
	}
	c.hub.broadcast(protocol.NewFrame(protocol.EventMessageReaction, protocol.ReactionPayload{
		MessageID:    p.MessageID,
		Conversation: conv,
		Reactions:    reactions,
	}), "")
}

func (c *Conn) handleCallSignal(frame *protocol.Frame) {
	var p protocol.CallSignalPayload
	if err := frame.DecodePayload(&p); err != nil || p.TargetID == "" {
		return
	}

	p.SenderID = c.principalID
	if !c.hub.sendToPrincipal(p.TargetID, protocol.NewFrame(protocol.EventCallSignal, p)) {
		log.Debug("hub: call signal target offline", "target_id", p.TargetID)
	}
}

func (c *Conn) handleCallAction(frame *protocol.Frame) {
	var p protocol.CallActionPayload
	if err := frame.DecodePayload(&p); err != nil {
		return
	}

	switch p.Action {
	case protocol.CallActionInvite:
		c.handleCallInvite(p)
	case protocol.CallActionAccept:
		if p.CallID != "" && c.hub.joinCall(p.CallID, c.principalID, c.userName) {
			c.hub.broadcast(protocol.NewFrame(protocol.EventParticipantJoined, protocol.ParticipantPayload{
				CallID:   p.CallID,
				UserID:   c.principalID,
				UserName: c.userName,
			}), "")
		}
	case protocol.CallActionDecline:
		c.hub.broadcast(protocol.NewFrame(protocol.EventCallDeclined, protocol.CallLifecyclePayload{
			CallID: p.CallID,
			UserID: c.principalID,
		}), "")
	case protocol.CallActionLeave:
		left, emptied := c.hub.leaveCall(p.CallID, c.principalID)
		if left {
			c.hub.broadcast(protocol.NewFrame(protocol.EventParticipantLeft, protocol.ParticipantPayload{
				CallID: p.CallID,
				UserID: c.principalID,
			}), "")
		}
		if emptied {
			c.hub.broadcast(protocol.NewFrame(protocol.EventCallEnded, protocol.CallLifecyclePayload{
				CallID: p.CallID,
			}), "")
		}
	case protocol.CallActionEnd:
		if c.hub.endCall(p.CallID) {
			c.hub.broadcast(protocol.NewFrame(protocol.EventCallEnded, protocol.CallLifecyclePayload{
				CallID: p.CallID,
				UserID: c.principalID,
			}), "")
		}
	case protocol.CallActionMute, protocol.CallActionUnmute:
		c.broadcastFlag(p.CallID, protocol.EventParticipantMute, protocol.ParticipantMutePayload{
			CallID:  p.CallID,
			UserID:  c.principalID,
			IsMuted: p.Action == protocol.CallActionMute,
		})
	case protocol.CallActionVideoOn, protocol.CallActionVideoOff:
		c.broadcastFlag(p.CallID, protocol.EventParticipantVideo, protocol.ParticipantVideoPayload{
			CallID:    p.CallID,
			UserID:    c.principalID,
			IsVideoOn: p.Action == protocol.CallActionVideoOn,
		})
	case protocol.CallActionScreenStart, protocol.CallActionScreenStop:
		c.broadcastFlag(p.CallID, protocol.EventParticipantScreenShare, protocol.ParticipantScreenSharePayload{
			CallID:          p.CallID,
			UserID:          c.principalID,
			IsScreenSharing: p.Action == protocol.CallActionScreenStart,
		})
	default:
		log.Debug("hub: unknown call action", "conn_id", c.id, "action", p.Action)
	}
}

func (c *Conn) handleCallInvite(p protocol.CallActionPayload) {
	if p.TargetID == "" {
		return
	}
	callID, roomID := c.hub.startCall(p.CallID, c.principalID, c.userName, p.CallType)

	c.hub.broadcast(protocol.NewFrame(protocol.EventParticipantJoined, protocol.ParticipantPayload{
		CallID:   callID,
		UserID:   c.principalID,
		UserName: c.userName,
	}), "")

	c.hub.sendToPrincipal(p.TargetID, protocol.NewFrame(protocol.EventIncomingCall, protocol.IncomingCallPayload{
		CallID:        callID,
		InitiatorID:   c.principalID,
		InitiatorName: c.userName,
		CallType:      p.CallType,
		RoomID:        roomID,
	}))
}

// broadcastFlag relays a participant flag change if the sender is actually
// in the call.
func (c *Conn) broadcastFlag(callID, eventType string, payload any) {
	if !c.hub.inCall(callID, c.principalID) {
		return
	}
	c.hub.broadcast(protocol.NewFrame(eventType, payload), "")
}
