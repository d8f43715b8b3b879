// internal/hub/conn_test.go
package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/markb/chatsync/internal/observability"
	"github.com/markb/chatsync/internal/protocol"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type wsClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func dialClient(t *testing.T, srv *httptest.Server, principalID, userName string) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?principal_id=" + principalID + "&user_name=" + userName
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return &wsClient{t: t, ws: ws}
}

// expect reads frames until one of the wanted type arrives.
func (c *wsClient) expect(frameType string) *protocol.Frame {
	c.t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", frameType, err)
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			c.t.Fatalf("invalid frame: %v", err)
		}
		if frame.Type == frameType {
			return frame
		}
	}
}

func (c *wsClient) send(frame *protocol.Frame) {
	c.t.Helper()
	data, err := frame.Encode()
	if err != nil {
		c.t.Fatalf("encode failed: %v", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.t.Fatalf("write failed: %v", err)
	}
}

func TestWebSocketLifecycle(t *testing.T) {
	svc := NewService(Config{})
	srv := httptest.NewServer(http.HandlerFunc(svc.HandleWebSocket))
	defer srv.Close()

	alice := dialClient(t, srv, "u1", "Alice")

	// The joining connection gets the authoritative snapshot.
	var snapshot protocol.OnlineUsersPayload
	if err := alice.expect(protocol.EventOnlineUsers).DecodePayload(&snapshot); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if len(snapshot.Users) != 1 || snapshot.Users[0] != "u1" {
		t.Errorf("snapshot mismatch: %v", snapshot.Users)
	}

	bob := dialClient(t, srv, "u2", "Bob")
	bob.expect(protocol.EventOnlineUsers)

	// Existing connections see the newcomer come online.
	var presence protocol.PresencePayload
	if err := alice.expect(protocol.EventPresenceUpdate).DecodePayload(&presence); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if presence.UserID != "u2" || presence.Status != protocol.StatusOnline {
		t.Errorf("presence mismatch: %+v", presence)
	}

	// Messages fan out to everyone, sender included.
	conv := protocol.ConversationRef{Kind: protocol.KindChannel, ID: "general"}
	alice.send(protocol.NewSendMessageCommand(conv, "hello"))

	var msg protocol.MessagePayload
	if err := bob.expect(protocol.EventNewMessage).DecodePayload(&msg); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if msg.SenderID != "u1" || msg.SenderName != "Alice" || msg.Content != "hello" {
		t.Errorf("message mismatch: %+v", msg)
	}
	alice.expect(protocol.EventNewMessage)

	// Dropping Bob takes him offline for everyone else.
	bob.ws.Close()
	if err := alice.expect(protocol.EventPresenceUpdate).DecodePayload(&presence); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if presence.UserID != "u2" || presence.Status == protocol.StatusOnline {
		t.Errorf("expected u2 offline, got %+v", presence)
	}
}

// collectSums reads every int64 sum instrument into a name -> total map.
func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				sums[m.Name] = total
			}
		}
	}
	return sums
}

func TestConnectionLifecycleRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := observability.InitMetrics(mp)
	if err != nil {
		t.Fatalf("init metrics: %v", err)
	}

	svc := NewService(Config{Metrics: metrics})
	srv := httptest.NewServer(http.HandlerFunc(svc.HandleWebSocket))
	defer srv.Close()

	alice := dialClient(t, srv, "u1", "Alice")
	alice.expect(protocol.EventOnlineUsers)

	conv := protocol.ConversationRef{Kind: protocol.KindChannel, ID: "general"}
	alice.send(protocol.NewSendMessageCommand(conv, "hello"))
	alice.expect(protocol.EventNewMessage)

	// The write pump records after the socket write, so the sent count can
	// trail the client's read by an instant.
	deadline := time.Now().Add(2 * time.Second)
	var sums map[string]int64
	for time.Now().Before(deadline) {
		sums = collectSums(t, reader)
		if sums["sync.hub.frames_sent"] >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := sums["sync.hub.connections"]; got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}
	if got := sums["sync.hub.frames_received"]; got < 1 {
		t.Errorf("frames_received = %d, want at least 1", got)
	}
	if got := sums["sync.hub.frames_sent"]; got < 2 {
		t.Errorf("frames_sent = %d, want at least 2", got)
	}
}
