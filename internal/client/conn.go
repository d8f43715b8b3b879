package client

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/markb/chatsync/internal/log"
	"github.com/markb/chatsync/internal/protocol"
)

const (
	// Dial timeout for each connection attempt
	dialTimeout = 10 * time.Second

	// Default bound on consecutive reconnect attempts
	defaultMaxRetries = 8

	// Reconnect backoff bounds
	initialRetryInterval = 500 * time.Millisecond
	maxRetryInterval     = 30 * time.Second
)

// ConnState is the lifecycle state of the logical connection.
type ConnState int

const (
	StateClosed ConnState = iota
	StateConnecting
	StateOpen
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "closed"
	}
}

// Socket abstracts the transport connection so ConnManager can be tested
// without a real server. *websocket.Conn satisfies this interface.
type Socket interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a physical connection for a principal.
type Dialer func(ctx context.Context, rawURL, principalID string) (Socket, error)

// ConnConfig holds connection parameters.
type ConnConfig struct {
	URL        string // websocket endpoint, e.g. "ws://localhost:8080/sync/v1/ws"
	Token      string // optional bearer token forwarded to the hub
	UserName   string // display name forwarded to the hub
	MaxRetries int    // consecutive reconnect attempts before giving up
	Dial       Dialer // test injection; defaults to a gorilla websocket dialer
}

// ConnManager owns the lifecycle of one logical connection per principal:
// connect, disconnect, reconnect with exponential backoff, and outbound
// framing. Every successfully parsed inbound frame is handed to the bus
// exactly once, in receipt order.
type ConnManager struct {
	cfg ConnConfig
	bus *Bus

	mu          sync.Mutex
	state       ConnState
	ws          Socket
	principalID string
	retry       *backoff.ExponentialBackOff
	retryTimer  *time.Timer
	attempts    int
	gen         int // bumped on every dial and teardown; guards stale read loops

	onConnect    func()
	onDisconnect func()
	onError      func(error)
}

// NewConnManager creates a connection manager dispatching into bus.
func NewConnManager(cfg ConnConfig, bus *Bus) *ConnManager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Dial == nil {
		cfg.Dial = gorillaDialer(cfg.Token, cfg.UserName)
	}
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = initialRetryInterval
	retry.MaxInterval = maxRetryInterval
	return &ConnManager{cfg: cfg, bus: bus, retry: retry}
}

// OnConnect sets the callback fired after the connection opens. Set before
// calling Connect.
func (m *ConnManager) OnConnect(fn func()) { m.onConnect = fn }

// OnDisconnect sets the callback fired when the connection closes for good,
// either by explicit Disconnect or after reconnect attempts are exhausted.
func (m *ConnManager) OnDisconnect(fn func()) { m.onDisconnect = fn }

// OnError sets the callback fired on transport errors. Transport errors are
// not fatal; they trigger reconnection.
func (m *ConnManager) OnError(fn func(error)) { m.onError = fn }

// State returns the current connection state.
func (m *ConnManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PrincipalID returns the principal the connection is keyed by.
func (m *ConnManager) PrincipalID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.principalID
}

// Connect opens the connection for the given principal. It is a no-op if
// already open or connecting for that principal. A failed dial schedules a
// reconnect and returns the dial error.
func (m *ConnManager) Connect(principalID string) error {
	if principalID == "" {
		return ErrNoPrincipal
	}

	m.mu.Lock()
	if m.state == StateOpen || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.principalID = principalID
	m.attempts = 0
	m.retry.Reset()
	m.mu.Unlock()

	return m.dial()
}

// Disconnect performs scoped teardown: closes the physical connection,
// cancels any pending reconnect, and fires onDisconnect. Safe to call on
// every exit path of the owning consumer's lifecycle.
func (m *ConnManager) Disconnect() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	ws := m.ws
	m.ws = nil
	m.state = StateClosed
	m.gen++
	m.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	log.Debug("conn: disconnected", "principal_id", m.PrincipalID())
	if m.onDisconnect != nil {
		m.onDisconnect()
	}
}

// Send serializes and writes a frame if the connection is open. While not
// open it fails with ErrNotConnected rather than silently buffering.
func (m *ConnManager) Send(frame *protocol.Frame) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateOpen || m.ws == nil {
		return ErrNotConnected
	}
	return m.ws.WriteMessage(websocket.TextMessage, data)
}

// dial performs one connection attempt for the current principal.
func (m *ConnManager) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	ws, err := m.cfg.Dial(ctx, m.cfg.URL, m.principalID)
	if err != nil {
		log.Warn("conn: dial failed", "principal_id", m.principalID, "error", err.Error())
		if m.onError != nil {
			m.onError(err)
		}
		m.scheduleReconnect()
		return err
	}

	m.mu.Lock()
	if m.state == StateClosed {
		// Disconnect raced the dial; discard the fresh socket.
		m.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	m.ws = ws
	m.state = StateOpen
	m.attempts = 0
	m.retry.Reset()
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	log.Info("conn: open", "principal_id", m.principalID)
	if m.onConnect != nil {
		m.onConnect()
	}
	go m.readLoop(ws, gen)
	return nil
}

// readLoop reads frames until the socket fails, dispatching each parsed
// frame synchronously so ordering matches transport delivery.
func (m *ConnManager) readLoop(ws Socket, gen int) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			m.handleReadError(gen, err)
			return
		}

		frame, derr := protocol.Decode(data)
		if derr != nil {
			log.Debug("conn: dropping invalid frame", "error", derr.Error(), "len", len(data))
			continue
		}
		m.bus.Dispatch(frame)
	}
}

func (m *ConnManager) handleReadError(gen int, err error) {
	m.mu.Lock()
	if m.gen != gen || m.state == StateClosed {
		// Stale loop from a torn-down socket.
		m.mu.Unlock()
		return
	}
	if m.ws != nil {
		m.ws.Close()
		m.ws = nil
	}
	m.state = StateReconnecting
	m.mu.Unlock()

	log.Warn("conn: connection lost", "principal_id", m.principalID, "error", err.Error())
	if m.onError != nil {
		m.onError(err)
	}
	m.scheduleReconnect()
}

func (m *ConnManager) scheduleReconnect() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.attempts++
	if m.attempts > m.cfg.MaxRetries {
		m.state = StateClosed
		m.retryTimer = nil
		m.mu.Unlock()
		log.Error("conn: giving up after max reconnect attempts", "attempts", m.cfg.MaxRetries)
		if m.onDisconnect != nil {
			m.onDisconnect()
		}
		return
	}
	m.state = StateReconnecting
	delay := m.retry.NextBackOff()
	attempt := m.attempts
	m.retryTimer = time.AfterFunc(delay, m.redial)
	m.mu.Unlock()

	log.Info("conn: reconnect scheduled", "attempt", attempt, "delay", delay.String())
}

// redial re-invokes the dial path with the same principal.
func (m *ConnManager) redial() {
	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.retryTimer = nil
	m.mu.Unlock()

	m.dial()
}

// gorillaDialer returns the default production dialer. The principal id,
// display name, and optional token travel as query parameters, matching
// the hub's upgrade endpoint.
func gorillaDialer(token, userName string) Dialer {
	return func(ctx context.Context, rawURL, principalID string) (Socket, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("principal_id", principalID)
		if userName != "" {
			q.Set("user_name", userName)
		}
		if token != "" {
			q.Set("token", token)
		}
		u.RawQuery = q.Encode()

		ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, err
		}
		return ws, nil
	}
}
