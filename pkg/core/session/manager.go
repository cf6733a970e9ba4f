// Package session manages the WebSocket connection to the Kurisu
// backend: connecting, sending commands, decoding server events, and
// reconnecting with exponential backoff after unexpected drops.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Status describes the connection lifecycle state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusDraining
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDraining:
		return "draining"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

var (
	// ErrNoToken is returned when connecting without an auth token.
	ErrNoToken = errors.New("session: no auth token set")

	// ErrConnectTimeout is returned when the WebSocket handshake does
	// not complete within the configured timeout.
	ErrConnectTimeout = errors.New("session: connect timeout")

	// ErrNotConnected is returned by send operations when there is no
	// open connection. Sends never trigger an implicit connect.
	ErrNotConnected = errors.New("session: not connected")
)

// TransportError wraps a failure in the underlying WebSocket transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session: transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Config controls connection behavior.
type Config struct {
	// BackendURL is the HTTP(S) base URL of the backend. The chat
	// socket lives at {BackendURL}/ws/chat with the scheme switched
	// to ws(s).
	BackendURL string

	// Token is the bearer token passed as a query parameter on the
	// WebSocket URL. It can be set later with SetToken.
	Token string

	// ConnectTimeout bounds the WebSocket handshake.
	ConnectTimeout time.Duration

	// BackoffBase and BackoffCap shape the reconnect delay:
	// min(BackoffBase * 2^(attempt-1), BackoffCap).
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// SubscriberBuffer is the channel capacity for each subscriber.
	// Events are dropped per-subscriber when the buffer is full.
	SubscriberBuffer int
}

// DefaultConfig returns the standard connection settings.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   15 * time.Second,
		BackoffBase:      time.Second,
		BackoffCap:       10 * time.Second,
		SubscriberBuffer: 64,
	}
}

// Manager owns a single WebSocket connection to the backend and fans
// decoded events out to subscribers. All methods are safe for
// concurrent use.
type Manager struct {
	cfg    Config
	log    *slog.Logger
	dialer *websocket.Dialer

	// connectMu serializes dial attempts so at most one is in flight.
	connectMu sync.Mutex

	mu                sync.Mutex
	conn              *websocket.Conn
	token             string
	status            Status
	intentionalClose  bool
	reconnectAttempts int
	reconnectTimer    *time.Timer

	// writeMu serializes frame writes on the shared connection.
	writeMu sync.Mutex

	subMu sync.Mutex
	subs  []chan Event
}

// NewManager creates a session manager. It does not connect; call
// Connect or let SendChat connect on demand.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = def.BackoffCap
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}
	return &Manager{
		cfg:    cfg,
		log:    logger.With("component", "session"),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		token:  cfg.Token,
	}
}

// SetToken stores the auth token used for subsequent connects.
func (m *Manager) SetToken(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

// ClearToken removes the auth token and stops any pending reconnect.
func (m *Manager) ClearToken() {
	m.mu.Lock()
	m.token = ""
	m.stopReconnectLocked()
	m.mu.Unlock()
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connected reports whether the socket is open.
func (m *Manager) Connected() bool {
	return m.Status() == StatusConnected
}

// Connect opens the WebSocket connection. It is a no-op when already
// connected, and concurrent callers share a single dial attempt.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.token == "" {
		m.mu.Unlock()
		return ErrNoToken
	}
	if m.status == StatusConnected {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	// Another caller may have completed the dial while we waited.
	m.mu.Lock()
	if m.status == StatusConnected {
		m.mu.Unlock()
		return nil
	}
	if m.token == "" {
		m.mu.Unlock()
		return ErrNoToken
	}
	m.status = StatusConnecting
	m.intentionalClose = false
	token := m.token
	m.mu.Unlock()

	wsURL, err := chatSocketURL(m.cfg.BackendURL, token)
	if err != nil {
		m.setStatus(StatusDisconnected)
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := m.dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		m.setStatus(StatusDisconnected)
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("connect to %s: %w", m.cfg.BackendURL, ErrConnectTimeout)
		}
		if resp != nil {
			return &TransportError{Op: "dial", Err: fmt.Errorf("%w (status %d)", err, resp.StatusCode)}
		}
		return &TransportError{Op: "dial", Err: err}
	}

	m.mu.Lock()
	if m.intentionalClose {
		// Disconnect raced the dial; discard the fresh connection.
		m.status = StatusDisconnected
		m.mu.Unlock()
		conn.Close()
		return fmt.Errorf("connect aborted: %w", ErrNotConnected)
	}
	m.conn = conn
	m.status = StatusConnected
	m.reconnectAttempts = 0
	m.mu.Unlock()

	m.log.Info("connected", "backend", m.cfg.BackendURL)
	go m.readLoop(conn)
	return nil
}

// Disconnect closes the connection without scheduling a reconnect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.intentionalClose = true
	m.stopReconnectLocked()
	m.reconnectAttempts = 0
	conn := m.conn
	m.conn = nil
	if conn != nil {
		m.status = StatusDraining
	} else {
		m.status = StatusDisconnected
	}
	m.mu.Unlock()

	if conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	conn.Close()
	m.setStatus(StatusDisconnected)
	m.log.Info("disconnected")
}

// Close disconnects and closes all subscriber channels.
func (m *Manager) Close() error {
	m.Disconnect()
	m.subMu.Lock()
	subs := m.subs
	m.subs = nil
	m.subMu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
	return nil
}

// Subscribe registers an event subscriber. The returned cancel func
// unregisters it and closes the channel. Slow subscribers lose events
// rather than blocking the read loop.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, m.cfg.SubscriberBuffer)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.subMu.Lock()
			found := false
			for i, s := range m.subs {
				if s == ch {
					m.subs = append(m.subs[:i], m.subs[i+1:]...)
					found = true
					break
				}
			}
			m.subMu.Unlock()
			if found {
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Send writes a command on the open connection. It fails with
// ErrNotConnected rather than connecting implicitly.
func (m *Manager) Send(cmd Command) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.status == StatusConnected
	m.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	stampCommand(cmd)
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteJSON(cmd); err != nil {
		return &TransportError{Op: "write " + cmd.CommandType(), Err: err}
	}
	return nil
}

// SendChat connects if needed, then submits a chat request.
func (m *Manager) SendChat(ctx context.Context, req *ChatRequest) error {
	if err := m.EnsureConnected(ctx); err != nil {
		return err
	}
	return m.Send(req)
}

// StartVision connects if needed, then opens a vision stream.
func (m *Manager) StartVision(ctx context.Context) error {
	if err := m.EnsureConnected(ctx); err != nil {
		return err
	}
	return m.Send(&VisionStart{})
}

// SendVisionFrame submits a camera frame on the open connection.
func (m *Manager) SendVisionFrame(frame *VisionFrame) error {
	return m.Send(frame)
}

// StopVision closes the vision stream. It is a no-op when disconnected.
func (m *Manager) StopVision() {
	if err := m.Send(&VisionStop{}); err != nil && !errors.Is(err, ErrNotConnected) {
		m.log.Warn("vision stop failed", "error", err)
	}
}

// Cancel aborts the in-flight reply. It is a no-op when disconnected.
func (m *Manager) Cancel() {
	if err := m.Send(&CancelRequest{}); err != nil && !errors.Is(err, ErrNotConnected) {
		m.log.Warn("cancel failed", "error", err)
	}
}

// RespondToolApproval answers a pending tool approval request.
func (m *Manager) RespondToolApproval(approvalID string, approved bool) error {
	return m.Send(&ToolApprovalResponse{ApprovalID: approvalID, Approved: approved})
}

// EnsureConnected connects when there is no open connection.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	if m.Connected() {
		return nil
	}
	return m.Connect(ctx)
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}

		var env eventEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			m.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		switch env.Type {
		case "ping":
			m.writeRaw(conn, []byte(`{"type":"pong"}`))
			continue
		case "pong":
			continue
		}

		event, err := decodeEvent(data)
		if err != nil {
			m.log.Warn("dropping undecodable event", "type", env.Type, "error", err)
			continue
		}
		if unk, ok := event.(*UnknownEvent); ok {
			m.log.Debug("dropping unknown event type", "type", unk.Type)
			continue
		}
		m.publish(event)
	}
}

func (m *Manager) handleDisconnect(conn *websocket.Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		// A newer connection or an intentional disconnect already
		// superseded this read loop.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.status = StatusDisconnected
	shouldReconnect := !m.intentionalClose && m.token != ""
	m.mu.Unlock()
	conn.Close()

	if !shouldReconnect {
		m.log.Info("connection closed", "cause", cause)
		return
	}

	m.log.Warn("connection lost", "cause", cause)
	m.publish(&ErrorEvent{
		Timestamp: timestamp(),
		Error:     "Connection lost. Reconnecting...",
		Code:      ErrorCodeConnectionLost,
	})
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.intentionalClose || m.token == "" {
		m.mu.Unlock()
		return
	}
	m.reconnectAttempts++
	attempt := m.reconnectAttempts
	delay := backoffDelay(m.cfg.BackoffBase, m.cfg.BackoffCap, attempt)
	m.stopReconnectLocked()
	m.reconnectTimer = time.AfterFunc(delay, m.tryReconnect)
	m.mu.Unlock()

	m.log.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

func (m *Manager) tryReconnect() {
	m.mu.Lock()
	if m.intentionalClose || m.token == "" || m.status == StatusConnected {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.Connect(context.Background()); err != nil {
		m.log.Warn("reconnect attempt failed", "error", err)
		m.scheduleReconnect()
		return
	}
	m.publish(&ReconnectedEvent{Timestamp: timestamp()})
}

// stopReconnectLocked stops the pending reconnect timer. Callers must
// hold m.mu.
func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) writeRaw(conn *websocket.Conn, data []byte) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.log.Warn("control write failed", "error", err)
	}
}

func (m *Manager) publish(event Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- event:
		default:
			m.log.Warn("subscriber lagging, dropping event", "type", event.EventType())
		}
	}
}

// backoffDelay returns min(base * 2^(attempt-1), limit).
func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit || d <= 0 {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// chatSocketURL converts the HTTP base URL into the chat WebSocket URL
// with the token attached.
func chatSocketURL(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported backend url scheme %q", u.Scheme)
	}
	u.Path = joinPath(u.Path, "/ws/chat")
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func joinPath(prefix, suffix string) string {
	for len(prefix) > 0 && prefix[len(prefix)-1] == '/' {
		prefix = prefix[:len(prefix)-1]
	}
	return prefix + suffix
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
