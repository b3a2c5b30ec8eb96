package connection

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/filip-herceg/ReViewPoint-sub010/bus"
	"github.com/filip-herceg/ReViewPoint-sub010/config"
	"github.com/filip-herceg/ReViewPoint-sub010/errors"
	"github.com/filip-herceg/ReViewPoint-sub010/event"
	"github.com/filip-herceg/ReViewPoint-sub010/metric"
	"github.com/filip-herceg/ReViewPoint-sub010/pkg/retry"
	"github.com/filip-herceg/ReViewPoint-sub010/ratelimit"
)

// Manager owns the single duplex channel to the server. It implements the
// connection lifecycle state machine, reconnection with backoff, heartbeat
// liveness checks, and the decode-and-dispatch path onto the event bus.
//
// The manager is the single writer of its Session; every other component
// reads snapshots. Decoded events are dispatched synchronously on the read
// goroutine, so listeners observe them in exact arrival order.
type Manager struct {
	cfg     config.Config
	bus     *bus.Bus
	gate    *ratelimit.Gate
	logger  *slog.Logger
	metrics *metric.Metrics
	dialer  *websocket.Dialer
	backoff retry.Config

	mu       sync.Mutex
	state    State
	connID   string
	attempts int
	lastErr  error
	conn     *websocket.Conn
	hb       *heartbeat

	// gen identifies the current connection epoch. Disconnect and every
	// teardown bump it, so stale read loops, heartbeat callbacks, and
	// reconnect timers from a previous epoch are ignored.
	gen uint64

	reconnectTimer *time.Timer

	// Subscription set requested from the server, in request order. Queued
	// in any state and flushed on every connect.
	subscribed map[event.Type]struct{}
	subOrder   []event.Type

	// writeMu serializes frame writes on the shared connection.
	writeMu sync.Mutex
}

// NewManager creates a connection manager for the given configuration and
// event bus. The configuration is validated; the bus is required.
func NewManager(cfg config.Config, b *bus.Bus, opts ...Option) (*Manager, error) {
	if b == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("event bus is required"),
			"Manager", "NewManager", "validate dependencies")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:    cfg,
		bus:    b,
		logger: slog.Default(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.Endpoint.HandshakeTimeout,
		},
		backoff: retry.Config{
			MaxAttempts:  cfg.Reconnect.MaxAttempts,
			InitialDelay: cfg.Reconnect.BaseDelay,
			MaxDelay:     cfg.Reconnect.MaxDelay,
			Multiplier:   cfg.Reconnect.Multiplier,
			AddJitter:    cfg.Reconnect.Jitter,
		},
		state:      StateDisconnected,
		subscribed: make(map[event.Type]struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.gate == nil {
		m.gate = ratelimit.NewGate(cfg.RateLimit.Messages, cfg.RateLimit.Window,
			ratelimit.WithLogger(m.logger),
			ratelimit.WithMetrics(m.metrics))
	}

	return m, nil
}

// Session returns a read-only snapshot of the connection state.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Session{
		State:             m.state,
		ConnectionID:      m.connID,
		ReconnectAttempts: m.attempts,
		LastError:         m.lastErr,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect requests a channel open. It is a no-op while already Connected or
// Connecting. From Reconnecting it preempts the pending retry timer and
// dials immediately; Error requires this explicit call to leave, there is no
// silent auto-recovery.
//
// A transient dial failure returns the error and schedules automatic
// retries; a handshake-level rejection returns the error, moves to Error,
// and schedules nothing, since retrying a rejected credential is futile.
// Success is completed asynchronously by the server's
// connection.established frame.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateConnected, StateConnecting:
		m.mu.Unlock()
		return nil
	case StateReconnecting:
		m.stopReconnectTimerLocked()
	}
	m.lastErr = nil
	m.attempts = 0
	m.setStateLocked(StateConnecting)
	gen := m.gen
	m.mu.Unlock()

	m.logger.Info("connecting", "url", m.cfg.Endpoint.URL)
	return m.dial(ctx, gen)
}

// Disconnect deliberately closes the channel. Any state transitions to
// Disconnected; pending reconnect and heartbeat timers are cancelled before
// returning, so no stale timer can revive a manually closed connection.
// Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopReconnectTimerLocked()
	m.stopHeartbeatLocked()
	conn := m.conn
	m.conn = nil
	m.connID = ""
	m.lastErr = nil
	m.attempts = 0
	alreadyDown := m.state == StateDisconnected
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
			deadline)
		_ = conn.Close()
	}

	if !alreadyDown {
		m.logger.Info("disconnected")
	}
}

// Subscribe records the given event types in the subscription set and, when
// connected, sends the full set to the server through the rate limiter. In
// any other state the request is queued and flushed on the next connect.
func (m *Manager) Subscribe(types ...event.Type) error {
	if len(types) == 0 {
		return nil
	}
	for _, t := range types {
		if !t.Known() {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %q", errors.ErrUnknownEventType, t),
				"Manager", "Subscribe", "validate event types")
		}
	}

	m.mu.Lock()
	for _, t := range types {
		if _, ok := m.subscribed[t]; !ok {
			m.subscribed[t] = struct{}{}
			m.subOrder = append(m.subOrder, t)
		}
	}
	connected := m.state == StateConnected
	pending := append([]event.Type(nil), m.subOrder...)
	gen := m.gen
	m.mu.Unlock()

	if connected {
		m.sendSubscribe(gen, pending)
	}
	return nil
}

// dial performs one handshake attempt for the given epoch.
func (m *Manager) dial(ctx context.Context, gen uint64) error {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.Endpoint.HandshakeTimeout)
	defer cancel()

	conn, resp, err := m.dialer.DialContext(dialCtx, m.cfg.Endpoint.URL, m.authHeaders())
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if isHandshakeRejection(resp) {
			rejected := errors.WrapFatal(
				fmt.Errorf("%w: server returned %s", errors.ErrHandshakeRejected, resp.Status),
				"Manager", "Connect", "handshake")
			m.dialRejected(gen, rejected)
			return rejected
		}
		transient := errors.WrapTransient(err, "Manager", "Connect", "dial endpoint")
		m.dialFailed(gen, transient)
		return transient
	}

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	m.conn = conn
	m.mu.Unlock()

	go m.readLoop(conn, gen)
	return nil
}

// readLoop receives frames for one connection epoch, decodes them at the
// boundary, and dispatches events in arrival order.
func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.connectionBroken(gen,
				errors.WrapTransient(err, "Manager", "readLoop", "read frame"))
			return
		}

		ev, decodeErr := event.Decode(data)
		if decodeErr != nil {
			m.logger.Warn("dropping frame", "error", decodeErr)
			if m.metrics != nil {
				m.metrics.RecordFrameDropped(dropReason(decodeErr))
			}
			continue
		}

		m.handleEvent(gen, ev)
	}
}

// handleEvent applies internal transitions first, then fans the event out,
// so listeners always observe state consistent with the event they receive.
func (m *Manager) handleEvent(gen uint64, ev event.Event) {
	switch e := ev.(type) {
	case event.ConnectionEstablished:
		m.handleEstablished(gen, e)
	case event.Pong:
		m.handlePong(gen)
	}
	m.bus.Emit(ev)
}

// handleEstablished completes the Connecting -> Connected transition.
func (m *Manager) handleEstablished(gen uint64, e event.ConnectionEstablished) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.state == StateConnected {
		// Server re-announced the session; refresh the id only.
		m.connID = e.ConnectionID
		m.mu.Unlock()
		return
	}
	if m.state != StateConnecting {
		m.mu.Unlock()
		return
	}

	m.connID = e.ConnectionID
	m.lastErr = nil
	m.attempts = 0
	m.setStateLocked(StateConnected)
	m.startHeartbeatLocked(gen)
	pending := append([]event.Type(nil), m.subOrder...)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordConnection()
	}
	m.logger.Info("connection established", "connection_id", e.ConnectionID)

	if len(pending) > 0 {
		m.sendSubscribe(gen, pending)
	}
}

// handlePong feeds the heartbeat liveness tracker. Pongs from a previous
// epoch, or arriving after reconnection began, are ignored.
func (m *Manager) handlePong(gen uint64) {
	m.mu.Lock()
	hb := m.hb
	stale := gen != m.gen || hb == nil
	m.mu.Unlock()

	if !stale {
		hb.pong()
	}
}

// connectionBroken handles channel death for one epoch: unexpected closure,
// read failure, send failure, or heartbeat timeout. Deliberate disconnects
// bump the epoch first and are therefore ignored here.
func (m *Manager) connectionBroken(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || (m.state != StateConnected && m.state != StateConnecting) {
		m.mu.Unlock()
		return
	}
	m.gen++
	conn := m.conn
	m.conn = nil
	wasConnected := m.state == StateConnected
	m.connID = ""
	m.lastErr = cause
	m.stopHeartbeatLocked()
	m.setStateLocked(StateReconnecting)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	m.logger.Warn("connection lost", "reason", cause.Error())
	if wasConnected {
		m.bus.Emit(event.ConnectionLost{Reason: cause.Error()})
	}

	m.scheduleRetry(cause)
}

// dialFailed handles a transient handshake failure and schedules a retry.
func (m *Manager) dialFailed(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.lastErr = cause
	m.setStateLocked(StateReconnecting)
	m.mu.Unlock()

	m.logger.Warn("dial failed", "error", cause.Error())
	m.scheduleRetry(cause)
}

// dialRejected handles a handshake-level rejection: fatal for this connect,
// surfaced via the session and a connection.error event, never retried.
func (m *Manager) dialRejected(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.enterErrorLocked(cause)
	m.mu.Unlock()

	m.logger.Error("handshake rejected", "error", cause.Error())
	m.bus.Emit(event.ConnectionError{Message: cause.Error()})
}

// scheduleRetry arms the next reconnection attempt, or moves to Error once
// the attempt budget is exhausted.
func (m *Manager) scheduleRetry(cause error) {
	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}

	if m.attempts >= m.cfg.Reconnect.MaxAttempts {
		exhausted := errors.WrapFatal(
			fmt.Errorf("%w after %d attempts: %v",
				errors.ErrMaxRetriesExceeded, m.attempts, cause),
			"Manager", "reconnect", "retry connection")
		m.enterErrorLocked(exhausted)
		m.mu.Unlock()

		m.logger.Error("reconnection attempts exhausted", "attempts", m.cfg.Reconnect.MaxAttempts)
		m.bus.Emit(event.ConnectionError{Message: exhausted.Error()})
		return
	}

	m.attempts++
	if m.metrics != nil {
		m.metrics.RecordReconnectAttempt()
	}
	delay := m.backoff.Delay(m.attempts - 1)
	gen := m.gen
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.retryDial(gen)
	})
	attempt := m.attempts
	m.mu.Unlock()

	m.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// retryDial fires when a reconnect timer elapses.
func (m *Manager) retryDial(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	_ = m.dial(context.Background(), gen)
}

// enterErrorLocked tears the connection down into the Error state.
// Caller holds m.mu.
func (m *Manager) enterErrorLocked(cause error) {
	m.gen++
	m.stopReconnectTimerLocked()
	m.stopHeartbeatLocked()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.connID = ""
	m.lastErr = cause
	m.setStateLocked(StateError)
}

// startHeartbeatLocked launches the liveness monitor for the current epoch.
// Caller holds m.mu.
func (m *Manager) startHeartbeatLocked(gen uint64) {
	m.stopHeartbeatLocked()

	hb := newHeartbeat(
		m.cfg.Heartbeat.Interval,
		m.cfg.Heartbeat.Timeout,
		func() bool { return m.sendPing(gen) },
		func() {
			m.connectionBroken(gen, errors.WrapTransient(
				errors.ErrHeartbeatTimeout, "Manager", "heartbeat", "await pong"))
		},
		m.logger,
		m.metrics,
	)
	m.hb = hb
	hb.start()
}

// stopHeartbeatLocked cancels the liveness monitor. Caller holds m.mu.
func (m *Manager) stopHeartbeatLocked() {
	if m.hb != nil {
		m.hb.stop()
		m.hb = nil
	}
}

// stopReconnectTimerLocked cancels a pending retry. Caller holds m.mu.
func (m *Manager) stopReconnectTimerLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// sendPing emits one liveness probe through the rate limiter. Reports
// whether the probe was actually transmitted, so the heartbeat only awaits
// pongs for pings that went out.
func (m *Manager) sendPing(gen uint64) bool {
	return m.sendControl(gen, event.ControlPing, event.EncodePing())
}

// sendSubscribe sends the full subscription set through the rate limiter.
func (m *Manager) sendSubscribe(gen uint64, types []event.Type) {
	data, err := event.EncodeSubscribe(types)
	if err != nil {
		m.logger.Error("failed to encode subscription request", "error", err)
		return
	}
	m.sendControl(gen, event.ControlSubscribe, data)
}

// sendControl writes one outbound control frame and reports whether it was
// transmitted. Messages beyond the rate limit are dropped, not queued; a
// write failure is treated as connection loss and follows the reconnect
// path.
func (m *Manager) sendControl(gen uint64, kind string, data []byte) bool {
	if !m.gate.Allow(kind) {
		return false
	}

	m.mu.Lock()
	conn := m.conn
	current := gen == m.gen
	m.mu.Unlock()
	if conn == nil || !current {
		return false
	}

	m.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()

	if err != nil {
		m.connectionBroken(gen,
			errors.WrapTransient(err, "Manager", "sendControl", "write frame"))
		return false
	}
	if m.metrics != nil {
		m.metrics.RecordControlSent(kind)
	}
	return true
}

// setStateLocked records a state transition. Caller holds m.mu.
func (m *Manager) setStateLocked(s State) {
	if m.state != s {
		m.logger.Debug("connection state transition",
			"from", m.state.String(), "to", s.String())
	}
	m.state = s
	if m.metrics != nil {
		m.metrics.RecordConnectionState(int(s))
	}
}

// authHeaders builds the handshake headers from the configured credential
// source. The token is opaque to the subsystem.
func (m *Manager) authHeaders() http.Header {
	headers := http.Header{}
	if m.cfg.Endpoint.AuthTokenEnv == "" {
		return headers
	}
	if token := os.Getenv(m.cfg.Endpoint.AuthTokenEnv); token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}
	return headers
}

// isHandshakeRejection reports whether a failed dial was refused at the
// credential level rather than by a transient fault.
func isHandshakeRejection(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	return resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden
}

// dropReason labels a decode failure for metrics.
func dropReason(err error) string {
	if stderrors.Is(err, errors.ErrUnknownEventType) {
		return "unknown_type"
	}
	return "malformed"
}
