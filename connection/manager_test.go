package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filip-herceg/ReViewPoint-sub010/bus"
	"github.com/filip-herceg/ReViewPoint-sub010/config"
	"github.com/filip-herceg/ReViewPoint-sub010/errors"
	"github.com/filip-herceg/ReViewPoint-sub010/event"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServer is a WebSocket endpoint for driving the manager through its
// lifecycle: it can auto-announce sessions, answer pings, reject handshakes,
// and drop connections on demand.
type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	autoEstablish bool
	autoPong      bool

	mu           sync.Mutex
	writeMu      sync.Mutex
	conns        []*websocket.Conn
	connCount    int
	rejectStatus int

	frames chan serverFrame
}

type serverFrame struct {
	Type string
	Raw  []byte
}

func newTestServer(t *testing.T) *testServer {
	s := &testServer{
		t:             t,
		autoEstablish: true,
		autoPong:      true,
		frames:        make(chan serverFrame, 256),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *testServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *testServer) setReject(status int) {
	s.mu.Lock()
	s.rejectStatus = status
	s.mu.Unlock()
}

func (s *testServer) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connCount
}

func (s *testServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reject := s.rejectStatus
	s.mu.Unlock()
	if reject != 0 {
		http.Error(w, "rejected", reject)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.connCount++
	n := s.connCount
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	if s.autoEstablish {
		s.write(conn, fmt.Sprintf(`{"type":"connection.established","connection_id":"c%d"}`, n))
	}

	go s.readLoop(conn)
}

func (s *testServer) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(data, &head)

		select {
		case s.frames <- serverFrame{Type: head.Type, Raw: data}:
		default:
		}

		if head.Type == "ping" && s.autoPong {
			s.write(conn, `{"type":"pong"}`)
		}
	}
}

// send pushes a frame to the most recent connection.
func (s *testServer) send(frame string) {
	s.mu.Lock()
	var conn *websocket.Conn
	if len(s.conns) > 0 {
		conn = s.conns[len(s.conns)-1]
	}
	s.mu.Unlock()
	require.NotNil(s.t, conn, "no active connection to send on")
	s.write(conn, frame)
}

// closeActive drops the most recent connection, simulating unexpected closure.
func (s *testServer) closeActive() {
	s.mu.Lock()
	var conn *websocket.Conn
	if len(s.conns) > 0 {
		conn = s.conns[len(s.conns)-1]
	}
	s.mu.Unlock()
	require.NotNil(s.t, conn, "no active connection to close")
	_ = conn.Close()
}

func (s *testServer) write(conn *websocket.Conn, frame string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// waitFrame blocks until the server receives a frame of the given type.
func (s *testServer) waitFrame(frameType string, timeout time.Duration) serverFrame {
	s.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case f := <-s.frames:
			if f.Type == frameType {
				return f
			}
		case <-deadline:
			s.t.Fatalf("timed out waiting for %s frame", frameType)
			return serverFrame{}
		}
	}
}

// countFrames drains the channel and counts frames of the given type.
func (s *testServer) countFrames(frameType string) int {
	count := 0
	for {
		select {
		case f := <-s.frames:
			if f.Type == frameType {
				count++
			}
		default:
			return count
		}
	}
}

func testConfig(url string) config.Config {
	cfg := config.DefaultConfig()
	cfg.Endpoint.URL = url
	cfg.Endpoint.AuthTokenEnv = ""
	cfg.Endpoint.HandshakeTimeout = 2 * time.Second
	cfg.Heartbeat.Interval = 50 * time.Millisecond
	cfg.Heartbeat.Timeout = 40 * time.Millisecond
	cfg.Reconnect.BaseDelay = 10 * time.Millisecond
	cfg.Reconnect.MaxDelay = 50 * time.Millisecond
	cfg.Reconnect.MaxAttempts = 5
	cfg.Reconnect.Multiplier = 2.0
	cfg.Reconnect.Jitter = false
	cfg.RateLimit.Messages = 1000
	cfg.RateLimit.Window = time.Second
	return cfg
}

func newTestManager(t *testing.T, cfg config.Config) (*Manager, *bus.Bus) {
	t.Helper()
	b := bus.New(bus.WithLogger(quietLogger()))
	m, err := NewManager(cfg, b, WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(m.Disconnect)
	return m, b
}

func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		3*time.Second, 2*time.Millisecond, "expected state %s, got %s", want, m.State())
}

// assertSessionInvariant checks Connected <=> connection id present and no
// last error, for any snapshot.
func assertSessionInvariant(t *testing.T, s Session) {
	t.Helper()
	if s.State == StateConnected {
		assert.NotEmpty(t, s.ConnectionID, "connected session must carry a connection id")
		assert.NoError(t, s.LastError, "connected session must not carry an error")
	} else {
		assert.Empty(t, s.ConnectionID, "only connected sessions carry a connection id")
	}
}

func TestManager_ConnectEstablishesSession(t *testing.T) {
	s := newTestServer(t)
	m, b := newTestManager(t, testConfig(s.url()))

	var mu sync.Mutex
	var established []event.ConnectionEstablished
	b.On(event.TypeConnectionEstablished, func(e event.Event) {
		mu.Lock()
		established = append(established, e.(event.ConnectionEstablished))
		mu.Unlock()
	})

	require.NoError(t, m.Connect(context.Background()))
	waitForState(t, m, StateConnected)

	session := m.Session()
	assert.Equal(t, "c1", session.ConnectionID)
	assert.Equal(t, 0, session.ReconnectAttempts)
	assert.NoError(t, session.LastError)
	assertSessionInvariant(t, session)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, established, 1)
	assert.Equal(t, "c1", established[0].ConnectionID)
}

func TestManager_ConnectIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	m, b := newTestManager(t, testConfig(s.url()))

	var mu sync.Mutex
	count := 0
	b.On(event.TypeConnectionEstablished, func(event.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	require.NoError(t, m.Connect(context.Background()))
	waitForState(t, m, StateConnected)

	// Connecting again while connected is a no-op with no side effects.
	require.NoError(t, m.Connect(context.Background()))
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, "c1", m.Session().ConnectionID)
	assert.Equal(t, 1, s.connections())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count, "no duplicate connection.established emission")
}

func TestManager_DisconnectClearsSessionAndCancelsTimers(t *testing.T) {
	s := newTestServer(t)
	cfg := testConfig(s.url())
	m, _ := newTestManager(t, cfg)

	require.NoError(t, m.Connect(context.Background()))
	waitForState(t, m, StateConnected)

	m.Disconnect()

	session := m.Session()
	assert.Equal(t, StateDisconnected, session.State)
	assert.Empty(t, session.ConnectionID)
	assert.Equal(t, 0, session.ReconnectAttempts)
	assert.NoError(t, session.LastError)

	// No stale timer may revive the connection.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 1, s.connections())

	// Idempotent.
	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManager_DisconnectWhileReconnecting(t *testing.T) {
	s := newTestServer(t)
	cfg := testConfig(s.url())
	cfg.Reconnect.BaseDelay = 300 * time.Millisecond
	cfg.Reconnect.MaxDelay = 300 * time.Millisecond
	m, _ := newTestManager(t, cfg)

	require.NoError(t, m.Connect(context.Background()))
	waitForState(t, m, StateConnected)

	s.closeActive()
	waitForState(t, m, StateReconnecting)

	m.Disconnect()
	assert.Equal(t, StateDisconnected, m.State())

	// The pending retry timer was cancelled; no redial happens.
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 1, s.connections())
}

func TestManager_ReconnectsAfterUnexpectedClosure(t *testing.T) {
	s := newTestServer(t)
	cfg := testConfig(s.url())
	cfg.Heartbeat.Interval = time.Second
	cfg.Heartbeat.Timeout = time.Second
	cfg.Reconnect.BaseDelay = 200 * time.Millisecond
	cfg.Reconnect.MaxDelay = 200 * time.Millisecond
	m, b := newTestManager(t, cfg)

	var mu sync.Mutex
	lostCount := 0
	b.On(event.TypeConnectionLost, func(event.Event) {
		mu.Lock()
		lostCount++
		mu.Unlock()
	})

	require.NoError(t, m.Connect(context.Background()))
	waitForState(t, m, StateConnected)
	assert.Equal(t, "c1", m.Session().ConnectionID)

	s.closeActive()
	waitForState(t, m, StateReconnecting)

	session := m.Session()
	assert.Equal(t, 1, session.ReconnectAttempts)
	assert.Empty(t, session.ConnectionID)
	assertSessionInvariant(t, session)

	waitForState(t, m, StateConnected)
	session = m.Session()
	assert.Equal(t, "c2", session.ConnectionID)
	assert.Equal(t, 0, session.ReconnectAttempts)
	assertSessionInvariant(t, session)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, lostCount)
}

func TestManager_ErrorAfterMaxAttempts(t *testing.T) {
	s := newTestServer(t)
	cfg := testConfig(s.url())
	cfg.Heartbeat.Interval = time.Second
	cfg.Heartbeat.Timeout = time.Second
	cfg.Reconnect.MaxAttempts = 2
	m, b := newTestManager(t, cfg)

	var mu sync.Mutex
	errorEvents := 0
	b.On(event.TypeConnectionError, func(event.Event) {
		mu.Lock()
		errorEvents++
		mu.Unlock()
	})

	require.NoError(t, m.Connect(context.Background()))
	waitForState(t, m, StateConnected)

	// Kill the server entirely so every retry fails. Closing the listener
	// does not tear down the hijacked WebSocket, so drop it explicitly.
	s.srv.Close()
	s.closeActive()
	waitForState(t, m, StateError)

	session := m.Session()
	assert.Equal(t, cfg.Reconnect.MaxAttempts, session.ReconnectAttempts)
	require.Error(t, session.LastError)
	assert.ErrorIs(t, session.LastError, errors.ErrMaxRetriesExceeded)
	assert.True(t, errors.IsFatal(session.LastError))
	assertSessionInvariant(t, session)

	// No silent auto-recovery from Error.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, StateError, m.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, errorEvents)
}

func TestManager_HandshakeRejectionIsFatal(t *testing.T) {
	s := newTestServer(t)
	s.setReject(http.StatusUnauthorized)
	m, b := newTestManager(t, testConfig(s.url()))

	var mu sync.Mutex
	errorEvents := 0
	b.On(event.TypeConnectionError, func(event.Event) {
		mu.Lock()
		errorEvents++
		mu.Unlock()
	})

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrHandshakeRejected)
	assert.True(t, errors.IsFatal(err))

	session := m.Session()
	assert.Equal(t, StateError, session.State)
	assert.ErrorIs(t, session.LastError, errors.ErrHandshakeRejected)
	assertSessionInvariant(t, session)

	// A rejected credential is never retried.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateError, m.State())
	assert.Equal(t, 0, s.connections())

	mu.Lock()
	assert.Equal(t, 1, errorEvents)
	mu.Unlock()

	// Error is left only via an explicit connect.
	s.setReject(0)
	require.NoError(t, m.Connect(context.Background()))
	waitForState(t, m, StateConnected)
	assertSessionInvariant(t, m.Session())
}

func TestManager_SubscriptionsQueuedUntilConnected(t *testing.T) {
	s := newTestServer(t)
	m, _ := newTestManager(t, testConfig(s.url()))

	require.NoError(t, m.Subscribe(event.TypeUploadProgress, event.TypeSystemNotification))

	require.NoError(t, m.Connect(context.Background()))
	waitForState(t, m, StateConnected)

	frame := s.waitFrame("subscribe", 2*time.Second)
	var sub struct {
		Events []string `json:"events"`
	}
	require.NoError(t, json.Unmarshal(frame.Raw, &sub))
	assert.Equal(t, []string{"upload.progress", "system.notification"}, sub.Events)

	// Subscribing while connected sends the full set immediately.
	require.NoError(t, m.Subscribe(event.TypeReviewUpdated))
	frame = s.waitFrame("subscribe", 2*time.Second)
	require.NoError(t, json.Unmarshal(frame.Raw, &sub))
	assert.Equal(t, []string{"upload.progress", "system.notification", "review.updated"}, sub.Events)
}

func TestManager_SubscribeRejectsUnknownType(t *testing.T) {
	s := newTestServer(t)
	m, _ := newTestManager(t, testConfig(s.url()))

	err := m.Subscribe(event.Type("upload.paused"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownEventType)
}

func TestManager_HeartbeatKeepsConnectionAlive(t *testing.T) {
	s := newTestServer(t)
	s.autoPong = true
	m, _ := newTestManager(t, testConfig(s.url()))

	require.NoError(t, m.Connect(context.Background()))
	waitForState(t, m, StateConnected)

	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 1, s.connections())
	assert.GreaterOrEqual(t, s.countFrames("ping"), 3)
}

func TestManager_HeartbeatMissesTriggerReconnect(t *testing.T) {
	s := newTestServer(t)
	s.autoPong = false
	cfg := testConfig(s.url())
	cfg.Heartbeat.Interval = 30 * time.Millisecond
	cfg.Heartbeat.Timeout = 25 * time.Millisecond
	m, b := newTestManager(t, cfg)

	var mu sync.Mutex
	var lostReasons []string
	b.On(event.TypeConnectionLost, func(e event.Event) {
		mu.Lock()
		lostReasons = append(lostReasons, e.(event.ConnectionLost).Reason)
		mu.Unlock()
	})

	require.NoError(t, m.Connect(context.Background()))
	waitForState(t, m, StateConnected)

	// Two consecutive missed pongs follow the unexpected-closure path.
	require.Eventually(t, func() bool { return s.connections() >= 2 },
		3*time.Second, 5*time.Millisecond, "heartbeat loss must trigger a reconnect")

	m.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, lostReasons)
	assert.Contains(t, lostReasons[0], "heartbeat")
}

func TestManager_LatePongAfterReconnectBeginsIsIgnored(t *testing.T) {
	s := newTestServer(t)
	cfg := testConfig(s.url())
	cfg.Heartbeat.Interval = time.Second
	cfg.Heartbeat.Timeout = time.Second
	cfg.Reconnect.BaseDelay = 200 * time.Millisecond
	cfg.Reconnect.MaxDelay = 200 * time.Millisecond
	m, _ := newTestManager(t, cfg)

	require.NoError(t, m.Connect(context.Background()))
	waitForState(t, m, StateConnected)

	s.closeActive()
	waitForState(t, m, StateReconnecting)

	// Nothing observable changes until a fresh connection is established.
	assert.Empty(t, m.Session().ConnectionID)
	waitForState(t, m, StateConnected)
	assert.Equal(t, "c2", m.Session().ConnectionID)
}

func TestManager_RateLimitDropsExcessControlMessages(t *testing.T) {
	s := newTestServer(t)
	cfg := testConfig(s.url())
	cfg.Heartbeat.Interval = 10 * time.Second
	cfg.Heartbeat.Timeout = 10 * time.Second
	cfg.RateLimit.Messages = 2
	cfg.RateLimit.Window = time.Minute
	m, _ := newTestManager(t, cfg)

	require.NoError(t, m.Connect(context.Background()))
	waitForState(t, m, StateConnected)

	// Five send attempts against a budget of two: exactly two transmitted,
	// the rest dropped, never queued.
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Subscribe(event.TypeUploadProgress))
	}
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 2, s.countFrames("subscribe"))
	assert.Equal(t, StateConnected, m.State(), "rate limiting never surfaces as a connection error")
}

func TestManager_RateLimitedPingsDoNotBreakHealthyConnection(t *testing.T) {
	s := newTestServer(t)
	cfg := testConfig(s.url())
	cfg.Heartbeat.Interval = 20 * time.Millisecond
	cfg.Heartbeat.Timeout = 15 * time.Millisecond
	// Budget for a single control message: only the first ping goes out,
	// every later one is dropped by the gate.
	cfg.RateLimit.Messages = 1
	cfg.RateLimit.Window = time.Hour
	m, b := newTestManager(t, cfg)

	var mu sync.Mutex
	lostCount := 0
	b.On(event.TypeConnectionLost, func(event.Event) {
		mu.Lock()
		lostCount++
		mu.Unlock()
	})

	require.NoError(t, m.Connect(context.Background()))
	waitForState(t, m, StateConnected)

	// Many heartbeat intervals pass; dropped pings expect no pong, so the
	// connection stays healthy instead of churning through reconnects.
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 1, s.connections(), "a rate-limited ping must not be surfaced as connection loss")
	assert.LessOrEqual(t, s.countFrames("ping"), 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, lostCount)
}

func TestManager_SessionInvariantHoldsAcrossRandomTransitions(t *testing.T) {
	s := newTestServer(t)
	cfg := testConfig(s.url())
	cfg.Reconnect.BaseDelay = 5 * time.Millisecond
	cfg.Reconnect.MaxAttempts = 100
	m, _ := newTestManager(t, cfg)

	seed := time.Now().UnixNano()
	rng := rand.New(rand.NewSource(seed))
	t.Logf("transition sequence seed: %d", seed)

	for i := 0; i < 60; i++ {
		switch rng.Intn(4) {
		case 0:
			_ = m.Connect(context.Background())
		case 1:
			m.Disconnect()
		case 2:
			if s.connections() > 0 {
				s.closeActive()
			}
		case 3:
			time.Sleep(time.Duration(rng.Intn(15)) * time.Millisecond)
		}

		// Sample the snapshot a few times between actions: the invariant
		// must hold at every instant, not only at rest.
		for j := 0; j < 3; j++ {
			assertSessionInvariant(t, m.Session())
			time.Sleep(time.Millisecond)
		}
	}
}

func TestManager_SendsBearerTokenHeader(t *testing.T) {
	var mu sync.Mutex
	var gotAuth string

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"connection.established","connection_id":"c1"}`))
	}))
	t.Cleanup(srv.Close)

	t.Setenv("TEST_RVP_TOKEN", "secret-token")

	cfg := testConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	cfg.Endpoint.AuthTokenEnv = "TEST_RVP_TOKEN"
	m, _ := newTestManager(t, cfg)

	require.NoError(t, m.Connect(context.Background()))
	waitForState(t, m, StateConnected)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestManager_MalformedFramesAreDroppedWithoutStateChange(t *testing.T) {
	s := newTestServer(t)
	cfg := testConfig(s.url())
	cfg.Heartbeat.Interval = 10 * time.Second
	cfg.Heartbeat.Timeout = 10 * time.Second
	m, b := newTestManager(t, cfg)

	var mu sync.Mutex
	dispatched := 0
	b.OnAll(func(event.Event) {
		mu.Lock()
		dispatched++
		mu.Unlock()
	})

	require.NoError(t, m.Connect(context.Background()))
	waitForState(t, m, StateConnected)

	s.send(`{{{not json`)
	s.send(`{"type":"upload.paused","upload_id":"u-1"}`)
	s.send(`{"type":"upload.progress","upload_id":"u-1","progress":42}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dispatched >= 2 // established + the one valid progress frame
	}, 2*time.Second, 2*time.Millisecond)

	assert.Equal(t, StateConnected, m.State())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, dispatched, "dropped frames must not reach listeners")
}

func TestNewManager_Validation(t *testing.T) {
	cfg := config.DefaultConfig()

	_, err := NewManager(cfg, nil)
	require.Error(t, err)

	cfg.Endpoint.URL = ""
	_, err = NewManager(cfg, bus.New(bus.WithLogger(quietLogger())))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}
