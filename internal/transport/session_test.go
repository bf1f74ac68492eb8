package transport

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-relay/internal/errors"
	"notification-relay/internal/logging"
	"notification-relay/internal/metrics"
	"notification-relay/internal/models"
)

const registerJSON = `{"type":"register","client_type":"windows_notifier","version":"2.1.0"}`

type fakeClock struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *fakeClock) Now() time.Time { return time.Unix(0, 0) }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Unix(0, 0)
	return ch
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

var errRemoteClosed = stderrors.New("remote closed")

type fakeConn struct {
	reads     chan []byte
	remote    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	failWrite atomic.Bool

	mu       sync.Mutex
	writes   []string
	controls []int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		reads:  make(chan []byte, 16),
		remote: make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.reads:
		return websocket.TextMessage, data, nil
	case <-c.remote:
		return 0, nil, errRemoteClosed
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	if c.failWrite.Load() {
		return io.ErrClosedPipe
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, string(data))
	return nil
}

func (c *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controls = append(c.controls, messageType)
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

func (c *fakeConn) Controls() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.controls...)
}

type fakeDialer struct {
	failures int // attempts that fail before dials succeed; -1 fails forever
	mu       sync.Mutex
	attempts int
	dialed   chan *fakeConn
}

func newFakeDialer(failures int) *fakeDialer {
	return &fakeDialer{failures: failures, dialed: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	d.attempts++
	n := d.attempts
	d.mu.Unlock()
	if d.failures < 0 || n <= d.failures {
		return nil, stderrors.New("connection refused")
	}
	c := newFakeConn()
	d.dialed <- c
	return c, nil
}

func (d *fakeDialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewWithWriter(io.Discard, "debug")
	require.NoError(t, err)
	return logger
}

func testConfig() Config {
	return Config{
		URL:            "ws://relay.test/ws",
		ClientType:     "windows_notifier",
		Version:        "2.1.0",
		ReconnectDelay: 5 * time.Second,
	}
}

func startSession(t *testing.T, s *Session) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- s.Run(ctx) }()
	t.Cleanup(stop)
	return stop, ch
}

func waitConn(t *testing.T, d *fakeDialer) *fakeConn {
	t.Helper()
	select {
	case c := <-d.dialed:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection dialed")
		return nil
	}
}

func waitRegistered(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == StateRegistered
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRun_RetriesThenRegistersOnce(t *testing.T) {
	clock := &fakeClock{}
	dialer := newFakeDialer(3)
	s := New(testConfig(), testLogger(t), WithClock(clock), WithDialer(dialer))

	cancel, done := startSession(t, s)
	conn := waitConn(t, dialer)
	waitRegistered(t, s)

	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, clock.Delays())
	assert.Equal(t, 4, dialer.Attempts())
	assert.Equal(t, 3, s.RetryCount())

	conn.reads <- []byte(`{"type":"registered","clientId":"client-1"}`)
	require.Eventually(t, func() bool { return s.RetryCount() == 0 }, time.Second, 5*time.Millisecond)

	writes := conn.Writes()
	require.Len(t, writes, 1)
	assert.JSONEq(t, registerJSON, writes[0])

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateDisconnected, s.State())
	assert.Contains(t, conn.Controls(), websocket.CloseMessage)
}

func TestRun_RetriesExhausted(t *testing.T) {
	clock := &fakeClock{}
	m := metrics.New()
	cfg := testConfig()
	cfg.MaxRetries = 2
	s := New(cfg, testLogger(t), WithClock(clock), WithDialer(newFakeDialer(-1)), WithMetrics(m))

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, StateFailed, s.State())
	assert.Len(t, clock.Delays(), 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReconnectAttempts))
	assert.Equal(t, float64(StateFailed), testutil.ToFloat64(m.SessionState))
}

func TestRun_CancelWhileRetrying(t *testing.T) {
	s := New(testConfig(), testLogger(t), WithDialer(newFakeDialer(-1)))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, s.Run(ctx))
}

func TestRetryDelay_CappedBackoff(t *testing.T) {
	cfg := testConfig()
	cfg.Multiplier = 2
	cfg.MaxDelay = 20 * time.Second
	s := New(cfg, testLogger(t))

	var got []time.Duration
	for attempt := 1; attempt <= 4; attempt++ {
		got = append(got, s.retryDelay(attempt))
	}
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 20 * time.Second}, got)
}

func TestRetryDelay_FixedByDefault(t *testing.T) {
	s := New(testConfig(), testLogger(t))
	assert.Equal(t, 5*time.Second, s.retryDelay(1))
	assert.Equal(t, 5*time.Second, s.retryDelay(7))
}

func TestSend_NotConnected(t *testing.T) {
	s := New(testConfig(), testLogger(t))
	err := s.Send(models.DismissMessage{ClientType: "windows_notifier"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, errors.Is(err, errors.KindTransportSend))
}

func TestInbound_SkipsMalformedFrames(t *testing.T) {
	m := metrics.New()
	dialer := newFakeDialer(0)
	s := New(testConfig(), testLogger(t), WithClock(&fakeClock{}), WithDialer(dialer), WithMetrics(m))
	startSession(t, s)
	conn := waitConn(t, dialer)

	conn.reads <- []byte(`{"type":"registered","clientId":"client-42"}`)
	conn.reads <- []byte(`not json`)
	conn.reads <- []byte(`{"type":"dismiss_notification","dismissed_by":"android"}`)

	first := <-s.Inbound()
	assert.Equal(t, models.RegisteredMessage{ClientID: "client-42"}, first)
	second := <-s.Inbound()
	assert.Equal(t, models.DismissMessage{DismissedBy: "android"}, second)

	assert.Equal(t, "client-42", s.Status().ClientID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseErrors))
	assert.Equal(t, StateRegistered, s.State())
}

func TestRun_ReconnectsAfterRemoteClose(t *testing.T) {
	clock := &fakeClock{}
	dialer := newFakeDialer(0)
	s := New(testConfig(), testLogger(t), WithClock(clock), WithDialer(dialer))
	startSession(t, s)

	first := waitConn(t, dialer)
	close(first.remote)

	second := waitConn(t, dialer)
	waitRegistered(t, s)
	require.Eventually(t, func() bool { return len(second.Writes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, registerJSON, second.Writes()[0])
	assert.Equal(t, []time.Duration{5 * time.Second}, clock.Delays())
}

func TestSend_FailureTearsDownAndRedials(t *testing.T) {
	dialer := newFakeDialer(0)
	s := New(testConfig(), testLogger(t), WithClock(&fakeClock{}), WithDialer(dialer))
	startSession(t, s)

	first := waitConn(t, dialer)
	waitRegistered(t, s)
	first.failWrite.Store(true)

	err := s.Send(models.NotificationMessage{Title: "t", Message: "m"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindTransportSend))

	second := waitConn(t, dialer)
	require.Eventually(t, func() bool { return len(second.Writes()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, dialer.Attempts())
}

func TestSession_AgainstWebsocketServer(t *testing.T) {
	received := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 2; i++ {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
			if i == 0 {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"registered","clientId":"srv-1"}`))
			}
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"notification","title":"Hi","message":"there","duration":3000}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.WriteTimeout = time.Second
	s := New(cfg, testLogger(t))
	cancel, done := startSession(t, s)

	assert.JSONEq(t, registerJSON, <-received)
	msg := <-s.Inbound()
	assert.Equal(t, models.RegisteredMessage{ClientID: "srv-1"}, msg)

	require.NoError(t, s.Send(models.NotificationMessage{Title: "Build", Message: "green", Sender: "Windows (Slack)", IsSlack: true}))
	assert.JSONEq(t, `{"type":"notification","title":"Build","message":"green","sender":"Windows (Slack)","is_slack":true}`, <-received)

	msg = <-s.Inbound()
	assert.Equal(t, models.NotificationMessage{Title: "Hi", Message: "there", Duration: 3000}, msg)

	cancel()
	require.NoError(t, <-done)
}

// tickClock fires only when the test sends on ticks.
type tickClock struct {
	ticks chan time.Time
}

func (c *tickClock) Now() time.Time                       { return time.Unix(0, 0) }
func (c *tickClock) After(time.Duration) <-chan time.Time { return c.ticks }

func TestHeartbeat_SendsPing(t *testing.T) {
	clock := &tickClock{ticks: make(chan time.Time)}
	dialer := newFakeDialer(0)
	cfg := testConfig()
	cfg.HeartbeatInterval = 30 * time.Second
	s := New(cfg, testLogger(t), WithClock(clock), WithDialer(dialer))
	startSession(t, s)

	conn := waitConn(t, dialer)
	waitRegistered(t, s)
	assert.NotContains(t, conn.Controls(), websocket.PingMessage)

	clock.ticks <- time.Unix(30, 0)
	require.Eventually(t, func() bool {
		for _, c := range conn.Controls() {
			if c == websocket.PingMessage {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

// droppingDialer accepts every dial and the remote closes at once.
type droppingDialer struct {
	attempts atomic.Int32
}

func (d *droppingDialer) Dial(context.Context, string) (Conn, error) {
	d.attempts.Add(1)
	c := newFakeConn()
	close(c.remote)
	return c, nil
}

func TestRun_AcceptedThenDroppedExhaustsRetries(t *testing.T) {
	clock := &fakeClock{}
	dialer := &droppingDialer{}
	cfg := testConfig()
	cfg.MaxRetries = 2
	s := New(cfg, testLogger(t), WithClock(clock), WithDialer(dialer))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, int32(3), dialer.attempts.Load())
	assert.Len(t, clock.Delays(), 2)
}

func TestRun_AnsweredConnectionResetsRetryCount(t *testing.T) {
	dialer := newFakeDialer(0)
	cfg := testConfig()
	cfg.MaxRetries = 2
	s := New(cfg, testLogger(t), WithClock(&fakeClock{}), WithDialer(dialer))
	_, done := startSession(t, s)

	close(waitConn(t, dialer).remote)
	close(waitConn(t, dialer).remote)

	answered := waitConn(t, dialer)
	require.Eventually(t, func() bool { return s.RetryCount() == 2 }, time.Second, 5*time.Millisecond)
	answered.reads <- []byte(`{"type":"registered","clientId":"client-7"}`)
	require.Eventually(t, func() bool { return s.RetryCount() == 0 }, time.Second, 5*time.Millisecond)
	close(answered.remote)

	close(waitConn(t, dialer).remote)
	waitConn(t, dialer)
	waitRegistered(t, s)
	select {
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	default:
	}
	assert.Equal(t, 2, s.RetryCount())
}
