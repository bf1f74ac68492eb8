// Package transport keeps a registered WebSocket session to the remote
// endpoint alive across failures.
package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"notification-relay/internal/errors"
	"notification-relay/internal/logging"
	"notification-relay/internal/metrics"
	"notification-relay/internal/models"
)

var (
	// ErrNotConnected is returned by Send when no session is registered.
	ErrNotConnected = stderrors.New("transport not connected")
	// ErrRetriesExhausted is returned by Run when MaxRetries is reached.
	ErrRetriesExhausted = stderrors.New("reconnect attempts exhausted")
)

// State is the lifecycle state of the session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistered
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config controls dialing, registration and reconnection.
type Config struct {
	URL        string
	ClientType string
	Version    string

	ReconnectDelay time.Duration // delay before each retry
	MaxRetries     int           // consecutive failures allowed, 0 = unlimited
	Multiplier     float64       // <= 1 keeps the delay fixed
	MaxDelay       time.Duration // cap when Multiplier > 1

	HeartbeatInterval time.Duration // ping period, 0 disables heartbeats
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
}

// Status is a snapshot for monitoring.
type Status struct {
	State      string `json:"state"`
	RetryCount int    `json:"retry_count"`
	ClientID   string `json:"client_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
}

// Option customizes a Session.
type Option func(*Session)

// WithClock replaces the wall clock used for retry delays and heartbeats.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithMetrics records state changes and reconnects.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session owns at most one live connection. Run drives the state machine;
// Send and Inbound may be used concurrently from other goroutines.
type Session struct {
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	clock   Clock
	dialer  Dialer

	state      atomic.Int32
	retryCount atomic.Int32
	clientID   atomic.Value // string

	mu      sync.Mutex
	current *connection

	inbound chan models.Inbound
}

// connection is one registered socket. Only Session.serve closes it.
type connection struct {
	id      string
	conn    Conn
	writeMu sync.Mutex

	done       chan struct{}
	readerDone chan struct{}
	once       sync.Once
	err        error

	alive sync.Once
}

func (c *connection) fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *connection) write(msg models.Outbound, timeout time.Duration) error {
	data, err := models.EncodeOutbound(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// New creates a disconnected session.
func New(cfg Config, logger *logging.Logger, opts ...Option) *Session {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 45 * time.Second
	}
	s := &Session{
		cfg:     cfg,
		logger:  logger,
		clock:   realClock{},
		inbound: make(chan models.Inbound, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = NewWebsocketDialer(cfg.HandshakeTimeout)
	}
	s.clientID.Store("")
	return s
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// RetryCount returns consecutive failed or lost connections since the server
// last answered on a registered session.
func (s *Session) RetryCount() int {
	return int(s.retryCount.Load())
}

// Status returns a monitoring snapshot.
func (s *Session) Status() Status {
	st := Status{
		State:      s.State().String(),
		RetryCount: s.RetryCount(),
		ClientID:   s.clientID.Load().(string),
	}
	s.mu.Lock()
	if s.current != nil {
		st.SessionID = s.current.id
	}
	s.mu.Unlock()
	return st
}

// Inbound returns the stream of decoded inbound messages. The same channel
// keeps delivering across reconnects.
func (s *Session) Inbound() <-chan models.Inbound {
	return s.inbound
}

// Send writes one message on the registered connection. It never retries;
// a failed write tears the connection down and Run reconnects.
func (s *Session) Send(msg models.Outbound) error {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c == nil || s.State() != StateRegistered {
		return errors.NewTransportSend("send", ErrNotConnected)
	}
	if err := c.write(msg, s.cfg.WriteTimeout); err != nil {
		c.fail(err)
		return errors.NewTransportSend(fmt.Sprintf("send %s", msg.MessageType()), err)
	}
	return nil
}

// Run connects, serves and reconnects until ctx is cancelled or the retry
// ceiling is hit. It returns nil on cancellation.
func (s *Session) Run(ctx context.Context) error {
	for {
		c, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		s.serve(ctx, c)
		if ctx.Err() != nil {
			return nil
		}

		s.logger.WithField("session_id", c.id).Warnf("Connection lost: %v", c.err)
		attempt := int(s.retryCount.Add(1))
		if s.cfg.MaxRetries > 0 && attempt > s.cfg.MaxRetries {
			s.setState(StateFailed)
			return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt, c.err)
		}
		if err := s.scheduleRetry(ctx, attempt); err != nil {
			return nil
		}
	}
}

// connect dials until a session registers, ctx ends, or retries run out.
func (s *Session) connect(ctx context.Context) (*connection, error) {
	for {
		s.setState(StateConnecting)
		c, err := s.dialAndRegister(ctx)
		if err == nil {
			s.mu.Lock()
			s.current = c
			s.mu.Unlock()
			s.setState(StateRegistered)
			s.logger.WithField("session_id", c.id).Infof("Registered with %s as %s/%s", s.cfg.URL, s.cfg.ClientType, s.cfg.Version)
			return c, nil
		}

		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		attempt := int(s.retryCount.Add(1))
		s.logger.Errorf("Connect attempt %d failed: %v", attempt, err)
		if s.cfg.MaxRetries > 0 && attempt > s.cfg.MaxRetries {
			s.setState(StateFailed)
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempt, err)
		}
		if err := s.scheduleRetry(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (s *Session) scheduleRetry(ctx context.Context, attempt int) error {
	delay := s.retryDelay(attempt)
	if s.metrics != nil {
		s.metrics.ReconnectAttempts.Inc()
	}
	s.logger.Infof("Reconnecting in %s (attempt %d)", delay, attempt)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(delay):
		return nil
	}
}

// retryDelay is ReconnectDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (s *Session) retryDelay(attempt int) time.Duration {
	delay := s.cfg.ReconnectDelay
	if s.cfg.Multiplier <= 1 {
		return delay
	}
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * s.cfg.Multiplier)
		if s.cfg.MaxDelay > 0 && delay >= s.cfg.MaxDelay {
			return s.cfg.MaxDelay
		}
	}
	return delay
}

func (s *Session) dialAndRegister(ctx context.Context) (*connection, error) {
	conn, err := s.dialer.Dial(ctx, s.cfg.URL)
	if err != nil {
		return nil, errors.NewTransportConnect("dial", err)
	}
	c := &connection{
		id:         uuid.NewString(),
		conn:       conn,
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	register := models.RegisterMessage{ClientType: s.cfg.ClientType, Version: s.cfg.Version}
	if err := c.write(register, s.cfg.WriteTimeout); err != nil {
		_ = conn.Close()
		return nil, errors.NewTransportConnect("register", err)
	}
	if s.cfg.HeartbeatInterval > 0 {
		wait := 2 * s.cfg.HeartbeatInterval
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		conn.SetPongHandler(func(string) error {
			s.markAlive(c)
			return conn.SetReadDeadline(time.Now().Add(wait))
		})
	}
	return c, nil
}

// serve runs the reader and heartbeat for c and tears it down when either
// fails or ctx ends.
func (s *Session) serve(ctx context.Context, c *connection) {
	go s.readLoop(c)
	if s.cfg.HeartbeatInterval > 0 {
		go s.heartbeat(c)
	}

	select {
	case <-ctx.Done():
		c.fail(ctx.Err())
	case <-c.done:
	}

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	s.setState(StateDisconnected)

	if ctx.Err() != nil {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
	}
	if err := c.conn.Close(); err != nil {
		s.logger.Debugf("Close connection %s: %v", c.id, err)
	}
	<-c.readerDone
}

func (s *Session) readLoop(c *connection) {
	defer close(c.readerDone)
	log := s.logger.WithField("session_id", c.id)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("read: %w", err))
			return
		}
		s.markAlive(c)
		if s.cfg.HeartbeatInterval > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.HeartbeatInterval))
		}

		msg, err := models.DecodeInbound(data)
		if err != nil {
			if s.metrics != nil {
				s.metrics.ParseErrors.Inc()
			}
			log.Warnf("Ignoring inbound frame: %v", errors.NewParse("decode", err))
			continue
		}
		if s.metrics != nil {
			s.metrics.InboundMessages.WithLabelValues(string(msg.MessageType())).Inc()
		}
		if reg, ok := msg.(models.RegisteredMessage); ok {
			s.clientID.Store(reg.ClientID)
			log.Infof("Server assigned client id %s", reg.ClientID)
		}

		select {
		case s.inbound <- msg:
		case <-c.done:
			return
		}
	}
}

// markAlive clears the retry count the first time the server answers on c.
// A socket that is accepted and dropped without a frame keeps counting.
func (s *Session) markAlive(c *connection) {
	c.alive.Do(func() { s.retryCount.Store(0) })
}

func (s *Session) heartbeat(c *connection) {
	for {
		select {
		case <-c.done:
			return
		case <-s.clock.After(s.cfg.HeartbeatInterval):
		}
		c.writeMu.Lock()
		err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.HeartbeatInterval))
		c.writeMu.Unlock()
		if err != nil {
			c.fail(fmt.Errorf("heartbeat: %w", err))
			return
		}
	}
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	if s.metrics != nil {
		s.metrics.SessionState.Set(float64(st))
	}
}
