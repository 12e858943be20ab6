package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/livesession/internal/dispatch"
	"github.com/rickgao/livesession/internal/queue"
	"github.com/rickgao/livesession/internal/wire"
)

const (
	defaultParticipant = "anonymous"
	exhaustedNotice    = "Connection lost - please refresh the page"
)

// Option configures a Manager.
type Option func(*Manager)

// WithClientFactory replaces the gorilla transport, mainly for tests.
func WithClientFactory(f ClientFactory) Option {
	return func(m *Manager) {
		if f != nil {
			m.factory = f
		}
	}
}

// WithNotifier sets where user-visible notices go. Defaults to LogNotifier.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithDispatcher shares an existing dispatcher instead of creating one.
func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(m *Manager) {
		if d != nil {
			m.events = d
		}
	}
}

// generation is one connect attempt and the transport it produced.
type generation struct {
	id       uint64
	identity Identity
	client   Client
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

func (g *generation) stop() {
	g.once.Do(func() {
		g.cancel()
		close(g.done)
	})
}

// Manager owns the session connection: state, reconnects, heartbeat,
// outbound queue and event dispatch.
type Manager struct {
	cfg      ManagerConfig
	logger   *slog.Logger
	factory  ClientFactory
	notifier Notifier

	events    *dispatch.Dispatcher
	outbound  *queue.Buffer[[]byte]
	heartbeat *heartbeat

	// writeMu serializes every transport write and every queue mutation.
	writeMu sync.Mutex

	mu             sync.Mutex
	state          State
	lastErr        error
	gen            uint64
	current        *generation
	address        string
	participantID  string
	attempts       int
	reconnectTimer *time.Timer
	rng            *rand.Rand
	closed         bool

	sent      atomic.Int64
	received  atomic.Int64
	malformed atomic.Int64
}

// NewManager creates a disconnected manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ParticipantParam == "" {
		cfg.ParticipantParam = "user_id"
	}

	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		factory:  NewClient,
		notifier: LogNotifier{Logger: logger},
		outbound: queue.NewBoundedBuffer[[]byte](16, cfg.QueueCapacity, cfg.QueueOverflow),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.events == nil {
		m.events = dispatch.New(logger)
	}
	m.heartbeat = newHeartbeat(cfg.HeartbeatInterval, logger)

	return m
}

// Connect starts connecting to address as participantID. It returns once
// the dial is under way; the outcome is published as events. Calling it
// while connecting or connected does nothing.
func (m *Manager) Connect(address, participantID string) error {
	if participantID == "" {
		participantID = defaultParticipant
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == StateConnecting || m.state == StateConnected {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("already connected or connecting", "state", state)
		return nil
	}
	stale, err := m.connectLocked(address, participantID)
	m.mu.Unlock()

	m.closeStale(stale)
	if err != nil {
		m.logger.Error("connect failed", "address", address, "error", err)
		m.events.Emit(EventError, Errored{Err: err})
	}
	return err
}

// connectLocked starts a new generation. It returns the previous
// generation's transport, which the caller closes after unlocking.
func (m *Manager) connectLocked(address, participantID string) (Client, error) {
	target, err := buildURL(address, m.cfg.ParticipantParam, participantID)
	if err != nil {
		m.lastErr = err
		m.state = StateError
		return nil, err
	}

	stale := m.retireLocked()
	m.stopReconnectLocked()

	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	g := &generation{
		id:       m.gen,
		identity: NewIdentity(participantID, time.Now()),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	m.current = g
	m.address = address
	m.participantID = participantID
	m.state = StateConnecting

	m.logger.Info("connecting",
		"address", address,
		"participant_id", participantID,
		"connection_id", g.identity.String(),
		"generation", g.id,
	)

	go m.dial(ctx, g, target)
	return stale, nil
}

// retireLocked stops the current generation and detaches its transport.
func (m *Manager) retireLocked() Client {
	g := m.current
	if g == nil {
		return nil
	}
	m.heartbeat.stop()
	g.stop()
	c := g.client
	g.client = nil
	return c
}

func (m *Manager) closeStale(c Client) {
	if c == nil {
		return
	}
	if err := c.Close(CloseNormalClosure, "superseded"); err != nil {
		m.logger.Debug("closing superseded transport", "error", err)
	}
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// buildURL appends the participant query parameter to address. http and
// https addresses are mapped to ws and wss.
func buildURL(address, param, participantID string) (string, error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAddress, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrInvalidAddress, address)
	}

	q := u.Query()
	q.Set(param, participantID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dial opens the transport for g and then runs its pump.
func (m *Manager) dial(ctx context.Context, g *generation, target string) {
	logger := m.logger.With("connection_id", g.identity.String(), "generation", g.id)

	cfg := m.cfg.Client
	cfg.URL = target
	c := m.factory(cfg, logger)

	if err := c.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Debug("dial abandoned", "error", err)
			return
		}
		logger.Warn("dial failed", "error", err)
		m.handleError(g, err)
		m.handleClose(g, CloseAbnormalClosure, err.Error())
		return
	}

	m.mu.Lock()
	if m.current != g {
		m.mu.Unlock()
		m.closeStale(c)
		return
	}
	g.client = c
	m.mu.Unlock()

	m.handleOpen(g)
	m.pump(g, c)
}

func (m *Manager) handleOpen(g *generation) {
	m.mu.Lock()
	if m.current != g {
		m.mu.Unlock()
		return
	}
	m.state = StateConnected
	m.lastErr = nil
	m.attempts = 0
	ev := Connected{
		Address:       m.address,
		ParticipantID: m.participantID,
		ConnectionID:  g.identity.String(),
	}
	m.mu.Unlock()

	m.logger.Info("websocket connected", "connection_id", ev.ConnectionID, "queued", m.outbound.Len())

	m.writeMu.Lock()
	m.flushLocked(g)
	m.writeMu.Unlock()

	m.mu.Lock()
	if m.current != g || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.heartbeat.start(g.id, m.ping)
	m.mu.Unlock()

	m.events.Emit(EventConnected, ev)
}

// pump dispatches inbound frames of g in arrival order until the
// transport ends or g is retired.
func (m *Manager) pump(g *generation, c Client) {
	msgs := c.Messages()
	for {
		select {
		case <-g.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				var err error
				select {
				case err = <-c.Errors():
				default:
				}
				m.handleTransportEnd(g, err)
				return
			}
			m.handleFrame(g, msg)
		}
	}
}

func (m *Manager) handleTransportEnd(g *generation, err error) {
	code, reason := closeStatus(err)
	if code == CloseAbnormalClosure {
		if err == nil {
			err = errors.New("transport closed")
		}
		m.handleError(g, err)
	}
	m.handleClose(g, code, reason)
}

// closeStatus maps a read error to a close code and reason. Anything that
// is not a close frame from the peer counts as an abnormal closure.
func closeStatus(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	if err == nil {
		return CloseAbnormalClosure, ""
	}
	return CloseAbnormalClosure, err.Error()
}

func (m *Manager) handleFrame(g *generation, msg TimestampedMessage) {
	m.mu.Lock()
	current := m.current == g
	m.mu.Unlock()
	if !current {
		return
	}

	m.received.Add(1)
	in, err := wire.Decode(msg.Data)
	if err != nil {
		m.malformed.Add(1)
		m.logger.Warn("discarding malformed frame", "error", err, "bytes", len(msg.Data))
		return
	}

	switch v := in.(type) {
	case wire.Pong:
		m.heartbeat.markPong(msg.ReceivedAt)
	case wire.ServerError:
		m.logger.Error("server error", "message", v.Message)
		m.notifier.Notify(slog.LevelError, "Server error: "+v.Message)
		m.events.Emit(EventError, Errored{Err: v, ConnectionID: g.identity.String()})
	case wire.Frame:
		m.events.Emit(v.Type, v)
		m.events.Emit(EventMessage, v)
	}
}

func (m *Manager) handleError(g *generation, err error) {
	m.mu.Lock()
	if m.current != g {
		m.mu.Unlock()
		return
	}
	m.lastErr = err
	m.state = StateError
	m.heartbeat.stop()
	m.mu.Unlock()

	id := g.identity.String()
	m.logger.Error("websocket error", "error", err, "connection_id", id)
	m.events.Emit(EventError, Errored{Err: err, ConnectionID: id})
}

func (m *Manager) handleClose(g *generation, code int, reason string) {
	m.mu.Lock()
	if m.current != g {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.heartbeat.stop()
	g.stop()
	c := g.client
	g.client = nil

	var scheduled *ReconnectScheduled
	var exhausted *ReconnectExhausted
	if code != CloseNormalClosure && m.cfg.MaxReconnectAttempts > 0 {
		if m.attempts < m.cfg.MaxReconnectAttempts {
			scheduled = m.scheduleReconnectLocked(g)
		} else {
			exhausted = m.exhaustedLocked()
		}
	}
	m.mu.Unlock()

	if c != nil {
		// The peer is gone; this only releases the socket.
		if err := c.Close(code, reason); err != nil {
			m.logger.Debug("releasing closed transport", "error", err)
		}
	}

	id := g.identity.String()
	m.logger.Info("websocket disconnected", "code", code, "reason", reason, "connection_id", id)
	m.events.Emit(EventDisconnected, Disconnected{Code: code, Reason: reason, ConnectionID: id})

	if scheduled != nil {
		m.logger.Info("reconnect scheduled",
			"attempt", scheduled.Attempt,
			"max_attempts", scheduled.MaxAttempts,
			"delay", scheduled.Delay,
		)
		m.events.Emit(EventReconnectScheduled, *scheduled)
	}
	if exhausted != nil {
		m.reportExhausted(*exhausted)
	}
}

func (m *Manager) scheduleReconnectLocked(g *generation) *ReconnectScheduled {
	m.attempts++
	delay := NextBackoffDelay(m.cfg.Backoff, m.attempts, m.rng)

	gen := g.id
	m.stopReconnectLocked()
	m.reconnectTimer = time.AfterFunc(delay, func() { m.fireReconnect(gen) })

	return &ReconnectScheduled{
		Attempt:      m.attempts,
		MaxAttempts:  m.cfg.MaxReconnectAttempts,
		Delay:        delay,
		ConnectionID: g.identity.String(),
	}
}

func (m *Manager) exhaustedLocked() *ReconnectExhausted {
	m.lastErr = fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, m.attempts)
	return &ReconnectExhausted{
		Attempts:      m.attempts,
		Address:       m.address,
		ParticipantID: m.participantID,
	}
}

func (m *Manager) reportExhausted(ev ReconnectExhausted) {
	m.logger.Error("max reconnection attempts reached", "attempts", ev.Attempts, "address", ev.Address)
	m.notifier.Notify(slog.LevelError, exhaustedNotice)
	m.events.Emit(EventReconnectExhausted, ev)
}

// fireReconnect runs when the reconnect timer for gen expires.
func (m *Manager) fireReconnect(gen uint64) {
	m.mu.Lock()
	if m.closed || m.current == nil || m.current.id != gen || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil

	if m.attempts > m.cfg.MaxReconnectAttempts {
		ev := m.exhaustedLocked()
		m.mu.Unlock()
		m.reportExhausted(*ev)
		return
	}

	m.logger.Info("attempting reconnect", "attempt", m.attempts, "max_attempts", m.cfg.MaxReconnectAttempts)
	stale, err := m.connectLocked(m.address, m.participantID)
	m.mu.Unlock()

	m.closeStale(stale)
	if err != nil {
		m.events.Emit(EventError, Errored{Err: err})
	}
}

// Disconnect closes the connection with a normal closure and cancels any
// pending reconnect or in-flight dial. Safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopReconnectLocked()
	var id string
	if m.current != nil {
		id = m.current.identity.String()
	}
	c := m.retireLocked()
	m.current = nil
	m.gen++
	m.attempts = 0
	m.state = StateDisconnected
	m.mu.Unlock()

	if c == nil {
		return
	}

	const reason = "Client disconnect"
	if err := c.Close(CloseNormalClosure, reason); err != nil {
		m.logger.Debug("close failed", "error", err)
	}
	m.logger.Info("websocket disconnected", "code", CloseNormalClosure, "reason", reason, "connection_id", id)
	m.events.Emit(EventDisconnected, Disconnected{Code: CloseNormalClosure, Reason: reason, ConnectionID: id})
}

// Close disconnects, drops all subscriptions and refuses further connects.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.Disconnect()
	m.events.Reset()
	return nil
}

// Send delivers message now if connected, otherwise queues it. Strings,
// byte slices and json.RawMessage are sent as-is; anything else is JSON
// encoded. A queued message yields an error wrapping ErrMessageQueued.
func (m *Manager) Send(message any) error {
	data, err := wire.Encode(message)
	if err != nil {
		m.logger.Error("failed to encode message", "error", err)
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	g, c := m.live()
	if c == nil {
		if err := m.enqueueLocked(data); err != nil {
			return err
		}
		m.logger.Debug("message queued - not connected", "queued", m.outbound.Len())
		return fmt.Errorf("%w: %w", ErrMessageQueued, ErrNotConnected)
	}

	if m.outbound.Len() > 0 {
		if err := m.enqueueLocked(data); err != nil {
			return err
		}
		if !m.flushLocked(g) {
			return fmt.Errorf("%w: flush incomplete", ErrMessageQueued)
		}
		return nil
	}

	if err := c.Send(data); err != nil {
		m.logger.Warn("send failed, message queued", "error", err)
		if qerr := m.enqueueLocked(data); qerr != nil {
			return qerr
		}
		return fmt.Errorf("%w: %w", ErrMessageQueued, err)
	}
	m.sent.Add(1)
	return nil
}

// live returns the current generation and its transport when connected.
// A transport that already lost its socket counts as not connected, even
// before its end has been handled.
func (m *Manager) live() (*generation, Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.current
	if g == nil || g.client == nil || m.state != StateConnected {
		return nil, nil
	}
	if !g.client.IsConnected() {
		return nil, nil
	}
	return g, g.client
}

// enqueueLocked appends to the outbound queue. Requires writeMu.
func (m *Manager) enqueueLocked(data []byte) error {
	switch m.outbound.Push(data) {
	case queue.Accepted:
		return nil
	case queue.AcceptedDroppedOldest:
		m.logger.Warn("outbound queue full, dropped oldest message", "capacity", m.cfg.QueueCapacity)
		return nil
	default:
		m.logger.Warn("outbound queue full, message dropped", "capacity", m.cfg.QueueCapacity)
		return ErrQueueFull
	}
}

// flushLocked writes queued messages while g stays connected. A failed
// write leaves that message at the head. Requires writeMu. Reports whether
// the queue was drained.
func (m *Manager) flushLocked(g *generation) bool {
	flushed := 0
	defer func() {
		if flushed > 0 {
			m.logger.Info("flushed queued messages", "count", flushed)
		}
	}()

	for {
		cur, c := m.live()
		if cur != g || c == nil {
			return m.outbound.Len() == 0
		}
		data, ok := m.outbound.Peek()
		if !ok {
			return true
		}
		if err := c.Send(data); err != nil {
			m.logger.Warn("flush interrupted", "error", err, "remaining", m.outbound.Len())
			return false
		}
		m.outbound.Pop()
		m.sent.Add(1)
		flushed++
	}
}

// ping is the heartbeat tick for gen.
func (m *Manager) ping(gen uint64) bool {
	data, err := wire.Encode(wire.NewPing())
	if err != nil {
		return false
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	g, c := m.live()
	if c == nil || g.id != gen {
		return false
	}
	if err := c.Send(data); err != nil {
		m.logger.Debug("heartbeat ping failed", "error", err)
		return false
	}
	return true
}

// On registers handler for event.
func (m *Manager) On(event string, handler dispatch.Handler) dispatch.Subscription {
	return m.events.On(event, handler)
}

// Off removes the given subscriptions, or every handler for event when
// none are given.
func (m *Manager) Off(event string, subs ...dispatch.Subscription) {
	m.events.Off(event, subs...)
}

// Events exposes the dispatcher for components that only subscribe.
func (m *Manager) Events() dispatch.Subscriber {
	return m.events
}

// IsConnected reports whether the session is open.
func (m *Manager) IsConnected() bool {
	return m.Status() == StateConnected
}

// IsConnecting reports whether a dial is in progress.
func (m *Manager) IsConnecting() bool {
	return m.Status() == StateConnecting
}

// Status returns the current state.
func (m *Manager) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent transport error, cleared on open.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// ConnectionID returns the identity string of the current attempt.
func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.identity.String()
}

// Stats returns manager statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	stats := ManagerStats{
		State:             m.state,
		Generation:        m.gen,
		ReconnectAttempts: m.attempts,
	}
	m.mu.Unlock()

	qs := m.outbound.Stats()
	stats.Queued = qs.Count
	stats.QueueDropped = qs.TotalDropped
	stats.MessagesSent = m.sent.Load()
	stats.MessagesReceived = m.received.Load()
	stats.MalformedFrames = m.malformed.Load()
	stats.PingsSent, stats.LastPongAt = m.heartbeat.snapshot()
	stats.HeartbeatRunning = m.heartbeat.running()
	return stats
}
