package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/livesession/internal/dispatch"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClient is an in-memory Client. The test plays the server through
// deliver, serverClose and fail.
type fakeClient struct {
	cfg        ClientConfig
	connectErr error
	block      chan struct{}

	// failWrite makes the Nth (1-based) Send call fail.
	failWrite int

	mu        sync.Mutex
	writes    int
	tried     []string
	sent      []string
	sendErr   error
	connected bool
	closed    bool
	closeCode int

	messages chan TimestampedMessage
	errors   chan error
	endOnce  sync.Once
}

func newFakeClient(cfg ClientConfig) *fakeClient {
	return &fakeClient{
		cfg:      cfg,
		messages: make(chan TimestampedMessage, 64),
		errors:   make(chan error, 1),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Close(code int, reason string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.connected = false
	f.closeCode = code
	f.mu.Unlock()
	f.end(nil)
	return nil
}

func (f *fakeClient) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	f.tried = append(f.tried, string(data))
	if f.failWrite > 0 && f.writes == f.failWrite {
		return errors.New("write: broken pipe")
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	if !f.connected {
		return ErrNotConnected
	}
	f.sent = append(f.sent, string(data))
	return nil
}

func (f *fakeClient) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeClient) Errors() <-chan error                { return f.errors }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) deliver(frame string) {
	f.messages <- TimestampedMessage{Data: []byte(frame), ReceivedAt: time.Now()}
}

func (f *fakeClient) serverClose(code int, text string) {
	f.fail(&websocket.CloseError{Code: code, Text: text})
}

// drop marks the transport dead without ending it, like a socket whose
// read loop has not noticed the loss yet.
func (f *fakeClient) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeClient) fail(err error) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.end(err)
}

func (f *fakeClient) end(err error) {
	f.endOnce.Do(func() {
		if err != nil {
			f.errors <- err
		}
		close(f.messages)
	})
}

func (f *fakeClient) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeClient) sentFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeClient) triedFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tried...)
}

func (f *fakeClient) closedWith() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.closeCode
}

// fakeDialer hands out fakeClients and remembers every dial.
type fakeDialer struct {
	prepare func(n int, c *fakeClient)

	mu      sync.Mutex
	clients []*fakeClient
}

func (d *fakeDialer) factory(cfg ClientConfig, _ *slog.Logger) Client {
	c := newFakeClient(cfg)
	d.mu.Lock()
	n := len(d.clients)
	d.clients = append(d.clients, c)
	d.mu.Unlock()
	if d.prepare != nil {
		d.prepare(n, c)
	}
	return c
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func (d *fakeDialer) client(i int) *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[i]
}

// recorder keeps every event published under the subscribed names.
type recorder struct {
	mu     sync.Mutex
	events []dispatch.Event
}

func record(m *Manager, names ...string) *recorder {
	r := &recorder{}
	for _, name := range names {
		m.On(name, func(ev dispatch.Event) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		})
	}
	return r
}

func (r *recorder) all(name string) []dispatch.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dispatch.Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) count(name string) int {
	return len(r.all(name))
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name
	}
	return out
}

// waitEvent waits for the nth (1-based) event called name.
func (r *recorder) waitEvent(t *testing.T, name string, n int) dispatch.Event {
	t.Helper()
	waitFor(t, name, func() bool { return r.count(name) >= n })
	return r.all(name)[n-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

type notice struct {
	level slog.Level
	msg   string
}

type noticeLog struct {
	mu      sync.Mutex
	notices []notice
}

func (n *noticeLog) Notify(level slog.Level, msg string) {
	n.mu.Lock()
	n.notices = append(n.notices, notice{level, msg})
	n.mu.Unlock()
}

func (n *noticeLog) all() []notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notice(nil), n.notices...)
}
