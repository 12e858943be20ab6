package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/livesession/internal/config"
	"github.com/rickgao/livesession/internal/connection"
	"github.com/rickgao/livesession/internal/dispatch"
	"github.com/rickgao/livesession/internal/queue"
	"github.com/rickgao/livesession/internal/wire"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		want    command
		wantErr bool
	}{
		{line: "hello world", want: command{kind: cmdTyping, text: "hello world"}},
		{line: "/start title", want: command{kind: cmdStart, text: "title"}},
		{line: "/start", want: command{kind: cmdStart}},
		{line: "/stop", want: command{kind: cmdStop}},
		{line: "/cursor 12", want: command{kind: cmdCursor, position: 12}},
		{line: "/cursor x", wantErr: true},
		{line: "/presence", want: command{kind: cmdPresence}},
		{line: `/raw {"type":"custom"}`, want: command{kind: cmdRaw, text: `{"type":"custom"}`}},
		{line: "/raw {broken", wantErr: true},
		{line: "/reconnect", want: command{kind: cmdReconnect}},
		{line: "/disconnect", want: command{kind: cmdDisconnect}},
		{line: "/stats", want: command{kind: cmdStats}},
		{line: "/quit", want: command{kind: cmdQuit}},
		{line: "/exit", want: command{kind: cmdQuit}},
		{line: "/help", want: command{kind: cmdHelp}},
		{line: "/bogus", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseLine(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseLine(%q) expected error", tt.line)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseLine(%q) error = %v", tt.line, err)
			}
			if got != tt.want {
				t.Errorf("parseLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

// fakeSession records calls as strings.
type fakeSession struct {
	calls   []string
	sendErr error
}

func (f *fakeSession) record(format string, args ...any) error {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.sendErr
}

func (f *fakeSession) Connect(address, participantID string) error {
	f.calls = append(f.calls, "connect "+address+" "+participantID)
	return nil
}
func (f *fakeSession) Disconnect()                      { f.calls = append(f.calls, "disconnect") }
func (f *fakeSession) Send(message any) error           { return f.record("send %s", message) }
func (f *fakeSession) StartEditing(field string) error  { return f.record("start %s", field) }
func (f *fakeSession) StopEditing() error               { return f.record("stop") }
func (f *fakeSession) RequestPresence() error           { return f.record("presence") }
func (f *fakeSession) Stats() connection.ManagerStats   { return connection.ManagerStats{Queued: 3} }
func (f *fakeSession) SendTyping(field, content string) error {
	return f.record("typing %s %s", field, content)
}
func (f *fakeSession) SendCursorPosition(field string, position int) error {
	return f.record("cursor %s %d", field, position)
}

func TestExecutor(t *testing.T) {
	s := &fakeSession{}
	e := &executor{s: s, address: "ws://h/ws", participant: "alice", field: "notes"}

	steps := []command{
		{kind: cmdTyping, text: "hi"},
		{kind: cmdStart, text: "title"},
		{kind: cmdCursor, position: 3},
		{kind: cmdStop},
		{kind: cmdPresence},
		{kind: cmdRaw, text: `{"type":"x"}`},
		{kind: cmdDisconnect},
		{kind: cmdReconnect},
	}
	for _, c := range steps {
		if _, err := e.execute(c); err != nil {
			t.Fatalf("execute(%+v) error = %v", c, err)
		}
	}

	want := []string{
		"typing notes hi",
		"start title",
		"cursor title 3",
		"stop",
		"presence",
		`send {"type":"x"}`,
		"disconnect",
		"connect ws://h/ws alice",
	}
	if len(s.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", s.calls, want)
	}
	for i := range want {
		if s.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, s.calls[i], want[i])
		}
	}
}

func TestExecutor_QueuedIsNotAnError(t *testing.T) {
	s := &fakeSession{sendErr: fmt.Errorf("%w: %w", connection.ErrMessageQueued, connection.ErrNotConnected)}
	e := &executor{s: s, field: "notes"}

	msg, err := e.execute(command{kind: cmdTyping, text: "offline"})
	if err != nil {
		t.Fatalf("execute error = %v, want nil", err)
	}
	if !strings.Contains(msg, "queued") {
		t.Errorf("message = %q, want queued notice", msg)
	}

	s.sendErr = connection.ErrQueueFull
	if _, err := e.execute(command{kind: cmdTyping, text: "x"}); !errors.Is(err, connection.ErrQueueFull) {
		t.Errorf("execute error = %v, want ErrQueueFull", err)
	}
}

func TestExecutor_StatsAndQuit(t *testing.T) {
	e := &executor{s: &fakeSession{}}

	msg, err := e.execute(command{kind: cmdStats})
	if err != nil || !strings.Contains(msg, "queued=3") {
		t.Errorf("stats = %q, %v; want queued=3", msg, err)
	}
	if _, err := e.execute(command{kind: cmdQuit}); !errors.Is(err, errQuit) {
		t.Errorf("quit error = %v, want errQuit", err)
	}
}

func TestCommandLoop(t *testing.T) {
	s := &fakeSession{}
	e := &executor{s: s, field: "notes"}
	lines := make(chan string, 4)
	lines <- "draft"
	lines <- "/nope"
	lines <- ""
	lines <- "/quit"

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := commandLoop(ctx, e, lines, &out)
	if !errors.Is(err, errQuit) {
		t.Errorf("commandLoop error = %v, want errQuit", err)
	}
	if len(s.calls) != 1 || s.calls[0] != "typing notes draft" {
		t.Errorf("calls = %v, want one typing call", s.calls)
	}
	if !strings.Contains(out.String(), "unknown command /nope") {
		t.Errorf("output = %q, want unknown command notice", out.String())
	}
}

func TestCommandLoop_StdinClosed(t *testing.T) {
	lines := make(chan string)
	close(lines)
	err := commandLoop(context.Background(), &executor{s: &fakeSession{}}, lines, &bytes.Buffer{})
	if !errors.Is(err, errQuit) {
		t.Errorf("commandLoop error = %v, want errQuit", err)
	}
}

func TestManagerConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Session.Address = "ws://localhost/ws"
	cfg.Queue.Capacity = -1
	cfg.Queue.Overflow = "reject"
	cfg.Connection.ReconnectJitter = true

	mc, err := managerConfig(cfg)
	if err != nil {
		t.Fatalf("managerConfig error = %v", err)
	}
	if mc.QueueCapacity != 0 {
		t.Errorf("QueueCapacity = %d, want 0 (unbounded)", mc.QueueCapacity)
	}
	if mc.QueueOverflow != queue.Reject {
		t.Errorf("QueueOverflow = %v, want reject", mc.QueueOverflow)
	}
	if mc.MaxReconnectAttempts != 5 || mc.Backoff.InitialDelay != time.Second || mc.Backoff.MaxDelay != 10*time.Second {
		t.Errorf("reconnect policy = %d %+v", mc.MaxReconnectAttempts, mc.Backoff)
	}
	if !mc.Backoff.Jitter {
		t.Error("Backoff.Jitter = false, want true")
	}
	if !strings.HasPrefix(mc.Client.UserAgent, "sessionctl/") {
		t.Errorf("UserAgent = %q, want sessionctl/ prefix", mc.Client.UserAgent)
	}

	cfg.Queue.Overflow = "spill"
	if _, err := managerConfig(cfg); err == nil {
		t.Error("managerConfig accepted unknown overflow policy")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, false, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("output = %s, want JSON warn line", out)
	}

	buf.Reset()
	logger = newLogger(config.LoggingConfig{Level: "error", Format: "text"}, true, &buf)
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("verbose logger should enable debug")
	}
}

func TestSubscribePrinters(t *testing.T) {
	d := dispatch.New(nil)
	var out bytes.Buffer
	subscribePrinters(d, &out, false)

	d.Emit(connection.EventConnected, connection.Connected{Address: "ws://h/ws", ParticipantID: "alice", ConnectionID: "alice_1"})
	d.Emit(connection.EventMessage, wire.Frame{Type: "presence", Raw: []byte(`{"type":"presence"}`)})
	d.Emit(connection.EventDisconnected, connection.Disconnected{Code: 1006, Reason: "reset"})

	got := out.String()
	for _, want := range []string{
		"[CONNECTED] ws://h/ws as alice (alice_1)",
		`[presence] {"type":"presence"}`,
		`[DISCONNECTED] code=1006 reason="reset"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestStderrNotifier(t *testing.T) {
	var buf bytes.Buffer
	stderrNotifier(&buf).Notify(slog.LevelError, "Connection lost - please refresh the page")
	if got := buf.String(); got != "[ERROR] Connection lost - please refresh the page\n" {
		t.Errorf("notice = %q", got)
	}
}
