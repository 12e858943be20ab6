// sessionctl joins a collaborative editing session from the terminal.
// Usage: go run ./cmd/sessionctl -address ws://localhost:8000/ws/session/42 -participant alice
//
// Every stdin line is sent as a typing update for the current field; lines
// starting with "/" are commands (see /help). Lifecycle events and inbound
// frames are printed to stdout.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/livesession/internal/audit"
	"github.com/rickgao/livesession/internal/config"
	"github.com/rickgao/livesession/internal/connection"
	"github.com/rickgao/livesession/internal/database"
	"github.com/rickgao/livesession/internal/dispatch"
	"github.com/rickgao/livesession/internal/version"
	"github.com/rickgao/livesession/internal/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sessionctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML or TOML config file")
	address := flag.String("address", "", "session WebSocket address (overrides config)")
	participant := flag.String("participant", "", "participant id (overrides config)")
	field := flag.String("field", "", "field for typing updates (overrides config)")
	statsEvery := flag.Duration("stats", 0, "log connection stats at this interval (0 disables)")
	verbose := flag.Bool("verbose", false, "debug logging and full frame JSON")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return nil
	}

	// Load config
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadWithDefaults(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *address != "" {
		cfg.Session.Address = *address
	}
	if *participant != "" {
		cfg.Session.ParticipantID = *participant
	}
	if *field != "" {
		cfg.Session.Field = *field
	}
	if cfg.Session.Field == "" {
		cfg.Session.Field = "content"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger := newLogger(cfg.Logging, *verbose, os.Stderr)
	logger.Info("starting sessionctl",
		"version", version.Version,
		"commit", version.Commit,
		"address", cfg.Session.Address,
		"participant_id", cfg.Session.ParticipantID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	mc, err := managerConfig(cfg)
	if err != nil {
		return err
	}
	mgr := connection.NewManager(mc, logger, connection.WithNotifier(stderrNotifier(os.Stderr)))
	subscribePrinters(mgr, os.Stdout, *verbose)

	// Optional audit journal
	var writer *audit.Writer
	if cfg.Audit.Enabled {
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect audit database: %w", err)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			return fmt.Errorf("prepare audit schema: %w", err)
		}

		writer = audit.NewWriter(auditConfig(cfg.Audit), pool, logger.With("component", "audit"))
		writer.Attach(mgr.Events(), cfg.Session.ParticipantID)
		if err := writer.Start(ctx); err != nil {
			return fmt.Errorf("start audit writer: %w", err)
		}
	}

	if err := mgr.Connect(cfg.Session.Address, cfg.Session.ParticipantID); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	exec := &executor{
		s:           mgr,
		address:     cfg.Session.Address,
		participant: cfg.Session.ParticipantID,
		field:       cfg.Session.Field,
	}

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return commandLoop(gctx, exec, lines, os.Stdout)
	})

	if *statsEvery > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(*statsEvery)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					s := mgr.Stats()
					logger.Info("stats",
						"state", s.State,
						"queued", s.Queued,
						"sent", s.MessagesSent,
						"received", s.MessagesReceived,
						"malformed", s.MalformedFrames,
						"pings", s.PingsSent,
					)
				}
			}
		})
	}

	logger.Info("session started - type /help for commands, Ctrl+C to stop")

	err = g.Wait()
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	mgr.Disconnect()
	if writer != nil {
		writer.Stop(shutdownCtx)
	}
	mgr.Close()

	logger.Info("shutdown complete")
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

// readLines forwards stdin lines until EOF, then closes out.
func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

// commandLoop executes lines until ctx ends, stdin closes or /quit.
func commandLoop(ctx context.Context, exec *executor, lines <-chan string, out io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			if line == "" {
				continue
			}
			cmd, err := parseLine(line)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			msg, err := exec.execute(cmd)
			if errors.Is(err, errQuit) {
				return err
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			if msg != "" {
				fmt.Fprintln(out, msg)
			}
		}
	}
}

// subscribePrinters prints lifecycle events and inbound frames to out.
func subscribePrinters(events dispatch.Subscriber, out io.Writer, verbose bool) {
	events.On(connection.EventConnected, dispatch.Typed(func(ev connection.Connected) {
		fmt.Fprintf(out, "[CONNECTED] %s as %s (%s)\n", ev.Address, ev.ParticipantID, ev.ConnectionID)
	}))
	events.On(connection.EventDisconnected, dispatch.Typed(func(ev connection.Disconnected) {
		fmt.Fprintf(out, "[DISCONNECTED] code=%d reason=%q\n", ev.Code, ev.Reason)
	}))
	events.On(connection.EventError, dispatch.Typed(func(ev connection.Errored) {
		fmt.Fprintf(out, "[ERROR] %v\n", ev.Err)
	}))
	events.On(connection.EventReconnectScheduled, dispatch.Typed(func(ev connection.ReconnectScheduled) {
		fmt.Fprintf(out, "[RECONNECT] attempt %d/%d in %s\n", ev.Attempt, ev.MaxAttempts, ev.Delay)
	}))
	events.On(connection.EventReconnectExhausted, dispatch.Typed(func(ev connection.ReconnectExhausted) {
		fmt.Fprintf(out, "[GAVE UP] after %d attempts - use /reconnect to try again\n", ev.Attempts)
	}))
	events.On(connection.EventMessage, dispatch.Typed(func(f wire.Frame) {
		if verbose {
			data, err := json.MarshalIndent(f.Raw, "", "  ")
			if err == nil {
				fmt.Fprintf(out, "[%s] %s\n", f.Type, data)
				return
			}
		}
		fmt.Fprintf(out, "[%s] %s\n", f.Type, f.Raw)
	}))
}
