package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/rickgao/livesession/internal/audit"
	"github.com/rickgao/livesession/internal/config"
	"github.com/rickgao/livesession/internal/connection"
	"github.com/rickgao/livesession/internal/queue"
	"github.com/rickgao/livesession/internal/version"
)

// newLogger builds the slog logger described by cfg. verbose forces debug.
func newLogger(cfg config.LoggingConfig, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// managerConfig maps file config onto the Connection Manager.
func managerConfig(cfg *config.ClientConfig) (connection.ManagerConfig, error) {
	policy, ok := queue.ParseOverflowPolicy(cfg.Queue.Overflow)
	if !ok {
		return connection.ManagerConfig{}, fmt.Errorf("unknown queue overflow policy %q", cfg.Queue.Overflow)
	}

	capacity := cfg.Queue.Capacity
	if capacity < 0 {
		capacity = 0 // unbounded
	}

	mc := connection.DefaultManagerConfig()
	mc.ParticipantParam = cfg.Connection.ParticipantParam
	mc.MaxReconnectAttempts = cfg.Connection.MaxReconnectAttempts
	mc.Backoff = connection.BackoffConfig{
		InitialDelay: cfg.Connection.ReconnectBaseDelay,
		Multiplier:   cfg.Connection.ReconnectMultiplier,
		MaxDelay:     cfg.Connection.ReconnectMaxDelay,
		Jitter:       cfg.Connection.ReconnectJitter,
	}
	mc.HeartbeatInterval = cfg.Connection.HeartbeatInterval
	mc.QueueCapacity = capacity
	mc.QueueOverflow = policy
	mc.Client = connection.ClientConfig{
		UserAgent:        version.UserAgent(),
		HandshakeTimeout: cfg.Connection.HandshakeTimeout,
		WriteTimeout:     cfg.Connection.WriteTimeout,
		ReadLimit:        cfg.Connection.ReadLimit,
		BufferSize:       cfg.Connection.BufferSize,
	}
	return mc, nil
}

func auditConfig(cfg config.AuditConfig) audit.Config {
	return audit.Config{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		BufferSize:    cfg.BufferSize,
	}
}

// stderrNotifier prints user-visible notices.
func stderrNotifier(w io.Writer) connection.Notifier {
	return connection.NotifierFunc(func(level slog.Level, msg string) {
		fmt.Fprintf(w, "[%s] %s\n", strings.ToUpper(level.String()), msg)
	})
}
