package connection

import (
	"context"
	"log/slog"
)

// Notifier surfaces user-visible messages (toasts, banners, stderr lines).
type Notifier interface {
	Notify(level slog.Level, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level slog.Level, message string)

// Notify calls f.
func (f NotifierFunc) Notify(level slog.Level, message string) {
	f(level, message)
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs message at level, falling back to slog.Default.
func (n LogNotifier) Notify(level slog.Level, message string) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(context.Background(), level, message, "notification", true)
}
