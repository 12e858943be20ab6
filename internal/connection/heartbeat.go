package connection

import (
	"log/slog"
	"sync"
	"time"
)

// heartbeat runs the ping ticker for one connection generation at a time.
type heartbeat struct {
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	gen      uint64
	pings    int64
	lastPong time.Time
}

func newHeartbeat(interval time.Duration, logger *slog.Logger) *heartbeat {
	return &heartbeat{interval: interval, logger: logger}
}

// start replaces any running ticker with one bound to gen. tick reports
// whether a ping was actually written.
func (h *heartbeat) start(gen uint64, tick func(gen uint64) bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()
	if h.interval <= 0 {
		return
	}

	stop := make(chan struct{})
	h.stopCh = stop
	h.gen = gen
	go h.loop(gen, stop, tick)
}

func (h *heartbeat) loop(gen uint64, stop <-chan struct{}, tick func(uint64) bool) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if tick(gen) {
				h.mu.Lock()
				h.pings++
				h.mu.Unlock()
			}
		}
	}
}

// stop halts the ticker. Safe to call when nothing is running.
func (h *heartbeat) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

func (h *heartbeat) stopLocked() {
	if h.stopCh != nil {
		close(h.stopCh)
		h.stopCh = nil
	}
}

func (h *heartbeat) running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopCh != nil
}

func (h *heartbeat) markPong(at time.Time) {
	h.mu.Lock()
	h.lastPong = at
	h.mu.Unlock()
	h.logger.Debug("received heartbeat pong")
}

func (h *heartbeat) snapshot() (pings int64, lastPong time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pings, h.lastPong
}
