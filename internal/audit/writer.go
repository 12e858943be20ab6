package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/livesession/internal/dispatch"
	"github.com/rickgao/livesession/internal/queue"
)

// BatchSender executes a pgx batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds batching settings.
type Config struct {
	BatchSize     int           // Rows per INSERT batch
	FlushInterval time.Duration // Max time a row waits in a partial batch
	BufferSize    int           // Max records waiting to be batched
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// Metrics tracks writer activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}

const insertSQL = `
	INSERT INTO connection_events
		(id, occurred_at, event, connection_id, participant_id, code, attempt, detail)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO NOTHING
`

// Writer consumes lifecycle records and writes them to connection_events.
type Writer struct {
	cfg    Config
	logger *slog.Logger

	input *queue.Buffer[Record]
	db    BatchSender

	// Batching
	batch       []Record
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Subscriptions
	subsMu sync.Mutex
	subs   []dispatch.Subscription

	// Lifecycle
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	consumerDone chan struct{}

	metrics Metrics
}

// NewWriter creates a writer. db may be nil, in which case batches are
// discarded after being counted as errors.
func NewWriter(cfg Config, db BatchSender, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	return &Writer{
		cfg:    cfg,
		logger: logger,
		input:  queue.NewBoundedBuffer[Record](64, cfg.BufferSize, queue.DropOldest),
		db:     db,
		batch:  make([]Record, 0, cfg.BatchSize),
	}
}

// Attach subscribes the writer to every lifecycle event of events.
// participantID fills records whose payload does not carry one.
func (w *Writer) Attach(events dispatch.Subscriber, participantID string) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()

	for _, name := range LifecycleEvents {
		sub := events.On(name, func(ev dispatch.Event) {
			if rec, ok := FromEvent(ev, participantID, time.Now()); ok {
				w.Record(rec)
			}
		})
		w.subs = append(w.subs, sub)
	}
}

// Detach removes the subscriptions made by Attach.
func (w *Writer) Detach() {
	w.subsMu.Lock()
	subs := w.subs
	w.subs = nil
	w.subsMu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// Record enqueues rec without blocking.
func (w *Writer) Record(rec Record) {
	switch w.input.Push(rec) {
	case queue.AcceptedDroppedOldest, queue.Dropped:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		w.logger.Warn("audit buffer full, dropped record", "event", rec.Event)
	case queue.Closed:
		w.logger.Debug("audit writer stopped, record ignored", "event", rec.Event)
	}
}

// Start begins consuming records and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.consumerDone = make(chan struct{})
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("audit writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains pending records, writes them and shuts the writer down.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping audit writer")

	w.Detach()
	w.input.Close()

	// The consumer exits once the closed input is empty
	if w.consumerDone != nil {
		select {
		case <-w.consumerDone:
		case <-ctx.Done():
			w.logger.Warn("audit consumer drain timed out", "pending", w.input.Len())
		}
	}

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("audit writer stopped")
	case <-ctx.Done():
		w.logger.Warn("audit writer stop timed out")
	}

	// Whatever the consumer did not reach
	for _, rec := range w.input.DrainTo(0) {
		w.batchMu.Lock()
		w.batch = append(w.batch, rec)
		w.batchMu.Unlock()
	}
	w.flushContext(ctx)

	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer and accumulates batches until
// the buffer is closed and empty.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()
	defer close(w.consumerDone)

	for {
		rec, ok := w.input.Receive()
		if !ok {
			return
		}
		w.handleRecord(rec)
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flushContext(w.ctx)
		}
	}
}

// handleRecord adds a record to the batch, flushing when it is full.
func (w *Writer) handleRecord(rec Record) {
	w.batchMu.Lock()
	w.batch = append(w.batch, rec)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flushContext(w.ctx)
	}
}

// flushContext writes the current batch using ctx for the round trip.
func (w *Writer) flushContext(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]Record, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("audit batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed audit records",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []Record) (conflicts int, err error) {
	if w.db == nil {
		return 0, errNoDatabase
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL,
			r.ID, r.OccurredAt, r.Event, r.ConnectionID, r.ParticipantID,
			nullable(r.Code), nullable(r.Attempt), r.Detail,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
