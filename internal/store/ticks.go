package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradeview/marketfeed/internal/feed"
	"github.com/tradeview/marketfeed/internal/model"
)

// WriterConfig configures the tick writer.
type WriterConfig struct {
	BatchSize     int           // Rows per batch insert
	FlushInterval time.Duration // Max time a row waits before flush
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: 1 * time.Second,
	}
}

// WriterMetrics counts writer activity.
type WriterMetrics struct {
	Inserts      int64
	Conflicts    int64
	Flushes      int64
	Errors       int64
	DecodeErrors int64
}

// tickRow is one row of the ticks table.
type tickRow struct {
	Symbol     string
	Price      float64
	Bid        float64
	Ask        float64
	Volume     int64
	ExchangeTs int64 // ms since epoch
	ReceivedAt int64 // µs since epoch, local receive time
}

// TickWriter batches price updates and writes them to the database.
type TickWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	db *pgxpool.Pool

	// Batching
	batch       []tickRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewTickWriter creates a new TickWriter.
func NewTickWriter(cfg WriterConfig, db *pgxpool.Pool, logger *slog.Logger) *TickWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TickWriter{
		cfg:    cfg,
		db:     db,
		logger: logger,
		batch:  make([]tickRow, 0, cfg.BatchSize),
	}
}

// Handler returns the feed handler that feeds this writer. Register it
// for the price_update message type.
func (w *TickWriter) Handler() feed.Handler {
	return func(msg feed.Message) {
		var update model.PriceUpdate

		payload := msg.Payload
		if len(payload) == 0 {
			payload = msg.Raw
		}
		if err := json.Unmarshal(payload, &update); err != nil || update.Symbol == "" {
			w.batchMu.Lock()
			w.metrics.DecodeErrors++
			w.batchMu.Unlock()
			w.logger.Warn("dropping undecodable price update", "error", err)
			return
		}

		w.handleUpdate(update, msg.ReceivedAt)
	}
}

// Start begins the periodic flush loop.
func (w *TickWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("tick writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer, flushing anything buffered.
func (w *TickWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping tick writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("tick writer stopped")
	case <-ctx.Done():
		w.logger.Warn("tick writer stop timed out")
	}

	// Final flush
	w.flush()

	return nil
}

// Stats returns current metrics.
func (w *TickWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// flushLoop periodically flushes the batch.
func (w *TickWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

// handleUpdate transforms and adds an update to the batch.
func (w *TickWriter) handleUpdate(update model.PriceUpdate, receivedAt time.Time) {
	row := w.transform(update, receivedAt)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// transform converts a PriceUpdate to a tickRow.
func (w *TickWriter) transform(update model.PriceUpdate, receivedAt time.Time) tickRow {
	return tickRow{
		Symbol:     update.Symbol,
		Price:      update.Price,
		Bid:        update.Bid,
		Ask:        update.Ask,
		Volume:     update.Volume,
		ExchangeTs: update.Timestamp,
		ReceivedAt: receivedAt.UnixMicro(),
	}
}

// flush writes the current batch to the database.
func (w *TickWriter) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]tickRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
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

	w.logger.Debug("flushed ticks",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *TickWriter) batchInsert(rows []tickRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO ticks (symbol, price, bid, ask, volume, exchange_ts, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (symbol, exchange_ts) DO NOTHING
		`, r.Symbol, r.Price, r.Bid, r.Ask, r.Volume, r.ExchangeTs, r.ReceivedAt)
	}

	results := w.db.SendBatch(w.ctx, batch)
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
