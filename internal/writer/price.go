package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mglien/volt-data/internal/model"
)

// PriceWriter inserts polled price and consumption history. Unlike the
// measurement writer it has no internal batching; the poller already hands
// it complete result sets.
type PriceWriter struct {
	logger *slog.Logger
	db     *pgxpool.Pool

	mu      sync.Mutex
	metrics WriterMetrics
}

// NewPriceWriter creates a new PriceWriter.
func NewPriceWriter(db *pgxpool.Pool, logger *slog.Logger) *PriceWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriceWriter{db: db, logger: logger}
}

// Stats returns current metrics.
func (w *PriceWriter) Stats() WriterMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

// WritePrices inserts hourly price entries, skipping hours already stored.
func (w *PriceWriter) WritePrices(ctx context.Context, entries []model.PriceEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO prices (home_id, starts_at, total, energy, tax, currency, level)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (home_id, starts_at) DO NOTHING
		`, e.HomeID.String(), e.StartsAt, e.Total, e.Energy, e.Tax, e.Currency, string(e.Level))
	}

	return w.sendBatch(ctx, batch, len(entries), "prices")
}

// WriteConsumption inserts metered consumption intervals.
func (w *PriceWriter) WriteConsumption(ctx context.Context, entries []model.ConsumptionEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO consumption (home_id, from_ts, to_ts, consumption, cost, unit_price, currency)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (home_id, from_ts) DO NOTHING
		`, e.HomeID.String(), e.From, e.To, e.Consumption, e.Cost, e.UnitPrice, e.Currency)
	}

	return w.sendBatch(ctx, batch, len(entries), "consumption")
}

func (w *PriceWriter) sendBatch(ctx context.Context, batch *pgx.Batch, n int, table string) error {
	start := time.Now()

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	conflicts := 0
	for i := 0; i < n; i++ {
		ct, err := results.Exec()
		if err != nil {
			w.logger.Error("batch insert failed", "table", table, "error", err, "count", n)
			w.mu.Lock()
			w.metrics.Errors++
			w.mu.Unlock()
			return err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	w.mu.Lock()
	w.metrics.Inserts += int64(n - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.mu.Unlock()

	w.logger.Debug("flushed rows",
		"table", table,
		"count", n,
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}
