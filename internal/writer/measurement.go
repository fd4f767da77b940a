package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mglien/volt-data/internal/model"
	"github.com/mglien/volt-data/internal/router"
)

// MeasurementWriter drains live measurements from the router buffer and
// writes them to the live_measurements table.
type MeasurementWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the measurement router
	input *router.GrowableBuffer[model.LiveMeasurement]

	// Database
	db *pgxpool.Pool

	// Batching
	batch       []measurementRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewMeasurementWriter creates a new MeasurementWriter.
func NewMeasurementWriter(
	cfg WriterConfig,
	input *router.GrowableBuffer[model.LiveMeasurement],
	db *pgxpool.Pool,
	logger *slog.Logger,
) *MeasurementWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &MeasurementWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]measurementRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming measurements and writing to the database.
func (w *MeasurementWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("measurement writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *MeasurementWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping measurement writer")

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
		w.logger.Info("measurement writer stopped")
	case <-ctx.Done():
		w.logger.Warn("measurement writer stop timed out")
	}

	// Final flush runs on the caller's context since w.ctx is already
	// cancelled.
	w.flushCtx(ctx)

	return nil
}

// Stats returns current metrics.
func (w *MeasurementWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop drains the input buffer and accumulates batches.
func (w *MeasurementWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		items := w.input.DrainTo(w.cfg.BatchSize)
		if len(items) == 0 {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
			continue
		}

		w.handleMeasurements(items)
	}
}

// flushLoop periodically flushes the batch.
func (w *MeasurementWriter) flushLoop() {
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

// handleMeasurements transforms and batches drained measurements.
func (w *MeasurementWriter) handleMeasurements(items []model.LiveMeasurement) {
	w.batchMu.Lock()
	for _, m := range items {
		w.batch = append(w.batch, w.transform(m))
	}
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// transform converts a LiveMeasurement to a measurementRow.
func (w *MeasurementWriter) transform(m model.LiveMeasurement) measurementRow {
	return measurementRow{
		HomeID:                 m.HomeID.String(),
		Ts:                     m.Timestamp,
		ReceivedAt:             m.ReceivedAt,
		Power:                  m.Power,
		PowerProduction:        m.PowerProduction,
		MinPower:               m.MinPower,
		MaxPower:               m.MaxPower,
		AveragePower:           m.AveragePower,
		AccumulatedConsumption: m.AccumulatedConsumption,
		AccumulatedProduction:  m.AccumulatedProduction,
		AccumulatedCost:        m.AccumulatedCost,
		Currency:               m.Currency,
		VoltagePhase1:          m.VoltagePhase1,
		VoltagePhase2:          m.VoltagePhase2,
		VoltagePhase3:          m.VoltagePhase3,
		CurrentL1:              m.CurrentL1,
		CurrentL2:              m.CurrentL2,
		CurrentL3:              m.CurrentL3,
	}
}

// flush writes the current batch to the database.
func (w *MeasurementWriter) flush() {
	w.flushCtx(w.ctx)
}

func (w *MeasurementWriter) flushCtx(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]measurementRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
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

	w.logger.Debug("flushed measurements",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
// Replayed readings after a reconnect dedupe on (home_id, ts).
func (w *MeasurementWriter) batchInsert(ctx context.Context, rows []measurementRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO live_measurements (
				home_id, ts, received_at,
				power, power_production, min_power, max_power, average_power,
				accumulated_consumption, accumulated_production, accumulated_cost, currency,
				voltage_phase1, voltage_phase2, voltage_phase3,
				current_l1, current_l2, current_l3
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
			ON CONFLICT (home_id, ts) DO NOTHING
		`, r.HomeID, r.Ts, r.ReceivedAt,
			r.Power, r.PowerProduction, r.MinPower, r.MaxPower, r.AveragePower,
			r.AccumulatedConsumption, r.AccumulatedProduction, r.AccumulatedCost, r.Currency,
			r.VoltagePhase1, r.VoltagePhase2, r.VoltagePhase3,
			r.CurrentL1, r.CurrentL2, r.CurrentL3)
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
