package writer

import (
	"time"
)

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
	}
}

// measurementRow represents a row for the live_measurements table.
type measurementRow struct {
	HomeID     string // UUID text
	Ts         time.Time
	ReceivedAt time.Time

	Power           float64
	PowerProduction float64
	MinPower        float64
	MaxPower        float64
	AveragePower    float64

	AccumulatedConsumption float64
	AccumulatedProduction  float64
	AccumulatedCost        float64
	Currency               string

	VoltagePhase1 float64
	VoltagePhase2 float64
	VoltagePhase3 float64
	CurrentL1     float64
	CurrentL2     float64
	CurrentL3     float64
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}
