package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mglien/volt-data/internal/connection"
	"github.com/mglien/volt-data/internal/model"
)

// SubscriptionManager is the slice of the connection manager the router
// needs.
type SubscriptionManager interface {
	Subscribe(homeID string, cb connection.EventCallback) (*connection.Handle, error)
}

// Router subscribes feed-enabled homes on the connection manager, parses
// their live measurements, and buffers them for the writers.
type Router interface {
	// Start subscribes every feed-enabled home in homes.
	Start(ctx context.Context, homes []model.Home) error

	// Stop unsubscribes all homes and closes the output buffer.
	Stop(ctx context.Context) error

	// AddHome subscribes one home discovered after startup.
	AddHome(home model.Home) error

	// Measurements returns the output buffer for writers to consume.
	Measurements() *GrowableBuffer[model.LiveMeasurement]

	// Stats returns current router statistics.
	Stats() RouterStats
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	HomesSubscribed   int
	EventsReceived    int64
	EventsParsed      int64
	ParseErrors       int64
	EmptyMeasurements int64
	Buffer            BufferStats
}

// router is the internal implementation.
type router struct {
	cfg    RouterConfig
	mgr    SubscriptionManager
	logger *slog.Logger

	// Output to writers
	buf *GrowableBuffer[model.LiveMeasurement]

	mu      sync.Mutex
	handles map[uuid.UUID]*connection.Handle
	stopped bool

	// Stats
	statsMu     sync.Mutex
	received    int64
	parsed      int64
	parseErrors int64
	empty       int64
}

// NewRouter creates a new measurement router.
func NewRouter(cfg RouterConfig, mgr SubscriptionManager, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1000
	}

	return &router{
		cfg:     cfg,
		mgr:     mgr,
		logger:  logger,
		buf:     NewGrowableBuffer[model.LiveMeasurement](cfg.BufferSize),
		handles: make(map[uuid.UUID]*connection.Handle),
	}
}

// Start subscribes every feed-enabled home.
func (r *router) Start(ctx context.Context, homes []model.Home) error {
	subscribed := 0
	for _, home := range homes {
		if !home.HasLiveFeed {
			r.logger.Debug("home has no realtime meter, skipping", "home", home.ID)
			continue
		}
		if err := r.AddHome(home); err != nil {
			return err
		}
		subscribed++
	}

	r.logger.Info("measurement router started",
		"homes", subscribed,
		"buffer", r.cfg.BufferSize,
	)
	return nil
}

// AddHome subscribes one feed-enabled home.
func (r *router) AddHome(home model.Home) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return connection.ErrManagerClosed
	}
	if _, ok := r.handles[home.ID]; ok {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	homeID := home.ID
	handle, err := r.mgr.Subscribe(homeID.String(), func(event json.RawMessage) {
		r.handleEvent(homeID, event)
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.handles[home.ID] = handle
	r.mu.Unlock()

	r.logger.Debug("home subscribed", "home", home.ID, "nickname", home.Nickname)
	return nil
}

// Stop unsubscribes all homes and closes the output buffer.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping measurement router")

	r.mu.Lock()
	r.stopped = true
	handles := make([]*connection.Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = make(map[uuid.UUID]*connection.Handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.Unsubscribe()
	}

	r.buf.Close()
	r.logger.Info("measurement router stopped")
	return nil
}

// Measurements returns the output buffer.
func (r *router) Measurements() *GrowableBuffer[model.LiveMeasurement] {
	return r.buf
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.Lock()
	homes := len(r.handles)
	r.mu.Unlock()

	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return RouterStats{
		HomesSubscribed:   homes,
		EventsReceived:    r.received,
		EventsParsed:      r.parsed,
		ParseErrors:       r.parseErrors,
		EmptyMeasurements: r.empty,
		Buffer:            r.buf.Stats(),
	}
}

// handleEvent parses one feed event and buffers the measurement. It runs on
// the connection manager's dispatch loop, so it never blocks.
func (r *router) handleEvent(homeID uuid.UUID, event json.RawMessage) {
	r.statsMu.Lock()
	r.received++
	r.statsMu.Unlock()

	m, err := parseMeasurement(homeID, event)
	if err != nil {
		r.logger.Warn("failed to parse measurement", "home", homeID, "error", err)
		r.statsMu.Lock()
		r.parseErrors++
		r.statsMu.Unlock()
		return
	}
	if m == nil {
		// Keepalive events carry no measurement.
		r.statsMu.Lock()
		r.empty++
		r.statsMu.Unlock()
		return
	}

	r.buf.Send(*m)

	r.statsMu.Lock()
	r.parsed++
	r.statsMu.Unlock()
}

// parseMeasurement converts a feed event into a model measurement. Returns
// nil when the event carries no liveMeasurement object.
func parseMeasurement(homeID uuid.UUID, event json.RawMessage) (*model.LiveMeasurement, error) {
	var env measurementEnvelope
	if err := json.Unmarshal(event, &env); err != nil {
		return nil, err
	}

	wire := env.Data.LiveMeasurement
	if wire == nil {
		return nil, nil
	}

	ts, err := time.Parse(time.RFC3339, wire.Timestamp)
	if err != nil {
		return nil, err
	}

	return &model.LiveMeasurement{
		HomeID:                 homeID,
		Timestamp:              ts.UTC(),
		ReceivedAt:             time.Now().UTC(),
		Power:                  wire.Power,
		PowerProduction:        wire.PowerProduction,
		MinPower:               wire.MinPower,
		MaxPower:               wire.MaxPower,
		AveragePower:           wire.AveragePower,
		AccumulatedConsumption: wire.AccumulatedConsumption,
		AccumulatedProduction:  wire.AccumulatedProduction,
		AccumulatedCost:        wire.AccumulatedCost,
		Currency:               wire.Currency,
		VoltagePhase1:          wire.VoltagePhase1,
		VoltagePhase2:          wire.VoltagePhase2,
		VoltagePhase3:          wire.VoltagePhase3,
		CurrentL1:              wire.CurrentL1,
		CurrentL2:              wire.CurrentL2,
		CurrentL3:              wire.CurrentL3,
	}, nil
}
