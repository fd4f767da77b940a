package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mglien/volt-data/internal/api"
	"github.com/mglien/volt-data/internal/model"
)

// HomeSource provides the homes to poll.
type HomeSource interface {
	Homes() []model.Home
}

// HomeSourceFunc is a function adapter for HomeSource.
type HomeSourceFunc func() []model.Home

func (f HomeSourceFunc) Homes() []model.Home { return f() }

// HistorySource fetches price and consumption history for one home. The API
// client implements it.
type HistorySource interface {
	GetPriceInfo(ctx context.Context, homeID uuid.UUID) ([]model.PriceEntry, error)
	GetConsumption(ctx context.Context, homeID uuid.UUID, resolution string, last int) ([]model.ConsumptionEntry, error)
}

// HistoryHandler receives fetched history.
type HistoryHandler interface {
	HandlePrices(ctx context.Context, entries []model.PriceEntry) error
	HandleConsumption(ctx context.Context, entries []model.ConsumptionEntry) error
}

// Config holds poller configuration.
type Config struct {
	Interval        time.Duration // Poll interval (default: 1h)
	Concurrency     int           // Max concurrent homes (default: 4)
	Timeout         time.Duration // Per-home timeout (default: 30s)
	ConsumptionLast int           // Hourly consumption intervals per poll (default: 24)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:        time.Hour,
		Concurrency:     4,
		Timeout:         30 * time.Second,
		ConsumptionLast: 24,
	}
}

// Poller periodically fetches price and consumption history over REST.
type Poller struct {
	cfg     Config
	source  HistorySource
	homes   HomeSource
	handler HistoryHandler
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, source HistorySource, homes HomeSource, handler HistoryHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConsumptionLast <= 0 {
		cfg.ConsumptionLast = 24
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		homes:   homes,
		handler: handler,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("history poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("history poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll fetches history for all homes concurrently.
func (p *Poller) pollAll() {
	start := time.Now()

	homes := p.homes.Homes()
	if len(homes) == 0 {
		p.logger.Debug("no homes to poll")
		return
	}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var fetched, errors atomic.Int64

	for _, home := range homes {
		wg.Add(1)
		go func(homeID uuid.UUID) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			if err := p.pollHome(homeID); err != nil {
				p.logger.Warn("failed to poll home",
					"home", homeID,
					"err", err,
				)
				errors.Add(1)
				return
			}

			fetched.Add(1)
		}(home.ID)
	}

	wg.Wait()

	p.logger.Info("poll cycle complete",
		"homes", len(homes),
		"fetched", fetched.Load(),
		"errors", errors.Load(),
		"duration", time.Since(start),
	)
}

// pollHome fetches and handles one home's prices and consumption.
func (p *Poller) pollHome(homeID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	prices, err := p.source.GetPriceInfo(ctx, homeID)
	if err != nil {
		return err
	}
	if err := p.handler.HandlePrices(ctx, prices); err != nil {
		return err
	}

	consumption, err := p.source.GetConsumption(ctx, homeID, api.ResolutionHourly, p.cfg.ConsumptionLast)
	if err != nil {
		return err
	}
	return p.handler.HandleConsumption(ctx, consumption)
}
