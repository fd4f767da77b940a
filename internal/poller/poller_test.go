package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mglien/volt-data/internal/model"
)

// fakeHistory returns canned entries per home.
type fakeHistory struct {
	mu         sync.Mutex
	priceCalls int
	consCalls  int
	priceErr   error
}

func (f *fakeHistory) GetPriceInfo(ctx context.Context, homeID uuid.UUID) ([]model.PriceEntry, error) {
	f.mu.Lock()
	f.priceCalls++
	f.mu.Unlock()
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	return []model.PriceEntry{
		{HomeID: homeID, StartsAt: time.Now().Truncate(time.Hour), Total: 0.35, Currency: "NOK", Level: model.PriceLevelNormal},
	}, nil
}

func (f *fakeHistory) GetConsumption(ctx context.Context, homeID uuid.UUID, resolution string, last int) ([]model.ConsumptionEntry, error) {
	f.mu.Lock()
	f.consCalls++
	f.mu.Unlock()
	return []model.ConsumptionEntry{
		{HomeID: homeID, From: time.Now().Add(-time.Hour), To: time.Now(), Consumption: 1.2, Currency: "NOK"},
	}, nil
}

func (f *fakeHistory) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priceCalls, f.consCalls
}

// countingHandler counts received entries.
type countingHandler struct {
	prices      atomic.Int64
	consumption atomic.Int64
}

func (h *countingHandler) HandlePrices(ctx context.Context, entries []model.PriceEntry) error {
	h.prices.Add(int64(len(entries)))
	return nil
}

func (h *countingHandler) HandleConsumption(ctx context.Context, entries []model.ConsumptionEntry) error {
	h.consumption.Add(int64(len(entries)))
	return nil
}

func fixedHomes(n int) HomeSource {
	homes := make([]model.Home, n)
	for i := range homes {
		homes[i] = model.Home{ID: uuid.New(), HasLiveFeed: i%2 == 0}
	}
	return HomeSourceFunc(func() []model.Home { return homes })
}

func TestPoller_PollAll(t *testing.T) {
	source := &fakeHistory{}
	handler := &countingHandler{}

	cfg := Config{
		Interval:        time.Hour, // long interval, trigger manually
		Concurrency:     2,
		Timeout:         5 * time.Second,
		ConsumptionLast: 24,
	}
	p := New(cfg, source, fixedHomes(3), handler, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.ctx = ctx

	p.pollAll()

	priceCalls, consCalls := source.calls()
	if priceCalls != 3 {
		t.Errorf("price calls = %d, want 3", priceCalls)
	}
	if consCalls != 3 {
		t.Errorf("consumption calls = %d, want 3", consCalls)
	}
	if got := handler.prices.Load(); got != 3 {
		t.Errorf("price entries handled = %d, want 3", got)
	}
	if got := handler.consumption.Load(); got != 3 {
		t.Errorf("consumption entries handled = %d, want 3", got)
	}
}

func TestPoller_PriceErrorSkipsConsumption(t *testing.T) {
	source := &fakeHistory{priceErr: errors.New("api down")}
	handler := &countingHandler{}

	p := New(DefaultConfig(), source, fixedHomes(2), handler, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.ctx = ctx

	p.pollAll()

	_, consCalls := source.calls()
	if consCalls != 0 {
		t.Errorf("consumption calls = %d, want 0 after price errors", consCalls)
	}
	if got := handler.prices.Load(); got != 0 {
		t.Errorf("price entries handled = %d, want 0", got)
	}
}

func TestPoller_StartStop(t *testing.T) {
	source := &fakeHistory{}
	handler := &countingHandler{}

	cfg := Config{
		Interval:        50 * time.Millisecond,
		Concurrency:     2,
		Timeout:         time.Second,
		ConsumptionLast: 24,
	}
	p := New(cfg, source, fixedHomes(1), handler, nil)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait for the initial poll plus at least one ticked poll.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls, _ := source.calls(); calls >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if calls, _ := source.calls(); calls < 2 {
		t.Errorf("price calls = %d, want at least 2", calls)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Interval != time.Hour {
		t.Errorf("Interval = %v, want 1h", cfg.Interval)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", cfg.Concurrency)
	}
	if cfg.ConsumptionLast != 24 {
		t.Errorf("ConsumptionLast = %d, want 24", cfg.ConsumptionLast)
	}
}
