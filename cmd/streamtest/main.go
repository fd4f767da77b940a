// streamtest connects to the Volt realtime feed and streams parsed
// measurements to the console.
// Usage: go run ./cmd/streamtest --config configs/gatherer.local.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mglien/volt-data/internal/api"
	"github.com/mglien/volt-data/internal/auth"
	"github.com/mglien/volt-data/internal/config"
	"github.com/mglien/volt-data/internal/connection"
	"github.com/mglien/volt-data/internal/model"
	"github.com/mglien/volt-data/internal/router"
)

func main() {
	configPath := flag.String("config", "configs/gatherer.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full measurement JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Fetch homes over REST so we know what to subscribe
	tokens := auth.NewStatic(cfg.API.AccessToken)
	apiClient := api.NewClient(cfg.API.RestURL, tokens,
		api.WithLogger(logger),
		api.WithUserAgent(cfg.API.UserAgent),
	)

	homes, err := apiClient.GetHomes(ctx)
	if err != nil {
		logger.Error("failed to fetch homes", "error", err)
		os.Exit(1)
	}
	logger.Info("homes fetched", "count", len(homes))

	// Create connection manager and router
	mgr := connection.NewManager(connection.ManagerConfig{
		URL:          cfg.Feed.WSURL,
		UserAgent:    cfg.API.UserAgent,
		BuildPayload: router.BuildSubscriptionPayload,
	}, tokens, logger)

	rtr := router.NewRouter(router.RouterConfig{BufferSize: 1000}, mgr, logger)

	logger.Info("starting connection manager")
	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}

	logger.Info("starting router")
	if err := rtr.Start(ctx, homes); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	// Console printer
	go printMeasurements(rtr.Measurements(), *verbose)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				routerStats := rtr.Stats()
				mgrStats := mgr.Stats()
				logger.Info("stats",
					"state", mgrStats.State.String(),
					"homes_subscribed", routerStats.HomesSubscribed,
					"events_received", routerStats.EventsReceived,
					"events_parsed", routerStats.EventsParsed,
					"parse_errors", routerStats.ParseErrors,
					"buffered", routerStats.Buffer.Count,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown, or the manager giving up on bad credentials
	select {
	case <-ctx.Done():
	case <-mgr.Done():
		logger.Error("connection manager terminated", "error", mgr.Err())
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	rtr.Stop(shutdownCtx)
	mgr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

func printMeasurements(buf *router.GrowableBuffer[model.LiveMeasurement], verbose bool) {
	for {
		m, ok := buf.Receive()
		if !ok {
			return
		}

		if verbose {
			data, _ := json.MarshalIndent(m, "", "  ")
			fmt.Printf("[MEASUREMENT] %s\n", data)
		} else {
			fmt.Printf("[MEASUREMENT] home=%s ts=%s power=%.1fW consumption=%.3fkWh cost=%.2f %s\n",
				m.HomeID, m.Timestamp.Format(time.RFC3339), m.Power,
				m.AccumulatedConsumption, m.AccumulatedCost, m.Currency)
		}
	}
}
