package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mglien/volt-data/internal/api"
	"github.com/mglien/volt-data/internal/auth"
	"github.com/mglien/volt-data/internal/config"
	"github.com/mglien/volt-data/internal/connection"
	"github.com/mglien/volt-data/internal/database"
	"github.com/mglien/volt-data/internal/model"
	"github.com/mglien/volt-data/internal/poller"
	"github.com/mglien/volt-data/internal/router"
	"github.com/mglien/volt-data/internal/version"
	"github.com/mglien/volt-data/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/gatherer.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting gatherer",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"api_url", cfg.API.RestURL,
		"feed_url", cfg.Feed.WSURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Timescale.Host,
		"port", cfg.Database.Timescale.Port,
		"database", cfg.Database.Timescale.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database.Timescale)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Create API client
	tokens := auth.NewStatic(cfg.API.AccessToken)
	apiClient := api.NewClient(
		cfg.API.RestURL,
		tokens,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithUserAgent(cfg.API.UserAgent),
	)

	// Fetch the homes visible to this account
	homes, err := apiClient.GetHomes(ctx)
	if err != nil {
		logger.Error("failed to fetch homes", "error", err)
		os.Exit(1)
	}
	if err := database.UpsertHomes(ctx, pool, homes); err != nil {
		logger.Error("failed to record homes", "error", err)
		os.Exit(1)
	}

	feedHomes := 0
	for _, h := range homes {
		if h.HasLiveFeed {
			feedHomes++
		}
	}
	logger.Info("homes fetched", "total", len(homes), "feed_enabled", feedHomes)

	// Create connection manager for the realtime feed
	mgr := connection.NewManager(connection.ManagerConfig{
		URL:                cfg.Feed.WSURL,
		UserAgent:          cfg.API.UserAgent,
		BuildPayload:       router.BuildSubscriptionPayload,
		ReconnectBaseDelay: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Feed.ReconnectMaxDelay,
		InactivityTimeout:  cfg.Feed.InactivityTimeout,
		ReadTimeout:        cfg.Feed.ReadTimeout,
		BufferSize:         cfg.Feed.BufferSize,
	}, tokens, logger)

	// Create router and writers
	rtr := router.NewRouter(router.RouterConfig{
		BufferSize: cfg.Writers.BufferSize,
	}, mgr, logger)

	measurementWriter := writer.NewMeasurementWriter(writer.WriterConfig{
		BatchSize:     cfg.Writers.BatchSize,
		FlushInterval: cfg.Writers.FlushInterval,
	}, rtr.Measurements(), pool, logger)

	priceWriter := writer.NewPriceWriter(pool, logger)

	// Poller fetches prices and consumption for every home on a schedule
	prc := poller.New(poller.Config{
		Interval:    cfg.Poller.Interval,
		Concurrency: cfg.Poller.Concurrency,
	}, apiClient, poller.HomeSourceFunc(func() []model.Home {
		return homes
	}), historyHandler{priceWriter}, logger)

	// Start health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(cfg.Health.Path, pool, mgr, rtr, measurementWriter, priceWriter),
	}

	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port, "path", cfg.Health.Path)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// Start the pipeline: feed connection, then router subscriptions,
	// then the measurement writer draining the router's buffer.
	logger.Info("starting connection manager")
	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}

	logger.Info("starting measurement router")
	if err := rtr.Start(ctx, homes); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}

	logger.Info("starting measurement writer")
	if err := measurementWriter.Start(ctx); err != nil {
		logger.Error("failed to start measurement writer", "error", err)
		os.Exit(1)
	}

	logger.Info("starting price poller")
	if err := prc.Start(ctx); err != nil {
		logger.Error("failed to start poller", "error", err)
		os.Exit(1)
	}

	logger.Info("gatherer running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Health.Port, cfg.Health.Path),
	)

	// Wait for shutdown, or for the connection manager to give up on
	// rejected credentials.
	exitCode := 0
	select {
	case <-ctx.Done():
	case <-mgr.Done():
		logger.Error("connection manager terminated", "error", mgr.Err())
		exitCode = 1
		cancel()
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	prc.Stop(shutdownCtx)
	rtr.Stop(shutdownCtx)
	mgr.Stop(shutdownCtx)
	measurementWriter.Stop(shutdownCtx)
	healthServer.Shutdown(shutdownCtx)

	logger.Info("gatherer stopped")
	os.Exit(exitCode)
}

// historyHandler routes polled history into the price writer.
type historyHandler struct {
	w *writer.PriceWriter
}

func (h historyHandler) HandlePrices(ctx context.Context, entries []model.PriceEntry) error {
	return h.w.WritePrices(ctx, entries)
}

func (h historyHandler) HandleConsumption(ctx context.Context, entries []model.ConsumptionEntry) error {
	return h.w.WriteConsumption(ctx, entries)
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(
	path string,
	pool *pgxpool.Pool,
	mgr connection.Manager,
	rtr router.Router,
	mw *writer.MeasurementWriter,
	pw *writer.PriceWriter,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		// Check database
		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["timescaledb"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["timescaledb"] = "connected"
		}

		// Check feed connection
		mgrStats := mgr.Stats()
		health.Components["feed"] = map[string]interface{}{
			"state":         mgrStats.State.String(),
			"registrations": mgrStats.ActiveRegistrations,
			"subscriptions": mgrStats.WireSubscriptions,
		}
		if mgrStats.State != connection.StateStreaming {
			health.Status = "degraded"
		}

		routerStats := rtr.Stats()
		health.Components["router"] = map[string]interface{}{
			"homes":        routerStats.HomesSubscribed,
			"received":     routerStats.EventsReceived,
			"parsed":       routerStats.EventsParsed,
			"parse_errors": routerStats.ParseErrors,
			"buffered":     routerStats.Buffer.Count,
		}

		writerStats := mw.Stats()
		priceStats := pw.Stats()
		health.Components["writers"] = map[string]interface{}{
			"measurement_inserts": writerStats.Inserts,
			"measurement_errors":  writerStats.Errors,
			"history_inserts":     priceStats.Inserts,
			"history_errors":      priceStats.Errors,
		}

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
