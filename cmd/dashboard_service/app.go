package dashboardservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"fleetwatch/internal/fleet"
	"fleetwatch/internal/general/config"
	"fleetwatch/internal/general/jwt"
	"fleetwatch/internal/general/logger"
	"fleetwatch/internal/general/postgres"
	ws "fleetwatch/internal/general/websocket"
	"fleetwatch/internal/stream"
)

// Run wires the dashboard service and blocks until ctx is cancelled.
func Run(ctx context.Context, cfgPath string, maxConcurrent int) error {
	// set up a new logger with a static request ID for startup logs
	logger := logger.New("dashboard-service")
	ctx = logger.WithRequestID(ctx, "startup-001")

	// load config (file + env fallback chain)
	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load configuration", err, nil)
		return err
	}

	// set up a Postgres connection pool; its ceiling bounds concurrent streams
	pool, err := postgres.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
		return err
	}
	defer pool.Close()

	// set up the JWT manager
	jwtManager := jwt.NewManager(cfg.JWT.SecretKey, 2*time.Hour)

	// persistence + streaming seams over the one shared pool
	vehicleRepo := postgres.NewVehicleRepo(pool, cfg.Stream.Channel)
	streamPool := stream.NewPool(pool)

	// HTTP surface: JSON API, SSE stream, WS feed
	mux := http.NewServeMux()

	apiHandler := fleet.NewHandler(vehicleRepo, logger, jwtManager)
	apiHandler.RegisterRoutes(mux)

	streamHandler := stream.NewHandler(streamPool, logger, cfg.Stream.Channel,
		cfg.Stream.SnapshotLimit, cfg.Stream.SnapshotLimitMax)
	mux.Handle("GET /vehicles/stream", streamHandler)

	wsFeed := ws.NewFeed(streamPool, logger, jwtManager, cfg.Stream.Channel,
		cfg.Stream.SnapshotLimit, cfg.Stream.SnapshotLimitMax)
	mux.Handle("GET /vehicles/ws", wsFeed)

	// concurrency limiter (global) — blocks when capacity is full
	limitedHandler := withConcurrencyLimit(maxConcurrent, mux)

	logger.Info(ctx, "service_started",
		fmt.Sprintf("Dashboard service started on port %d", cfg.Services.DashboardServicePort),
		map[string]any{"port": cfg.Services.DashboardServicePort, "max_concurrent": maxConcurrent},
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Services.DashboardServicePort),
		Handler:           limitedHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// no WriteTimeout: streaming responses stay open for hours
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// start the server in a background goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	// wait for context cancellation or server error
	select {
	case <-ctx.Done():
		// graceful HTTP shutdown on context cancel
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err, nil)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http_server_error", "HTTP server terminated with error", err,
				map[string]any{"port": cfg.Services.DashboardServicePort})
			return err
		}
		return nil
	}

	return nil
}

// withConcurrencyLimit wraps an http.Handler with a semaphore-based limiter.
// It controls how many HTTP requests can be in-progress at the same time;
// each open stream counts against the budget for its whole lifetime.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	if n <= 0 {
		return next
	}
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}: // acquire
			defer func() { <-sem }() // release
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
			// client canceled or server is shutting down
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
}
