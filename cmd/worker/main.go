package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/roadside-api/internal/config"
	"github.com/jwalitptl/roadside-api/internal/repository/sqldb"
	"github.com/jwalitptl/roadside-api/pkg/logger"
	"github.com/jwalitptl/roadside-api/pkg/messaging/redis"
	"github.com/jwalitptl/roadside-api/pkg/metrics"
	"github.com/jwalitptl/roadside-api/pkg/worker"
)

// setupHealthCheck serves liveness, readiness and metrics for the worker.
func setupHealthCheck(port int, db interface{ Ping(context.Context) error }, registry *prometheus.Registry, logger *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "Health check server failed")
			os.Exit(1)
		}
	}()
	return srv
}

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger
	appLogger := logger.NewLogger(cfg.Log.ToLoggerConfig()).WithFields(map[string]interface{}{"component": "outbox_worker"})
	log.Logger = appLogger.ZL

	// Initialize database
	db, err := sqldb.NewDB(cfg.Database.ToDBConfig())
	if err != nil {
		appLogger.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis broker
	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &log.Logger)
	if err != nil {
		appLogger.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	// Initialize repositories
	baseRepo := sqldb.NewBaseRepository(db)
	outboxRepo := sqldb.NewOutboxRepository(baseRepo)

	registry := prometheus.NewRegistry()
	processor := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		cfg.Outbox.ToWorkerConfig(cfg.Redis.Channel),
		appLogger,
		metrics.New("outbox_processor", registry),
	)
	cleanup := worker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.Retention, time.Hour, appLogger)

	// Setup health check endpoints
	healthSrv := setupHealthCheck(cfg.Server.HealthPort, baseRepo, registry, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.Info("Shutting down...")
		cancel()
	}()

	go cleanup.Start(ctx)
	processor.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "Health check server shutdown failed")
	}
}
