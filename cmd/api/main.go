package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/roadside-api/internal/config"
	"github.com/jwalitptl/roadside-api/internal/handler/health"
	notificationHandler "github.com/jwalitptl/roadside-api/internal/handler/notification"
	prometheusHandler "github.com/jwalitptl/roadside-api/internal/handler/prometheus"
	realtimeHandler "github.com/jwalitptl/roadside-api/internal/handler/realtime"
	requestHandler "github.com/jwalitptl/roadside-api/internal/handler/request"
	"github.com/jwalitptl/roadside-api/internal/middleware"
	"github.com/jwalitptl/roadside-api/internal/realtime"
	"github.com/jwalitptl/roadside-api/internal/repository/sqldb"
	"github.com/jwalitptl/roadside-api/internal/router"
	"github.com/jwalitptl/roadside-api/internal/service/dispatch"
	"github.com/jwalitptl/roadside-api/internal/service/lifecycle"
	notificationService "github.com/jwalitptl/roadside-api/internal/service/notification"
	"github.com/jwalitptl/roadside-api/pkg/auth"
	"github.com/jwalitptl/roadside-api/pkg/logger"
	"github.com/jwalitptl/roadside-api/pkg/messaging/redis"
	"github.com/jwalitptl/roadside-api/pkg/metrics"
	"github.com/jwalitptl/roadside-api/pkg/validator"
	"github.com/jwalitptl/roadside-api/pkg/worker"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize logger
	appLogger := logger.NewLogger(cfg.Log.ToLoggerConfig())
	log.Logger = appLogger.ZL
	gin.SetMode(gin.ReleaseMode)

	if err := validator.Register(); err != nil {
		appLogger.Fatal(err, "failed to register validators")
	}

	// Initialize database
	db, err := sqldb.NewDB(cfg.Database.ToDBConfig())
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	appMetrics := metrics.New("roadside", registry)

	// Initialize repositories
	baseRepo := sqldb.NewBaseRepository(db)
	notificationRepo := sqldb.NewNotificationRepository(baseRepo)
	requestRepo := sqldb.NewRequestRepository(baseRepo)
	outboxRepo := sqldb.NewOutboxRepository(baseRepo)
	directory := sqldb.NewCachedDirectory(sqldb.NewUserDirectory(baseRepo), cfg.Directory.CacheTTL)

	// Initialize services
	jwtSvc := auth.NewJWTService(cfg.JWT.ToAuthConfig())
	rooms := realtime.NewRegistry(appMetrics)
	dispatcher := dispatch.NewDispatcher(baseRepo, notificationRepo, rooms,
		dispatch.Config{PushTimeout: cfg.Realtime.PushTimeout}, appLogger, appMetrics)
	lifecycleSvc := lifecycle.NewService(
		baseRepo,
		requestRepo,
		outboxRepo,
		dispatch.NewPolicy(directory),
		dispatcher,
		lifecycle.NewDirectoryAvailability(directory),
		appLogger,
		appMetrics,
	)
	gateway := notificationService.NewGateway(notificationRepo, jwtSvc, cfg.Notifications.ListLimit)

	// ctx ends websocket sessions and background workers on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize handlers
	authMiddleware := middleware.NewAuthMiddleware(jwtSvc)
	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.CORS.AllowedOrigins

	routerConfig := router.RouterConfig{
		CORSConfig:   corsConfig,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	}
	if cfg.RateLimit.Enabled {
		routerConfig.RateLimit = rate.Limit(cfg.RateLimit.RequestsPerSecond)
		routerConfig.RateBurst = cfg.RateLimit.Burst
	}

	r := router.NewRouter(
		authMiddleware,
		health.NewHandler(baseRepo),
		requestHandler.NewHandler(lifecycleSvc, authMiddleware),
		notificationHandler.NewHandler(gateway, dispatcher),
		realtimeHandler.NewHandler(ctx, rooms, jwtSvc, cfg.Realtime.ToClientConfig(), cfg.CORS.AllowedOrigins, appLogger),
		prometheusHandler.New(registry),
		routerConfig,
	)
	r.Setup()

	// Create server
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     r.Engine(),
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout would cut off long-lived websocket sessions
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	if cfg.Server.RunOutbox {
		broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &log.Logger)
		if err != nil {
			appLogger.Fatal(err, "failed to connect to Redis")
		}
		defer broker.Close()

		processor := worker.NewOutboxProcessor(outboxRepo, broker,
			cfg.Outbox.ToWorkerConfig(cfg.Redis.Channel), appLogger, appMetrics)
		go processor.Start(ctx)
		go worker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.Retention, time.Hour, appLogger).Start(ctx)
	}

	// Start server
	go func() {
		appLogger.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(err, "failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "server forced to shutdown")
	}
}
