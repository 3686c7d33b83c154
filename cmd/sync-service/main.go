package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fieldlmis/stocksync/internal/stock/repository"
	stockservice "github.com/fieldlmis/stocksync/internal/stock/service"
	"github.com/fieldlmis/stocksync/internal/sync/checkpoint"
	"github.com/fieldlmis/stocksync/internal/sync/client"
	"github.com/fieldlmis/stocksync/internal/sync/consumers"
	"github.com/fieldlmis/stocksync/internal/sync/events"
	"github.com/fieldlmis/stocksync/internal/sync/handler"
	"github.com/fieldlmis/stocksync/internal/sync/service"
	"github.com/fieldlmis/stocksync/pkg/config"
	"github.com/fieldlmis/stocksync/pkg/database"
	"github.com/fieldlmis/stocksync/pkg/httputil"
	"github.com/fieldlmis/stocksync/pkg/logger"
	"github.com/fieldlmis/stocksync/pkg/messaging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("sync-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel("sync-service", cfg.Server.Environment, cfg.Log.Level)
	log.Info().Msg("starting Sync Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database and create tables
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	schema := append(repository.Schema(), checkpoint.Schema()...)
	if err := db.EnsureSchema(ctx, schema...); err != nil {
		log.Fatal().Err(err).Msg("failed to create schema")
	}

	// Initialize repositories
	stockRepo := repository.NewStockRepository(db)
	lotRepo := repository.NewLotRepository(db)
	requisitionRepo := repository.NewRequisitionRepository(db)
	programRepo := repository.NewProgramRepository(db)
	metricRepo := repository.NewConsumptionMetricRepository(db)

	// Checkpoint store
	backend, closeBackend, err := newCheckpointBackend(ctx, cfg, db)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Sync.CheckpointBackend).Msg("failed to open checkpoint backend")
	}
	defer closeBackend()
	state := checkpoint.NewStore(backend, stockRepo, requisitionRepo)

	// RabbitMQ is optional; without it events are not published and
	// sync commands are only accepted over HTTP.
	var (
		rmq       *messaging.RabbitMQ
		publisher *events.SyncEventPublisher
	)
	if cfg.RabbitMQ.URL != "" {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err = events.NewSyncEventPublisher(rmq, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	} else {
		log.Warn().Msg("rabbitmq url not set, event publishing disabled")
	}

	// Initialize services
	reconciler := stockservice.NewLotLedgerReconciler(db, lotRepo, log)
	orchestrator := service.NewOrchestrator(service.Dependencies{
		Remote:       client.NewRemoteClient(cfg.Remote, log),
		Tx:           db,
		Stocks:       stockRepo,
		Programs:     programRepo,
		Requisitions: requisitionRepo,
		Lots:         reconciler,
		State:        state,
		Reporter:     publisher,
	}, cfg.Sync, cfg.Remote, log)

	calculator := stockservice.NewConsumptionCalculator(stockRepo, cfg.Consumption)
	consumptionService := stockservice.NewConsumptionService(
		calculator, stockRepo, metricRepo, state, publisher, cfg.Consumption, log,
	)

	if rmq != nil {
		commandConsumer, err := consumers.NewSyncCommandConsumer(rmq, cfg.RabbitMQ.Exchange, orchestrator, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create sync command consumer")
		}
		if err := commandConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start sync command consumer")
		}
	}

	scheduler := service.NewSyncScheduler(orchestrator, consumptionService, cfg.Sync.Interval, log)
	scheduler.Start(ctx)

	// Initialize handlers
	syncHandler := handler.NewSyncHandler(orchestrator, state, log)
	consumptionHandler := handler.NewConsumptionHandler(consumptionService, log)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	// Browser dashboards served from a local dev server
	if config.IsDevelopment() {
		r.Use(cors.Handler(cors.Options{
			AllowOriginFunc: func(r *http.Request, origin string) bool {
				return strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")
			},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{
			"status":       "healthy",
			"service":      "sync-service",
			"database":     db.Health(r.Context()),
			"sync_running": orchestrator.Running(),
		}
		if rmq != nil {
			health["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, health)
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		syncHandler.RegisterRoutes(r)
		consumptionHandler.RegisterRoutes(r)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop the scheduler and consumers
	scheduler.Stop()
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func newCheckpointBackend(ctx context.Context, cfg *config.Config, db *database.DB) (checkpoint.Backend, func(), error) {
	switch cfg.Sync.CheckpointBackend {
	case config.CheckpointRedis:
		rdb, err := checkpoint.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return checkpoint.NewRedisBackend(rdb, cfg.Redis.KeyPrefix), func() { rdb.Close() }, nil
	case config.CheckpointMemory:
		return checkpoint.NewMemoryBackend(), func() {}, nil
	default:
		return checkpoint.NewPostgresBackend(db), func() {}, nil
	}
}
