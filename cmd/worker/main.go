package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/notification-service/internal/config"
	"github.com/jwalitptl/notification-service/internal/repository/sqlstore"
	"github.com/jwalitptl/notification-service/internal/service/counter"
	internalWorker "github.com/jwalitptl/notification-service/internal/worker"
	"github.com/jwalitptl/notification-service/pkg/logger"
	"github.com/jwalitptl/notification-service/pkg/messaging/redis"
	"github.com/jwalitptl/notification-service/pkg/metrics"
	"github.com/jwalitptl/notification-service/pkg/worker"
)

const healthAddr = ":8081"

func setupHealthCheck(logger *logger.Logger, ready func(ctx context.Context) error) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: healthAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal(err, "Health check server failed")
		}
	}()
	return srv
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	appLogger := logger.NewLogger(&logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	log.Logger = appLogger.Zerolog()
	appMetrics := metrics.NewMetrics("notifications", "worker")

	if cfg.Redis.URL == "" {
		appLogger.Fatal(errors.New("redis.url is empty"), "The worker needs redis; without it the API runs the change stream itself")
	}

	db, err := sqlstore.NewDB(cfg.Database)
	if err != nil {
		appLogger.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &log.Logger)
	if err != nil {
		appLogger.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	base := sqlstore.NewBaseRepository(db)
	outboxRepo := sqlstore.NewOutboxRepository(base)

	processor := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		cfg.Outbox.ToWorkerConfig(),
		appLogger.With("component", "outbox"),
		appMetrics,
	)
	cleanup := worker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.Retention, time.Hour, appLogger.With("component", "cleanup"))
	aggregator := counter.NewAggregator(sqlstore.NewCounterRepository(base), cfg.Counter.DisplayFields,
		appLogger.With("component", "counter"), appMetrics)
	consumer := internalWorker.NewChangeConsumer(broker, aggregator, cfg.Counter.Workers,
		appLogger.With("component", "consumer"), appMetrics)

	health := setupHealthCheck(appLogger, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		return broker.Ping(ctx)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Shutting down...")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil {
			appLogger.Error(err, "Change consumer stopped")
			cancel()
		}
	}()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	health.Shutdown(shutdownCtx)
	appLogger.Info("Worker exited")
}
