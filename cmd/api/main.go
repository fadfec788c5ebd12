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
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/notification-service/internal/config"
	"github.com/jwalitptl/notification-service/internal/email"
	"github.com/jwalitptl/notification-service/internal/handler/health"
	notificationHandler "github.com/jwalitptl/notification-service/internal/handler/notification"
	"github.com/jwalitptl/notification-service/internal/handler/prometheus"
	"github.com/jwalitptl/notification-service/internal/identity"
	"github.com/jwalitptl/notification-service/internal/middleware"
	"github.com/jwalitptl/notification-service/internal/render"
	"github.com/jwalitptl/notification-service/internal/repository/sqlstore"
	"github.com/jwalitptl/notification-service/internal/router"
	"github.com/jwalitptl/notification-service/internal/service/counter"
	"github.com/jwalitptl/notification-service/internal/service/digest"
	notificationService "github.com/jwalitptl/notification-service/internal/service/notification"
	internalWorker "github.com/jwalitptl/notification-service/internal/worker"
	"github.com/jwalitptl/notification-service/pkg/auth"
	"github.com/jwalitptl/notification-service/pkg/clock"
	"github.com/jwalitptl/notification-service/pkg/keycodec"
	"github.com/jwalitptl/notification-service/pkg/lock"
	"github.com/jwalitptl/notification-service/pkg/logger"
	"github.com/jwalitptl/notification-service/pkg/messaging/redis"
	"github.com/jwalitptl/notification-service/pkg/metrics"
	"github.com/jwalitptl/notification-service/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	log.Logger = appLogger.Zerolog()
	appMetrics := metrics.NewMetrics("notifications", "api")

	db, err := sqlstore.NewDB(cfg.Database)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	base := sqlstore.NewBaseRepository(db)
	clk := clock.NewMonotonic()
	notificationRepo := sqlstore.NewNotificationRepository(base, clk)
	counterRepo := sqlstore.NewCounterRepository(base)
	outboxRepo := sqlstore.NewOutboxRepository(base)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	digestConfig := digest.Config{Delay: cfg.Notifications.EmailDelay, CheckDelay: cfg.Notifications.EmailCheckDelay}
	checks := map[string]health.Pinger{}
	if cfg.Redis.URL != "" {
		redisBroker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &log.Logger)
		if err != nil {
			appLogger.Fatal(err, "failed to connect to Redis")
		}
		defer redisBroker.Close()
		checks["redis"] = redisBroker
		digestConfig.Locker = lock.NewRedisLocker(redisBroker.Client(), "notifications:lock:", 5*time.Minute)
	}

	identityClient := identity.NewClient(cfg.Identity.BaseURL, cfg.Identity.Timeout)
	directory := identity.NewCached(identityClient, identityClient, cfg.Identity.CacheTTL)

	scheduler := digest.NewScheduler(
		nil,
		directory,
		render.NewHTTPRegistry(cfg.Render.BaseURL, cfg.Render.Types, cfg.Render.Timeout),
		email.NewComposer(cfg.Notifications.Languages, cfg.Notifications.Subject),
		email.NewSMTPMailer(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}),
		digestConfig,
		appLogger.With("component", "digest"),
		appMetrics,
	)
	aggregator := counter.NewAggregator(counterRepo, cfg.Counter.DisplayFields, appLogger.With("component", "counter"), appMetrics)
	notifications := notificationService.NewService(
		notificationRepo,
		aggregator,
		keycodec.NewPlanner(cfg.Pagination.DefaultLimit, cfg.Pagination.MaxLimit),
		scheduler,
		clk,
		notificationService.Config{Fields: cfg.Notifications.Fields},
		appLogger.With("component", "notifications"),
	)
	scheduler.SetSource(notifications)

	// Without redis the outbox applies changes to the counters itself,
	// instead of the worker consuming them from the stream.
	if cfg.Redis.URL == "" {
		publisher := internalWorker.NewDirectPublisher(aggregator, appLogger.With("component", "counter"), appMetrics)
		processor := worker.NewOutboxProcessor(outboxRepo, publisher, cfg.Outbox.ToWorkerConfig(), appLogger.With("component", "outbox"), appMetrics)
		go processor.Start(ctx)
		go worker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.Retention, time.Hour, appLogger).Start(ctx)
		appLogger.Warn("redis.url not set, applying changes in-process")
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, "notification-service")
	gin.SetMode(gin.ReleaseMode)
	r := router.NewRouter(
		middleware.NewAuthMiddleware(jwtService, directory),
		notificationHandler.NewHandler(notifications),
		health.NewHandler(db, checks),
		prometheus.New(nil, appMetrics),
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		appLogger.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal(err, "failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "server forced to shutdown")
	}
	scheduler.Close()
	cancel()
	appLogger.Info("server exited")
}
