package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/example/moto-dispatch/internal/config"
	"github.com/example/moto-dispatch/internal/conversation"
	"github.com/example/moto-dispatch/internal/events"
	"github.com/example/moto-dispatch/internal/identity"
	"github.com/example/moto-dispatch/internal/logging"
	"github.com/example/moto-dispatch/internal/rating"
	"github.com/example/moto-dispatch/internal/ride"
	"github.com/example/moto-dispatch/internal/router"
	"github.com/example/moto-dispatch/internal/storage"
	"github.com/example/moto-dispatch/internal/timers"
	"github.com/example/moto-dispatch/internal/transport"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := storage.RunMigrations(pg.DB()); err != nil {
				logger.Error("migrations failed", "error", err)
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		store = pg
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	messenger, err := transport.NewGatewayClient(cfg.GatewayBaseURL, cfg.GatewayToken, logger)
	if err != nil {
		logger.Error("gateway client init failed", "error", err)
		os.Exit(1)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
	}

	scheduler := timers.NewScheduler(timers.RealClock{}, logger)
	resolver := identity.NewResolver(store)

	rides := ride.NewManager(store, messenger, scheduler, publisher,
		ride.Timing{
			KeepaliveInterval: cfg.KeepaliveInterval,
			RatingPromptDelay: cfg.RatingPromptDelay,
			RatingDeadline:    cfg.RatingDeadline,
		},
		cfg.TestDriverJID, cfg.CPFMaxAttempts, logger)
	convs := conversation.NewManager(store, messenger, scheduler, rides,
		conversation.Timing{
			InactivityWarning: cfg.InactivityWarning,
			InactivityTimeout: cfg.InactivityTimeout,
			MinWaitMinutes:    cfg.MinWaitMinutes,
		}, logger)
	rides.SetSessions(convs)
	ratings := rating.NewEngine(store, scheduler.Now, logger)
	routes := router.New(store, resolver, convs, rides, ratings, messenger, logger)

	// rebuild every timer the previous process was holding
	if err := scheduler.Restore(ctx, store, rides, convs); err != nil {
		logger.Error("timer restore failed", "error", err)
		os.Exit(1)
	}

	if cfg.GatewayWSURL != "" {
		feed := transport.NewWSFeed(cfg.GatewayWSURL, cfg.GatewayToken, routes, logger)
		go feed.Run(ctx)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      transport.NewWebhookServer(routes, cfg.WebhookSecret, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("dispatch server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}
