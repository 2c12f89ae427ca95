package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/moto-driver/internal/backend"
	"github.com/example/moto-driver/internal/config"
	"github.com/example/moto-driver/internal/dispatch"
	httpapi "github.com/example/moto-driver/internal/http"
	"github.com/example/moto-driver/internal/logging"
	"github.com/example/moto-driver/internal/models"
	"github.com/example/moto-driver/internal/offer"
	"github.com/example/moto-driver/internal/presence"
	"github.com/example/moto-driver/internal/realtime"
	"github.com/example/moto-driver/internal/session"
	"github.com/example/moto-driver/internal/storage"
)

func main() {
	cfg, cfgErr := config.LoadDriverConfig()
	logger := logging.NewLogger(cfg.LogLevel, "driver")
	if cfgErr != nil {
		logger.Error("invalid configuration", "error", cfgErr)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout)

	var rc *redis.Client
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
	}

	rides, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	events := dispatch.NewWSRegistry(logger)
	sinks := dispatch.Fanout{events}
	if cfg.FCMEndpoint != "" {
		sinks = append(sinks, dispatch.NewFCMDispatcher(cfg.FCMEndpoint, cfg.FCMKey, cfg.FCMDeviceToken, logger))
	}

	factory := func(d models.Driver) *offer.Controller {
		pres := presence.Multi{presence.Log{Logger: logger.With("driver_id", d.ID)}}
		if rc != nil {
			pres = append(pres, presence.NewRedis(rc, d.ID, cfg.PresenceTTL, logger))
		}
		return offer.New(offer.Config{
			DriverID:      d.ID,
			Topic:         cfg.FeedTopic,
			AcceptTimeout: cfg.AcceptTimeout,
		}, offer.Deps{
			Feed:     newFeed(cfg, rc, d.ID, logger),
			Backend:  client,
			Presence: pres,
			Events:   sinks,
			Rides:    rides,
			Logger:   logger,
		})
	}

	api := httpapi.NewServer(session.NewManager(client, logger), factory, client, rides, events, logger)
	if cfg.SessionSecret != "" {
		api.Tokens = session.NewSigner(cfg.SessionSecret, cfg.SessionTTL)
	} else {
		logger.Warn("SESSION_SECRET not set, control API is unauthenticated")
	}
	if rc != nil {
		api.AddCheck("redis", func(ctx context.Context) error { return rc.Ping(ctx).Err() })
	}
	if pg, ok := rides.(*storage.PostgresStore); ok {
		api.AddCheck("postgres", pg.Ping)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("driver agent listening", "addr", cfg.HTTPAddr, "feed", cfg.FeedKind, "topic", cfg.FeedTopic, "backend", cfg.BackendURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	api.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func newFeed(cfg config.DriverConfig, rc *redis.Client, driverID string, logger *slog.Logger) offer.Feed {
	switch cfg.FeedKind {
	case config.FeedRedis:
		return &realtime.RedisFeed{Client: rc}
	case config.FeedKafka:
		return realtime.NewKafkaFeed(cfg.KafkaBrokers, driverID, logger)
	case config.FeedAMQP:
		return realtime.NewAMQPFeed(cfg.AMQPURL, cfg.AMQPExchange)
	default:
		return realtime.NewWSFeed(cfg.FeedURL, logger)
	}
}

func openStore(ctx context.Context, cfg config.DriverConfig, logger *slog.Logger) (storage.RideStore, func()) {
	if cfg.PGDSN == "" {
		return storage.NewMemoryStore(), func() {}
	}
	pg, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
	if err != nil {
		logger.Warn("postgres unavailable, keeping ride history in memory", "error", err)
		return storage.NewMemoryStore(), func() {}
	}
	if cfg.RunMigrations {
		b, err := os.ReadFile(filepath.Join("migrations", "001_create_accepted_rides.sql"))
		if err != nil {
			logger.Error("read migration failed", "error", err)
		} else if err := pg.Migrate(ctx, string(b)); err != nil {
			logger.Error("migration failed", "error", err)
		} else {
			logger.Info("migration applied", "file", "001_create_accepted_rides.sql")
		}
	}
	return pg, func() { _ = pg.Close() }
}
