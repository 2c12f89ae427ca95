package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/moto-driver/internal/config"
	"github.com/example/moto-driver/internal/logging"
	"github.com/example/moto-driver/internal/models"
	"github.com/example/moto-driver/internal/publish"
	"github.com/example/moto-driver/internal/ridesim"
)

func main() {
	cfg, cfgErr := config.LoadSimConfig()
	logger := logging.NewLogger(cfg.LogLevel, "ridesim")
	if cfgErr != nil {
		logger.Error("invalid configuration", "error", cfgErr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rc *redis.Client
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rc.Close()
	}

	var hub *publish.WSHub
	var pubs publish.Multi
	for _, kind := range cfg.Publishers {
		switch kind {
		case config.FeedWebsocket:
			hub = publish.NewWSHub(logger)
			pubs = append(pubs, hub)
		case config.FeedRedis:
			pubs = append(pubs, publish.NewRedisPublisher(rc))
		case config.FeedKafka:
			pubs = append(pubs, publish.NewKafkaPublisher(cfg.KafkaBrokers))
		case config.FeedAMQP:
			p, err := publish.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
			if err != nil {
				logger.Error("amqp publisher unavailable", "error", err)
				os.Exit(1)
			}
			pubs = append(pubs, p)
		}
	}
	defer pubs.Close()

	var locker ridesim.Locker = ridesim.NewMemoryLocker()
	if rc != nil {
		locker = ridesim.NewRedisLocker(rc, cfg.LockTTL)
	}

	sim := ridesim.New(cfg.Topic, pubs, locker, logger)
	for i, a := range cfg.Admins {
		admin := models.Admin{Email: a.Email, Role: ridesim.RoleMaster}
		if a.City != "" {
			admin.Role = ridesim.RoleCity
			admin.ManagedCities = []string{a.City}
		}
		if i < len(cfg.AdminIDs) {
			admin.ID = cfg.AdminIDs[i]
		}
		admin = sim.AddAdmin(admin, a.Password)
		logger.Info("seeded admin", "admin_id", admin.ID, "email", admin.Email, "role", admin.Role)
	}
	for _, d := range cfg.Drivers {
		driver := sim.AddDriver(models.Driver{Email: d.Email, Name: d.Email, City: d.City, Status: models.DriverStatusApproved}, d.Password)
		logger.Info("seeded driver", "driver_id", driver.ID, "email", driver.Email)
	}
	if hub != nil {
		sim.Router().Handle("/ws", hub)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      sim,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("ride simulator listening", "addr", cfg.HTTPAddr, "topic", cfg.Topic, "publishers", cfg.Publishers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	if hub != nil {
		_ = hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
