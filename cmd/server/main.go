package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NTDK5/vibespot-sub000/config"
	"github.com/NTDK5/vibespot-sub000/module/visit"
	"github.com/NTDK5/vibespot-sub000/module/visit/domain"
	"github.com/NTDK5/vibespot-sub000/module/visit/service"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(cfg, os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	db, err := config.NewPostgres(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	amqpConn, err := config.NewRabbitMQ(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = amqpConn.Close() }()

	mqttClient, err := config.NewMQTT(cfg)
	if err != nil {
		return err
	}
	defer mqttClient.Disconnect(250)

	rdb, err := config.NewRedis(cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	} else {
		logger.Warn("REDIS_ADDR not set, attempt exclusivity is per instance")
	}

	policy := service.DefaultPolicy()
	policy.TickInterval = cfg.DwellTickInterval
	policy.InitialFixTimeout = cfg.InitialFixTimeout
	policy.FinalFixTimeout = cfg.FinalFixTimeout
	policy.Watch = domain.WatchOptions{HighAccuracy: true, DistanceFilter: 1, Interval: 5 * time.Second}

	visitModule, err := visit.Build(db, amqpConn, mqttClient, rdb, policy, cfg.AttemptLockTTL, logger)
	if err != nil {
		return err
	}

	if err := visitModule.StartSubscribers(); err != nil {
		return err
	}

	r := gin.Default()

	health := config.NewHealthChecker(db, amqpConn, mqttClient, rdb)
	health.Register(r)

	visitModule.RegisterRoutes(&r.RouterGroup)

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := visitModule.Shutdown(shutdownCtx); err != nil {
		logger.Warn("visit attempts did not settle", slog.String("error", err.Error()))
	}
	return srv.Shutdown(shutdownCtx)
}
