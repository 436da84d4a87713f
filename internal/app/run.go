package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nedroden/Kraken-Backend/internal/broadcast"
	"github.com/nedroden/Kraken-Backend/internal/cache"
	"github.com/nedroden/Kraken-Backend/internal/config"
	"github.com/nedroden/Kraken-Backend/internal/db"
	"github.com/nedroden/Kraken-Backend/internal/db/migrate"
	"github.com/nedroden/Kraken-Backend/internal/httpapi"
	"github.com/nedroden/Kraken-Backend/internal/lifecycle"
	"github.com/nedroden/Kraken-Backend/internal/metrics"
	"github.com/nedroden/Kraken-Backend/internal/modules/measurements"
	"github.com/nedroden/Kraken-Backend/internal/modules/measurements/controller"
	"github.com/nedroden/Kraken-Backend/internal/modules/measurements/repository"
	"github.com/nedroden/Kraken-Backend/internal/modules/measurements/service"
	"github.com/nedroden/Kraken-Backend/internal/mqtt"
	"github.com/nedroden/Kraken-Backend/internal/retry"
	"github.com/nedroden/Kraken-Backend/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// Run starts every component, blocks until ctx is cancelled or a component
// crashes the application, then shuts down in reverse order. A crash is
// returned as an error matching lifecycle.ErrCrashed.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"dbDriver", cfg.Driver,
		"sqlitePath", cfg.Path,
		"dbMaxOpenConns", cfg.MaxOpenConns,
		"dbConnectAttempts", cfg.DBConnectAttempts,
		"mqttAddress", cfg.MQTTAddress(),
		"mqttTopic", cfg.MQTTTopic,
		"mqttClientId", cfg.MQTTClientID,
		"wsPath", cfg.WSPath,
		"redisEnabled", cfg.RedisAddr != "",
	)

	lc, ctx := lifecycle.New(ctx, logger)
	defer lc.Stop()

	m := metrics.New()

	dialect, err := db.DialectFor(cfg.Driver)
	if err != nil {
		return err
	}
	dbPolicy := retry.New(cfg.DBConnectAttempts, cfg.DBConnectBackoff, nil)
	dbPolicy.Logger = logger
	gw := storage.NewGateway(
		func(ctx context.Context) (*sql.DB, error) { return db.Open(ctx, cfg, logger) },
		dialect,
		lc,
		logger,
		storage.WithPolicy(dbPolicy),
		storage.WithReconnectHook(m.StorageReconnected),
	)
	if err := gw.Connect(ctx); err != nil {
		return crashErr(lc, err)
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.Error("db close", "error", err)
		}
	}()

	conn, err := gw.DB()
	if err != nil {
		return err
	}
	if err := migrate.Run(ctx, conn, dialect, logger); err != nil {
		return err
	}
	logger.Info("database connection successful", "driver", dialect)

	repo := repository.NewRepository(gw)

	hub := broadcast.NewHub(logger, m,
		broadcast.WithSendTimeout(cfg.WSSendTimeout),
		broadcast.WithMaxConcurrentSends(cfg.WSMaxConcurrentSends),
	)
	lc.OnStopping(hub.Close)

	var (
		serviceOpts = []service.Option{service.WithMetrics(m)}
		liveReader  controller.LiveReader
	)
	if cfg.RedisAddr != "" {
		live, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL, logger)
		if err != nil {
			logger.Warn("live cache unavailable (continuing without it)", "addr", cfg.RedisAddr, "error", err)
		} else {
			defer func() { _ = live.Close() }()
			serviceOpts = append(serviceOpts, service.WithLive(live))
			liveReader = live
		}
	}

	svc := service.NewService(repo.Houses, repo.Pipes, repo.Sources, hub, logger, serviceOpts...)

	consumer := mqtt.NewConsumer(mqtt.NewPahoDialer(cfg.MQTTClientID, logger), svc, logger, m)
	lc.OnStopping(consumer.Disconnect)

	mqttPolicy := retry.New(cfg.MQTTConnectAttempts, cfg.MQTTConnectBackoff, isTransientConnectError)
	mqttPolicy.Logger = logger
	err = mqttPolicy.Do(ctx, func() error {
		return consumer.Connect(ctx, cfg.MQTTAddress(), cfg.MQTTTopic)
	})
	if err != nil {
		// A shutdown that arrives while connecting is not a crash.
		if ctx.Err() == nil {
			lc.Crash(fmt.Sprintf("unable to connect to the queue at %s: %v", cfg.MQTTAddress(), err))
		}
		return crashErr(lc, err)
	}

	mux := httpapi.NewMux(gw, m.Handler(), broadcast.NewHandler(hub, logger), cfg.WSPath)
	measurements.RegisterFeature(mux, repo, liveReader)
	srv := httpapi.NewServer(cfg.HTTPAddr, mux, logger)

	var g errgroup.Group
	g.Go(func() error {
		logger.Info("mqtt listening", "topic", cfg.MQTTTopic)
		if err := consumer.Listen(ctx); err != nil {
			lc.Crash("queue listener failed: " + err.Error())
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lc.Crash("http server failed: " + err.Error())
			return err
		}
		return nil
	})

	<-ctx.Done()

	logger.Info("mqtt disconnecting")
	lc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}

	if err := g.Wait(); err != nil {
		logger.Error("component stopped with error", "error", err)
	}

	if err := lc.Err(); err != nil {
		return err
	}
	return context.Cause(ctx)
}

// crashErr prefers the lifecycle cause so callers can match ErrCrashed.
func crashErr(lc *lifecycle.Lifecycle, err error) error {
	if cause := lc.Err(); cause != nil {
		return fmt.Errorf("%w: %w", cause, err)
	}
	return err
}

// isTransientConnectError reports whether a queue connect failure is worth
// another attempt.
func isTransientConnectError(err error) bool {
	return !errors.Is(err, mqtt.ErrStopped) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
