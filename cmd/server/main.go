// Command server runs the import API: it accepts CSV uploads, records their
// jobs and publishes them to the import queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/productimport/internal/application"
	"github.com/JonMunkholm/productimport/internal/config"
	"github.com/JonMunkholm/productimport/internal/logging"
	"github.com/JonMunkholm/productimport/internal/platform/redis"
	"github.com/JonMunkholm/productimport/internal/queue"
	"github.com/JonMunkholm/productimport/internal/staging"
	"github.com/JonMunkholm/productimport/internal/storage"
	"github.com/JonMunkholm/productimport/internal/web"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Overload lets a local .env win over inherited variables.
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logCloser, err := logging.Setup(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	slog.Info("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := application.OpenStores(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer stores.Close()

	client, err := redis.Connect(ctx, redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	transport, err := application.OpenTransport(ctx, client, cfg.Queue, false, slog.Default())
	if err != nil {
		return err
	}
	defer transport.Close()

	server := web.NewServer(web.Deps{
		Jobs:     stores.Jobs,
		Stager:   staging.New(cfg.Staging.Dir, cfg.Staging.MaxFileSize),
		Bucket:   storage.NewBucket(cfg.Storage.Dir),
		Producer: queue.NewProducer(transport.Sender, slog.Default()),
		Limiter:  web.NewUploadLimiter(cfg.Staging.MaxConcurrent, cfg.Staging.MaxWaitTime),
		Checks: map[string]web.HealthCheck{
			"database": stores.Ping,
			"redis": func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("ping redis: %w", err)
				}
				return nil
			},
		},
	}, web.Options{
		MaxFileSize:    cfg.Staging.MaxFileSize,
		MaxRetries:     cfg.Worker.MaxRetries,
		RemoteStaging:  cfg.Staging.Remote,
		KeyPrefix:      cfg.Storage.KeyPrefix,
		TrustedProxies: cfg.Server.TrustedProxies,
		RequestTimeout: cfg.Server.RequestTimeout,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(cfg.Server.Addr()); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown incomplete", "error", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("server stopped")
	return err
}
