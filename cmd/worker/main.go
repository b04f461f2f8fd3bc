// Command worker consumes the import queue and runs each CSV import to a
// terminal state.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/productimport/internal/application"
	"github.com/JonMunkholm/productimport/internal/config"
	"github.com/JonMunkholm/productimport/internal/engine"
	"github.com/JonMunkholm/productimport/internal/logging"
	"github.com/JonMunkholm/productimport/internal/platform/redis"
	"github.com/JonMunkholm/productimport/internal/staging"
	"github.com/JonMunkholm/productimport/internal/storage"
	"github.com/JonMunkholm/productimport/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
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

	logger := slog.Default().With("consumer", cfg.Queue.ConsumerName(), "queue", cfg.Queue.Name)

	transport, err := application.OpenTransport(ctx, client, cfg.Queue, true, logger)
	if err != nil {
		return err
	}
	defer transport.Close()

	w := worker.New(worker.Deps{
		Jobs: stores.Jobs,
		Engine: engine.New(stores.Products, engine.Options{
			ProgressEvery: cfg.Worker.ProgressEvery,
			Logger:        logger,
		}),
		Files:    staging.New(cfg.Staging.Dir, cfg.Staging.MaxFileSize),
		Objects:  storage.NewBucket(cfg.Storage.Dir),
		Receiver: transport.Receiver,
		Logger:   logger,
	}, worker.Config{
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		ExtendInterval:    cfg.Worker.VisibilityExtendInterval,
		ErrorBackoff:      cfg.Worker.ErrorBackoff,
		KeepStaged:        cfg.Worker.KeepStaged,
	})

	if n, err := w.ReportStale(ctx); err != nil {
		logger.Warn("stale job check failed", "error", err)
	} else if n > 0 {
		logger.Warn("jobs left in PROCESANDO will be redelivered by the queue", "count", n, "mode", transport.Mode)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})
	if p, ok := transport.Receiver.(pendingCounter); ok {
		g.Go(func() error {
			reportPending(gctx, p, logger)
			return nil
		})
	}

	err = g.Wait()
	slog.Info("worker stopped")
	return err
}

// pendingInterval is how often the backlog of a pull transport is logged.
const pendingInterval = time.Minute

type pendingCounter interface {
	Pending(ctx context.Context) (int64, error)
}

// reportPending logs how many deliveries the consumer group holds without
// acknowledgement, until ctx ends.
func reportPending(ctx context.Context, p pendingCounter, logger *slog.Logger) {
	ticker := time.NewTicker(pendingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Pending(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("pending count failed", "error", err)
				}
				continue
			}
			logger.Info("queue backlog", "pendientes", n)
		}
	}
}
