// Package application assembles the stores and queue transport shared by the
// import API and the import worker from a loaded configuration.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/productimport/internal/config"
	"github.com/JonMunkholm/productimport/internal/engine"
	"github.com/JonMunkholm/productimport/internal/job"
	"github.com/JonMunkholm/productimport/internal/platform/postgres"
	"github.com/JonMunkholm/productimport/internal/platform/sqlite"
	"github.com/JonMunkholm/productimport/internal/queue"
	jobrepo "github.com/JonMunkholm/productimport/internal/repository/job"
	productrepo "github.com/JonMunkholm/productimport/internal/repository/product"
)

// Stores are the job and product stores of the configured driver.
type Stores struct {
	Jobs     job.Repository
	Products engine.ProductStore

	ping  func(ctx context.Context) error
	close func()
}

// OpenStores connects to the database selected by cfg.Driver and applies
// its schema.
func OpenStores(ctx context.Context, cfg config.DatabaseConfig) (*Stores, error) {
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		pool, err := postgres.Connect(ctx, postgres.PoolConfig{
			URL:             cfg.URL,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		return &Stores{
			Jobs:     jobrepo.NewPostgres(pool),
			Products: productrepo.NewPostgres(pool),
			ping:     pool.Ping,
			close:    pool.Close,
		}, nil

	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("opened sqlite database", "path", cfg.SQLitePath)
		return &Stores{
			Jobs:     jobrepo.NewSQLite(db.DB),
			Products: productrepo.NewSQLite(db.DB),
			ping:     db.PingContext,
			close:    func() { _ = db.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Ping checks the database connection.
func (s *Stores) Ping(ctx context.Context) error {
	if err := s.ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Stores) Close() {
	s.close()
}

// Transport is the queue transport selected by QUEUE_MODE. Receiver is nil
// when it was opened for publishing only.
type Transport struct {
	Sender   queue.Sender
	Receiver queue.Receiver
	Mode     string

	close func() error
}

// OpenTransport builds the transport of cfg.Mode on client. With consume
// set, the pub/sub transport subscribes before returning so no envelope
// published afterwards is missed.
func OpenTransport(ctx context.Context, client *goredis.Client, cfg config.QueueConfig, consume bool, logger *slog.Logger) (*Transport, error) {
	mode := strings.ToLower(cfg.Mode)

	switch mode {
	case "stream":
		s, err := queue.NewStream(ctx, client, queue.StreamConfig{
			Stream:            cfg.Name,
			Group:             cfg.Group,
			Consumer:          cfg.ConsumerName(),
			Block:             cfg.Block,
			VisibilityTimeout: cfg.VisibilityTimeout,
			MaxDeliveries:     cfg.MaxDeliveries,
		}, logger)
		if err != nil {
			return nil, err
		}
		t := &Transport{Sender: s, Mode: mode, close: func() error { return nil }}
		if consume {
			t.Receiver = s
		}
		return t, nil

	case "pubsub":
		p := queue.NewPubSub(client, cfg.Name, cfg.Block)
		t := &Transport{Sender: p, Mode: mode, close: p.Close}
		if consume {
			if err := p.Subscribe(ctx); err != nil {
				return nil, err
			}
			t.Receiver = p
		}
		return t, nil

	default:
		return nil, fmt.Errorf("unknown queue mode %q", cfg.Mode)
	}
}

// Close leaves a pub/sub subscription. Streams need no cleanup.
func (t *Transport) Close() error {
	return t.close()
}
