package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/internal/config"
	"github.com/aescanero/tickgraph/pkg/adapters/events/amqp"
	eventsmemory "github.com/aescanero/tickgraph/pkg/adapters/events/memory"
	"github.com/aescanero/tickgraph/pkg/adapters/events/nats"
	"github.com/aescanero/tickgraph/pkg/adapters/events/redis"
	"github.com/aescanero/tickgraph/pkg/adapters/storage/memory"
	"github.com/aescanero/tickgraph/pkg/adapters/storage/postgres"
	redisstorage "github.com/aescanero/tickgraph/pkg/adapters/storage/redis"
	"github.com/aescanero/tickgraph/pkg/ports"
)

// closers collects cleanup functions run in reverse order on shutdown
type closers []func() error

func (c *closers) add(fn func() error) {
	*c = append(*c, fn)
}

func (c closers) closeAll(logger *zap.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			logger.Error("close error", zap.Error(err))
		}
	}
}

// connectRedis opens and pings the shared Redis client
func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("connected to Redis", zap.String("addr", cfg.Addr))
	return client, nil
}

// newStateStorage builds the configured run state backend
func newStateStorage(ctx context.Context, cfg *config.Config, redisClient *goredis.Client, c *closers, logger *zap.Logger) (ports.StateStorage, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return memory.NewInMemoryStateStorage(), nil

	case config.BackendRedis:
		return redisstorage.NewStateStorage(redisClient, cfg.Storage.TTL, logger), nil

	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, err
		}
		c.add(func() error { pool.Close(); return nil })

		storage := postgres.NewStateStorage(pool, logger)
		if err := storage.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		logger.Info("connected to Postgres")
		return storage, nil
	}

	return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
}

// newEventBus builds the configured event backend
func newEventBus(ctx context.Context, cfg *config.Config, redisClient *goredis.Client, c *closers, logger *zap.Logger) (ports.EventBus, error) {
	switch cfg.Events.Backend {
	case config.BackendMemory:
		bus := eventsmemory.NewInMemoryEventBus(logger)
		c.add(bus.Close)
		return bus, nil

	case config.BackendRedis:
		bus := redis.NewStreamsEventBus(redisClient, "", cfg.Events.StreamMaxLen, logger)
		c.add(bus.Close)
		return bus, nil

	case config.BackendNATS:
		conn, err := nats.Connect(ctx, nats.ConnectionConfig{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		}, logger)
		if err != nil {
			return nil, err
		}
		bus := nats.NewEventBus(conn, cfg.NATS.SubjectPrefix, logger)
		c.add(bus.Close)
		return bus, nil

	case config.BackendAMQP:
		bus, err := amqp.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			return nil, err
		}
		c.add(bus.Close)
		return bus, nil
	}

	return nil, fmt.Errorf("unsupported events backend: %s", cfg.Events.Backend)
}
