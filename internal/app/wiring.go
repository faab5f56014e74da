// Package app assembles the components shared by the api and worker binaries.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"job-delivery-service/internal/config"
	"job-delivery-service/internal/delivery"
	"job-delivery-service/internal/messenger"
	"job-delivery-service/internal/repository/postgresql"
	"job-delivery-service/internal/repository/sqlite"
	"job-delivery-service/internal/service"
	"job-delivery-service/internal/worker"
)

// JobStore is what both store implementations provide.
type JobStore interface {
	delivery.Store
	service.JobRepository
	service.TaskLookup
	worker.PollStore
	worker.OrphanStore
}

// OpenStore opens the store selected by STORE_DRIVER. The returned func
// releases it.
func OpenStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (JobStore, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("driver", cfg.StoreDriver).Str("path", cfg.SQLitePath).Msg("store opened")
		return sqlite.NewJobRepository(db), func() { _ = db.Close() }, nil
	case config.StoreDriverPostgres:
		pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := postgresql.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info().Str("driver", cfg.StoreDriver).Str("dsn", config.RedactDSN(cfg.PostgresDSN)).Msg("store opened")
		return postgresql.NewJobRepository(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// OpenRedis returns nil when REDIS_ADDR is unset.
func OpenRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rdb, nil
}

// NewCoordinator wires the messenger transport into the delivery coordinator.
func NewCoordinator(cfg *config.Config, store delivery.Store, log zerolog.Logger) (*delivery.Coordinator, error) {
	media, err := messenger.New(messenger.Options{
		BaseURL:   cfg.MessengerBaseURL,
		Token:     cfg.MessengerToken,
		RateLimit: cfg.MessengerRateLimit,
	}, log)
	if err != nil {
		return nil, err
	}
	return delivery.NewCoordinator(store, media, log, delivery.Options{
		LockTimeout:     cfg.LockTimeout,
		DispatchTimeout: cfg.DispatchTimeout,
	}), nil
}

func NewQueue(cfg *config.Config, rdb *redis.Client) service.Queue {
	return service.NewRedisQueue(rdb, cfg.RedisQueueKey, cfg.RedisProcessingKey)
}
