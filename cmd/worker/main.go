// cmd/worker/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"job-delivery-service/internal/alert"
	"job-delivery-service/internal/app"
	"job-delivery-service/internal/config"
	"job-delivery-service/internal/logger"
	"job-delivery-service/internal/service"
	"job-delivery-service/internal/upstream"
	"job-delivery-service/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log := loadConfig()

	store, closeStore, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("store")
	}
	defer closeStore()

	rdb, err := app.OpenRedis(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	coord, err := app.NewCoordinator(cfg, store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("messenger")
	}

	var sink alert.Sink = alert.NewLogSink(log)
	if rdb != nil {
		// Slightly shorter than the sweep so the next sweep can alert again.
		sink = alert.NewRedisSink(rdb, cfg.RedisAlertChannel, cfg.OrphanSweepInterval*9/10, log)
	}

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	reconciler := worker.NewReconciler(store, coord, sink, worker.ReconcilerOptions{
		Interval:           cfg.OrphanSweepInterval,
		Threshold:          cfg.OrphanThreshold,
		Batch:              cfg.OrphanBatch,
		AlertAfterAttempts: cfg.AlertAfterAttempts,
	}, log)
	run(reconciler.Run)

	if cfg.UpstreamBaseURL != "" {
		up, err := upstream.NewClient(upstream.Options{
			BaseURL:   cfg.UpstreamBaseURL,
			APIKey:    cfg.UpstreamAPIKey,
			RateLimit: cfg.UpstreamRateLimit,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("upstream")
		}
		poller := worker.NewPoller(store, up, coord, worker.PollerOptions{
			Interval: cfg.PollInterval,
			Batch:    cfg.PollBatch,
			MaxAge:   cfg.PollMaxAge,
		}, log)
		run(poller.Run)
	} else {
		log.Warn().Msg("UPSTREAM_BASE_URL not set, status polling disabled")
	}

	if rdb != nil {
		queue := app.NewQueue(cfg, rdb)
		run(func(ctx context.Context) {
			worker.RunReaper(ctx, queue, cfg.QueueReapInterval, log)
		})

		listener := service.NewCompletionListener(store, coord, log)
		pool := worker.NewPool(queue, worker.NewProcessor(listener, log), cfg.Workers, log)
		run(pool.Run)
	} else {
		log.Warn().Msg("REDIS_ADDR not set, callback queue consumers disabled")
	}

	log.Info().
		Str("store", cfg.StoreDriver).
		Int("workers", cfg.Workers).
		Str("redis_addr", cfg.RedisAddr).
		Dur("lock_timeout", coord.LockTimeout()).
		Msg("worker started")

	wg.Wait()
	log.Info().Msg("worker stopped")
}

// loadConfig exits the process when the environment is invalid.
func loadConfig() (*config.Config, zerolog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		l := logger.New("production", "")
		l.Fatal().Err(err).Msg("config")
	}
	return cfg, logger.New(cfg.AppEnv, cfg.LogLevel).With().Str("service", "worker").Logger()
}
