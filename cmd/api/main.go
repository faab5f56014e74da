// @title Job Delivery Service API
// @version 1.0
// @description Delivers finished generation results to users at most once.
// @BasePath /
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	_ "job-delivery-service/docs"
	"job-delivery-service/internal/app"
	"job-delivery-service/internal/config"
	"job-delivery-service/internal/logger"
	"job-delivery-service/internal/service"
	httptransport "job-delivery-service/internal/transport/http"
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

	coord, err := app.NewCoordinator(cfg, store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("messenger")
	}

	// DI
	jobSvc := service.NewJobService(store, coord)
	listener := service.NewCompletionListener(store, coord, log)
	if rdb != nil {
		defer rdb.Close()
		listener.WithQueue(app.NewQueue(cfg, rdb))
	}
	h := httptransport.NewHandler(jobSvc, listener, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.Routes(h, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.HTTPAddr).
			Str("store", cfg.StoreDriver).
			Bool("callback_queue", listener.Queued()).
			Msg("api started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("api stopped")
}

// loadConfig exits the process when the environment is invalid.
func loadConfig() (*config.Config, zerolog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		l := logger.New("production", "")
		l.Fatal().Err(err).Msg("config")
	}
	return cfg, logger.New(cfg.AppEnv, cfg.LogLevel).With().Str("service", "api").Logger()
}
