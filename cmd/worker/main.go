package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"ugcserver/internal/infra"
	"ugcserver/internal/wiring"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if cfg.StoreDriver == infra.StoreDriverMemory {
		logger.Fatal().Msg("worker: STORE_DRIVER=memory cannot be shared with the api, use EMBEDDED_WORKER instead")
	}
	if cfg.EventBus == infra.EventBusMemory {
		logger.Warn().Msg("worker: EVENT_BUS=memory, progress events will not reach api subscribers")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := wiring.Build(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to initialise components")
	}
	defer components.Close()

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker: started")
	if err := components.RunWorker(ctx); err != nil {
		logger.Error().Err(err).Msg("worker: stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("worker: stopped")
}
