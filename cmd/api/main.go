package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	httpapi "ugcserver/internal/http"
	"ugcserver/internal/http/handlers"
	"ugcserver/internal/infra"
	"ugcserver/internal/infra/geoip"
	"ugcserver/internal/queue"
	"ugcserver/internal/wiring"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := wiring.Build(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to initialise components")
	}
	defer components.Close()

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
		resolver = geoip.Noop{}
	}
	if closer, ok := resolver.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	if cfg.StoreDriver == infra.StoreDriverMemory && !cfg.EmbeddedWorker {
		logger.Warn().Msg("api: memory store without EMBEDDED_WORKER, submitted jobs will never run")
	}

	app := &handlers.App{
		Jobs:   queue.NewQueue(components.Jobs, components.Notifier, &logger),
		Assets: components.Assets,
		Bus:    components.Bus,
		Logger: &logger,
		Ready:  components.Ready,
	}
	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		Logger:      logger,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Country:     resolver.CountryCode,
		Static:      components.Static,
	})
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		return server.Run(gctx)
	})
	if cfg.EmbeddedWorker {
		g.Go(func() error {
			logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("api: embedded worker enabled")
			return components.RunWorker(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api: stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("api: stopped")
}
