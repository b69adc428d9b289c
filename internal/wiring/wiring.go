// Package wiring assembles stores, buses and clients from configuration for
// the api and worker binaries.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ugcserver/internal/adapter/memory"
	"ugcserver/internal/adapter/repo"
	"ugcserver/internal/domain"
	"ugcserver/internal/events"
	"ugcserver/internal/infra"
	"ugcserver/internal/infra/credentials"
	"ugcserver/internal/pipeline"
	"ugcserver/internal/providers/fal"
	"ugcserver/internal/providers/transport"
	"ugcserver/internal/providers/wavespeed"
	"ugcserver/internal/queue"
	"ugcserver/internal/storage"
)

// Components are the shared collaborators of a process.
type Components struct {
	Jobs     domain.JobRepository
	Assets   domain.VideoAssetRepository
	Catalog  domain.ActorCatalog
	Bus      events.Bus
	Notifier queue.Notifier
	Storage  *storage.Gateway
	// Static serves stored objects when the filesystem driver is used.
	Static http.Handler
	// Ready reports whether backing services are reachable.
	Ready func(ctx context.Context) error

	cfg     *infra.Config
	logger  *infra.Logger
	local   *queue.ChannelNotifier
	closers []func()
	// Provider keys; environment first, then the credential table.
	falKey       string
	wavespeedKey string
}

// Build connects everything cfg selects. Call Close when done.
func Build(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*Components, error) {
	log := infra.LoggerOrDiscard(logger)
	c := &Components{
		cfg:          cfg,
		logger:       log,
		Ready:        func(context.Context) error { return nil },
		falKey:       cfg.FalAPIKey,
		wavespeedKey: cfg.WavespeedAPIKey,
	}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	if err := c.buildStores(ctx); err != nil {
		return nil, err
	}
	if err := c.buildBus(); err != nil {
		return nil, err
	}
	if err := c.buildStorage(); err != nil {
		return nil, err
	}
	ok = true
	return c, nil
}

func (c *Components) buildStores(ctx context.Context) error {
	switch c.cfg.StoreDriver {
	case infra.StoreDriverMemory:
		catalog, err := memory.LoadCatalog(c.cfg.ActorCatalogPath)
		if err != nil {
			return err
		}
		c.Jobs = memory.NewJobStore()
		c.Assets = memory.NewAssetStore()
		c.Catalog = catalog
		c.local = queue.NewChannelNotifier()
		c.Notifier = c.local
		c.logger.Warn().Msg("wiring: in-memory job store, jobs are lost on restart")
		return nil

	case infra.StoreDriverPostgres:
		pool, err := infra.NewDBPool(ctx, c.cfg)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, pool.Close)
		runner := infra.NewSQLRunner(pool, *c.logger)
		if err := repo.EnsureSchema(ctx, runner); err != nil {
			return err
		}
		catalog := repo.NewCatalogRepository(runner)
		if c.cfg.ActorCatalogPath != "" {
			file, err := memory.ReadCatalogFile(c.cfg.ActorCatalogPath)
			if err != nil {
				return err
			}
			if err := catalog.Seed(ctx, file.Actors, file.Variants); err != nil {
				return err
			}
			c.logger.Info().Int("actors", len(file.Actors)).Int("variants", len(file.Variants)).Msg("wiring: seeded actor catalog")
		}
		c.Jobs = repo.NewJobRepository(runner)
		c.Assets = repo.NewAssetRepository(runner)
		c.Catalog = catalog
		c.Notifier = queue.NewPGNotifier(runner)
		c.Ready = pingPool(pool)
		return c.resolveKeys(ctx, credentials.NewStore(runner))
	}
	return fmt.Errorf("wiring: unsupported store driver %q", c.cfg.StoreDriver)
}

func (c *Components) resolveKeys(ctx context.Context, store *credentials.Store) error {
	var err error
	if c.falKey, err = store.Resolve(ctx, credentials.ProviderFal, c.falKey); err != nil {
		return fmt.Errorf("wiring: load fal key: %w", err)
	}
	if c.wavespeedKey, err = store.Resolve(ctx, credentials.ProviderWavespeed, c.wavespeedKey); err != nil {
		return fmt.Errorf("wiring: load wavespeed key: %w", err)
	}
	return nil
}

func (c *Components) buildBus() error {
	switch c.cfg.EventBus {
	case infra.EventBusRedis:
		rdb, err := events.NewRedisClient(c.cfg.RedisURL)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, func() { _ = rdb.Close() })
		c.Bus = events.NewRedisBus(rdb, 0, c.logger)
		ready := c.Ready
		c.Ready = func(ctx context.Context) error {
			if err := ready(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		}
	default:
		c.Bus = events.NewHub(0, c.logger)
	}
	return nil
}

func (c *Components) buildStorage() error {
	var store storage.ObjectStore
	switch c.cfg.StorageDriver {
	case infra.StorageDriverS3:
		s3, err := storage.NewS3Store(storage.S3Options{
			Endpoint:        c.cfg.S3Endpoint,
			Region:          c.cfg.S3Region,
			AccessKeyID:     c.cfg.S3AccessKeyID,
			SecretAccessKey: c.cfg.S3SecretAccessKey,
		})
		if err != nil {
			return err
		}
		store = s3
	default:
		path := c.cfg.StoragePath
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		fs, err := storage.NewFileStore(path)
		if err != nil {
			return err
		}
		store = fs
		c.Static = fs.Handler()
	}
	c.Storage = storage.NewGateway(store, c.cfg.PublicStorageBase, nil, c.logger)
	return nil
}

// Wake returns the channel dispatchers block on between polls. With
// Postgres it is fed by LISTEN; in memory by the local notifier.
func (c *Components) Wake(ctx context.Context) (<-chan struct{}, error) {
	if c.local != nil {
		return c.local.C(), nil
	}
	if c.cfg.StoreDriver != infra.StoreDriverPostgres {
		return nil, nil
	}
	return queue.Listen(ctx, c.cfg.DatabaseURL, c.logger)
}

// NewOrchestrator builds the pipeline with fal and Wavespeed clients.
func (c *Components) NewOrchestrator() (*pipeline.Orchestrator, error) {
	falClient, err := fal.NewClient(fal.Options{
		APIKey:  c.falKey,
		BaseURL: c.cfg.FalBaseURL,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, err
	}
	lipsync, err := wavespeed.NewClient(wavespeed.Options{
		APIKey:  c.wavespeedKey,
		BaseURL: c.cfg.WavespeedBaseURL,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, err
	}
	if !falClient.HasCredentials() {
		c.logger.Warn().Msg("wiring: FAL_API_KEY missing, tts and image edits will fail")
	}
	if !lipsync.HasCredentials() {
		c.logger.Warn().Msg("wiring: WAVESPEED_API_KEY missing, lip-sync will fail")
	}
	return pipeline.NewOrchestrator(pipeline.Dependencies{
		Catalog: c.Catalog,
		Jobs:    c.Jobs,
		Assets:  c.Assets,
		Bus:     c.Bus,
		Speech:  falClient,
		Images:  falClient,
		LipSync: lipsync,
		Storage: c.Storage,
	}, pipeline.Options{
		PollInterval: c.cfg.LipSyncPollInterval,
		PollTimeout:  c.cfg.LipSyncTimeout,
		AudioBucket:  c.cfg.AudioBucket,
		VideoBucket:  c.cfg.VideoBucket,
		Logger:       c.logger,
	})
}

// RunWorker reaps interrupted jobs, then dispatches queued jobs until ctx ends.
func (c *Components) RunWorker(ctx context.Context) error {
	orch, err := c.NewOrchestrator()
	if err != nil {
		return err
	}
	wake, err := c.Wake(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("wiring: queue listener unavailable, falling back to polling")
	}
	dispatcher, err := queue.NewDispatcher(c.Jobs, orch, queue.DispatcherOptions{
		Concurrency:  c.cfg.WorkerConcurrency,
		PollInterval: c.cfg.JobPollInterval,
		Wake:         wake,
		Logger:       c.logger,
	})
	if err != nil {
		return err
	}
	if _, err := dispatcher.ReapInterrupted(ctx, StaleAfter(c.cfg)); err != nil {
		c.logger.Warn().Err(err).Msg("wiring: reap interrupted jobs")
	}
	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// reapMargin absorbs uploads, which carry no client timeout, and clock skew
// between workers.
const reapMargin = 5 * time.Minute

// StaleAfter is how long a running job may go without a write to its row
// before a starting worker treats it as orphaned. Every pipeline step and
// every lip-sync poll writes the row, so the bound is the slowest stretch
// of provider calls and transfers between two writes.
func StaleAfter(cfg *infra.Config) time.Duration {
	falCall := transport.DefaultPolicy.Budget(fal.DefaultRequestTimeout)
	pollCall := transport.PollPolicy.Budget(wavespeed.DefaultRequestTimeout)
	longest := max(
		falCall+storage.DefaultDownloadTimeout,
		transport.DefaultPolicy.Budget(wavespeed.DefaultRequestTimeout)+pollCall,
		cfg.LipSyncPollInterval+pollCall,
		storage.DefaultDownloadTimeout,
	)
	return longest + reapMargin
}

// Close releases connections in reverse order.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func pingPool(pool *pgxpool.Pool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
}
