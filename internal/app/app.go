// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gif-crawler/internal/api"
	"github.com/JakeFAU/gif-crawler/internal/cache/bloom"
	"github.com/JakeFAU/gif-crawler/internal/cache/memory"
	"github.com/JakeFAU/gif-crawler/internal/config"
	"github.com/JakeFAU/gif-crawler/internal/crawler"
	"github.com/JakeFAU/gif-crawler/internal/document"
	"github.com/JakeFAU/gif-crawler/internal/engine"
	collyfetcher "github.com/JakeFAU/gif-crawler/internal/fetcher/colly"
	httpfetcher "github.com/JakeFAU/gif-crawler/internal/fetcher/http"
	"github.com/JakeFAU/gif-crawler/internal/id/uuid"
	"github.com/JakeFAU/gif-crawler/internal/normalize"
	"github.com/JakeFAU/gif-crawler/internal/pipeline"
	"github.com/JakeFAU/gif-crawler/internal/retry"
	"github.com/JakeFAU/gif-crawler/internal/sink/file"
	"github.com/JakeFAU/gif-crawler/internal/storage/postgres"
)

const closeTimeout = 10 * time.Second

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	transport crawler.Transport
	engine    *engine.Engine
	sink      *file.AppendQueue
	store     *postgres.GifStore
	pipeline  *pipeline.Pipeline
	api       *api.Server
}

// New builds every service from cfg. It fails fast if any of them cannot
// be initialized and releases whatever was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("initializing application services",
		zap.String("transport", cfg.Transport.Kind),
		zap.String("cache", cfg.Cache.Backend),
		zap.Bool("store", cfg.Store.Enabled),
	)
	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	a.transport, err = newTransport(cfg.Transport, logger)
	if err != nil {
		return a, err
	}
	cache, err := newCache(cfg.Cache)
	if err != nil {
		return a, err
	}

	a.engine, err = engine.New(engine.Config{
		PoolCapacity:   cfg.Engine.PoolCapacity,
		PriorityRange:  cfg.Engine.PriorityRange,
		RateLimitDelay: cfg.Engine.RateLimitDelay,
		Defaults:       cfg.Defaults(),
		OnDrain:        func() { logger.Debug("engine drained") },
	}, engine.Deps{
		Transport: a.transport,
		Cache:     cache,
		Normalizer: normalize.New(normalize.Config{
			Passthrough:   cfg.Normalizer.Passthrough,
			MinConfidence: cfg.Normalizer.MinConfidence,
		}, logger),
		Builder: document.NewBuilder(document.Config{QueryResource: cfg.Document.QueryResource}, logger),
		Retry:   retry.New(cfg.Engine.MinRetryDelay),
		IDs:     uuid.New(),
	}, logger)
	if err != nil {
		return a, fmt.Errorf("init engine: %w", err)
	}

	a.sink, err = file.New(cfg.Sink.Path, logger)
	if err != nil {
		return a, fmt.Errorf("init sink: %w", err)
	}

	var store pipeline.Store
	if cfg.Store.Enabled {
		a.store, err = postgres.NewGifStore(ctx, postgres.GifStoreConfig{
			DSN:             cfg.Store.DSN,
			Table:           cfg.Store.Table,
			MaxConns:        cfg.Store.MaxConns,
			MinConns:        cfg.Store.MinConns,
			MaxConnLifetime: cfg.Store.MaxConnLifetime,
		})
		if err != nil {
			return a, fmt.Errorf("init store: %w", err)
		}
		if err = a.store.EnsureSchema(ctx); err != nil {
			return a, fmt.Errorf("init store schema: %w", err)
		}
		store = a.store
	}

	a.pipeline, err = pipeline.New(pipeline.Config{
		Category:   cfg.Crawl.Category,
		MaxRecords: cfg.Crawl.MaxRecords,
	}, a.engine, a.sink, store, logger)
	if err != nil {
		return a, fmt.Errorf("init pipeline: %w", err)
	}

	a.api = api.NewServer(a.engine, a.pipeline, a.Ready, logger)
	logger.Info("application services initialized")
	return a, nil
}

func newTransport(cfg config.TransportConfig, logger *zap.Logger) (crawler.Transport, error) {
	switch cfg.Kind {
	case config.TransportHTTP, "":
		return httpfetcher.New(httpfetcher.Config{
			Timeout:      cfg.Timeout,
			MaxBodyBytes: cfg.MaxBodyBytes,
			Headers:      cfg.Headers,
		}, logger), nil
	case config.TransportColly:
		return collyfetcher.New(collyfetcher.Config{
			Timeout:      cfg.Timeout,
			MaxBodyBytes: int(cfg.MaxBodyBytes),
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport: %s", cfg.Kind)
	}
}

func newCache(cfg config.CacheConfig) (crawler.Cache, error) {
	switch cfg.Backend {
	case config.CacheMemory, "":
		return memory.New(), nil
	case config.CacheBloom:
		return bloom.New(bloom.Config{
			ExpectedItems:     cfg.ExpectedItems,
			FalsePositiveRate: cfg.FalsePositiveRate,
		}), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// Engine exposes the scheduler.
func (a *App) Engine() *engine.Engine { return a.engine }

// Handler returns the operator HTTP handler.
func (a *App) Handler() http.Handler { return a.api.Handler() }

// Run scrapes seeds through the pipeline.
func (a *App) Run(ctx context.Context, seeds []string) (pipeline.Summary, error) {
	summary, err := a.pipeline.Run(ctx, seeds)
	if err != nil {
		return summary, fmt.Errorf("run pipeline: %w", err)
	}
	return summary, nil
}

// Ready reports whether downstream services are reachable.
func (a *App) Ready(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	if _, err := a.store.Count(ctx, ""); err != nil {
		return fmt.Errorf("store not ready: %w", err)
	}
	return nil
}

// Close gracefully shuts down all services in the App container.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if a.engine != nil {
		a.engine.Close()
	}
	if a.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := a.sink.Close(ctx); err != nil {
			a.logger.Warn("error closing sink", zap.Error(err))
		}
		cancel()
	}
	if a.store != nil {
		a.store.Close()
	}
	if idle, ok := a.transport.(interface{ CloseIdleConnections() }); ok {
		idle.CloseIdleConnections()
	}
	// Sync fails on stdout/stderr for some platforms; best effort only.
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("error syncing logger on shutdown", zap.Error(err))
	}
}
