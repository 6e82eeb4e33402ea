// Package app initializes and holds long-lived services, acting as the
// dependency injection container for every command.
package app

import (
	"context"
	"errors"
	"fmt"

	gpubsub "cloud.google.com/go/pubsub"
	gcsapi "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/neuronav/internal/api"
	"github.com/JakeFAU/neuronav/internal/clock/system"
	"github.com/JakeFAU/neuronav/internal/codec"
	"github.com/JakeFAU/neuronav/internal/config"
	"github.com/JakeFAU/neuronav/internal/dispatch"
	collyfetcher "github.com/JakeFAU/neuronav/internal/fetcher/colly"
	"github.com/JakeFAU/neuronav/internal/id/uuid"
	"github.com/JakeFAU/neuronav/internal/neuron"
	"github.com/JakeFAU/neuronav/internal/progress"
	"github.com/JakeFAU/neuronav/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/neuronav/internal/publisher/pubsub"
	"github.com/JakeFAU/neuronav/internal/registry"
	"github.com/JakeFAU/neuronav/internal/scrape"
	"github.com/JakeFAU/neuronav/internal/storage"
	gcsstore "github.com/JakeFAU/neuronav/internal/storage/gcs"
	localstore "github.com/JakeFAU/neuronav/internal/storage/local"
	memorystore "github.com/JakeFAU/neuronav/internal/storage/memory"
	miniostore "github.com/JakeFAU/neuronav/internal/storage/minio"
	"github.com/JakeFAU/neuronav/internal/storage/postgres"
	"github.com/JakeFAU/neuronav/internal/store"
	"github.com/JakeFAU/neuronav/internal/telemetry"
)

// Options configures New. Registerer defaults to prometheus.DefaultRegisterer;
// tests pass a fresh registry so collectors can be registered more than once.
type Options struct {
	Config     config.Config
	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// App holds the shared services built from configuration. It is created
// once per command and closed when the command returns.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	codec   *codec.Codec
	pages   storage.Provider
	fetcher neuron.Fetcher
	hub     *progress.Hub
	batches store.BatchRepository

	closers []func() error
}

// New builds every service the configuration asks for and fails fast if any
// of them cannot be initialized. Resources opened before a failure are
// released.
func New(ctx context.Context, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cfg := opts.Config

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.closeResources()
		}
	}()

	if cfg.Telemetry.Tracing {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Options{
			ServiceName: cfg.Telemetry.ServiceName,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.closers = append(a.closers, func() error {
			return tp.Shutdown(context.Background())
		})
	}

	a.codec, err = codec.New(cfg.CompressionKind())
	if err != nil {
		return nil, fmt.Errorf("init codec: %w", err)
	}
	if a.pages, err = a.buildPageStore(ctx); err != nil {
		return nil, fmt.Errorf("init page storage: %w", err)
	}
	a.fetcher = collyfetcher.New(collyfetcher.Config{
		BaseURL:   cfg.Fetch.BaseURL,
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.Fetch.Timeout,
	}, logger.Named("fetcher"))

	var progressSinks []progress.Sink
	progressSinks, err = a.buildSinks(ctx, reg)
	if err != nil {
		return nil, fmt.Errorf("init progress sinks: %w", err)
	}
	if a.batches == nil {
		a.batches = store.NewMemory()
		progressSinks = append(progressSinks, sinks.NewStoreSink(a.batches, logger.Named("progress")))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		FlushInterval:  cfg.Progress.FlushInterval,
		Logger:         logger.Named("progress"),
	}, progressSinks...)

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Provider),
		zap.Strings("sinks", cfg.Progress.Sinks),
		zap.Stringer("compression", a.codec.Compression()),
	)
	return a, nil
}

func (a *App) buildPageStore(ctx context.Context) (storage.Provider, error) {
	cfg := a.cfg.Storage
	switch cfg.Provider {
	case config.StorageLocal:
		return localstore.New(localstore.Config{BaseDir: a.cfg.Data.Root}, a.codec)
	case config.StorageMemory:
		return memorystore.NewPageStore(), nil
	case config.StorageGCS:
		client, err := gcsapi.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.logger.Info("using gcs page storage", zap.String("bucket", cfg.GCS.Bucket))
		return gcsstore.New(client, gcsstore.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix}, a.codec)
	case config.StorageMinio:
		mcfg := miniostore.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Region:    cfg.Minio.Region,
			Secure:    cfg.Minio.Secure,
			Bucket:    cfg.Minio.Bucket,
			Prefix:    cfg.Minio.Prefix,
		}
		client, err := miniostore.NewClient(mcfg)
		if err != nil {
			return nil, err
		}
		a.logger.Info("using minio page storage",
			zap.String("endpoint", cfg.Minio.Endpoint),
			zap.String("bucket", cfg.Minio.Bucket),
		)
		return miniostore.New(client, mcfg, a.codec)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

func (a *App) buildSinks(ctx context.Context, reg prometheus.Registerer) ([]progress.Sink, error) {
	pcfg := a.cfg.Progress
	logger := a.logger.Named("progress")
	var out []progress.Sink
	for _, name := range pcfg.Sinks {
		switch name {
		case config.SinkLog:
			out = append(out, sinks.NewLogSink(logger))
		case config.SinkPrometheus:
			sink, err := sinks.NewPrometheusSink(reg)
			if err != nil {
				return nil, err
			}
			out = append(out, sink)
		case config.SinkPostgres:
			batchStore, err := postgres.NewBatchStore(ctx, postgres.Config{
				DSN:      pcfg.Postgres.DSN,
				Table:    pcfg.Postgres.Table,
				MaxConns: pcfg.Postgres.MaxConns,
			})
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, func() error {
				batchStore.Close()
				return nil
			})
			if err := batchStore.EnsureSchema(ctx); err != nil {
				return nil, err
			}
			a.batches = batchStore
			out = append(out, sinks.NewStoreSink(batchStore, logger))
		case config.SinkPubSub:
			client, err := gpubsub.NewClient(ctx, pcfg.PubSub.ProjectID)
			if err != nil {
				return nil, fmt.Errorf("create pubsub client: %w", err)
			}
			pub := pubsubpublisher.New(client)
			a.closers = append(a.closers, pub.Close)
			out = append(out, sinks.NewNotifySink(pub, pcfg.PubSub.Topic, logger))
		default:
			return nil, fmt.Errorf("unknown progress sink %q", name)
		}
	}
	return out, nil
}

// Logger returns the shared structured logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Pages returns the configured page store.
func (a *App) Pages() storage.Provider {
	return a.pages
}

// Batches returns the batch progress repository read by the API.
func (a *App) Batches() store.BatchRepository {
	return a.batches
}

// Scraper returns a scraper wired to the fetcher, page store and progress hub.
func (a *App) Scraper() *scrape.Scraper {
	return &scrape.Scraper{
		Fetcher: a.fetcher,
		Store:   a.pages,
		Emitter: a.hub,
		Logger:  a.logger.Named("scrape"),
		Limit:   a.cfg.Scrape.Concurrency,
		Clock:   system.New(),
		IDs:     uuid.New(),
	}
}

// OpenRegistry loads the initialized data root.
func (a *App) OpenRegistry() (*registry.Registry, error) {
	return registry.Open(a.cfg.Data.Root)
}

// Server builds the HTTP API over reg.
func (a *App) Server(reg *registry.Registry) *api.Server {
	return api.NewServer(api.Options{
		Resolver:       dispatch.New(reg, a.logger.Named("dispatch")),
		Catalog:        reg,
		Batches:        api.NewBatchHandler(a.batches, a.logger.Named("api")),
		RequestTimeout: a.cfg.Server.RequestTimeout,
		Logger:         a.logger.Named("api"),
	})
}

// Close flushes the progress hub and then releases clients in reverse
// order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing resource", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
