// Package app builds the long-lived services a pipeline invocation needs from
// configuration and shuts them down afterwards.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/lockscreen-covers/internal/clock/system"
	"github.com/JakeFAU/lockscreen-covers/internal/config"
	"github.com/JakeFAU/lockscreen-covers/internal/cover"
	collyfetcher "github.com/JakeFAU/lockscreen-covers/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/lockscreen-covers/internal/fetcher/headless"
	"github.com/JakeFAU/lockscreen-covers/internal/hash/sha256"
	"github.com/JakeFAU/lockscreen-covers/internal/id/uuid"
	"github.com/JakeFAU/lockscreen-covers/internal/pipeline"
	gcppublisher "github.com/JakeFAU/lockscreen-covers/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/lockscreen-covers/internal/storage/gcs"
	localstorage "github.com/JakeFAU/lockscreen-covers/internal/storage/local"
	memorystorage "github.com/JakeFAU/lockscreen-covers/internal/storage/memory"
	pgstore "github.com/JakeFAU/lockscreen-covers/internal/storage/postgres"
)

// App holds configured services. Build it once per command and Close it
// when the command returns.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	deps   pipeline.Deps

	headless     *headlessfetcher.Fetcher
	catalog      *pgstore.Catalog
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	gcsClient    *storage.Client
}

// Build creates every service the configuration asks for. Optional services
// (catalog, notifications, mirror, headless rendering) are skipped when
// their settings are empty.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	a.logger.Info("building pipeline services")

	steps := []func(context.Context) error{
		a.setupStorage,
		a.setupFetchers,
		a.setupCatalog,
		a.setupPublisher,
		a.setupMirror,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.deps.Clock = system.New()
	a.deps.IDs = uuid.New()
	a.deps.Hasher = sha256.New()
	return a, nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Deps returns the collaborators for a pipeline.
func (a *App) Deps() pipeline.Deps {
	return a.deps
}

// Pipeline builds a pipeline over the app's services.
func (a *App) Pipeline() (*pipeline.Pipeline, error) {
	p, err := pipeline.New(a.cfg, a.deps, a.logger)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return p, nil
}

func (a *App) setupStorage(_ context.Context) error {
	store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
	if err != nil {
		return fmt.Errorf("artifact store init failed: %w", err)
	}
	state, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.StateDir})
	if err != nil {
		return fmt.Errorf("state store init failed: %w", err)
	}
	a.deps.Store = store
	a.deps.State = state
	a.logger.Debug("local storage",
		zap.String("base_dir", store.BaseDir()),
		zap.String("state_dir", state.BaseDir()))
	return nil
}

func (a *App) setupFetchers(_ context.Context) error {
	a.deps.Fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:   a.cfg.Fetch.UserAgent,
		Timeout:     a.cfg.Fetch.RequestTimeout,
		MaxBodySize: a.cfg.Fetch.MaxBodyBytes,
	})
	a.deps.MetadataFetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent: a.cfg.Fetch.UserAgent,
		Timeout:   a.cfg.Metadata.RequestTimeout,
	})
	a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.Fetch.UserAgent))

	if !a.cfg.Metadata.Enabled || !a.cfg.Metadata.RenderHeadless {
		return nil
	}
	headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       1,
		UserAgent:         a.cfg.Fetch.UserAgent,
		NavigationTimeout: a.cfg.Metadata.HeadlessTimeout,
	})
	if err != nil {
		// static HTML still works without a browser
		a.logger.Warn("headless fetcher init failed", zap.Error(err))
		return nil
	}
	a.headless = headless
	a.deps.Headless = headless
	a.logger.Info("using headless fetcher for metadata", zap.Duration("timeout", a.cfg.Metadata.HeadlessTimeout))
	return nil
}

func (a *App) setupCatalog(ctx context.Context) error {
	if a.cfg.Catalog.DSN == "" {
		a.logger.Info("no catalog dsn, using in-memory catalog")
		a.deps.Catalog = memorystorage.NewCatalog()
		return nil
	}
	catalog, err := pgstore.New(ctx, pgstore.Config{
		DSN:           a.cfg.Catalog.DSN,
		CoversTable:   a.cfg.Catalog.CoversTable,
		MetadataTable: a.cfg.Catalog.MetadataTable,
		MaxConns:      a.cfg.Catalog.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("catalog init failed: %w", err)
	}
	a.catalog = catalog
	if err := catalog.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("catalog schema: %w", err)
	}
	a.deps.Catalog = catalog
	a.logger.Info("postgres catalog initialized", zap.String("covers_table", a.cfg.Catalog.CoversTable))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.Notify.Topic == "" || a.cfg.Notify.ProjectID == "" {
		a.logger.Info("no pub/sub topic configured, notifications disabled")
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.Notify.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.publisher = gcppublisher.New(client, map[string]string{"source": "lockscreen-covers"})
	a.deps.Publisher = a.publisher
	a.logger.Info("pub/sub publisher initialized",
		zap.String("project", a.cfg.Notify.ProjectID),
		zap.String("topic", a.cfg.Notify.Topic))
	return nil
}

func (a *App) setupMirror(ctx context.Context) error {
	if a.cfg.Publish.GCSBucket == "" {
		return nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("gcs client init failed: %w", err)
	}
	a.gcsClient = client
	mirror, err := gcsstorage.New(client, gcsstorage.Config{
		Bucket: a.cfg.Publish.GCSBucket,
		Prefix: a.cfg.Publish.GCSPrefix,
	})
	if err != nil {
		return fmt.Errorf("gcs mirror init failed: %w", err)
	}
	a.deps.Mirror = mirror
	a.logger.Info("mirroring published files to gcs", zap.String("bucket", a.cfg.Publish.GCSBucket))
	return nil
}

// Close releases every service. It is safe to call on a partially built App.
func (a *App) Close() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.catalog != nil {
		a.catalog.Close()
	}
	a.logger.Debug("services closed")
}

var _ cover.Catalog = (*pgstore.Catalog)(nil)
