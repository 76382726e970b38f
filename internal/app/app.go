// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/comic-tracker/internal/alert"
	"github.com/JakeFAU/comic-tracker/internal/api"
	"github.com/JakeFAU/comic-tracker/internal/catalog"
	"github.com/JakeFAU/comic-tracker/internal/catalog/memory"
	"github.com/JakeFAU/comic-tracker/internal/catalog/postgres"
	"github.com/JakeFAU/comic-tracker/internal/catalog/sqlite"
	"github.com/JakeFAU/comic-tracker/internal/clock/system"
	"github.com/JakeFAU/comic-tracker/internal/config"
	"github.com/JakeFAU/comic-tracker/internal/dispatcher"
	"github.com/JakeFAU/comic-tracker/internal/extract"
	"github.com/JakeFAU/comic-tracker/internal/fetcher"
	collyfetcher "github.com/JakeFAU/comic-tracker/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/comic-tracker/internal/fetcher/headless"
	"github.com/JakeFAU/comic-tracker/internal/headless/detector"
	"github.com/JakeFAU/comic-tracker/internal/id/uuid"
	"github.com/JakeFAU/comic-tracker/internal/mirror"
	"github.com/JakeFAU/comic-tracker/internal/policy/breaker"
	"github.com/JakeFAU/comic-tracker/internal/policy/ratelimit"
	"github.com/JakeFAU/comic-tracker/internal/policy/retry"
	"github.com/JakeFAU/comic-tracker/internal/reconcile"
	"github.com/JakeFAU/comic-tracker/internal/storage"
	"github.com/JakeFAU/comic-tracker/internal/storage/gcs"
	"github.com/JakeFAU/comic-tracker/internal/storage/local"
	memoryblob "github.com/JakeFAU/comic-tracker/internal/storage/memory"
	"github.com/JakeFAU/comic-tracker/internal/transport/logsink"
	natstransport "github.com/JakeFAU/comic-tracker/internal/transport/nats"
	pubsubtransport "github.com/JakeFAU/comic-tracker/internal/transport/pubsub"
	"github.com/JakeFAU/comic-tracker/internal/transport/webhook"
)

type migrator interface {
	Migrate(logger *zap.Logger) error
}

// App holds all the shared, long-lived services for the application.
// It is built once at startup from a config.Config and closed on shutdown.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      catalog.Store
	mirror     *mirror.Store
	catalog    *catalog.Service
	alerts     *alert.Aggregator
	reconciler *reconcile.Reconciler
	dispatcher *dispatcher.Dispatcher
	targets    []dispatcher.Target
	closers    []func() error
}

// Options adjusts how NewApp prepares the catalog.
type Options struct {
	// ForceMigrate applies the schema even when catalog.migrate is false.
	ForceMigrate bool
}

// NewApp creates every service described by cfg. It fails fast when a backend cannot be reached,
// closing whatever was already opened.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	logger.Info("initializing application services",
		zap.String("catalog_driver", cfg.Catalog.Driver),
		zap.String("mirror_backend", cfg.Mirror.Backend),
	)

	if a.store, err = a.openCatalog(ctx, opts.ForceMigrate || cfg.Catalog.Migrate); err != nil {
		return a, err
	}
	blobs, err := a.openBlobs(ctx)
	if err != nil {
		return a, err
	}
	a.mirror = mirror.New(blobs, cfg.Mirror.Object, logger)
	if err = a.mirror.Load(ctx); err != nil {
		return a, fmt.Errorf("load mirror: %w", err)
	}
	a.catalog = catalog.NewService(a.store, a.mirror, system.New(), logger)

	transports, err := a.openTransports(ctx)
	if err != nil {
		return a, err
	}
	a.alerts = alert.New(alert.Config{Threshold: cfg.Alert.Threshold, Title: cfg.Alert.Title}, logger, transports...)

	rcfg, err := cfg.ReconcilerConfig()
	if err != nil {
		return a, err
	}
	a.reconciler = reconcile.New(a.catalog, a.alerts, rcfg, logger)

	overrides, err := cfg.SelectorOverrides()
	if err != nil {
		return a, err
	}
	extractors, err := extract.NewRegistry(overrides, logger)
	if err != nil {
		return a, fmt.Errorf("build extractors: %w", err)
	}
	if a.targets, err = cfg.Targets(); err != nil {
		return a, err
	}

	pages, headless, err := a.buildFetchers()
	if err != nil {
		return a, err
	}
	deps := dispatcher.Deps{
		Fetcher:    pages,
		Extractors: extractors,
		Reconciler: a.reconciler,
		Alerts:     a.alerts,
		Mirror:     a.catalog,
		IDs:        uuid.New(),
		Logger:     logger,
	}
	if headless != nil {
		deps.Headless = headless
		if cfg.Headless.Promote {
			deps.Promoter = detector.NewHeuristic(cfg.Headless.PromotionThresh)
		}
	}
	a.dispatcher = dispatcher.New(
		dispatcher.Config{MaxConcurrency: cfg.Dispatcher.MaxConcurrency, RepairMirror: cfg.Dispatcher.RepairMirror},
		deps,
	)

	logger.Info("application services initialized", zap.Int("targets", len(a.targets)))
	return a, nil
}

func (a *App) openCatalog(ctx context.Context, migrate bool) (catalog.Store, error) {
	var (
		store catalog.Store
		err   error
	)
	switch a.cfg.Catalog.Driver {
	case config.DriverPostgres:
		store, err = postgres.Open(ctx, postgres.Config{DSN: a.cfg.Catalog.DSN, MaxConns: a.cfg.Catalog.MaxConns})
	case config.DriverSQLite:
		store, err = sqlite.Open(ctx, sqlite.Config{Path: a.cfg.Catalog.SQLitePath})
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown catalog driver %q", a.cfg.Catalog.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s catalog: %w", a.cfg.Catalog.Driver, err)
	}
	if m, ok := store.(migrator); ok && migrate {
		if err := m.Migrate(a.logger); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate %s catalog: %w", a.cfg.Catalog.Driver, err)
		}
	}
	return store, nil
}

func (a *App) openBlobs(ctx context.Context) (storage.BlobStore, error) {
	switch a.cfg.Mirror.Backend {
	case config.BackendLocal:
		blobs, err := local.New(local.Config{BaseDir: a.cfg.Mirror.Path})
		if err != nil {
			return nil, fmt.Errorf("open local mirror: %w", err)
		}
		return blobs, nil
	case config.BackendGCS:
		blobs, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Mirror.Bucket}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("open gcs mirror: %w", err)
		}
		a.closers = append(a.closers, blobs.Close)
		return blobs, nil
	case config.BackendMemory:
		return memoryblob.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown mirror backend %q", a.cfg.Mirror.Backend)
	}
}

func (a *App) openTransports(ctx context.Context) ([]alert.Transport, error) {
	out := make([]alert.Transport, 0, len(a.cfg.Alert.Transports))
	for _, name := range a.cfg.Alert.Transports {
		switch name {
		case config.TransportLog:
			out = append(out, logsink.New(a.logger))
		case config.TransportWebhook:
			t, err := webhook.New(webhook.Config{
				URL:     a.cfg.Alert.Webhook.URL,
				Timeout: time.Duration(a.cfg.Alert.Webhook.TimeoutSeconds) * time.Second,
			})
			if err != nil {
				return nil, fmt.Errorf("build webhook transport: %w", err)
			}
			out = append(out, t)
		case config.TransportPubSub:
			t, err := pubsubtransport.New(ctx, pubsubtransport.Config{
				ProjectID: a.cfg.Alert.PubSub.ProjectID,
				TopicID:   a.cfg.Alert.PubSub.TopicName,
			})
			if err != nil {
				return nil, fmt.Errorf("build pubsub transport: %w", err)
			}
			a.closers = append(a.closers, t.Close)
			out = append(out, t)
		case config.TransportNATS:
			t, err := natstransport.New(natstransport.Config{URL: a.cfg.Alert.NATS.URL, Subject: a.cfg.Alert.NATS.Subject})
			if err != nil {
				return nil, fmt.Errorf("build nats transport: %w", err)
			}
			a.closers = append(a.closers, t.Close)
			out = append(out, t)
		default:
			return nil, fmt.Errorf("unknown alert transport %q", name)
		}
	}
	return out, nil
}

// buildFetchers returns the plain page fetcher and, when enabled, the headless one. Both share
// the per-host limiter and breakers so a host is throttled the same way whichever path serves it.
func (a *App) buildFetchers() (*fetcher.Fetcher, *fetcher.Fetcher, error) {
	httpCfg := a.cfg.HTTP
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   httpCfg.RPS,
		DefaultBurst: httpCfg.Burst,
		HostRPS:      a.cfg.HostRPS(),
	})
	breakers := breaker.New[fetcher.Document](breaker.Config{
		ConsecutiveFailures: httpCfg.Breaker.ConsecutiveFailures,
		OpenTimeout:         time.Duration(httpCfg.Breaker.OpenTimeoutSeconds) * time.Second,
		HalfOpenRequests:    httpCfg.Breaker.HalfOpenRequests,
	}, a.logger)

	retries := fetcher.WithRetry(retry.New(retry.Config{
		MaxAttempts: httpCfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(httpCfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(httpCfg.Retry.MaxDelayMs) * time.Millisecond,
	}))

	pages := fetcher.New(collyfetcher.New(collyfetcher.Config{
		UserAgent: httpCfg.UserAgent,
		Timeout:   a.cfg.FetchTimeout(),
	}), limiter, breakers, a.logger, retries)

	if !a.cfg.Headless.Enabled {
		return pages, nil, nil
	}
	hcfg := a.cfg.Headless
	browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       hcfg.MaxParallel,
		UserAgent:         httpCfg.UserAgent,
		NavigationTimeout: time.Duration(hcfg.NavTimeoutSec) * time.Second,
		WaitSelector:      hcfg.WaitSelector,
		Settle:            time.Duration(hcfg.SettleMs) * time.Millisecond,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build headless fetcher: %w", err)
	}
	a.closers = append(a.closers, func() error {
		browser.Close()
		return nil
	})
	return pages, fetcher.New(browser, limiter, breakers, a.logger.Named("headless"), retries), nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Catalog returns the catalog service.
func (a *App) Catalog() *catalog.Service {
	return a.catalog
}

// Alerts returns the process-wide alert aggregator.
func (a *App) Alerts() *alert.Aggregator {
	return a.alerts
}

// Targets returns the configured scrape targets.
func (a *App) Targets() []dispatcher.Target {
	return a.targets
}

// RunPass runs one scrape pass over every configured target.
func (a *App) RunPass(ctx context.Context) (dispatcher.PassReport, error) {
	report, err := a.dispatcher.Run(ctx, a.targets)
	if err != nil {
		return report, fmt.Errorf("run pass: %w", err)
	}
	return report, nil
}

// RepairMirror resynchronizes the mirror from the catalog.
func (a *App) RepairMirror(ctx context.Context) (mirror.RepairReport, error) {
	report, err := a.catalog.RepairMirror(ctx)
	if err != nil {
		return report, fmt.Errorf("repair mirror: %w", err)
	}
	return report, nil
}

// Handler builds the operational HTTP API.
func (a *App) Handler() http.Handler {
	return api.NewServer(a, a.alerts, a.catalog, api.Config{APIKey: a.cfg.Server.APIKey}, a.logger).Handler()
}

// Close flushes pending alerts and releases every opened backend. It is safe to call more than once.
func (a *App) Close() {
	if a.alerts != nil && a.alerts.Pending() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := a.alerts.Flush(ctx); err != nil {
			a.logger.Warn("final alert flush failed", zap.Error(err), zap.Int("pending", a.alerts.Pending()))
		}
		cancel()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("failed to close application services", zap.Error(err))
		return
	}
	a.logger.Info("application services closed")
}
