// Package app builds and holds the long-lived services of the crawl worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/contact-crawler/internal/api"
	"github.com/JakeFAU/contact-crawler/internal/clock/system"
	"github.com/JakeFAU/contact-crawler/internal/config"
	"github.com/JakeFAU/contact-crawler/internal/crawler"
	"github.com/JakeFAU/contact-crawler/internal/dispatcher"
	"github.com/JakeFAU/contact-crawler/internal/engine"
	"github.com/JakeFAU/contact-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/contact-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/contact-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/contact-crawler/internal/headless/detector"
	"github.com/JakeFAU/contact-crawler/internal/id/uuid"
	"github.com/JakeFAU/contact-crawler/internal/metrics"
	"github.com/JakeFAU/contact-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/contact-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/contact-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/contact-crawler/internal/storage/memory"
	"github.com/JakeFAU/contact-crawler/internal/storage/postgres"
	"github.com/JakeFAU/contact-crawler/internal/worker"
)

// Store is everything the app needs from a job store. Both the Postgres and
// the in-memory stores satisfy it.
type Store interface {
	crawler.JobStore
	crawler.Enqueuer
	api.Store
}

// Option customizes New. Used by tests to swap out external collaborators.
type Option func(*options)

type options struct {
	store     Store
	browser   crawler.Browser
	publisher crawler.Publisher
	clock     crawler.Clock
}

// WithStore replaces the configured job store.
func WithStore(s Store) Option { return func(o *options) { o.store = s } }

// WithBrowser replaces the Chrome engine.
func WithBrowser(b crawler.Browser) Option { return func(o *options) { o.browser = b } }

// WithPublisher replaces the Pub/Sub publisher.
func WithPublisher(p crawler.Publisher) Option { return func(o *options) { o.publisher = p } }

// WithClock replaces the wall clock.
func WithClock(c crawler.Clock) Option { return func(o *options) { o.clock = c } }

// App holds the shared services. It is built once at startup by New and torn
// down by Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store      Store
	saveOrg    func(ctx context.Context, tenantID string, c crawler.Company) error
	migrate    func(ctx context.Context) error
	browser    crawler.Browser
	engine     *engine.Engine
	publisher  crawler.Publisher
	worker     *worker.Worker
	dispatcher *dispatcher.Dispatcher
	api        *api.Server

	closers []func(ctx context.Context) error
}

// New wires the service graph from cfg. It fails fast when a required
// backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	clock := o.clock
	if clock == nil {
		clock = system.New()
	}

	if err := a.initStore(ctx, o.store, clock); err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.browser = o.browser
	if a.browser == nil {
		chrome := headlessfetcher.NewEngine(headlessfetcher.Config{
			UserAgent:         cfg.Crawl.UserAgent,
			AcceptLanguage:    cfg.Crawl.AcceptLanguage,
			NavigationTimeout: cfg.Crawl.PageTimeout(),
			Headless:          cfg.Headless.Headless,
			NoSandbox:         cfg.Headless.NoSandbox,
			IgnoreCertErrors:  cfg.Crawl.IgnoreSSLErrors,
			ExecPath:          cfg.Headless.ExecPath,
		}, logger.Named("browser"))
		a.browser = chrome
		a.closers = append(a.closers, chrome.Close)
	}

	var robots crawler.RobotsChecker
	if !cfg.Crawl.IgnoreRobots {
		robots = collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Crawl.UserAgent,
			Timeout:   cfg.Crawl.RobotsTimeout(),
		}, logger.Named("robots"))
	}
	limiter := ratelimit.New(ratelimit.Config{
		GlobalRPS:  cfg.Crawl.RequestsPerSecond,
		PerHostRPS: cfg.Crawl.PerHostRPS,
	})
	extractor := extract.New(extract.Config{
		MinConfidence:      cfg.Crawl.MinConfidence,
		FreemailDomains:    cfg.Crawl.FreemailDomains,
		PlaceholderDomains: cfg.Crawl.PlaceholderDomains,
	})
	a.engine = engine.New(engine.Config{
		MaxPages:         cfg.Crawl.MaxPages,
		MaxLinksPerPage:  cfg.Crawl.MaxLinksPerPage,
		MaxDuration:      cfg.Crawl.MaxDuration(),
		MaxEmailsPerPage: cfg.Crawl.MaxEmailsPerPage,
		RespectRobots:    !cfg.Crawl.IgnoreRobots,
	}, a.browser, robots, limiter, detector.NewClassifier(), extractor, clock, logger.Named("engine"))

	a.publisher = o.publisher
	if a.publisher == nil && cfg.PubSub.ProjectID != "" {
		pub, err := pubsubpublisher.Dial(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
	}
	if a.publisher == nil && cfg.Store.Driver == config.DriverMemory {
		a.publisher = memorypublisher.New()
	}

	a.worker = worker.New(a.store, a.engine, a.publisher, clock, worker.Config{
		MaxAttempts:      cfg.Worker.MaxAttempts,
		MaxCrawlDuration: cfg.Crawl.MaxDuration(),
		Backoff: crawler.NewExponentialBackoff(
			time.Duration(cfg.Worker.BackoffBaseSeconds)*time.Second,
			time.Duration(cfg.Worker.BackoffMaxSeconds)*time.Second,
		),
		EnforceBackoff: cfg.Worker.EnforceBackoff,
		Topic:          cfg.PubSub.TopicName,
	}, logger.Named("worker"))

	a.dispatcher = dispatcher.New(a.store, a.worker, clock, dispatcher.Config{
		WorkerID:        workerID(cfg.Worker.ID),
		Concurrency:     cfg.Worker.Concurrency,
		Lease:           cfg.Worker.Lease(),
		IdlePoll:        cfg.Worker.IdlePoll(),
		BusyWait:        cfg.Worker.BusyWait(),
		ShutdownTimeout: cfg.Worker.ShutdownTimeout(),
		StatsInterval:   cfg.Worker.StatsInterval(),
	}, logger.Named("dispatcher"))

	a.api = api.NewServer(a.store, api.Options{LookupRoutes: cfg.Server.LookupRoutes}, logger.Named("api"))
	return a, nil
}

func (a *App) initStore(ctx context.Context, injected Store, clock crawler.Clock) error {
	if injected != nil {
		a.store = injected
		a.bindCompanyWriter(injected)
		return nil
	}
	switch a.cfg.Store.Driver {
	case config.DriverMemory:
		s := memory.NewJobStore(clock, uuid.New())
		a.store = s
		a.bindCompanyWriter(s)
	case config.DriverPostgres:
		s, err := postgres.New(ctx, postgres.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        int32(a.cfg.DB.MaxConns),
			MinConns:        int32(a.cfg.DB.MinConns),
			MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("init postgres store: %w", err)
		}
		a.store = s
		a.bindCompanyWriter(s)
		a.closers = append(a.closers, func(context.Context) error { s.Close(); return nil })
	default:
		return fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}
	return nil
}

func (a *App) bindCompanyWriter(s Store) {
	switch st := s.(type) {
	case *postgres.JobStore:
		a.saveOrg = st.UpsertCompany
		a.migrate = st.Migrate
	case *memory.JobStore:
		a.saveOrg = func(ctx context.Context, _ string, c crawler.Company) error {
			return st.PutCompany(ctx, c)
		}
	}
}

// workerID is the lease owner written on claimed jobs. An unset id becomes
// "<hostname>-<uuid>" so operators can tell which pod holds a lease.
func workerID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	id, err := uuid.New().NewID()
	if err != nil {
		return fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return host + "-" + id
}

// GetLogger returns the root logger.
func (a *App) GetLogger() *zap.Logger { return a.logger }

// GetStore returns the job store.
func (a *App) GetStore() Store { return a.store }

// GetConfig returns the configuration the app was built from.
func (a *App) GetConfig() config.Config { return a.cfg }

// Run runs the dispatcher and, when enabled, the ops HTTP server until ctx is
// cancelled. It returns after in-flight jobs are resolved.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	drained := make(chan struct{})

	g.Go(func() error {
		defer close(drained)
		return a.dispatcher.Run(gctx)
	})

	if !a.cfg.Server.Enabled {
		return g.Wait()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		a.logger.Info("ops server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.api.SetDraining(true)
		// Probes and metrics stay up while in-flight jobs drain.
		<-drained
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("ops server shutdown error", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// Crawl runs one crawl outside the job queue.
func (a *App) Crawl(ctx context.Context, website string) (crawler.CrawlResult, error) {
	return a.engine.Crawl(ctx, website)
}

// Enqueue records the company and queues a crawl job for it.
func (a *App) Enqueue(ctx context.Context, tenantID string, company crawler.Company) (string, bool, error) {
	if a.saveOrg != nil {
		if err := a.saveOrg(ctx, tenantID, company); err != nil {
			return "", false, fmt.Errorf("save company: %w", err)
		}
	}
	jobID, created, err := a.store.Enqueue(ctx, company.ID, tenantID, a.cfg.Worker.DedupWindow())
	if err != nil {
		return "", false, fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, created, nil
}

// Migrate applies the store schema. It is a no-op for stores without one.
func (a *App) Migrate(ctx context.Context) error {
	if a.migrate == nil {
		a.logger.Info("store has no schema to migrate", zap.String("driver", a.cfg.Store.Driver))
		return nil
	}
	return a.migrate(ctx)
}

// Close releases every resource acquired by New, newest first.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close resource failed", zap.Error(err))
		}
	}
	a.closers = nil
}
