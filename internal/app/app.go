// Package app initializes and holds the long-lived services of an archiver
// run and builds one engine and poll controller per thread URL.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/thread-archiver/internal/api"
	"github.com/JakeFAU/thread-archiver/internal/archive"
	"github.com/JakeFAU/thread-archiver/internal/clock/system"
	"github.com/JakeFAU/thread-archiver/internal/config"
	"github.com/JakeFAU/thread-archiver/internal/fetch"
	collyfetcher "github.com/JakeFAU/thread-archiver/internal/fetch/colly"
	"github.com/JakeFAU/thread-archiver/internal/id/uuid"
	"github.com/JakeFAU/thread-archiver/internal/localize"
	"github.com/JakeFAU/thread-archiver/internal/metrics"
	"github.com/JakeFAU/thread-archiver/internal/policy/ratelimit"
	"github.com/JakeFAU/thread-archiver/internal/poll"
	"github.com/JakeFAU/thread-archiver/internal/progress"
	"github.com/JakeFAU/thread-archiver/internal/progress/sinks"
)

// Option customizes an App.
type Option func(*App)

// WithSubscriber forwards every progress event to fn.
func WithSubscriber(fn func(progress.Event)) Option {
	return func(a *App) { a.subscriber = fn }
}

// WithFetcher replaces the Colly fetcher.
func WithFetcher(f fetch.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithClock replaces the wall clock used for scheduling.
func WithClock(c poll.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithRegistry registers metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// App holds the shared services of one run.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	registry   *prometheus.Registry
	hub        *progress.Hub
	fetcher    fetch.Fetcher
	limiter    *ratelimit.Limiter
	clock      poll.Clock
	ids        *uuid.Generator
	threads    *poll.Set
	subscriber func(progress.Event)
	apiServer  *api.Server
}

// New builds an App from cfg. It fails fast when a metric cannot be
// registered.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		ids:     uuid.New(),
		threads: poll.NewSet(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
	}
	if a.clock == nil {
		a.clock = system.New()
	}
	if a.fetcher == nil {
		a.fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.HTTP.Timeout,
			Logger:    logger.Named("fetch"),
		})
	}

	m, err := metrics.New(a.registry)
	if err != nil {
		return nil, fmt.Errorf("status metrics: %w", err)
	}
	a.limiter = ratelimit.New(ratelimit.Config{
		RPS:   cfg.HTTP.DownloadsPerSecond,
		Burst: cfg.HTTP.DownloadBurst,
	})
	a.limiter.OnDelay(func(host string, waited time.Duration) {
		logger.Debug("download paced", zap.String("host", host), zap.Duration("waited", waited))
		m.ObserveRateLimitDelay(host, waited)
	})

	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return nil, fmt.Errorf("progress metrics: %w", err)
	}
	sinkList := []progress.Sink{sinks.NewLogSink(logger.Named("progress")), promSink}
	if a.subscriber != nil {
		sinkList = append(sinkList, sinks.FuncSink(a.subscriber))
	}
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.Progress.MaxBatchWait,
		Logger:         logger.Named("hub"),
	}, sinkList...)

	a.apiServer = api.NewServer(a.threads, a.registry, m, logger.Named("api"))
	return a, nil
}

// Threads returns the controllers created so far.
func (a *App) Threads() *poll.Set {
	return a.threads
}

// Handler exposes the status HTTP surface.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// NewThread builds the engine and poll controller for one thread URL and
// registers the controller for status reporting.
func (a *App) NewThread(threadURL string, continuous bool) (*poll.Controller, error) {
	runID, err := a.ids.NewRunID()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	reporter := progress.NewReporter(a.hub, a.clock, runID, threadURL)
	logger := a.logger.With(zap.String("thread", threadURL), zap.String("run_id", runID.String()))

	engine, err := archive.New(threadURL, archive.Options{
		Root:        a.cfg.Archive.Root,
		Filename:    a.cfg.Archive.Filename,
		NoSubfolder: a.cfg.Archive.NoSubfolder,
		BoardType:   a.cfg.Archive.BoardType,
		Merge:       archive.MergeMode(a.cfg.Archive.Merge),
		Extensions:  localize.NewExtensionSet(a.cfg.Archive.IncludeExtensions...),
	}, archive.Deps{
		Fetcher:  a.fetcher,
		Limiter:  a.limiter,
		Reporter: reporter,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", threadURL, err)
	}

	pc := a.cfg.Poll
	controller := poll.New(poll.Config{
		Continuous:       continuous,
		Force:            pc.Force,
		Interval:         pc.Interval,
		AutoIncrement:    pc.AutoIncrement,
		MaxAutoIncrement: pc.MaxAutoIncrement,
		MaxRetries:       pc.MaxRetries,
		RetryIncrement:   pc.RetryIncrement,
	}, engine, a.clock, reporter, logger)
	a.threads.Add(controller)
	return controller, nil
}

// Fetch runs one cycle per URL, one thread after another. A failing thread
// does not stop the others; the joined errors are returned.
func (a *App) Fetch(ctx context.Context, urls []string) error {
	return a.withStatusServer(ctx, func(ctx context.Context) error {
		var errs []error
		for _, u := range urls {
			if ctx.Err() != nil {
				break
			}
			controller, err := a.NewThread(u, false)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if err := controller.Run(ctx); err != nil {
				a.logger.Error("thread failed", zap.String("url", u), zap.Error(err))
				errs = append(errs, fmt.Errorf("%s: %w", u, err))
			}
		}
		return errors.Join(errs...)
	})
}

// Watch polls every URL concurrently until each stops. Threads are
// independent: one thread's failure is reported without cancelling the
// others.
func (a *App) Watch(ctx context.Context, urls []string) error {
	controllers := make([]*poll.Controller, 0, len(urls))
	for _, u := range urls {
		controller, err := a.NewThread(u, true)
		if err != nil {
			return err
		}
		controllers = append(controllers, controller)
	}
	return a.withStatusServer(ctx, func(ctx context.Context) error {
		var g errgroup.Group
		errs := make([]error, len(controllers))
		for i, controller := range controllers {
			g.Go(func() error {
				if err := controller.Run(ctx); err != nil {
					url := controller.Snapshot().URL
					a.logger.Error("thread stopped with error", zap.String("url", url), zap.Error(err))
					errs[i] = fmt.Errorf("%s: %w", url, err)
				}
				return nil
			})
		}
		_ = g.Wait()
		return errors.Join(errs...)
	})
}

// withStatusServer runs fn, serving the status surface alongside it when
// metrics.addr is configured.
func (a *App) withStatusServer(ctx context.Context, fn func(context.Context) error) error {
	if a.cfg.Metrics.Addr == "" {
		return fn(ctx)
	}
	serveCtx, stop := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		return a.apiServer.ListenAndServe(gctx, a.cfg.Metrics.Addr)
	})
	var runErr error
	g.Go(func() error {
		runErr = fn(ctx)
		stop()
		return nil
	})
	serveErr := g.Wait()
	stop()
	return errors.Join(runErr, serveErr)
}

// Close flushes pending progress events to every sink.
func (a *App) Close(ctx context.Context) error {
	a.logger.Debug("shutting down application services")
	if err := a.hub.Close(ctx); err != nil {
		return fmt.Errorf("close progress hub: %w", err)
	}
	return nil
}
