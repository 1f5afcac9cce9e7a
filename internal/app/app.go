// Package app wires configuration into a ready-to-run harvester: proxy
// sources, browser launcher, job runner and the optional postgres and
// redis sinks.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/browser"
	"github.com/maltedev/adlibrary-harvester/internal/config"
	"github.com/maltedev/adlibrary-harvester/internal/database"
	"github.com/maltedev/adlibrary-harvester/internal/events"
	"github.com/maltedev/adlibrary-harvester/internal/job"
	"github.com/maltedev/adlibrary-harvester/internal/metrics"
	"github.com/maltedev/adlibrary-harvester/internal/proxy"
	"github.com/maltedev/adlibrary-harvester/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const metricsNamespace = "harvester"

type App struct {
	Config   *config.Config
	Runner   *job.Runner
	Registry *prometheus.Registry
	Metrics  *metrics.Collector

	// Set only when the corresponding backend is enabled.
	DB     *database.DB
	Outbox *database.OutboxRepository
	Redis  *redis.Client
	Relay  *database.Relay

	launcher *browser.Launcher
	logger   *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		logger:   logger.With("component", "app"),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.NewCollector(a.Registry, metricsNamespace)

	sinks, err := a.connectSinks(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.launcher, err = browser.NewLauncher(BrowserOptions(cfg), logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	factory := job.SessionFactory(a.launcher, job.SessionOptions(cfg), a.Metrics, logger)
	a.Runner = job.NewRunner(NewSource(cfg, a.Metrics, logger), NewValidator(cfg, a.Metrics, logger), factory, a.Metrics, logger).
		WithSinks(sinks...).
		WithCandidateLimit(cfg.Proxy.Candidates)

	return a, nil
}

func (a *App) connectSinks(ctx context.Context) ([]storage.Sink, error) {
	var sinks []storage.Sink
	cfg := a.Config

	if cfg.Redis.Enabled {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		sinks = append(sinks, events.NewStreamPublisher(a.Redis, cfg.Redis.Stream, a.logger))
	}

	if cfg.Database.Enabled {
		db, err := database.New(ctx, database.Config{DSN: cfg.Database.DSN(), MaxConns: 5, MinConns: 1})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.DB = db
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}

		runs := database.NewRunRepository(db, a.logger)
		a.Outbox = database.NewOutboxRepository(db)
		if a.Redis != nil {
			runs.WithOutbox(cfg.Redis.Stream)
			a.Relay = database.NewRelay(db, a.Redis, a.logger, database.RelayConfig{
				PollInterval: 5 * time.Second,
				BatchSize:    100,
			})
		}
		sinks = append(sinks, runs)
	}

	return sinks, nil
}

// StartRelay runs the outbox relay in the background when one is
// configured.
func (a *App) StartRelay(ctx context.Context) {
	if a.Relay == nil {
		return
	}
	go func() {
		if err := a.Relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("relay stopped with error", "error", err)
		}
	}()
}

func (a *App) Close() {
	if a.launcher != nil {
		if err := a.launcher.Close(); err != nil {
			a.logger.Warn("failed to stop browser driver", "error", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", "error", err)
		}
	}
}

// NewSource builds the proxy source from every configured origin.
func NewSource(cfg *config.Config, collector *metrics.Collector, logger *slog.Logger) *proxy.Source {
	userAgent := cfg.Browser.UserAgents[0]

	var origins []proxy.Origin
	for _, url := range cfg.Proxy.ListURLs {
		origins = append(origins, proxy.NewTextListOrigin(url, userAgent))
	}
	for _, url := range cfg.Proxy.HTMLTableURLs {
		origins = append(origins, proxy.NewHTMLTableOrigin(url, "", "", userAgent))
	}
	if len(cfg.Proxy.Static) > 0 {
		origins = append(origins, &proxy.StaticOrigin{Addresses: cfg.Proxy.Static})
	}
	return proxy.NewSource(origins, collector, logger)
}

func NewValidator(cfg *config.Config, collector *metrics.Collector, logger *slog.Logger) *proxy.Validator {
	prober := proxy.NewHTTPProber(cfg.Proxy.ProbeTarget, cfg.Browser.UserAgents[0])
	return proxy.NewValidator(prober, proxy.ValidatorOptions{
		Timeout:          cfg.Proxy.ValidationTimeout,
		Concurrency:      cfg.Proxy.ValidationWorkers,
		AcceptedStatuses: cfg.Proxy.AcceptedStatuses,
		ProbesPerSecond:  cfg.Proxy.ProbesPerSecond,
	}, collector, logger)
}

func BrowserOptions(cfg *config.Config) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.Timeout = cfg.Job.NavigationTimeout
	opts.UserAgents = cfg.Browser.UserAgents
	opts.ViewportWidth = cfg.Browser.ViewportWidth
	opts.ViewportHeight = cfg.Browser.ViewportHeight
	opts.AcceptLanguage = cfg.Browser.AcceptLanguage
	opts.TimezoneID = cfg.Browser.TimezoneID
	opts.Locale = cfg.Browser.Locale
	return opts
}
