package job

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/adlibrary-harvester/internal/config"
	"github.com/maltedev/adlibrary-harvester/internal/dedup"
	"github.com/maltedev/adlibrary-harvester/internal/metrics"
	"github.com/maltedev/adlibrary-harvester/internal/models"
	"github.com/maltedev/adlibrary-harvester/internal/pool"
	"github.com/maltedev/adlibrary-harvester/internal/scraper"
)

// PageLauncher opens a browser page routed through a proxy.
type PageLauncher interface {
	Launch(proxy models.ProxyCandidate) (scraper.Page, error)
}

// LauncherFunc adapts a function to PageLauncher.
type LauncherFunc func(proxy models.ProxyCandidate) (scraper.Page, error)

func (f LauncherFunc) Launch(proxy models.ProxyCandidate) (scraper.Page, error) { return f(proxy) }

// SessionFactory launches one page per proxy and wraps it in a scrape
// session.
func SessionFactory(launcher PageLauncher, opts scraper.SessionOptions, collector *metrics.Collector, logger *slog.Logger) pool.SessionFactory {
	return func(ctx context.Context, jc *models.JobContext, proxy models.ProxyCandidate) (pool.Runner, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := launcher.Launch(proxy)
		if err != nil {
			return nil, fmt.Errorf("launch browser for %s: %w", proxy.Address, err)
		}
		return scraper.NewSession(jc, proxy, page, opts, collector, logger), nil
	}
}

// SessionOptions derives session tuning from the loaded configuration.
func SessionOptions(cfg *config.Config) scraper.SessionOptions {
	opts := scraper.DefaultSessionOptions()
	opts.Selectors = cfg.Selectors
	opts.SettleMin = cfg.Job.SettleMin
	opts.SettleMax = cfg.Job.SettleMax

	switch cfg.Job.DedupStrategy {
	case "content":
		opts.Fingerprint = dedup.ContentHash
	default:
		opts.Fingerprint = dedup.PrefixFingerprint(cfg.Job.DedupPrefixLength)
	}
	return opts
}
