package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/metrics"
	"github.com/maltedev/adlibrary-harvester/internal/models"
)

var (
	ErrSourceUnreachable  = errors.New("proxy source unreachable")
	ErrProxyInvalid       = errors.New("proxy failed reachability probe")
	ErrNoProxiesAvailable = errors.New("no proxies available")
)

// Source gathers candidates from several origins.
type Source struct {
	origins []Origin
	metrics *metrics.Collector
	logger  *slog.Logger
}

func NewSource(origins []Origin, collector *metrics.Collector, logger *slog.Logger) *Source {
	return &Source{
		origins: origins,
		metrics: collector,
		logger:  logger.With("component", "proxy_source"),
	}
}

// Fetch queries all origins concurrently and returns the union of their
// candidates deduplicated by address. A failing origin is logged and
// skipped, so the result may be empty but Fetch never fails.
func (s *Source) Fetch(ctx context.Context) []models.ProxyCandidate {
	s.logger.Info("fetching proxy candidates", "origins", len(s.origins))

	var wg sync.WaitGroup
	resultChan := make(chan []models.ProxyCandidate, len(s.origins))

	for _, origin := range s.origins {
		wg.Add(1)
		go func(o Origin) {
			defer wg.Done()

			start := time.Now()
			candidates, err := o.Fetch(ctx)
			if err != nil {
				err = fmt.Errorf("%w: %s: %v", ErrSourceUnreachable, o.Name(), err)
				s.logger.Warn("origin failed, skipping", "origin", o.Name(), "error", err, "took", time.Since(start))
				if len(candidates) == 0 {
					return
				}
			} else {
				s.logger.Info("origin returned candidates", "origin", o.Name(), "count", len(candidates), "took", time.Since(start))
			}

			s.metrics.RecordProxiesFetched(o.Name(), len(candidates))
			resultChan <- candidates
		}(origin)
	}

	wg.Wait()
	close(resultChan)

	var all []models.ProxyCandidate
	for candidates := range resultChan {
		all = append(all, candidates...)
	}

	unique := deduplicate(all)
	s.logger.Info("deduplicated candidates", "raw", len(all), "unique", len(unique))
	return unique
}

func deduplicate(candidates []models.ProxyCandidate) []models.ProxyCandidate {
	seen := make(map[string]struct{}, len(candidates))
	unique := make([]models.ProxyCandidate, 0, len(candidates))

	for _, c := range candidates {
		key := strings.ToLower(strings.TrimSpace(c.Address))
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, c)
	}

	return unique
}
