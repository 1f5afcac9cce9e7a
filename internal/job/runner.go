package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/adlibrary-harvester/internal/aggregator"
	"github.com/maltedev/adlibrary-harvester/internal/metrics"
	"github.com/maltedev/adlibrary-harvester/internal/models"
	"github.com/maltedev/adlibrary-harvester/internal/pool"
	"github.com/maltedev/adlibrary-harvester/internal/proxy"
	"github.com/maltedev/adlibrary-harvester/internal/storage"
)

// Fetcher supplies raw proxy candidates.
type Fetcher interface {
	Fetch(ctx context.Context) []models.ProxyCandidate
}

// Validator returns up to want validated candidates.
type Validator interface {
	ValidateAll(ctx context.Context, candidates []models.ProxyCandidate, want int) []models.ProxyCandidate
}

// Report is everything a finished job produced.
type Report struct {
	ID      string                   `json:"id"`
	Summary models.JobSummary        `json:"summary"`
	Records []models.ExtractedRecord `json:"-"`
	Files   []string                 `json:"files"`
	Results []models.SessionResult   `json:"-"`
}

// DefaultPersistTimeout bounds persistence, which runs even after the job
// context is cancelled so partial results still reach disk.
const DefaultPersistTimeout = 30 * time.Second

// Runner executes one harvesting job end to end: fetch and validate
// proxies, run the sessions, merge and persist.
type Runner struct {
	source     Fetcher
	validator  Validator
	pool       *pool.Pool
	aggregator *aggregator.Aggregator
	factory    pool.SessionFactory
	sinks      []storage.Sink
	candidates int
	persistFor time.Duration
	metrics    *metrics.Collector
	logger     *slog.Logger
	now        func() time.Time
}

func NewRunner(source Fetcher, validator Validator, factory pool.SessionFactory, collector *metrics.Collector, logger *slog.Logger) *Runner {
	return &Runner{
		source:     source,
		validator:  validator,
		pool:       pool.New(collector, logger),
		aggregator: aggregator.New(logger),
		factory:    factory,
		persistFor: DefaultPersistTimeout,
		metrics:    collector,
		logger:     logger.With("component", "job_runner"),
		now:        time.Now,
	}
}

// WithSinks registers extra persistence sinks, selectable by name in
// JobConfig.Formats.
func (r *Runner) WithSinks(sinks ...storage.Sink) *Runner {
	r.sinks = append(r.sinks, sinks...)
	return r
}

// WithCandidateLimit bounds how many fetched candidates are probed.
func (r *Runner) WithCandidateLimit(n int) *Runner {
	r.candidates = n
	return r
}

// WithGracePeriod forwards to the worker pool.
func (r *Runner) WithGracePeriod(d time.Duration) *Runner {
	r.pool.WithGracePeriod(d)
	return r
}

func (r *Runner) Run(ctx context.Context, cfg models.JobConfig) (*Report, error) {
	return r.RunJob(ctx, uuid.New().String(), cfg)
}

// RunJob runs a job under a caller-chosen ID. The only fatal error is
// proxy.ErrNoProxiesAvailable, returned before any session starts. A
// persistence failure is returned together with the report.
func (r *Runner) RunJob(ctx context.Context, id string, cfg models.JobConfig) (*Report, error) {
	jc := &models.JobContext{ID: id, Config: cfg, StartedAt: r.now()}
	logger := r.logger.With("job_id", id)

	logger.Info("job started",
		"search_term", cfg.SearchTerm(),
		"country", cfg.CountryFilter(),
		"max_workers", cfg.MaxWorkers)

	candidates := r.source.Fetch(ctx)
	if r.candidates > 0 && len(candidates) > r.candidates {
		candidates = candidates[:r.candidates]
	}

	validated := r.validator.ValidateAll(ctx, candidates, cfg.MaxWorkers)
	logger.Info("proxies validated", "candidates", len(candidates), "validated", len(validated))

	if len(validated) == 0 {
		r.metrics.RecordJob("no_proxies")
		return nil, fmt.Errorf("%w: 0 of %d candidates passed validation", proxy.ErrNoProxiesAvailable, len(candidates))
	}

	results := r.pool.Run(ctx, jc, validated, r.factory)
	records, summary := r.aggregator.Merge(jc, results)

	report := &Report{
		ID:      id,
		Summary: summary,
		Records: records,
		Results: results,
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.persistFor)
	defer cancel()

	persister := storage.NewPersister(cfg.OutputDir, r.logger, r.sinks...)
	files, err := persister.Save(persistCtx, records, summary, cfg.Formats)
	report.Files = files
	if err != nil {
		r.metrics.RecordJob("persist_failed")
		logger.Error("persistence incomplete", "error", err, "written", files)
		return report, err
	}

	r.metrics.RecordJob("completed")
	logger.Info("job finished",
		"records", summary.TotalRecords,
		"advertisers", summary.UniqueAdvertiserCount,
		"successful", summary.SuccessfulSessions,
		"failed", summary.FailedSessions,
		"blocked", summary.BlockedSessions,
		"duration_seconds", summary.DurationSeconds)

	return report, nil
}
