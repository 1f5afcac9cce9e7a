package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/metrics"
	"github.com/maltedev/adlibrary-harvester/internal/models"
	"golang.org/x/sync/errgroup"
)

var ErrSessionInit = errors.New("session initialisation failed")

// DefaultGracePeriod is how long the pool waits for sessions to report
// after the job deadline before recording them as timed out.
const DefaultGracePeriod = 5 * time.Second

// Runner is one scrape session bound to a proxy.
type Runner interface {
	Run(ctx context.Context) models.SessionResult
}

// SessionFactory builds a runner for a proxy, e.g. by launching a browser
// behind it.
type SessionFactory func(ctx context.Context, jc *models.JobContext, proxy models.ProxyCandidate) (Runner, error)

// Pool runs sessions with a fixed upper bound on concurrency.
type Pool struct {
	grace   time.Duration
	active  atomic.Int32
	peak    atomic.Int32
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

func New(collector *metrics.Collector, logger *slog.Logger) *Pool {
	return &Pool{
		grace:   DefaultGracePeriod,
		metrics: collector,
		logger:  logger.With("component", "worker_pool"),
		now:     time.Now,
	}
}

// WithGracePeriod overrides DefaultGracePeriod.
func (p *Pool) WithGracePeriod(d time.Duration) *Pool {
	p.grace = d
	return p
}

// Active returns the number of sessions currently running.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Peak returns the highest number of concurrently running sessions observed.
func (p *Pool) Peak() int { return int(p.peak.Load()) }

// Run assigns each distinct validated candidate to exactly one session,
// at most MaxWorkers of them, and returns one result per session in
// completion order. Sessions still running when the job deadline passes
// (plus the grace period) are reported as timeouts and their late results
// are dropped.
func (p *Pool) Run(ctx context.Context, jc *models.JobContext, candidates []models.ProxyCandidate, factory SessionFactory) []models.SessionResult {
	maxWorkers := jc.Config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	assigned := eligible(candidates)
	if len(assigned) > maxWorkers {
		assigned = assigned[:maxWorkers]
	}
	if len(assigned) == 0 {
		p.logger.Warn("no validated proxies to dispatch", "job_id", jc.ID)
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if jc.Config.JobDeadline > 0 {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithTimeout(runCtx, jc.Config.JobDeadline)
		defer cancelDeadline()
	}

	p.logger.Info("dispatching sessions", "job_id", jc.ID, "sessions", len(assigned), "max_workers", maxWorkers)

	c := newCollector(len(assigned))

	g := new(errgroup.Group)
	g.SetLimit(maxWorkers)

	// Dispatch off the caller's goroutine: g.Go blocks while all slots are
	// busy, and a hung session must not keep Run past the deadline.
	finished := make(chan struct{})
	go func() {
		for i, proxy := range assigned {
			i, proxy := i, proxy
			g.Go(func() error {
				c.report(i, p.runOne(runCtx, jc, proxy, factory))
				return nil
			})
		}
		_ = g.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-runCtx.Done():
		grace := time.NewTimer(p.grace)
		defer grace.Stop()
		select {
		case <-finished:
		case <-grace.C:
			p.logger.Warn("sessions did not stop after deadline", "job_id", jc.ID, "grace", p.grace)
		}
	}

	results := c.close(func(i int) models.SessionResult {
		now := p.now()
		return models.SessionResult{
			Proxy:       assigned[i],
			Status:      models.StatusTimeout,
			ErrorDetail: "session did not report before the job deadline",
			StartedAt:   now,
			FinishedAt:  now,
		}
	})

	p.logger.Info("all sessions reported", "job_id", jc.ID, "results", len(results), "peak_concurrency", p.Peak())
	return results
}

func (p *Pool) runOne(ctx context.Context, jc *models.JobContext, proxy models.ProxyCandidate, factory SessionFactory) (result models.SessionResult) {
	started := p.now()

	n := p.active.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	p.metrics.SetActiveSessions(int(n))
	defer func() {
		p.metrics.SetActiveSessions(int(p.active.Add(-1)))
	}()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("session panicked", "proxy", proxy.Address, "panic", r)
			result = failed(proxy, started, p.now(), fmt.Errorf("session panicked: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		return models.SessionResult{
			Proxy:       proxy,
			Status:      models.StatusTimeout,
			ErrorDetail: err.Error(),
			StartedAt:   started,
			FinishedAt:  p.now(),
		}
	}

	runner, err := factory(ctx, jc, proxy)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSessionInit, err)
		p.logger.Warn("failed to start session", "proxy", proxy.Address, "error", err)
		p.metrics.RecordSession(string(models.StatusError), p.now().Sub(started).Seconds(), 0)
		return failed(proxy, started, p.now(), err)
	}

	return runner.Run(ctx)
}

func failed(proxy models.ProxyCandidate, started, finished time.Time, err error) models.SessionResult {
	return models.SessionResult{
		Proxy:       proxy,
		Status:      models.StatusError,
		ErrorDetail: err.Error(),
		StartedAt:   started,
		FinishedAt:  finished,
	}
}

// eligible keeps validated candidates, first occurrence per address.
func eligible(candidates []models.ProxyCandidate) []models.ProxyCandidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]models.ProxyCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.Validated {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(c.Address))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// collector records the first report per slot in arrival order.
type collector struct {
	mu       sync.Mutex
	reported []bool
	results  []models.SessionResult
	closed   bool
}

func newCollector(n int) *collector {
	return &collector{
		reported: make([]bool, n),
		results:  make([]models.SessionResult, 0, n),
	}
}

func (c *collector) report(slot int, result models.SessionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.reported[slot] {
		return
	}
	c.reported[slot] = true
	c.results = append(c.results, result)
}

// close fills unreported slots via missing and rejects later reports.
func (c *collector) close(missing func(slot int) models.SessionResult) []models.SessionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for slot, ok := range c.reported {
		if !ok {
			c.reported[slot] = true
			c.results = append(c.results, missing(slot))
		}
	}
	return append([]models.SessionResult(nil), c.results...)
}
