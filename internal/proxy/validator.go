package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/metrics"
	"github.com/maltedev/adlibrary-harvester/internal/models"
	"golang.org/x/time/rate"
)

// DefaultAcceptedStatuses prove the proxy relays traffic, even when the
// target refuses the request.
var DefaultAcceptedStatuses = []int{200, 301, 302, 403}

type ValidatorOptions struct {
	Timeout          time.Duration
	Concurrency      int
	AcceptedStatuses []int
	ProbesPerSecond  float64
}

// Validator probes candidates with its own concurrency cap.
type Validator struct {
	prober      Prober
	timeout     time.Duration
	concurrency int
	accepted    map[int]struct{}
	limiter     *rate.Limiter
	metrics     *metrics.Collector
	logger      *slog.Logger
	now         func() time.Time
}

func NewValidator(prober Prober, opts ValidatorOptions, collector *metrics.Collector, logger *slog.Logger) *Validator {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if len(opts.AcceptedStatuses) == 0 {
		opts.AcceptedStatuses = DefaultAcceptedStatuses
	}

	accepted := make(map[int]struct{}, len(opts.AcceptedStatuses))
	for _, code := range opts.AcceptedStatuses {
		accepted[code] = struct{}{}
	}

	var limiter *rate.Limiter
	if opts.ProbesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.ProbesPerSecond), opts.Concurrency)
	}

	return &Validator{
		prober:      prober,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		accepted:    accepted,
		limiter:     limiter,
		metrics:     collector,
		logger:      logger.With("component", "proxy_validator"),
		now:         time.Now,
	}
}

// Validate probes one candidate and records the outcome on it.
func (v *Validator) Validate(ctx context.Context, c *models.ProxyCandidate) bool {
	status, err := v.prober.Probe(ctx, *c, v.timeout)
	c.LastProbedAt = v.now()

	switch {
	case err != nil:
		c.Validated = false
		c.FailureReason = fmt.Errorf("%w: %v", ErrProxyInvalid, err).Error()
	case !v.isAccepted(status):
		c.Validated = false
		c.FailureReason = fmt.Errorf("%w: HTTP %d", ErrProxyInvalid, status).Error()
	default:
		c.Validated = true
		c.FailureReason = ""
	}

	v.metrics.RecordProbe(c.Validated)
	if !c.Validated {
		v.logger.Debug("proxy rejected", "proxy", c.Address, "reason", c.FailureReason)
	}
	return c.Validated
}

// ValidateAll probes candidates until want of them validate (want <= 0
// probes all). The returned slice holds validated copies in completion
// order and never exceeds want.
func (v *Validator) ValidateAll(ctx context.Context, candidates []models.ProxyCandidate, want int) []models.ProxyCandidate {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	v.logger.Info("validating candidates", "count", len(candidates), "want", want, "concurrency", v.concurrency)
	start := time.Now()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		validated = make([]models.ProxyCandidate, 0, max(want, 0))
		sem       = make(chan struct{}, v.concurrency)
	)

dispatch:
	for _, candidate := range candidates {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}

		if v.limiter != nil {
			if err := v.limiter.Wait(ctx); err != nil {
				<-sem
				break dispatch
			}
		}

		wg.Add(1)
		go func(c models.ProxyCandidate) {
			defer wg.Done()
			defer func() { <-sem }()

			if !v.Validate(ctx, &c) {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if want > 0 && len(validated) >= want {
				return
			}
			validated = append(validated, c)
			if want > 0 && len(validated) >= want {
				cancel()
			}
		}(candidate)
	}

	wg.Wait()

	v.logger.Info("validation finished", "validated", len(validated), "took", time.Since(start))
	return validated
}

func (v *Validator) isAccepted(status int) bool {
	_, ok := v.accepted[status]
	return ok
}
