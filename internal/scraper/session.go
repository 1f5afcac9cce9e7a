package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/dedup"
	"github.com/maltedev/adlibrary-harvester/internal/metrics"
	"github.com/maltedev/adlibrary-harvester/internal/models"
	"github.com/maltedev/adlibrary-harvester/internal/ratelimit"
)

type State string

const (
	StateInit        State = "init"
	StateNavigating  State = "navigating"
	StateWarmup      State = "warmup"
	StateExtractLoop State = "extract_loop"
	StateTerminated  State = "terminated"
)

const DefaultPlateauThreshold = 3

// readyCondition is the page-readiness check run before the first warm-up.
var readyCondition = Condition{Selector: "body"}

type SessionOptions struct {
	Selectors   Selectors
	Detector    ChallengeDetector
	Fingerprint dedup.Fingerprint

	// Forward scroll distance between rounds, in pixels.
	ScrollMinPx int
	ScrollMaxPx int

	// Settle pause after each scroll; backs off while no new records appear.
	SettleMin time.Duration
	SettleMax time.Duration

	// Pause before and after warm-up interactions.
	WarmupMin time.Duration
	WarmupMax time.Duration

	// Jittered gap between consecutive synthetic pointer moves.
	PointerMin time.Duration
	PointerMax time.Duration

	Now func() time.Time
}

func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Selectors:   DefaultSelectors(),
		Detector:    NewMarkerDetector(nil),
		Fingerprint: dedup.PrefixFingerprint(dedup.DefaultPrefixLength),
		ScrollMinPx: 600,
		ScrollMaxPx: 1200,
		SettleMin:   1500 * time.Millisecond,
		SettleMax:   3 * time.Second,
		WarmupMin:   500 * time.Millisecond,
		WarmupMax:   1500 * time.Millisecond,
		PointerMin:  50 * time.Millisecond,
		PointerMax:  250 * time.Millisecond,
		Now:         time.Now,
	}
}

// Session drives one browser page behind one proxy through
// navigate, warm-up and the scroll/extract loop. Run may be called once.
type Session struct {
	jc          *models.JobContext
	proxy       models.ProxyCandidate
	page        Page
	extractor   *Extractor
	detector    ChallengeDetector
	fingerprint dedup.Fingerprint
	seen        *dedup.Deduplicator
	settle      *ratelimit.AdaptiveRateLimiter
	pacer       *ratelimit.SimpleRateLimiter
	pointer     *ratelimit.SimpleRateLimiter
	opts        SessionOptions
	rand        *rand.Rand
	metrics     *metrics.Collector
	logger      *slog.Logger

	mu         sync.Mutex
	state      State
	terminated bool
	result     models.SessionResult
}

func NewSession(jc *models.JobContext, proxy models.ProxyCandidate, page Page, opts SessionOptions, collector *metrics.Collector, logger *slog.Logger) *Session {
	defaults := DefaultSessionOptions()
	if opts.Selectors.Card == "" {
		opts.Selectors = defaults.Selectors
	}
	if opts.Detector == nil {
		opts.Detector = defaults.Detector
	}
	if opts.Fingerprint == nil {
		opts.Fingerprint = defaults.Fingerprint
	}
	if opts.ScrollMinPx <= 0 {
		opts.ScrollMinPx = defaults.ScrollMinPx
	}
	if opts.ScrollMaxPx < opts.ScrollMinPx {
		opts.ScrollMaxPx = opts.ScrollMinPx
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Session{
		jc:          jc,
		proxy:       proxy,
		page:        page,
		extractor:   NewExtractor(opts.Selectors),
		detector:    opts.Detector,
		fingerprint: opts.Fingerprint,
		seen:        dedup.New(),
		settle:      ratelimit.NewAdaptiveRateLimiter(opts.SettleMin, opts.SettleMax),
		pacer:       ratelimit.NewSimpleRateLimiter(opts.WarmupMin, opts.WarmupMax),
		pointer:     ratelimit.NewSimpleRateLimiter(opts.PointerMin, opts.PointerMax),
		opts:        opts,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		metrics:     collector,
		logger:      logger.With("component", "session", "job_id", jc.ID, "proxy", proxy.Address),
		state:       StateInit,
		result:      models.SessionResult{Proxy: proxy},
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return
	}
	s.state = state
	s.logger.Debug("state changed", "state", state)
}

// Run executes the session and returns its terminal result. The page is
// closed before Run returns.
func (s *Session) Run(ctx context.Context) models.SessionResult {
	s.result.StartedAt = s.opts.Now()
	defer func() {
		if err := s.page.Close(); err != nil {
			s.logger.Warn("failed to close page", "error", err)
		}
	}()

	cfg := s.jc.Config

	s.setState(StateNavigating)
	target, err := BuildTargetURL(cfg.TargetURLTemplate, cfg.SearchFilters)
	if err != nil {
		return s.terminate(models.StatusError, err)
	}
	if err := ctx.Err(); err != nil {
		return s.terminate(models.StatusTimeout, err)
	}

	s.logger.Info("navigating", "url", target)
	if err := s.page.Navigate(target, cfg.NavigationTimeout); err != nil {
		if ctx.Err() != nil {
			return s.terminate(models.StatusTimeout, ctx.Err())
		}
		return s.terminate(models.StatusError, fmt.Errorf("%w: %v", ErrNavigation, err))
	}

	s.setState(StateWarmup)
	if s.page.WaitFor(ctx, readyCondition, cfg.NavigationTimeout) {
		s.warmUp(ctx)
	} else {
		s.logger.Debug("page not ready, skipping warm-up")
	}

	s.setState(StateExtractLoop)
	return s.extractLoop(ctx)
}

func (s *Session) extractLoop(ctx context.Context) models.SessionResult {
	cfg := s.jc.Config
	target := Condition{
		Selector: s.extractor.Selectors().Card,
		Content:  s.detector.IsChallenge,
	}

	scrolls, plateau := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return s.terminate(models.StatusTimeout, err)
		}
		s.result.Rounds++

		if s.challenged() {
			return s.terminate(models.StatusBlocked, nil)
		}

		ready := s.page.WaitFor(ctx, target, cfg.SelectorTimeout)
		if err := ctx.Err(); err != nil {
			return s.terminate(models.StatusTimeout, err)
		}
		if s.challenged() {
			return s.terminate(models.StatusBlocked, nil)
		}
		if !ready {
			if len(s.result.Records) == 0 {
				return s.terminate(models.StatusError, fmt.Errorf("%w: %s after %s", ErrExtractionTimeout, target.Selector, cfg.SelectorTimeout))
			}
			s.logger.Info("target elements gone, keeping partial result", "records", len(s.result.Records))
			return s.terminate(models.StatusSuccess, nil)
		}

		added := s.extractRound()
		if added > 0 {
			plateau = 0
			s.settle.RecordProgress()
		} else {
			plateau++
			s.settle.RecordStall()
		}
		_, settleMax := s.settle.Delays()
		s.logger.Debug("round finished", "round", s.result.Rounds, "added", added, "records", len(s.result.Records), "plateau", plateau, "settle_max", settleMax)

		switch {
		case len(s.result.Records) >= cfg.MaxRecordsPerSession:
			return s.terminate(models.StatusSuccess, nil)
		case plateau >= plateauThreshold(cfg):
			s.logger.Info("no new records, stopping", "rounds_without_progress", plateau)
			return s.terminate(models.StatusSuccess, nil)
		case scrolls >= cfg.ScrollAttempts:
			return s.terminate(models.StatusSuccess, nil)
		}

		s.scrollForward()
		scrolls++

		if err := s.settle.Pause(ctx); err != nil {
			return s.terminate(models.StatusTimeout, err)
		}
		if cfg.WarmupEvery > 0 && scrolls%cfg.WarmupEvery == 0 {
			s.warmUp(ctx)
		}
	}
}

func plateauThreshold(cfg models.JobConfig) int {
	if cfg.PlateauThreshold <= 0 {
		return DefaultPlateauThreshold
	}
	return cfg.PlateauThreshold
}

// extractRound appends newly accepted records and returns how many were added.
func (s *Session) extractRound() int {
	cfg := s.jc.Config

	cards, err := s.page.FindAll(s.extractor.Selectors().Card)
	if err != nil {
		s.logger.Warn("failed to enumerate cards", "error", err)
		return 0
	}

	added := 0
	for _, card := range cards {
		if len(s.result.Records) >= cfg.MaxRecordsPerSession {
			break
		}

		fields, media, err := s.extractor.Extract(card)
		if err != nil {
			s.logger.Debug("skipping card", "error", err)
			continue
		}

		key := s.fingerprint(dedup.RecordText(fields, media))
		if !s.seen.Accept(key) {
			continue
		}

		s.result.Records = append(s.result.Records,
			models.NewExtractedRecord(fields, media, s.proxy.Address, s.opts.Now(), key))
		added++
	}
	return added
}

func (s *Session) challenged() bool {
	content, err := s.page.Content()
	if err != nil {
		s.logger.Debug("failed to read page content", "error", err)
		return false
	}
	if s.detector.IsChallenge(content) {
		s.logger.Warn("challenge page detected")
		return true
	}
	return false
}

func (s *Session) scrollForward() {
	distance := s.opts.ScrollMinPx
	if s.opts.ScrollMaxPx > s.opts.ScrollMinPx {
		distance += s.rand.Intn(s.opts.ScrollMaxPx - s.opts.ScrollMinPx + 1)
	}
	if _, err := s.page.RunScript(fmt.Sprintf("window.scrollBy(0, %d)", distance)); err != nil {
		s.logger.Debug("scroll failed", "error", err)
	}
}

// terminate sets the terminal status once; later calls return the first result.
func (s *Session) terminate(status models.SessionStatus, cause error) models.SessionResult {
	s.mu.Lock()
	if s.terminated {
		result := s.result
		s.mu.Unlock()
		return result
	}
	s.terminated = true
	s.state = StateTerminated
	s.result.Status = status
	if cause != nil {
		s.result.ErrorDetail = cause.Error()
	}
	s.result.FinishedAt = s.opts.Now()
	result := s.result
	s.mu.Unlock()

	if status == models.StatusError && !errors.Is(cause, ErrInvalidTemplate) {
		s.captureScreenshot()
	}

	elapsed := result.FinishedAt.Sub(result.StartedAt)
	s.metrics.RecordSession(string(status), elapsed.Seconds(), len(result.Records))
	s.logger.Info("session terminated",
		"status", status,
		"records", len(result.Records),
		"rounds", result.Rounds,
		"error", result.ErrorDetail,
		"took", elapsed)

	return result
}

func (s *Session) captureScreenshot() {
	dir := s.jc.Config.OutputDir
	if dir == "" {
		return
	}

	shot, err := s.page.Screenshot()
	if err != nil {
		s.logger.Debug("screenshot failed", "error", err)
		return
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.logger.Warn("failed to create screenshot directory", "error", err)
		return
	}

	path := filepath.Join(dir, fmt.Sprintf("error_%s.png", s.proxy.SafeName()))
	if err := os.WriteFile(path, shot, 0644); err != nil {
		s.logger.Warn("failed to write screenshot", "path", path, "error", err)
		return
	}
	s.logger.Info("saved error screenshot", "path", path)
}
