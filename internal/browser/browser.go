package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/models"
	"github.com/maltedev/adlibrary-harvester/internal/scraper"
	"github.com/playwright-community/playwright-go"
)

var ErrLaunch = errors.New("browser launch failed")

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgents     []string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless: true,
		Timeout:  30 * time.Second,
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		},
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-US,en;q=0.9",
		TimezoneID:     "America/New_York",
		Locale:         "en-US",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":    "1",
		},
	}
}

// stealthScript hides the most common automation fingerprints before any
// page script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = window.chrome || { runtime: {} };
`

// Launcher owns the playwright driver and starts one isolated Chromium per
// proxy.
type Launcher struct {
	pw     *playwright.Playwright
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	rand *rand.Rand
}

func NewLauncher(opts *Options, logger *slog.Logger) (*Launcher, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = DefaultOptions().UserAgents
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.ViewportWidth <= 0 || opts.ViewportHeight <= 0 {
		opts.ViewportWidth, opts.ViewportHeight = 1920, 1080
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	return &Launcher{
		pw:     pw,
		opts:   *opts,
		logger: logger.With("component", "browser"),
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Launch starts a browser routed through proxy and opens a single page in
// a fresh context. Closing the returned Page tears the browser down.
func (l *Launcher) Launch(proxy models.ProxyCandidate) (scraper.Page, error) {
	userAgent := l.userAgent()

	browser, err := l.pw.Chromium.Launch(launchOptions(l.opts, proxy, userAgent))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	bctx, err := browser.NewContext(contextOptions(l.opts, userAgent))
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("%w: failed to create context: %v", ErrLaunch, err)
	}

	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		l.logger.Warn("failed to install stealth script", "error", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("%w: failed to create page: %v", ErrLaunch, err)
	}
	page.SetDefaultTimeout(float64(l.opts.Timeout.Milliseconds()))

	l.logger.Debug("browser launched", "proxy", proxy.Address, "user_agent", userAgent)

	return &Page{
		page:    page,
		context: bctx,
		browser: browser,
		logger:  l.logger.With("proxy", proxy.Address),
	}, nil
}

// Close stops the playwright driver. Pages must be closed first.
func (l *Launcher) Close() error {
	if err := l.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

func (l *Launcher) userAgent() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opts.UserAgents[l.rand.Intn(len(l.opts.UserAgents))]
}

func launchOptions(opts Options, proxy models.ProxyCandidate, userAgent string) playwright.BrowserTypeLaunchOptions {
	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-infobars",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
			"--user-agent=" + userAgent,
		},
	}
	if proxy.Address != "" {
		launch.Proxy = &playwright.Proxy{Server: proxy.URL()}
	}
	return launch
}

func contextOptions(opts Options, userAgent string) playwright.BrowserNewContextOptions {
	headers := make(map[string]string, len(opts.ExtraHeaders)+1)
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}
	if opts.AcceptLanguage != "" {
		headers["Accept-Language"] = opts.AcceptLanguage
	}

	return playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(userAgent),
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		IgnoreHttpsErrors: playwright.Bool(true),
		Locale:            playwright.String(opts.Locale),
		TimezoneId:        playwright.String(opts.TimezoneID),
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	}
}
