package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/models"
	"github.com/maltedev/adlibrary-harvester/internal/proxy"
	"github.com/maltedev/adlibrary-harvester/internal/scraper"
	"github.com/maltedev/adlibrary-harvester/internal/storage"
)

type Config struct {
	Job       JobConfig
	Proxy     ProxyConfig
	Browser   BrowserConfig
	Selectors scraper.Selectors
	Database  DatabaseConfig
	Redis     RedisConfig
	Server    ServerConfig
	Logging   LoggingConfig
}

type JobConfig struct {
	MaxWorkers           int
	MaxRecordsPerSession int
	ScrollAttempts       int
	PlateauThreshold     int
	WarmupEvery          int
	SearchTerm           string
	Country              string
	TargetURLTemplate    string
	OutputDir            string
	Formats              []string
	NavigationTimeout    time.Duration
	SelectorTimeout      time.Duration
	Deadline             time.Duration
	SettleMin            time.Duration
	SettleMax            time.Duration
	DedupStrategy        string // "prefix" or "content"
	DedupPrefixLength    int
}

type ProxyConfig struct {
	ListURLs          []string
	HTMLTableURLs     []string
	Static            []string
	ProbeTarget       string
	AcceptedStatuses  []int
	ValidationTimeout time.Duration
	ValidationWorkers int
	ProbesPerSecond   float64
	// Candidates bounds how many fetched candidates are probed; 0 probes all.
	Candidates int
}

type BrowserConfig struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	UserAgents     []string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Stream   string
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	QueueSize       int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	defaults := scraper.DefaultSelectors()

	cfg := &Config{
		Job: JobConfig{
			MaxWorkers:           getIntOrDefault("HARVEST_MAX_WORKERS", 3),
			MaxRecordsPerSession: getIntOrDefault("HARVEST_MAX_RECORDS", 15),
			ScrollAttempts:       getIntOrDefault("HARVEST_SCROLL_ATTEMPTS", 5),
			PlateauThreshold:     getIntOrDefault("HARVEST_PLATEAU_THRESHOLD", scraper.DefaultPlateauThreshold),
			WarmupEvery:          getIntOrDefault("HARVEST_WARMUP_EVERY", 2),
			SearchTerm:           os.Getenv("HARVEST_SEARCH_TERM"),
			Country:              getEnvOrDefault("HARVEST_COUNTRY", "ALL"),
			TargetURLTemplate:    getEnvOrDefault("HARVEST_TARGET_URL", scraper.DefaultTargetURLTemplate),
			OutputDir:            getEnvOrDefault("HARVEST_OUTPUT_DIR", "./output"),
			Formats:              getStringSliceOrDefault("HARVEST_FORMATS", []string{storage.FormatJSON, storage.FormatCSV, storage.FormatSummary}),
			NavigationTimeout:    getDurationOrDefault("HARVEST_NAVIGATION_TIMEOUT", 30*time.Second),
			SelectorTimeout:      getDurationOrDefault("HARVEST_SELECTOR_TIMEOUT", 15*time.Second),
			Deadline:             getDurationOrDefault("HARVEST_JOB_DEADLINE", 10*time.Minute),
			SettleMin:            getDurationOrDefault("HARVEST_SETTLE_MIN", 1500*time.Millisecond),
			SettleMax:            getDurationOrDefault("HARVEST_SETTLE_MAX", 3*time.Second),
			DedupStrategy:        getEnvOrDefault("HARVEST_DEDUP_STRATEGY", "prefix"),
			DedupPrefixLength:    getIntOrDefault("HARVEST_DEDUP_PREFIX_LENGTH", 100),
		},
		Proxy: ProxyConfig{
			ListURLs:          getStringSliceOrDefault("PROXY_LIST_URLS", []string{proxy.DefaultListURL}),
			HTMLTableURLs:     getStringSliceOrDefault("PROXY_HTML_TABLE_URLS", []string{}),
			Static:            getStringSliceOrDefault("PROXY_STATIC", []string{}),
			ProbeTarget:       getEnvOrDefault("PROXY_PROBE_TARGET", proxy.DefaultProbeTarget),
			AcceptedStatuses:  getIntSliceOrDefault("PROXY_ACCEPTED_STATUSES", proxy.DefaultAcceptedStatuses),
			ValidationTimeout: getDurationOrDefault("PROXY_VALIDATION_TIMEOUT", 10*time.Second),
			ValidationWorkers: getIntOrDefault("PROXY_VALIDATION_WORKERS", 5),
			ProbesPerSecond:   getFloatOrDefault("PROXY_PROBES_PER_SECOND", 10),
			Candidates:        getIntOrDefault("PROXY_CANDIDATES", 0),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			UserAgents:     getStringSliceOrDefault("BROWSER_USER_AGENTS", defaultUserAgents()),
		},
		Selectors: scraper.Selectors{
			Card:           getEnvOrDefault("SELECTOR_CARD", defaults.Card),
			Advertiser:     getEnvOrDefault("SELECTOR_ADVERTISER", defaults.Advertiser),
			Text:           getEnvOrDefault("SELECTOR_TEXT", defaults.Text),
			CTA:            getEnvOrDefault("SELECTOR_CTA", defaults.CTA),
			Sponsor:        getEnvOrDefault("SELECTOR_SPONSOR", defaults.Sponsor),
			Media:          getEnvOrDefault("SELECTOR_MEDIA", defaults.Media),
			MediaAttribute: getEnvOrDefault("SELECTOR_MEDIA_ATTRIBUTE", defaults.MediaAttribute),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "adlibrary"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getBoolOrDefault("REDIS_ENABLED", false),
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:scrape_runs"),
		},
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			QueueSize:       getIntOrDefault("SERVER_QUEUE_SIZE", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Job.MaxWorkers < 1 {
		return fmt.Errorf("HARVEST_MAX_WORKERS must be at least 1")
	}
	if c.Job.MaxRecordsPerSession < 1 {
		return fmt.Errorf("HARVEST_MAX_RECORDS must be at least 1")
	}
	if c.Job.ScrollAttempts < 0 {
		return fmt.Errorf("HARVEST_SCROLL_ATTEMPTS cannot be negative")
	}
	if c.Job.PlateauThreshold < 1 {
		return fmt.Errorf("HARVEST_PLATEAU_THRESHOLD must be at least 1")
	}
	if c.Job.WarmupEvery < 0 {
		return fmt.Errorf("HARVEST_WARMUP_EVERY cannot be negative")
	}
	if c.Job.SettleMin > c.Job.SettleMax {
		return fmt.Errorf("HARVEST_SETTLE_MIN cannot be greater than HARVEST_SETTLE_MAX")
	}
	if c.Job.DedupStrategy != "prefix" && c.Job.DedupStrategy != "content" {
		return fmt.Errorf("HARVEST_DEDUP_STRATEGY must be prefix or content, got %q", c.Job.DedupStrategy)
	}
	if len(c.Job.Formats) == 0 {
		return fmt.Errorf("HARVEST_FORMATS must name at least one format")
	}
	if _, err := scraper.BuildTargetURL(c.Job.TargetURLTemplate, nil); err != nil {
		return fmt.Errorf("HARVEST_TARGET_URL: %w", err)
	}
	if c.Proxy.ValidationWorkers < 1 {
		return fmt.Errorf("PROXY_VALIDATION_WORKERS must be at least 1")
	}
	if len(c.Proxy.ListURLs)+len(c.Proxy.HTMLTableURLs)+len(c.Proxy.Static) == 0 {
		return fmt.Errorf("at least one of PROXY_LIST_URLS, PROXY_HTML_TABLE_URLS or PROXY_STATIC is required")
	}
	if c.Selectors.Card == "" {
		return fmt.Errorf("SELECTOR_CARD is required")
	}
	if len(c.Browser.UserAgents) == 0 {
		return fmt.Errorf("BROWSER_USER_AGENTS must not be empty")
	}

	return nil
}

// JobConfig returns the immutable per-job snapshot.
func (c *Config) JobConfig() models.JobConfig {
	return models.JobConfig{
		MaxWorkers:           c.Job.MaxWorkers,
		MaxRecordsPerSession: c.Job.MaxRecordsPerSession,
		ScrollAttempts:       c.Job.ScrollAttempts,
		PlateauThreshold:     c.Job.PlateauThreshold,
		WarmupEvery:          c.Job.WarmupEvery,
		Headless:             c.Browser.Headless,
		TargetURLTemplate:    c.Job.TargetURLTemplate,
		SearchFilters: map[string]string{
			models.FilterSearchTerm: c.Job.SearchTerm,
			models.FilterCountry:    c.Job.Country,
		},
		OutputDir:         c.Job.OutputDir,
		Formats:           append([]string(nil), c.Job.Formats...),
		NavigationTimeout: c.Job.NavigationTimeout,
		SelectorTimeout:   c.Job.SelectorTimeout,
		JobDeadline:       c.Job.Deadline,
		ValidationTimeout: c.Proxy.ValidationTimeout,
	}
}

// DSN renders the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getIntSliceOrDefault(key string, defaultValue []int) []int {
	parts := getStringSliceOrDefault(key, nil)
	if len(parts) == 0 {
		return defaultValue
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		i, err := strconv.Atoi(p)
		if err != nil {
			return defaultValue
		}
		out = append(out, i)
	}
	return out
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/119.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
	}
}
