package config

import (
	"testing"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/models"
	"github.com/maltedev/adlibrary-harvester/internal/proxy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Job.MaxWorkers)
	assert.Equal(t, 15, cfg.Job.MaxRecordsPerSession)
	assert.Equal(t, 5, cfg.Job.ScrollAttempts)
	assert.Equal(t, 3, cfg.Job.PlateauThreshold)
	assert.Equal(t, []string{"json", "csv", "summary"}, cfg.Job.Formats)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, []string{proxy.DefaultListURL}, cfg.Proxy.ListURLs)
	assert.Equal(t, proxy.DefaultAcceptedStatuses, cfg.Proxy.AcceptedStatuses)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "stream:scrape_runs", cfg.Redis.Stream)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("HARVEST_MAX_WORKERS", "6")
	t.Setenv("HARVEST_MAX_RECORDS", "25")
	t.Setenv("HARVEST_SEARCH_TERM", "running shoes")
	t.Setenv("HARVEST_COUNTRY", "DE")
	t.Setenv("HARVEST_FORMATS", "json, postgres ,")
	t.Setenv("HARVEST_JOB_DEADLINE", "90s")
	t.Setenv("HARVEST_OUTPUT_DIR", "/tmp/harvest-out")
	t.Setenv("BROWSER_HEADLESS", "false")
	t.Setenv("PROXY_ACCEPTED_STATUSES", "200,204")
	t.Setenv("PROXY_STATIC", "1.2.3.4:80,5.6.7.8:1080")

	cfg, err := Load()
	require.NoError(t, err)

	jc := cfg.JobConfig()
	assert.Equal(t, 6, jc.MaxWorkers)
	assert.Equal(t, 25, jc.MaxRecordsPerSession)
	assert.Equal(t, "running shoes", jc.SearchTerm())
	assert.Equal(t, "DE", jc.CountryFilter())
	assert.Equal(t, []string{"json", "postgres"}, jc.Formats)
	assert.Equal(t, 90*time.Second, jc.JobDeadline)
	assert.Equal(t, "/tmp/harvest-out", jc.OutputDir)
	assert.False(t, jc.Headless)
	assert.Equal(t, []int{200, 204}, cfg.Proxy.AcceptedStatuses)
	assert.Equal(t, []string{"1.2.3.4:80", "5.6.7.8:1080"}, cfg.Proxy.Static)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("HARVEST_MAX_WORKERS", "many")
	t.Setenv("PROXY_ACCEPTED_STATUSES", "200,ok")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Job.MaxWorkers)
	assert.Equal(t, proxy.DefaultAcceptedStatuses, cfg.Proxy.AcceptedStatuses)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"zero workers", func(c *Config) { c.Job.MaxWorkers = 0 }, "HARVEST_MAX_WORKERS"},
		{"zero records", func(c *Config) { c.Job.MaxRecordsPerSession = 0 }, "HARVEST_MAX_RECORDS"},
		{"zero plateau", func(c *Config) { c.Job.PlateauThreshold = 0 }, "HARVEST_PLATEAU_THRESHOLD"},
		{"settle bounds", func(c *Config) { c.Job.SettleMin = time.Minute }, "HARVEST_SETTLE_MIN"},
		{"dedup strategy", func(c *Config) { c.Job.DedupStrategy = "fuzzy" }, "HARVEST_DEDUP_STRATEGY"},
		{"relative target", func(c *Config) { c.Job.TargetURLTemplate = "/ads?q={q}" }, "HARVEST_TARGET_URL"},
		{"no proxy origins", func(c *Config) {
			c.Proxy.ListURLs, c.Proxy.HTMLTableURLs, c.Proxy.Static = nil, nil, nil
		}, "PROXY_"},
		{"no card selector", func(c *Config) { c.Selectors.Card = "" }, "SELECTOR_CARD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestJobConfigIsSnapshot(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	jc := cfg.JobConfig()
	cfg.Job.Formats[0] = "mutated"
	cfg.Job.SearchTerm = "changed"

	assert.Equal(t, "json", jc.Formats[0])
	assert.Equal(t, "", jc.SearchFilters[models.FilterSearchTerm])
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5433, DBName: "ads", SSLMode: "require"}
	assert.Equal(t, "postgres://u:p@db:5433/ads?sslmode=require", d.DSN())
}
