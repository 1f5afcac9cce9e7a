package job_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/config"
	"github.com/maltedev/adlibrary-harvester/internal/dedup"
	"github.com/maltedev/adlibrary-harvester/internal/job"
	"github.com/maltedev/adlibrary-harvester/internal/models"
	"github.com/maltedev/adlibrary-harvester/internal/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionOptions(t *testing.T) {
	cfg := &config.Config{
		Selectors: scraper.DefaultSelectors(),
		Job: config.JobConfig{
			SettleMin:         time.Second,
			SettleMax:         2 * time.Second,
			DedupStrategy:     "content",
			DedupPrefixLength: 10,
		},
	}
	cfg.Selectors.Card = "article.ad"

	opts := job.SessionOptions(cfg)
	assert.Equal(t, "article.ad", opts.Selectors.Card)
	assert.Equal(t, time.Second, opts.SettleMin)
	assert.Equal(t, 2*time.Second, opts.SettleMax)

	long := "the same opening words and then a different tail"
	assert.Equal(t, dedup.ContentHash(long), opts.Fingerprint(long))

	cfg.Job.DedupStrategy = "prefix"
	opts = job.SessionOptions(cfg)
	assert.Equal(t, opts.Fingerprint("the same opening words A"), opts.Fingerprint("the same opening words B"))
}

func TestSessionFactory_LaunchFailure(t *testing.T) {
	launcher := job.LauncherFunc(func(p models.ProxyCandidate) (scraper.Page, error) {
		return nil, errors.New("chromium missing")
	})
	factory := job.SessionFactory(launcher, fastOptions(), nil, testLogger())

	_, err := factory(context.Background(), &models.JobContext{ID: "j"}, models.ProxyCandidate{Address: "10.0.0.1:80"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chromium missing")
	assert.Contains(t, err.Error(), "10.0.0.1:80")
}

func TestSessionFactory_CancelledContext(t *testing.T) {
	called := false
	launcher := job.LauncherFunc(func(p models.ProxyCandidate) (scraper.Page, error) {
		called = true
		return nil, nil
	})
	factory := job.SessionFactory(launcher, fastOptions(), nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := factory(ctx, &models.JobContext{ID: "j"}, models.ProxyCandidate{Address: "10.0.0.1:80"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
