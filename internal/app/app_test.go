package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/config"
	"github.com/maltedev/adlibrary-harvester/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Setenv("PROXY_LIST_URLS", "")
	t.Setenv("PROXY_STATIC", "192.0.2.10:3128")
	t.Setenv("BROWSER_HEADLESS", "false")
	t.Setenv("BROWSER_VIEWPORT_WIDTH", "1280")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestNewSource_CombinesOrigins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "198.51.100.1:8080")
		fmt.Fprintln(w, "192.0.2.10:3128")
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Proxy.ListURLs = []string{srv.URL}

	candidates := NewSource(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil))).Fetch(context.Background())

	addresses := make([]string, 0, len(candidates))
	for _, c := range candidates {
		addresses = append(addresses, c.Address)
	}
	assert.ElementsMatch(t, []string{"198.51.100.1:8080", "192.0.2.10:3128"}, addresses)
}

func TestNewValidator_UsesConfiguredProbeTarget(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer target.Close()

	// A plain HTTP server also answers absolute-URI proxy requests.
	cfg := testConfig(t)
	cfg.Proxy.ProbeTarget = target.URL
	cfg.Proxy.ValidationTimeout = 2 * time.Second

	v := NewValidator(cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	candidate := models.ProxyCandidate{Address: target.Listener.Addr().String(), Protocol: "http"}

	assert.True(t, v.Validate(context.Background(), &candidate), candidate.FailureReason)
	assert.Equal(t, int32(1), hits.Load())
}

func TestBrowserOptions(t *testing.T) {
	cfg := testConfig(t)

	opts := BrowserOptions(cfg)
	assert.False(t, opts.Headless)
	assert.Equal(t, 1280, opts.ViewportWidth)
	assert.Equal(t, cfg.Job.NavigationTimeout, opts.Timeout)
	assert.Equal(t, cfg.Browser.UserAgents, opts.UserAgents)
	assert.NotEmpty(t, opts.ExtraHeaders)
}
