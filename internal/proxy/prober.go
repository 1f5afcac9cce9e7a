package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/models"
	"golang.org/x/net/proxy"
)

// DefaultProbeTarget is requested through each candidate during validation.
const DefaultProbeTarget = "https://www.google.com/"

// Prober issues a bounded-time request through a candidate and reports the
// upstream status code.
type Prober interface {
	Probe(ctx context.Context, candidate models.ProxyCandidate, timeout time.Duration) (int, error)
}

// HTTPProber probes through HTTP proxies with CONNECT/absolute-URI requests
// and through SOCKS5 proxies with a SOCKS dialer.
type HTTPProber struct {
	Target    string
	UserAgent string
}

func NewHTTPProber(target, userAgent string) *HTTPProber {
	if target == "" {
		target = DefaultProbeTarget
	}
	return &HTTPProber{Target: target, UserAgent: userAgent}
}

func (p *HTTPProber) Probe(ctx context.Context, candidate models.ProxyCandidate, timeout time.Duration) (int, error) {
	transport, err := p.transport(candidate, timeout)
	if err != nil {
		return 0, err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.Target, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

func (p *HTTPProber) transport(candidate models.ProxyCandidate, timeout time.Duration) (*http.Transport, error) {
	dialer := &net.Dialer{Timeout: timeout}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: timeout,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		DisableKeepAlives:   true,
		ForceAttemptHTTP2:   false,
	}

	switch candidate.Protocol {
	case "socks5":
		socks, err := proxy.SOCKS5("tcp", candidate.Address, nil, dialer)
		if err != nil {
			return nil, fmt.Errorf("create SOCKS5 dialer: %w", err)
		}
		contextDialer, ok := socks.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 dialer does not support contexts")
		}
		transport.DialContext = contextDialer.DialContext
	default:
		proxyURL, err := url.Parse(candidate.URL())
		if err != nil {
			return nil, fmt.Errorf("parse proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return transport, nil
}
