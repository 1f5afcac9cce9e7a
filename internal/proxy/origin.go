package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/adlibrary-harvester/internal/models"
)

// DefaultListURL is the public plain-text proxy list queried when no
// origins are configured.
const DefaultListURL = "https://api.proxyscrape.com/?request=displayproxies&proxytype=http&timeout=500&anonymity=elite"

const maxListBytes = 10 * 1024 * 1024

var (
	// IP:PORT, optionally prefixed by http://, https:// or socks5://
	listLineRegex = regexp.MustCompile(`(?:(socks5|https?)://)?(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}):(\d{2,5})`)
	ipRegex       = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
	portRegex     = regexp.MustCompile(`^\d{2,5}$`)
)

// Origin is one proxy-list endpoint.
type Origin interface {
	Name() string
	Fetch(ctx context.Context) ([]models.ProxyCandidate, error)
}

func newListClient() *http.Client {
	return &http.Client{
		Timeout: 20 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func fetchBody(ctx context.Context, client *http.Client, url, userAgent string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// TextListOrigin reads newline separated ip:port lists.
type TextListOrigin struct {
	URL       string
	UserAgent string
	client    *http.Client
}

func NewTextListOrigin(url, userAgent string) *TextListOrigin {
	return &TextListOrigin{URL: url, UserAgent: userAgent, client: newListClient()}
}

func (o *TextListOrigin) Name() string { return o.URL }

func (o *TextListOrigin) Fetch(ctx context.Context) ([]models.ProxyCandidate, error) {
	body, err := fetchBody(ctx, o.client, o.URL, o.UserAgent)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return ParseList(io.LimitReader(body, maxListBytes), o.Name())
}

// ParseList extracts candidates from a plain-text list, skipping blank
// lines, comments and anything that is not an ip:port pair.
func ParseList(r io.Reader, origin string) ([]models.ProxyCandidate, error) {
	candidates := make([]models.ProxyCandidate, 0)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		matches := listLineRegex.FindStringSubmatch(line)
		if len(matches) < 4 {
			continue
		}

		protocol := "http"
		if matches[1] == "socks5" {
			protocol = "socks5"
		}

		candidates = append(candidates, models.ProxyCandidate{
			Address:  fmt.Sprintf("%s:%s", matches[2], matches[3]),
			Protocol: protocol,
			Origin:   origin,
		})
	}

	if err := scanner.Err(); err != nil {
		return candidates, fmt.Errorf("scan: %w", err)
	}

	return candidates, nil
}

// HTMLTableOrigin reads proxy tables rendered as HTML, where the first two
// cells of each row hold the IP and the port.
type HTMLTableOrigin struct {
	URL         string
	RowSelector string
	Protocol    string
	UserAgent   string
	client      *http.Client
}

func NewHTMLTableOrigin(url, rowSelector, protocol, userAgent string) *HTMLTableOrigin {
	if rowSelector == "" {
		rowSelector = "table tbody tr"
	}
	if protocol == "" {
		protocol = "http"
	}
	return &HTMLTableOrigin{
		URL:         url,
		RowSelector: rowSelector,
		Protocol:    protocol,
		UserAgent:   userAgent,
		client:      newListClient(),
	}
}

func (o *HTMLTableOrigin) Name() string { return o.URL }

func (o *HTMLTableOrigin) Fetch(ctx context.Context) ([]models.ProxyCandidate, error) {
	body, err := fetchBody(ctx, o.client, o.URL, o.UserAgent)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(body, maxListBytes))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	var candidates []models.ProxyCandidate
	doc.Find(o.RowSelector).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		ip := strings.TrimSpace(cells.Eq(0).Text())
		port := strings.TrimSpace(cells.Eq(1).Text())

		if !ipRegex.MatchString(ip) || !portRegex.MatchString(port) {
			return
		}

		candidates = append(candidates, models.ProxyCandidate{
			Address:  ip + ":" + port,
			Protocol: o.Protocol,
			Origin:   o.Name(),
		})
	})

	return candidates, nil
}

// StaticOrigin serves a fixed list, e.g. proxies supplied through config.
type StaticOrigin struct {
	Addresses []string
}

func (o *StaticOrigin) Name() string { return "static" }

func (o *StaticOrigin) Fetch(ctx context.Context) ([]models.ProxyCandidate, error) {
	return ParseList(strings.NewReader(strings.Join(o.Addresses, "\n")), o.Name())
}
