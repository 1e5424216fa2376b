package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// robotsPolicy fetches and caches one robots.txt per origin for the
// lifetime of the process. When enforcement is disabled the rules are still
// fetched so Crawl-delay can raise the rate-limit floor.
type robotsPolicy struct {
	httpClient *http.Client
	logger     *slog.Logger
	enforce    bool

	mu     sync.Mutex
	groups map[string]*robotstxt.RobotsData
}

func newRobotsPolicy(timeout time.Duration, enforce bool, logger *slog.Logger) *robotsPolicy {
	return &robotsPolicy{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		enforce:    enforce,
		groups:     make(map[string]*robotstxt.RobotsData),
	}
}

func (p *robotsPolicy) data(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	origin := target.Scheme + "://" + target.Host

	p.mu.Lock()
	defer p.mu.Unlock()
	if data, ok := p.groups[origin]; ok {
		return data
	}

	data := p.fetch(ctx, origin)
	p.groups[origin] = data
	return data
}

func (p *robotsPolicy) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return allowAll()
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.DebugContext(ctx, "robots.txt fetch failed", "origin", origin, "error", err)
		return allowAll()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return allowAll()
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		p.logger.DebugContext(ctx, "robots.txt parse failed", "origin", origin, "error", err)
		return allowAll()
	}
	return data
}

func allowAll() *robotstxt.RobotsData {
	data, _ := robotstxt.FromString("")
	return data
}

// Allowed reports whether the user agent may fetch the URL. Always true
// when enforcement is off.
func (p *robotsPolicy) Allowed(ctx context.Context, target *url.URL, userAgent string) bool {
	data := p.data(ctx, target)
	if !p.enforce {
		return true
	}
	return data.FindGroup(userAgent).Test(target.RequestURI())
}

// CrawlDelay returns the Crawl-delay for the user agent, or zero.
func (p *robotsPolicy) CrawlDelay(ctx context.Context, target *url.URL, userAgent string) time.Duration {
	return p.data(ctx, target).FindGroup(userAgent).CrawlDelay
}

// originOf extracts the host for rate limiting, failing on relative URLs.
func originOf(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("url %q has no host", rawURL)
	}
	return parsed, nil
}
