// Package download issues all outbound HTTP traffic of the harvester:
// direct fetches, translation requests, crawls, feed polls, API queries and
// mailbox scans. It enforces per-domain delays and robots.txt policy and
// caches recent responses.
package download

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"harvester/config"
	"harvester/models"
	"harvester/ratelimit"
	"harvester/translator"
)

// DeliveryChecker is the slice of the delivery-history store the feed
// operator needs for entry-level dedup.
type DeliveryChecker interface {
	URLAlreadyDelivered(ctx context.Context, url string) (bool, error)
	LastUploadTime(ctx context.Context, zederID int, zederInstance string) (time.Time, error)
}

// Options are the command-line switches that alter download behavior.
type Options struct {
	ForceDownloads  bool
	IgnoreRobotsTxt bool
}

// Manager owns the shared download infrastructure. Safe for concurrent use.
type Manager struct {
	global     *config.GlobalParams
	items      *models.ItemManager
	limiter    *ratelimit.DomainLimiter
	robots     *robotsPolicy
	cache      *responseCache
	translator *translator.Client
	httpClient *http.Client
	logger     *slog.Logger
	opts       Options
}

func NewManager(global *config.GlobalParams, items *models.ItemManager, opts Options, logger *slog.Logger) *Manager {
	return &Manager{
		global:  global,
		items:   items,
		limiter: ratelimit.NewDomainLimiter(&global.DownloadDelay),
		robots:  newRobotsPolicy(global.TimeoutDownloadRequest, !opts.IgnoreRobotsTxt, logger),
		cache:   newResponseCache(global.ResponseCacheTTL),
		translator: translator.NewClient(global.TranslationServerURL,
			global.TimeoutDownloadRequest, logger),
		httpClient: &http.Client{Timeout: global.TimeoutDownloadRequest},
		logger:     logger,
		opts:       opts,
	}
}

// NewItem assigns the next harvestable item id for the journal.
func (m *Manager) NewItem(journal *config.JournalParams, url string) models.HarvestableItem {
	return m.items.NewItem(journal, url)
}

// CacheHits returns the number of responses served from the cache.
func (m *Manager) CacheHits() uint64 {
	return m.cache.Hits()
}

// DirectDownload fetches the item's URL. In translated mode the URL is
// handed to the translation service and its JSON is returned as the body.
// All failures are reported in the Result.
func (m *Manager) DirectDownload(ctx context.Context, item models.HarvestableItem, userAgent string, mode Mode) *Result {
	result := &Result{Item: item, Mode: mode}

	fetch := func() ([]byte, error) {
		if mode == ModeTranslated {
			return m.translate(ctx, item.URL, userAgent)
		}
		return m.fetchRaw(ctx, item.URL, userAgent)
	}

	if m.opts.ForceDownloads {
		result.Body, result.Error = fetch()
		return result
	}

	body, err, cached := m.cache.get(item.URL, mode, fetch)
	result.Body, result.Error, result.FromCache = body, err, cached
	return result
}

// fetchRaw performs one rate-limited, robots-checked GET.
func (m *Manager) fetchRaw(ctx context.Context, rawURL, userAgent string) ([]byte, error) {
	target, err := originOf(rawURL)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	// The first request to a domain fetches robots.txt; a Crawl-delay
	// permanently raises the delay floor for the domain.
	if delay := m.robots.CrawlDelay(ctx, target, userAgent); delay > 0 {
		m.limiter.RaiseFloor(target.Host, delay)
	}
	if !m.robots.Allowed(ctx, target, userAgent) {
		return nil, ErrRobotsDisallowed
	}

	release, err := m.limiter.Acquire(ctx, target.Host)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	return body, nil
}

// translate rate-limits against the target origin (the translation server
// fetches the page on our behalf) and posts the URL to the service.
func (m *Manager) translate(ctx context.Context, rawURL, userAgent string) ([]byte, error) {
	target, err := originOf(rawURL)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	if delay := m.robots.CrawlDelay(ctx, target, userAgent); delay > 0 {
		m.limiter.RaiseFloor(target.Host, delay)
	}
	if !m.robots.Allowed(ctx, target, userAgent) {
		return nil, ErrRobotsDisallowed
	}

	release, err := m.limiter.Acquire(ctx, target.Host)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer release()

	body, err := m.translator.Translate(ctx, rawURL)
	if err != nil {
		return nil, &TranslationError{Err: err}
	}
	if len(body) == 0 {
		return nil, &TranslationError{Err: errors.New("empty translation response")}
	}
	return body, nil
}
