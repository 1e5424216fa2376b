package download

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/config"
	"harvester/models"
)

func testGlobal(translationURL string) *config.GlobalParams {
	return &config.GlobalParams{
		TranslationServerURL:   translationURL,
		TimeoutCrawlOperation:  10 * time.Second,
		TimeoutDownloadRequest: 5 * time.Second,
		ResponseCacheTTL:       time.Minute,
		DownloadDelay: config.DownloadDelayParams{
			DefaultDelay:     time.Millisecond,
			MaxDelay:         time.Millisecond,
			PerDomainDefault: map[string]time.Duration{},
			PerDomainMax:     map[string]time.Duration{},
		},
	}
}

func testManager(t *testing.T, global *config.GlobalParams, opts Options) *Manager {
	t.Helper()
	return NewManager(global, models.NewItemManager(), opts,
		slog.New(slog.NewTextHandler(testWriter{t}, nil)))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func testJournal(url string) *config.JournalParams {
	return &config.JournalParams{
		Name:          "Journal of Testing",
		ZederID:       42,
		ZederInstance: "ixtheo",
		EntryPointURL: url,
	}
}

func TestDirectDownloadRawCaches(t *testing.T) {
	var fetches atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			return
		}
		fetches.Add(1)
		w.Write([]byte("page body"))
	}))
	defer server.Close()

	m := testManager(t, testGlobal(""), Options{})
	journal := testJournal(server.URL)
	item := m.NewItem(journal, server.URL+"/article")

	first := m.DirectDownload(context.Background(), item, "tester", ModeRaw)
	require.True(t, first.Successful(), "error: %v", first.Error)
	assert.Equal(t, []byte("page body"), first.Body)
	assert.False(t, first.FromCache)

	second := m.DirectDownload(context.Background(), item, "tester", ModeRaw)
	require.True(t, second.Successful())
	assert.True(t, second.FromCache)
	assert.EqualValues(t, 1, fetches.Load())
	assert.EqualValues(t, 1, m.CacheHits())
}

func TestDirectDownloadForceBypassesCache(t *testing.T) {
	var fetches atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			return
		}
		fetches.Add(1)
		w.Write([]byte("page body"))
	}))
	defer server.Close()

	m := testManager(t, testGlobal(""), Options{ForceDownloads: true})
	item := m.NewItem(testJournal(server.URL), server.URL+"/article")

	m.DirectDownload(context.Background(), item, "tester", ModeRaw)
	m.DirectDownload(context.Background(), item, "tester", ModeRaw)
	assert.EqualValues(t, 2, fetches.Load())
	assert.Zero(t, m.CacheHits())
}

func TestDirectDownloadHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	m := testManager(t, testGlobal(""), Options{})
	item := m.NewItem(testJournal(server.URL), server.URL+"/gone")

	result := m.DirectDownload(context.Background(), item, "tester", ModeRaw)
	assert.False(t, result.Successful())
	var httpErr *HTTPError
	require.ErrorAs(t, result.Error, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}

func TestDirectDownloadTranslated(t *testing.T) {
	translation := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`[{"itemType":"journalArticle","title":"On Testing"}]`))
	}))
	defer translation.Close()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer target.Close()

	m := testManager(t, testGlobal(translation.URL), Options{})
	item := m.NewItem(testJournal(target.URL), target.URL+"/article")

	result := m.DirectDownload(context.Background(), item, "tester", ModeTranslated)
	require.True(t, result.Successful(), "error: %v", result.Error)
	assert.Contains(t, string(result.Body), "On Testing")
}

func TestDirectDownloadTranslationFailure(t *testing.T) {
	translation := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer translation.Close()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer target.Close()

	m := testManager(t, testGlobal(translation.URL), Options{})
	item := m.NewItem(testJournal(target.URL), target.URL+"/article")

	result := m.DirectDownload(context.Background(), item, "tester", ModeTranslated)
	assert.False(t, result.Successful())
	var translationErr *TranslationError
	assert.ErrorAs(t, result.Error, &translationErr)
}

func TestRobotsDisallow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		w.Write([]byte("secret"))
	}))
	defer server.Close()

	m := testManager(t, testGlobal(""), Options{})
	item := m.NewItem(testJournal(server.URL), server.URL+"/private/report")

	result := m.DirectDownload(context.Background(), item, "tester", ModeRaw)
	assert.False(t, result.Successful())
	assert.True(t, errors.Is(result.Error, ErrRobotsDisallowed))

	// With enforcement off the same URL downloads fine.
	m = testManager(t, testGlobal(""), Options{IgnoreRobotsTxt: true})
	item = m.NewItem(testJournal(server.URL), server.URL+"/private/report")
	result = m.DirectDownload(context.Background(), item, "tester", ModeRaw)
	require.True(t, result.Successful(), "error: %v", result.Error)
	assert.Equal(t, []byte("secret"), result.Body)
}
