package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChecker is a canned delivery-history store for feed tests.
type fakeChecker struct {
	delivered  map[string]bool
	lastUpload time.Time
}

func (c *fakeChecker) URLAlreadyDelivered(_ context.Context, url string) (bool, error) {
	return c.delivered[url], nil
}

func (c *fakeChecker) LastUploadTime(context.Context, int, string) (time.Time, error) {
	return c.lastUpload, nil
}

type feedLink struct {
	URL  string
	Date time.Time
}

func rssFeed(links ...feedLink) string {
	items := ""
	for _, link := range links {
		items += fmt.Sprintf(`<item><title>x</title><link>%s</link><pubDate>%s</pubDate></item>`,
			link.URL, link.Date.Format(time.RFC1123Z))
	}
	return `<?xml version="1.0"?><rss version="2.0"><channel><title>Test</title>` + items + `</channel></rss>`
}

func TestFeedSkipsDeliveredAndOutdated(t *testing.T) {
	now := time.Now()
	var feedBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			return
		}
		fmt.Fprint(w, feedBody)
	}))
	defer server.Close()

	feedBody = rssFeed(
		feedLink{URL: server.URL + "/article/fresh", Date: now.Add(-24 * time.Hour)},
		feedLink{URL: server.URL + "/article/delivered", Date: now.Add(-48 * time.Hour)},
		feedLink{URL: server.URL + "/article/ancient", Date: now.AddDate(0, 0, -400)},
	)

	journal := testJournal(server.URL + "/feed")
	journal.UpdateWindowDays = 30

	checker := &fakeChecker{
		delivered:  map[string]bool{server.URL + "/article/delivered": true},
		lastUpload: now,
	}

	m := testManager(t, testGlobal(""), Options{})
	entry := m.NewItem(journal, journal.EntryPointURL)

	result := m.Feed(context.Background(), entry, "tester", checker)
	require.NoError(t, result.Error)
	require.Len(t, result.Items, 1)
	assert.Equal(t, server.URL+"/article/fresh", result.Items[0].URL)
	assert.Equal(t, 1, result.NumSkippedDelivered)
	assert.Equal(t, 1, result.NumSkippedOutdated)
}

func TestFeedForceDownloadsIgnoresDeliveryHistory(t *testing.T) {
	now := time.Now()
	var feedBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			return
		}
		fmt.Fprint(w, feedBody)
	}))
	defer server.Close()

	feedBody = rssFeed(feedLink{URL: server.URL + "/article/delivered", Date: now})

	journal := testJournal(server.URL + "/feed")
	checker := &fakeChecker{delivered: map[string]bool{server.URL + "/article/delivered": true}}

	m := testManager(t, testGlobal(""), Options{ForceDownloads: true})
	entry := m.NewItem(journal, journal.EntryPointURL)

	result := m.Feed(context.Background(), entry, "tester", checker)
	require.NoError(t, result.Error)
	assert.Len(t, result.Items, 1)
	assert.Zero(t, result.NumSkippedDelivered)
}

func TestFeedPagedRange(t *testing.T) {
	now := time.Now()
	var pagesServed []string
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			return
		}
		pagesServed = append(pagesServed, r.URL.RawQuery)
		fmt.Fprint(w, rssFeed(feedLink{
			URL:  server.URL + "/article/" + r.URL.Query().Get("page_num"),
			Date: now,
		}))
	}))
	defer server.Close()

	journal := testJournal(server.URL + "/feed")
	journal.PagedRSS = true
	journal.PagedRSSSize = 10
	journal.PagedRSSRange = []int{1, 2}

	m := testManager(t, testGlobal(""), Options{})
	entry := m.NewItem(journal, journal.EntryPointURL)

	result := m.Feed(context.Background(), entry, "tester", &fakeChecker{})
	require.NoError(t, result.Error)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, []string{"page_size=10&page_num=1", "page_size=10&page_num=2"}, pagesServed)
}
