package download

import (
	"bytes"
	"context"
	"net/url"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"harvester/models"
)

const crawlFetchParallelism = 4

// Crawl walks pages starting at the item's URL, following links that match
// the journal's crawl_url_regex up to max_crawl_depth, and emits one
// harvestable item per discovered link matching extraction_regex. Emitted
// items are downloaded in translated mode by the dispatcher. The whole
// operation runs under the crawl timeout; on expiry the items accumulated
// so far are returned.
func (m *Manager) Crawl(ctx context.Context, item models.HarvestableItem, userAgent string) *CrawlResult {
	journal := item.Journal
	result := &CrawlResult{}

	ctx, cancel := context.WithTimeout(ctx, m.global.TimeoutCrawlOperation)
	defer cancel()

	visited := map[string]bool{item.URL: true}
	emitted := map[string]bool{}
	frontier := []string{item.URL}

	for depth := 0; depth < journal.MaxCrawlDepth && len(frontier) > 0; depth++ {
		var mu sync.Mutex
		var next []string

		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(crawlFetchParallelism)

		for _, pageURL := range frontier {
			group.Go(func() error {
				body, err := m.fetchRaw(groupCtx, pageURL, userAgent)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.NumCrawledUnsuccessful++
					// A failing entry page yields an empty result with the
					// error recorded; deeper failures are only counted.
					if pageURL == item.URL {
						result.Error = err
					}
					return nil
				}

				for _, link := range extractLinks(pageURL, body) {
					if journal.ExtractionRegex.MatchString(link) {
						if !emitted[link] {
							emitted[link] = true
							result.Items = append(result.Items, m.items.NewItem(journal, link))
							result.NumCrawledSuccessful++
						}
						continue
					}
					if visited[link] {
						continue
					}
					visited[link] = true
					if journal.CrawlURLRegex != nil && journal.CrawlURLRegex.MatchString(link) {
						next = append(next, link)
					} else {
						result.NumSkippedSinceRegex++
					}
				}
				return nil
			})
		}
		_ = group.Wait()

		if ctx.Err() != nil {
			break
		}
		frontier = next
	}

	return result
}

// extractLinks pulls all anchor hrefs out of the page and resolves them
// against the page URL.
func extractLinks(pageURL string, body []byte) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		resolved.Fragment = ""
		if resolved.Scheme == "http" || resolved.Scheme == "https" {
			links = append(links, resolved.String())
		}
	})
	return links
}
