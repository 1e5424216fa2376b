package download

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mmcdole/gofeed"

	"harvester/models"
)

// Feed fetches the item's URL as an RSS/Atom feed and emits one harvestable
// item per entry whose link has not already been delivered. Entries
// published before the update-window cutoff are skipped. Journals with the
// paged-feed extension enabled take the paged path instead.
func (m *Manager) Feed(ctx context.Context, item models.HarvestableItem, userAgent string, checker DeliveryChecker) *FeedResult {
	journal := item.Journal
	result := &FeedResult{}

	var pageURLs []string
	if journal.PagedRSS {
		urls, err := m.pagedFeedURLs(ctx, item.URL, userAgent, journal.PagedRSSSize, journal.PagedRSSRange)
		if err != nil {
			result.Error = err
			return result
		}
		pageURLs = urls
	} else {
		pageURLs = []string{item.URL}
	}

	cutoff := m.updateWindowCutoff(ctx, journal.ZederID, journal.ZederInstance, journal.UpdateWindowDays, checker)

	parser := gofeed.NewParser()
	for _, pageURL := range pageURLs {
		body, err := m.fetchRaw(ctx, pageURL, userAgent)
		if err != nil {
			result.Error = err
			return result
		}
		feed, err := parser.ParseString(string(body))
		if err != nil {
			result.Error = fmt.Errorf("failed to parse feed %s: %w", pageURL, err)
			return result
		}

		for _, entry := range feed.Items {
			if entry.Link == "" {
				continue
			}
			if !cutoff.IsZero() && entry.PublishedParsed != nil && entry.PublishedParsed.Before(cutoff) {
				result.NumSkippedOutdated++
				continue
			}
			delivered, err := checker.URLAlreadyDelivered(ctx, entry.Link)
			if err != nil {
				result.Error = fmt.Errorf("delivery check failed for %s: %w", entry.Link, err)
				return result
			}
			if delivered && !m.opts.ForceDownloads {
				result.NumSkippedDelivered++
				continue
			}
			result.Items = append(result.Items, m.items.NewItem(journal, entry.Link))
		}
	}

	return result
}

// updateWindowCutoff derives the oldest publication date still worth
// harvesting from the journal's last upload time and update window.
func (m *Manager) updateWindowCutoff(ctx context.Context, zederID int, instance string, windowDays int, checker DeliveryChecker) time.Time {
	if windowDays <= 0 {
		return time.Time{}
	}
	last, err := checker.LastUploadTime(ctx, zederID, instance)
	if err != nil || last.IsZero() {
		return time.Time{}
	}
	return last.AddDate(0, 0, -windowDays)
}

// pagedFeedURLs expands a paged feed into the per-page URLs to fetch. When
// no explicit page range is configured the total is probed from the feed's
// total_pages endpoint.
func (m *Manager) pagedFeedURLs(ctx context.Context, feedURL, userAgent string, pageSize int, pageRange []int) ([]string, error) {
	pages := pageRange
	if len(pages) == 0 {
		total, err := m.probeTotalPages(ctx, feedURL, userAgent)
		if err != nil {
			return nil, err
		}
		for page := 1; page <= total; page++ {
			pages = append(pages, page)
		}
	}

	urls := make([]string, 0, len(pages))
	for _, page := range pages {
		urls = append(urls, feedURL+"?page_size="+strconv.Itoa(pageSize)+"&page_num="+strconv.Itoa(page))
	}
	return urls, nil
}

func (m *Manager) probeTotalPages(ctx context.Context, feedURL, userAgent string) (int, error) {
	body, err := m.fetchRaw(ctx, feedURL+"?total_pages", userAgent)
	if err != nil {
		return 0, fmt.Errorf("failed to probe total pages: %w", err)
	}
	var probe struct {
		TotalPages int `json:"total_pages"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return 0, fmt.Errorf("failed to decode total pages probe: %w", err)
	}
	if probe.TotalPages < 1 {
		return 0, fmt.Errorf("total pages probe returned %d", probe.TotalPages)
	}
	return probe.TotalPages, nil
}
