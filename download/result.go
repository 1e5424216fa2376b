package download

import (
	"errors"
	"fmt"

	"harvester/models"
)

// Mode selects what DirectDownload returns: the page body as served, or the
// translation server's JSON for the page URL.
type Mode int

const (
	ModeRaw Mode = iota
	ModeTranslated
)

func (m Mode) String() string {
	if m == ModeTranslated {
		return "TRANSLATED"
	}
	return "RAW"
}

// NetworkError is a transport-level failure (DNS, TCP, TLS, timeout).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response; the code is preserved for the caller.
type HTTPError struct {
	Code int
}

func (e *HTTPError) Error() string { return fmt.Sprintf("http error %d", e.Code) }

// TranslationError is a translation-service failure, including the empty
// result case.
type TranslationError struct {
	Err error
}

func (e *TranslationError) Error() string { return fmt.Sprintf("translation error: %v", e.Err) }
func (e *TranslationError) Unwrap() error { return e.Err }

// ErrRobotsDisallowed marks URLs the origin's robots.txt forbids.
var ErrRobotsDisallowed = errors.New("request disallowed by robots.txt")

// Result is the outcome of one direct download. Failures are carried here,
// never raised.
type Result struct {
	Item      models.HarvestableItem
	Mode      Mode
	Body      []byte
	Error     error
	FromCache bool
}

// Successful reports whether the download produced a usable body.
func (r *Result) Successful() bool {
	return r.Error == nil && len(r.Body) > 0
}

// CrawlResult is the outcome of one crawl operation.
type CrawlResult struct {
	Items                  []models.HarvestableItem
	NumCrawledSuccessful   int
	NumCrawledUnsuccessful int
	NumSkippedSinceRegex   int
	Error                  error
}

// FeedResult is the outcome of one feed poll.
type FeedResult struct {
	Items               []models.HarvestableItem
	NumSkippedDelivered int
	NumSkippedOutdated  int
	Error               error
}

// APIQueryResult is the outcome of one bibliographic API query.
type APIQueryResult struct {
	Items []models.HarvestableItem
	Error error
}

// EmailResult is the outcome of one mailbox scan.
type EmailResult struct {
	Items              []models.HarvestableItem
	NumMessagesScanned int
	NumMessagesMatched int
	Error              error
}
