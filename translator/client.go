// Package translator wraps the external translation service that turns a
// web URL into structured bibliographic JSON, and implements the
// post-processing filters applied to the returned items.
package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Item is one translation-service result object in the well-known zotero
// shape. Values are kept dynamic; the conversion engine extracts the typed
// fields it needs.
type Item map[string]any

// StatusError is returned when the translation server answers non-2xx.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("translation server returned status %d", e.Code)
}

// Client posts URLs to the translation server.
type Client struct {
	serverURL  string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(serverURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Translate sends the URL as a plain-text body and returns the raw JSON
// array of items. Parsing and post-processing happen in the conversion
// engine so the blob can be cached and logged as received.
func (c *Client) Translate(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL, strings.NewReader(url))
	if err != nil {
		return nil, fmt.Errorf("failed to create translation request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("translation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation response: %w", err)
	}

	c.logger.DebugContext(ctx, "translated url", "url", url, "bytes", len(body))
	return body, nil
}

// Parse decodes a translation response and folds standalone note entries
// into the preceding item.
func Parse(body []byte) ([]Item, error) {
	var items []Item
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("failed to decode translation response: %w", err)
	}
	return FoldNotes(items), nil
}

// FoldNotes merges standalone note items into the preceding item's notes
// array, mirroring how the translation service emits editorial notes as
// separate entries.
func FoldNotes(items []Item) []Item {
	var out []Item
	for _, item := range items {
		itemType, _ := item["itemType"].(string)
		if itemType == "note" && len(out) > 0 {
			note, _ := item["note"].(string)
			if note == "" {
				continue
			}
			prev := out[len(out)-1]
			notes, _ := prev["notes"].([]any)
			prev["notes"] = append(notes, map[string]any{"note": note})
			continue
		}
		out = append(out, item)
	}
	return out
}
