package translator

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTranslatePostsURLAsPlainText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "https://example.org/article", string(body))
		assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
		w.Write([]byte(`[{"itemType":"journalArticle","title":"On Testing"}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, testLogger())
	body, err := client.Translate(context.Background(), "https://example.org/article")
	require.NoError(t, err)
	assert.Contains(t, string(body), "On Testing")
}

func TestTranslateStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no translator", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, 5*time.Second, testLogger())
	_, err := client.Translate(context.Background(), "https://example.org/article")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"not":"an array"`))
	require.Error(t, err)
}

func TestFoldNotes(t *testing.T) {
	items, err := Parse([]byte(`[
		{"itemType":"journalArticle","title":"First"},
		{"itemType":"note","note":"Editorial remark"},
		{"itemType":"note","note":""},
		{"itemType":"journalArticle","title":"Second"}
	]`))
	require.NoError(t, err)
	require.Len(t, items, 2)

	notes, ok := items[0]["notes"].([]any)
	require.True(t, ok)
	require.Len(t, notes, 1)
	note := notes[0].(map[string]any)
	assert.Equal(t, "Editorial remark", note["note"])

	_, hasNotes := items[1]["notes"]
	assert.False(t, hasNotes)
}

func TestFoldNotesLeadingNoteKept(t *testing.T) {
	// A note with nothing in front of it cannot be folded anywhere.
	items := FoldNotes([]Item{{"itemType": "note", "note": "orphan"}})
	require.Len(t, items, 1)
	assert.Equal(t, "note", items[0]["itemType"])
}
