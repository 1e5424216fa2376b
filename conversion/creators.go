package conversion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"harvester/config"
	"harvester/models"
)

// Academic titles and generational affixes recognized during name
// normalization.
var (
	creatorTitles  = []string{"Dr.", "Prof.", "PD", "O.P.", "S.J.", "OSB", "Rev."}
	creatorAffixes = []string{"Jr.", "Sr.", "II", "III", "IV"}
)

// normalizeCreators splits names into their components, strips blocklisted
// tokens, applies the Spanish last-name heuristic and looks up GND
// identifiers through the group's author lookup URL.
func (e *Engine) normalizeCreators(ctx context.Context, record *models.MetadataRecord, group *config.GroupParams) {
	spanish := contains(record.Languages, "spa")

	kept := record.Creators[:0]
	for _, creator := range record.Creators {
		normalizeCreator(&creator, spanish)
		if e.maps.IsBlockedAuthor(creator.LastName, creator.FirstName) {
			continue
		}
		if creator.LastName == "" {
			continue
		}
		if group != nil && group.AuthorLookupURL != "" && !isInitial(creator.LastName) {
			e.authors.Lookup(ctx, group.AuthorLookupURL, &creator)
		}
		kept = append(kept, creator)
	}
	record.Creators = kept
}

func normalizeCreator(creator *models.Creator, spanish bool) {
	tokens := strings.Fields(creator.FirstName)

	var firstTokens []string
	for _, token := range tokens {
		switch {
		case containsToken(creatorTitles, token):
			creator.Title = appendToken(creator.Title, token)
		case containsToken(creatorAffixes, token):
			creator.Affix = appendToken(creator.Affix, token)
		default:
			firstTokens = append(firstTokens, token)
		}
	}

	// Spanish names carry a two-component last name; the token in front of
	// the recorded last name belongs to it.
	if spanish && len(firstTokens) >= 2 && !strings.Contains(creator.LastName, " ") {
		last := firstTokens[len(firstTokens)-1]
		if utf8.RuneCountInString(last) > 1 && isUpperInitial(last) {
			creator.LastName = last + " " + creator.LastName
			firstTokens = firstTokens[:len(firstTokens)-1]
		}
	}

	creator.FirstName = strings.Join(firstTokens, " ")
	creator.LastName = strings.TrimSpace(creator.LastName)
}

func appendToken(existing, token string) string {
	if existing == "" {
		return token
	}
	return existing + " " + token
}

func containsToken(list []string, token string) bool {
	for _, t := range list {
		if strings.EqualFold(t, strings.TrimSuffix(token, ",")) {
			return true
		}
	}
	return false
}

// isInitial reports whether a last name is a bare single-letter initial,
// which is never worth an authority lookup.
func isInitial(lastName string) bool {
	trimmed := strings.TrimSuffix(lastName, ".")
	return utf8.RuneCountInString(trimmed) == 1
}

func isUpperInitial(token string) bool {
	r, _ := utf8.DecodeRuneInString(token)
	return unicode.IsUpper(r)
}

// AuthorLookup resolves GND and PPN identifiers for creators by name.
type AuthorLookup struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func NewAuthorLookup(logger *slog.Logger) *AuthorLookup {
	return &AuthorLookup{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Lookup queries the group's author lookup endpoint. Misses and failures
// leave the creator untouched.
func (l *AuthorLookup) Lookup(ctx context.Context, lookupURL string, creator *models.Creator) {
	name := creator.LastName
	if creator.FirstName != "" {
		name = creator.LastName + ", " + creator.FirstName
	}
	requestURL := lookupURL + "?name=" + url.QueryEscape(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		l.logger.DebugContext(ctx, "author lookup failed", "name", name, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	var result struct {
		GND string `json:"gnd"`
		PPN string `json:"ppn"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		l.logger.DebugContext(ctx, "author lookup returned malformed body",
			"name", name, "error", fmt.Errorf("decode: %w", err))
		return
	}
	creator.GND = result.GND
	creator.PPN = result.PPN
}
