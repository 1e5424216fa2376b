package conversion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/config"
	"harvester/marc"
	"harvester/models"
)

// fakeLookup is a canned delivery-history store for engine tests.
type fakeLookup struct {
	delivered bool
	err       error
}

func (l *fakeLookup) RecordAlreadyDelivered(context.Context, []string, string) (bool, error) {
	return l.delivered, l.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Global: config.GlobalParams{},
		Groups: map[string]*config.GroupParams{
			"IxTheo": {Name: "IxTheo", ISIL: "DE-Tue135", OutputFolder: "ixtheo"},
		},
		Journals: nil,
	}
}

func engineJournal() *config.JournalParams {
	return &config.JournalParams{
		Name:          "Journal of Testing",
		ZederID:       42,
		ZederInstance: "ixtheo",
		Group:         "IxTheo",
		OnlineISSN:    "1234-5678",
		OnlinePPN:     "987654321",
	}
}

func testEngine(t *testing.T, cfg *config.Config, store DeliveryLookup, opts Options) *Engine {
	t.Helper()
	maps, err := LoadEnhancementMaps("")
	require.NoError(t, err)
	return NewEngine(cfg, store, maps, opts, testLogger())
}

func testItem(journal *config.JournalParams) models.HarvestableItem {
	return models.HarvestableItem{ID: 1, URL: journal.EntryPointURL, Journal: journal}
}

const articleBlob = `[{
	"itemType": "journalArticle",
	"title": "Faith and Reason",
	"abstractNote": "An essay.",
	"date": "2026-01-03",
	"volume": "12",
	"issue": "3",
	"pages": "5-20",
	"DOI": "10.1000/jot.2026.3.5",
	"url": "https://journals.example.org/jot/5",
	"language": "en",
	"creators": [{"firstName": "Jane", "lastName": "Doe", "creatorType": "author"}],
	"tags": [{"tag": "faith"}]
}]`

func TestConvertProducesRecord(t *testing.T) {
	journal := engineJournal()
	e := testEngine(t, testConfig(), &fakeLookup{}, Options{})

	outcomes := e.Convert(context.Background(), testItem(journal), []byte(articleBlob))
	require.Len(t, outcomes, 1)
	outcome := outcomes[0]
	require.NoError(t, outcome.Error)
	require.NotNil(t, outcome.Record)
	record := outcome.Record

	assert.Equal(t, "Faith and Reason", record.MainTitle())

	creator := record.FirstField("100")
	require.NotNil(t, creator)
	assert.Equal(t, "Doe, Jane", creator.Subfield('a'))
	assert.Equal(t, "aut", creator.Subfield('4'))

	superior := record.FirstField("773")
	require.NotNil(t, superior)
	assert.Equal(t, "Journal of Testing", superior.Subfield('t'))
	assert.Equal(t, "1234-5678", superior.Subfield('x'))
	assert.Equal(t, "(DE-627)987654321", superior.Subfield('w'))

	compound := record.FirstField("936")
	require.NotNil(t, compound)
	assert.Equal(t, "12", compound.Subfield('d'))
	assert.Equal(t, "3", compound.Subfield('e'))
	assert.Equal(t, "5-20", compound.Subfield('h'))
	assert.Equal(t, "2026", compound.Subfield('j'))

	lang := record.FirstField("041")
	require.NotNil(t, lang)
	assert.Equal(t, "eng", lang.Subfield('a'))

	doi := record.FirstField("024")
	require.NotNil(t, doi)
	assert.Equal(t, "10.1000/jot.2026.3.5", doi.Subfield('a'))

	isil := record.FirstField("852")
	require.NotNil(t, isil)
	assert.Equal(t, "DE-Tue135", isil.Subfield('a'))

	// Identifier: <group>#<date>#<hash>, where the hash excludes the
	// identifier itself.
	id := record.ControlNumber()
	parts := strings.Split(id, "#")
	require.Len(t, parts, 3)
	assert.Equal(t, "IxTheo", parts[0])
	assert.Equal(t, time.Now().Format("2006-01-02"), parts[1])
	assert.Equal(t, record.Checksum(), parts[2])

	zid := record.FirstField(marc.TagZID)
	require.NotNil(t, zid)
	assert.Equal(t, "42:ixtheo", zid.ControlValue)
}

func TestConvertBadJSON(t *testing.T) {
	e := testEngine(t, testConfig(), &fakeLookup{}, Options{})
	outcomes := e.Convert(context.Background(), testItem(engineJournal()), []byte(`{`))
	require.Len(t, outcomes, 1)
	var convErr *ConversionError
	require.ErrorAs(t, outcomes[0].Error, &convErr)
	assert.Contains(t, convErr.Reason, "bad json")
}

func TestConvertSkipsUndesiredItemTypes(t *testing.T) {
	e := testEngine(t, testConfig(), &fakeLookup{}, Options{})
	blob := `[{"itemType": "webpage", "title": "Landing page", "url": "https://example.org"}]`
	outcomes := e.Convert(context.Background(), testItem(engineJournal()), []byte(blob))
	require.Len(t, outcomes, 1)
	assert.Equal(t, SkipUndesiredItemType, outcomes[0].Skip)
}

func TestConvertOnlineFirstAndEarlyView(t *testing.T) {
	tests := []struct {
		name     string
		volume   string
		issue    string
		doi      string
		always   bool
		wantSkip SkipReason
	}{
		{name: "no volume or issue and no doi", wantSkip: SkipOnlineFirst},
		{name: "no volume or issue but doi", doi: "10.1000/x", wantSkip: SkipNone},
		{name: "skip online first always", doi: "10.1000/x", always: true, wantSkip: SkipOnlineFirst},
		{name: "early view placeholder", volume: "n/a", wantSkip: SkipEarlyView},
		{name: "regular issue", volume: "12", issue: "3", wantSkip: SkipNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Global.SkipOnlineFirstAlways = tt.always
			e := testEngine(t, cfg, &fakeLookup{}, Options{})

			blob := fmt.Sprintf(`[{
				"itemType": "journalArticle",
				"title": "T",
				"url": "https://example.org/a",
				"volume": %q, "issue": %q, "DOI": %q
			}]`, tt.volume, tt.issue, tt.doi)

			outcomes := e.Convert(context.Background(), testItem(engineJournal()), []byte(blob))
			require.Len(t, outcomes, 1)
			require.NoError(t, outcomes[0].Error)
			assert.Equal(t, tt.wantSkip, outcomes[0].Skip)
		})
	}
}

func TestConvertExclusionFilter(t *testing.T) {
	journal := engineJournal()
	journal.Metadata.Zotero.ExclusionFilters = map[string]*regexp.Regexp{
		"title": regexp.MustCompile(`^DRAFT`),
	}
	e := testEngine(t, testConfig(), &fakeLookup{}, Options{})

	blob := `[{"itemType": "journalArticle", "title": "DRAFT: not yet", "url": "https://example.org/a"}]`
	outcomes := e.Convert(context.Background(), testItem(journal), []byte(blob))
	require.Len(t, outcomes, 1)
	assert.Equal(t, SkipExclusionFilters, outcomes[0].Skip)
}

func TestConvertDeduplicatesDeliveredRecords(t *testing.T) {
	e := testEngine(t, testConfig(), &fakeLookup{delivered: true}, Options{})
	outcomes := e.Convert(context.Background(), testItem(engineJournal()), []byte(articleBlob))
	require.Len(t, outcomes, 1)
	assert.Equal(t, SkipAlreadyDelivered, outcomes[0].Skip)

	// --force-downloads bypasses the dedup entirely.
	e = testEngine(t, testConfig(), &fakeLookup{delivered: true}, Options{ForceDownloads: true})
	outcomes = e.Convert(context.Background(), testItem(engineJournal()), []byte(articleBlob))
	require.Len(t, outcomes, 1)
	assert.NotNil(t, outcomes[0].Record)
}

func TestConvertMissingTitle(t *testing.T) {
	e := testEngine(t, testConfig(), &fakeLookup{}, Options{})
	blob := `[{"itemType": "journalArticle", "url": "https://example.org/a"}]`
	outcomes := e.Convert(context.Background(), testItem(engineJournal()), []byte(blob))
	require.Len(t, outcomes, 1)
	var convErr *ConversionError
	require.ErrorAs(t, outcomes[0].Error, &convErr)
	assert.Contains(t, convErr.Reason, "title")
}

func TestConvertAddsConfiguredFields(t *testing.T) {
	journal := engineJournal()
	journal.Metadata.MARC.FieldsToAdd = []string{"935  $ctest"}
	e := testEngine(t, testConfig(), &fakeLookup{}, Options{})

	outcomes := e.Convert(context.Background(), testItem(journal), []byte(articleBlob))
	require.Len(t, outcomes, 1)
	record := outcomes[0].Record
	require.NotNil(t, record)
	found := false
	for _, f := range record.FieldsByTag("935") {
		if f.Subfield('c') == "test" {
			found = true
		}
	}
	assert.True(t, found, "add_field literal must be inserted")
}
