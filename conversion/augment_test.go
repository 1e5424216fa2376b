package conversion

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/config"
	"harvester/models"
)

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		name     string
		date     string
		strptime string
		want     string
	}{
		{name: "already normalized", date: "2026-01-03", want: "2026-01-03"},
		{name: "strptime format", date: "03.01.2026", strptime: "%d.%m.%Y", want: "2026-01-03"},
		{name: "alternative formats", date: "Jan 3, 2026", strptime: "%d.%m.%Y|%b %e, %Y", want: "2026-01-03"},
		{name: "fuzzy fallback", date: "January 3, 2026", want: "2026-01-03"},
		{name: "unparseable left alone", date: "Michaelmas term", want: "Michaelmas term"},
		{name: "empty", date: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeDate(tt.date, tt.strptime))
		})
	}
}

func TestStripLeadingZeros(t *testing.T) {
	assert.Equal(t, "7", stripLeadingZeros("007"))
	assert.Equal(t, "12", stripLeadingZeros("12"))
	assert.Equal(t, "0", stripLeadingZeros("000"))
	assert.Equal(t, "", stripLeadingZeros(""))
}

func TestNormalizePages(t *testing.T) {
	tests := []struct{ in, want string }{
		{"5-20", "5-20"},
		{"IX-XII", "9-12"},
		{"5-5", "5"},
		{"XIV", "14"},
		{"", ""},
		{"e2026", "e2026"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePages(tt.in), tt.in)
	}
}

func TestSelectSuperiorPrefersOnline(t *testing.T) {
	journal := &config.JournalParams{
		OnlineISSN: "1111-1111", OnlinePPN: "online-ppn",
		PrintISSN: "2222-2222", PrintPPN: "print-ppn",
	}
	record := &models.MetadataRecord{}
	require.NoError(t, selectSuperior(record, journal))
	assert.Equal(t, "1111-1111", record.ISSN)
	assert.Equal(t, "online-ppn", record.SuperiorPPN)
	assert.Equal(t, models.SuperiorOnline, record.SuperiorType)

	printOnly := &config.JournalParams{PrintISSN: "2222-2222", PrintPPN: "print-ppn"}
	record = &models.MetadataRecord{}
	require.NoError(t, selectSuperior(record, printOnly))
	assert.Equal(t, models.SuperiorPrint, record.SuperiorType)

	incomplete := &config.JournalParams{OnlineISSN: "1111-1111"}
	record = &models.MetadataRecord{}
	var convErr *ConversionError
	require.ErrorAs(t, selectSuperior(record, incomplete), &convErr)
}

func TestSelectLicense(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "issn_to_license.map"),
		[]byte("# comment\n3333-3333=LF\n"), 0o644))
	maps, err := LoadEnhancementMaps(dir)
	require.NoError(t, err)
	e := &Engine{maps: maps}

	journal := &config.JournalParams{}
	assert.Equal(t, "ZZ", e.selectLicense(&models.MetadataRecord{ISSN: "1111-1111"}, journal))

	lfJournal := &config.JournalParams{License: "LF"}
	assert.Equal(t, "LF", e.selectLicense(&models.MetadataRecord{}, lfJournal))

	// The ISSN map wins over the journal setting.
	assert.Equal(t, "LF", e.selectLicense(&models.MetadataRecord{ISSN: "3333-3333"}, journal))

	// A bare LF note forces the open-access tag.
	noted := &models.MetadataRecord{Notes: []string{"LF"}}
	assert.Equal(t, "LF", e.selectLicense(noted, journal))
}

func TestDetectReviewsAndNotes(t *testing.T) {
	journal := &config.JournalParams{
		ReviewRegex: regexp.MustCompile(`(?i)^review of`),
		NotesRegex:  regexp.MustCompile(`(?i)^editorial`),
	}
	global := &config.GlobalParams{}

	record := &models.MetadataRecord{ItemType: "journalArticle", Title: "Review of: Faith and Reason"}
	detectReviewsAndNotes(record, journal, global)
	assert.Equal(t, "review", record.ItemType)

	record = &models.MetadataRecord{ItemType: "journalArticle", Title: "Editorial remarks"}
	detectReviewsAndNotes(record, journal, global)
	assert.Equal(t, "note", record.ItemType)

	record = &models.MetadataRecord{
		ItemType: "journalArticle", Title: "Plain",
		Keywords: []string{"Review of something"},
	}
	detectReviewsAndNotes(record, journal, global)
	assert.Equal(t, "review", record.ItemType, "keywords identify reviews too")

	record = &models.MetadataRecord{ItemType: "journalArticle", Title: "Plain"}
	detectReviewsAndNotes(record, journal, global)
	assert.Equal(t, "journalArticle", record.ItemType)
}
