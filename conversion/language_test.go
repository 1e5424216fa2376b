package conversion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harvester/config"
	"harvester/models"
)

func TestNormalizeLanguageCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"en", "eng", true},
		{"eng", "eng", true},
		{"en-US", "eng", true},
		{"German", "deu", true},
		{"fr", "fra", true},
		{"", "", false},
		{"notalanguage", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeLanguageCode(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func resolveWith(t *testing.T, journal *config.JournalParams, translatorLangs []string, title string) []string {
	t.Helper()
	e := testEngine(t, testConfig(), &fakeLookup{}, Options{})
	record := &models.MetadataRecord{Title: title, Languages: translatorLangs}
	e.resolveLanguages(context.Background(), record, journal)
	return record.Languages
}

func TestResolveLanguages(t *testing.T) {
	tests := []struct {
		name       string
		mode       config.LanguageMode
		expected   []string
		translator []string
		title      string
		want       []string
	}{
		{
			name:       "force languages ignores everything else",
			mode:       config.LanguageModeForceLanguages,
			expected:   []string{"lat", "grc"},
			translator: []string{"en"},
			want:       []string{"lat", "grc"},
		},
		{
			name:       "force from translator keeps normalized codes",
			mode:       config.LanguageModeForceFromTranslator,
			expected:   []string{"deu"},
			translator: []string{"en-US", "bogus"},
			want:       []string{"eng"},
		},
		{
			name:       "no expected languages keeps translator codes",
			translator: []string{"fr"},
			want:       []string{"fra"},
		},
		{
			name:     "single expected fills missing language",
			expected: []string{"deu"},
			title:    "Glaube und Vernunft",
			want:     []string{"deu"},
		},
		{
			name:       "single expected confirms matching translator code",
			expected:   []string{"eng"},
			translator: []string{"en"},
			title:      "Faith and Reason",
			want:       []string{"eng"},
		},
		{
			name:       "conflict clears the language",
			expected:   []string{"deu"},
			translator: []string{"fr"},
			title:      "Glaube und Vernunft",
			want:       nil,
		},
		{
			name:       "multiple translator languages cleared",
			expected:   []string{"deu"},
			translator: []string{"en", "fr"},
			title:      "Glaube und Vernunft",
			want:       nil,
		},
		{
			name:     "force detection keeps detected member",
			mode:     config.LanguageModeForceDetection,
			expected: []string{"eng"},
			title:    "Faith and Reason",
			want:     []string{"eng"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			journal := engineJournal()
			journal.LanguageMode = tt.mode
			journal.ExpectedLanguages = tt.expected
			got := resolveWith(t, journal, tt.translator, tt.title)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyNGramRespectsWhitelist(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog and keeps running through the English countryside."
	got := classifyNGram(text, []string{"eng", "deu"})
	require.Equal(t, "eng", got)
}

func TestSourceText(t *testing.T) {
	record := &models.MetadataRecord{Title: "T", AbstractNote: "A"}
	assert.Equal(t, "T", sourceText(record, "title"))
	assert.Equal(t, "A", sourceText(record, "abstract"))
	assert.Equal(t, "T A", sourceText(record, "title+abstract"))
}
