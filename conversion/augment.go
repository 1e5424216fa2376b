package conversion

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"harvester/config"
	"harvester/models"
)

// augment normalizes and enriches the extracted metadata in the order the
// conversion pipeline prescribes. Returns a ConversionError when a required
// step cannot complete.
func (e *Engine) augment(ctx context.Context, record *models.MetadataRecord, item models.HarvestableItem, group *config.GroupParams) error {
	journal := item.Journal

	if record.URL == "" {
		return &ConversionError{Reason: "missing URL"}
	}
	if record.Title == "" && record.ShortTitle == "" {
		return &ConversionError{Reason: "empty title"}
	}

	record.Date = normalizeDate(record.Date, journal.StrptimeFormat)
	record.Issue = stripLeadingZeros(record.Issue)
	record.Volume = stripLeadingZeros(record.Volume)
	record.Pages = normalizePages(record.Pages)

	// The configured journal name is authoritative over whatever the
	// translator scraped.
	record.PublicationTitle = journal.Name

	if err := selectSuperior(record, journal); err != nil {
		return err
	}

	e.resolveLanguages(ctx, record, journal)

	e.normalizeCreators(ctx, record, group)

	record.License = e.selectLicense(record, journal)

	if !journal.SelectiveEvaluation {
		record.SSGN = journal.SSGN
	}

	detectReviewsAndNotes(record, journal, &e.cfg.Global)

	return nil
}

// selectSuperior picks the ISSN/PPN pair linking the article to its serial:
// online wins when the journal has an online ISSN, print otherwise.
func selectSuperior(record *models.MetadataRecord, journal *config.JournalParams) error {
	switch {
	case journal.OnlineISSN != "" && journal.OnlinePPN != "":
		record.ISSN = journal.OnlineISSN
		record.SuperiorPPN = journal.OnlinePPN
		record.SuperiorType = models.SuperiorOnline
	case journal.PrintISSN != "" && journal.PrintPPN != "":
		record.ISSN = journal.PrintISSN
		record.SuperiorPPN = journal.PrintPPN
		record.SuperiorType = models.SuperiorPrint
	default:
		return &ConversionError{Reason: "no complete ISSN/PPN pair configured"}
	}
	return nil
}

// selectLicense resolves the license tag: an ISSN-to-license map entry or
// the journal's configured license, with a custom LF note forcing LF.
func (e *Engine) selectLicense(record *models.MetadataRecord, journal *config.JournalParams) string {
	license := journal.License
	if mapped, ok := e.maps.LicenseForISSN(record.ISSN); ok {
		license = mapped
	}
	if strings.EqualFold(license, "LF") {
		return "LF"
	}
	for _, note := range record.Notes {
		if strings.EqualFold(strings.TrimSpace(note), "LF") {
			return "LF"
		}
	}
	return "ZZ"
}

// detectReviewsAndNotes retypes the item when title or keywords identify it
// as a review or an editorial note.
func detectReviewsAndNotes(record *models.MetadataRecord, journal *config.JournalParams, global *config.GlobalParams) {
	reviewRegexes := []*regexp.Regexp{journal.ReviewRegex, global.ReviewRegex}
	for _, re := range reviewRegexes {
		if re == nil {
			continue
		}
		if re.MatchString(record.Title) || re.MatchString(record.ShortTitle) {
			record.ItemType = "review"
			return
		}
		for _, keyword := range record.Keywords {
			if re.MatchString(keyword) {
				record.ItemType = "review"
				return
			}
		}
	}

	notesRegexes := []*regexp.Regexp{journal.NotesRegex, global.NotesRegex}
	for _, re := range notesRegexes {
		if re != nil && re.MatchString(record.Title) {
			record.ItemType = "note"
			return
		}
	}
}

// strptime conversion table for the formats seen in journal configs.
var strptimeReplacer = strings.NewReplacer(
	"%Y", "2006",
	"%y", "06",
	"%m", "01",
	"%d", "02",
	"%e", "_2",
	"%B", "January",
	"%b", "Jan",
	"%H", "15",
	"%M", "04",
	"%S", "05",
)

// normalizeDate brings a date into YYYY-MM-DD form using the journal's
// strptime format (multiple formats separated by "|"), falling back to
// fuzzy parsing. Unparseable dates are left untouched.
func normalizeDate(date, strptimeFormat string) string {
	if date == "" {
		return date
	}
	if strptimeFormat != "" {
		for _, format := range strings.Split(strptimeFormat, "|") {
			layout := strptimeReplacer.Replace(strings.TrimSpace(format))
			if parsed, err := time.Parse(layout, date); err == nil {
				return parsed.Format("2006-01-02")
			}
		}
	}
	if parsed, err := dateparse.ParseAny(date); err == nil {
		return parsed.Format("2006-01-02")
	}
	return date
}

func stripLeadingZeros(s string) string {
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" && s != "" {
		return "0"
	}
	return trimmed
}

var romanNumeralRegex = regexp.MustCompile(`^[IVXLCDM]+$`)

// normalizePages converts Roman-numeral page ranges to decimal and
// collapses N-N ranges to N.
func normalizePages(pages string) string {
	if pages == "" {
		return pages
	}
	parts := strings.Split(pages, "-")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if romanNumeralRegex.MatchString(part) {
			if n := romanToDecimal(part); n > 0 {
				part = strconv.Itoa(n)
			}
		}
		parts[i] = part
	}
	if len(parts) == 2 && parts[0] == parts[1] {
		return parts[0]
	}
	return strings.Join(parts, "-")
}

var romanValues = map[byte]int{
	'I': 1, 'V': 5, 'X': 10, 'L': 50, 'C': 100, 'D': 500, 'M': 1000,
}

func romanToDecimal(roman string) int {
	total := 0
	for i := 0; i < len(roman); i++ {
		value := romanValues[roman[i]]
		if i+1 < len(roman) && value < romanValues[roman[i+1]] {
			total -= value
		} else {
			total += value
		}
	}
	return total
}
