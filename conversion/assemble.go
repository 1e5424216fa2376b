package conversion

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"harvester/config"
	"harvester/marc"
	"harvester/models"
)

// MaxAbstractLength caps the abstract subfield; longer texts are truncated
// with a trailing ellipsis.
const MaxAbstractLength = 3000

// relatorCodes maps zotero creator types onto MARC relator codes.
var relatorCodes = map[string]string{
	"author":      "aut",
	"editor":      "edt",
	"translator":  "trl",
	"contributor": "ctb",
}

// assemble builds the catalog record for one augmented metadata record.
func (e *Engine) assemble(record *models.MetadataRecord, item models.HarvestableItem, group *config.GroupParams) (*marc.Record, error) {
	journal := item.Journal
	out := marc.NewRecord()

	// Carrier: online or physical, from the selected superior type.
	if record.SuperiorType == models.SuperiorOnline {
		out.AddControlField("007", "cr|||||")
	} else {
		out.AddControlField("007", "tu")
	}

	title := record.Title
	if title == "" {
		title = record.ShortTitle
	}
	out.AddDataField("245", '0', '0').AddSubfield('a', title)

	for i, creator := range record.Creators {
		tag := "700"
		if i == 0 {
			tag = "100"
		}
		field := out.AddDataField(tag, '1', ' ')
		field.AddSubfield('a', creatorName(creator))
		field.AddSubfield('b', creator.Affix)
		field.AddSubfield('c', creator.Title)
		if creator.GND != "" {
			field.AddSubfield('0', "(DE-588)"+creator.GND)
		}
		if code, ok := relatorCodes[creator.Type]; ok {
			field.AddSubfield('4', code)
		}
		// Provenance only when an authority lookup produced an identifier.
		if creator.GND != "" || creator.PPN != "" {
			provenance := out.AddDataField("887", ' ', ' ')
			provenance.AddSubfield('a', creatorName(creator))
			if creator.GND != "" {
				provenance.AddSubfield('0', "(DE-588)"+creator.GND)
			} else {
				provenance.AddSubfield('0', creator.PPN)
			}
			provenance.AddSubfield('2', "gnd-lookup")
		}
	}

	if len(record.Languages) > 0 {
		langField := out.AddDataField("041", ' ', ' ')
		for _, lang := range record.Languages {
			langField.AddSubfield('a', lang)
		}
	}

	if record.AbstractNote != "" {
		out.AddDataField("520", ' ', ' ').
			AddSubfield('a', marc.TruncateSubfield(record.AbstractNote, MaxAbstractLength))
	}

	if record.Date != "" {
		out.AddDataField("264", ' ', '1').AddSubfield('c', record.Date)
	}

	out.AddDataField("856", '4', '0').
		AddSubfield('u', record.URL).
		AddSubfield('z', record.License)

	if record.DOI != "" {
		out.AddDataField("024", '7', ' ').
			AddSubfield('a', record.DOI).
			AddSubfield('2', "doi")
		out.AddDataField("856", '4', '0').
			AddSubfield('u', "https://doi.org/"+record.DOI).
			AddSubfield('z', record.License)
	}

	superior := out.AddDataField("773", '0', '8')
	superior.AddSubfield('i', "In:")
	superior.AddSubfield('t', record.PublicationTitle)
	superior.AddSubfield('x', record.ISSN)
	superior.AddSubfield('w', "(DE-627)"+record.SuperiorPPN)

	// Volume, issue, pages and year share one compound field.
	year := yearOf(record.Date)
	if record.Volume != "" || record.Issue != "" || record.Pages != "" || year != "" {
		compound := out.AddDataField("936", 'u', 'w')
		compound.AddSubfield('d', record.Volume)
		compound.AddSubfield('e', record.Issue)
		compound.AddSubfield('h', record.Pages)
		compound.AddSubfield('j', year)
	}

	for _, keyword := range record.Keywords {
		vocab, term, isThesaurus := strings.Cut(keyword, ":")
		if isThesaurus && vocab != "" && term != "" {
			// Subject links from controlled vocabularies are suppressed for
			// selectively evaluated journals.
			if journal.SelectiveEvaluation {
				continue
			}
			out.AddDataField("650", ' ', '7').
				AddSubfield('a', strings.TrimSpace(term)).
				AddSubfield('2', strings.TrimSpace(vocab))
			continue
		}
		out.AddDataField("650", ' ', '4').AddSubfield('a', keyword)
	}

	if record.SSGN != "" {
		out.AddDataField("084", ' ', ' ').
			AddSubfield('a', record.SSGN).
			AddSubfield('2', "ssgn")
	}

	for _, note := range record.Notes {
		out.AddDataField("500", ' ', ' ').AddSubfield('a', note)
	}

	if record.ItemType == "review" {
		out.AddDataField("935", ' ', ' ').AddSubfield('c', "uwre")
	}

	out.AddDataField("852", ' ', ' ').AddSubfield('a', group.ISIL)
	out.AddControlField(marc.TagZID, fmt.Sprintf("%d:%s", journal.ZederID, journal.ZederInstance))
	out.AddControlField(marc.TagJournalName, journal.Name)
	out.AddControlField(marc.TagURL, record.URL)

	e.applyMARCParams(out, journal, group)

	return out, nil
}

func creatorName(creator models.Creator) string {
	if creator.FirstName == "" {
		return creator.LastName
	}
	return creator.LastName + ", " + creator.FirstName
}

func yearOf(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return ""
}

// identify sets the generated record identifier after the checksum is
// known.
func identify(record *marc.Record, groupName, hash string) {
	record.AddControlField(marc.TagControlNumber,
		fmt.Sprintf("%s#%s#%s", groupName, time.Now().Format("2006-01-02"), hash))
}

// applyMARCParams runs the merged field filters of all scopes over the
// assembled record, global first so journal rules win.
func (e *Engine) applyMARCParams(record *marc.Record, journal *config.JournalParams, group *config.GroupParams) {
	scopes := []*config.MARCParams{&e.cfg.Global.Metadata.MARC}
	if group != nil {
		scopes = append(scopes, &group.Metadata.MARC)
	}
	if sub := e.cfg.SubgroupOf(journal); sub != nil {
		scopes = append(scopes, &sub.Metadata.MARC)
	}
	scopes = append(scopes, &journal.Metadata.MARC)

	for _, scope := range scopes {
		for _, contents := range scope.FieldsToAdd {
			addLiteralField(record, contents)
		}
		for _, conditional := range scope.FieldsToAddIf {
			if fieldMatches(record, conditional.IfField, conditional.Match) {
				addLiteralField(record, conditional.FieldContents)
			}
		}
		for spec, re := range scope.FieldsToRemove {
			tag, code := splitFieldSpec(spec)
			record.RemoveFields(tag, func(f *marc.Field) bool {
				if code != 0 {
					return re.MatchString(f.Subfield(code))
				}
				return re.MatchString(f.Contents())
			})
		}
		for tag, codes := range scope.SubfieldsToRemove {
			record.RemoveSubfields(tag, codes)
		}
		for _, rule := range scope.RewriteFilters {
			tag, code := splitFieldSpec(rule.Field)
			for _, field := range record.FieldsByTag(tag) {
				for i := range field.Subfields {
					if code == 0 || field.Subfields[i].Code == code {
						field.Subfields[i].Value = rule.Match.ReplaceAllString(field.Subfields[i].Value, rule.Replacement)
					}
				}
			}
		}
	}
}

// matchesMARCExclusion checks the catalog-layer exclusion filters of every
// scope against the assembled record.
func (e *Engine) matchesMARCExclusion(record *marc.Record, journal *config.JournalParams, group *config.GroupParams) bool {
	scopes := []*config.MARCParams{&e.cfg.Global.Metadata.MARC, &journal.Metadata.MARC}
	if group != nil {
		scopes = append(scopes, &group.Metadata.MARC)
	}
	if sub := e.cfg.SubgroupOf(journal); sub != nil {
		scopes = append(scopes, &sub.Metadata.MARC)
	}

	for _, scope := range scopes {
		for spec, re := range scope.ExclusionFilters {
			tag, code := splitFieldSpec(spec)
			for _, field := range record.FieldsByTag(tag) {
				value := field.Contents()
				if code != 0 {
					value = field.Subfield(code)
				}
				if value != "" && re.MatchString(value) {
					return true
				}
			}
		}
	}
	return false
}

// fieldMatches reports whether any field addressed by the "tag" or
// "tag$c" spec matches the given pattern.
func fieldMatches(record *marc.Record, spec string, re *regexp.Regexp) bool {
	tag, code := splitFieldSpec(spec)
	for _, field := range record.FieldsByTag(tag) {
		value := field.Contents()
		if code != 0 {
			value = field.Subfield(code)
		}
		if value != "" && re.MatchString(value) {
			return true
		}
	}
	return false
}

// splitFieldSpec parses "tag" or "tag$c" filter keys.
func splitFieldSpec(spec string) (string, byte) {
	if idx := strings.IndexByte(spec, '$'); idx >= 0 && idx+1 < len(spec) {
		return spec[:idx], spec[idx+1]
	}
	return spec, 0
}

// addLiteralField parses "<tag><ind1><ind2>$a...$b..." field literals from
// the configuration and inserts the field.
func addLiteralField(record *marc.Record, literal string) {
	if len(literal) < 5 {
		return
	}
	tag := literal[:3]
	ind1, ind2 := literal[3], literal[4]
	rest := literal[5:]

	field := record.AddDataField(tag, ind1, ind2)
	for _, part := range strings.Split(rest, "$") {
		if len(part) < 2 {
			continue
		}
		field.AddSubfield(part[0], part[1:])
	}
}
