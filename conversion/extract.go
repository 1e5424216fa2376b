package conversion

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"harvester/models"
	"harvester/translator"
)

// stripTags removes all markup from translated values; titles and abstracts
// regularly arrive with embedded HTML.
var stripTags = bluemonday.StrictPolicy()

func cleanString(s string) string {
	return strings.TrimSpace(html.UnescapeString(stripTags.Sanitize(s)))
}

func itemString(entry translator.Item, field string) string {
	value, _ := entry[field].(string)
	return cleanString(value)
}

// extractMetadata populates a MetadataRecord from the zotero fields of one
// translation item.
func extractMetadata(entry translator.Item, item models.HarvestableItem) *models.MetadataRecord {
	record := &models.MetadataRecord{
		ItemType:         itemString(entry, "itemType"),
		Title:            itemString(entry, "title"),
		ShortTitle:       itemString(entry, "shortTitle"),
		AbstractNote:     itemString(entry, "abstractNote"),
		PublicationTitle: itemString(entry, "publicationTitle"),
		Volume:           itemString(entry, "volume"),
		Issue:            itemString(entry, "issue"),
		Pages:            itemString(entry, "pages"),
		Date:             itemString(entry, "date"),
		DOI:              itemString(entry, "DOI"),
		URL:              itemString(entry, "url"),
		ISSN:             itemString(entry, "ISSN"),
	}
	if record.URL == "" {
		record.URL = item.URL
	}
	if lang := itemString(entry, "language"); lang != "" {
		record.Languages = []string{lang}
	}

	record.Creators = extractCreators(entry)
	record.Keywords = extractTags(entry)
	record.Notes = extractNotes(entry)
	return record
}

func extractCreators(entry translator.Item) []models.Creator {
	raw, _ := entry["creators"].([]any)
	var creators []models.Creator
	for _, c := range raw {
		obj, ok := c.(map[string]any)
		if !ok {
			continue
		}
		creator := models.Creator{
			FirstName: cleanString(stringOf(obj["firstName"])),
			LastName:  cleanString(stringOf(obj["lastName"])),
			Type:      cleanString(stringOf(obj["creatorType"])),
		}
		// Single-field creators carry the whole name in "name".
		if creator.FirstName == "" && creator.LastName == "" {
			name := cleanString(stringOf(obj["name"]))
			if name == "" {
				continue
			}
			creator.FirstName, creator.LastName = splitName(name)
		}
		creators = append(creators, creator)
	}
	return creators
}

func extractTags(entry translator.Item) []string {
	raw, _ := entry["tags"].([]any)
	var tags []string
	for _, t := range raw {
		obj, ok := t.(map[string]any)
		if !ok {
			continue
		}
		if tag := cleanString(stringOf(obj["tag"])); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func extractNotes(entry translator.Item) []string {
	raw, _ := entry["notes"].([]any)
	var notes []string
	for _, n := range raw {
		switch v := n.(type) {
		case string:
			if note := cleanString(v); note != "" {
				notes = append(notes, note)
			}
		case map[string]any:
			if note := cleanString(stringOf(v["note"])); note != "" {
				notes = append(notes, note)
			}
		}
	}
	return notes
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

// splitName splits a single-field name at the last space: everything after
// it is the last name.
func splitName(name string) (first, last string) {
	idx := strings.LastIndex(name, " ")
	if idx < 0 {
		return "", name
	}
	return name[:idx], name[idx+1:]
}
