package models

// SuperiorType says which carrier of the superior work a record links to.
type SuperiorType int

const (
	SuperiorOnline SuperiorType = iota
	SuperiorPrint
)

// Creator is one author/editor of an item, split into name components and
// enriched with authority identifiers where lookups succeed.
type Creator struct {
	FirstName string
	LastName  string
	Affix     string
	Title     string
	Type      string
	PPN       string
	GND       string
}

// MetadataRecord is the intermediate form between translation-service JSON
// and the assembled catalog record.
type MetadataRecord struct {
	ItemType         string
	Title            string
	ShortTitle       string
	Creators         []Creator
	AbstractNote     string
	PublicationTitle string
	Volume           string
	Issue            string
	Pages            string
	Date             string
	DOI              string
	Languages        []string
	URL              string
	ISSN             string
	License          string
	SSGN             string
	SuperiorPPN      string
	SuperiorType     SuperiorType
	Keywords         []string
	Notes            []string
}

// HasArticleItemType reports whether the record is article-like, which is
// what the early-view and online-first filters apply to.
func (r *MetadataRecord) HasArticleItemType() bool {
	switch r.ItemType {
	case "journalArticle", "magazineArticle", "newspaperArticle", "review", "note":
		return true
	}
	return false
}
