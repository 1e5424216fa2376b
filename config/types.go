package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// HarvesterOperation selects how a journal's entry point is harvested.
type HarvesterOperation int

const (
	HarvesterDirect HarvesterOperation = iota
	HarvesterRSS
	HarvesterCrawl
	HarvesterAPIQuery
	HarvesterEmail
)

func ParseHarvesterOperation(s string) (HarvesterOperation, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DIRECT":
		return HarvesterDirect, nil
	case "RSS":
		return HarvesterRSS, nil
	case "CRAWL":
		return HarvesterCrawl, nil
	case "APIQUERY":
		return HarvesterAPIQuery, nil
	case "EMAIL":
		return HarvesterEmail, nil
	}
	return 0, fmt.Errorf("unknown harvester operation %q", s)
}

func (op HarvesterOperation) String() string {
	switch op {
	case HarvesterDirect:
		return "DIRECT"
	case HarvesterRSS:
		return "RSS"
	case HarvesterCrawl:
		return "CRAWL"
	case HarvesterAPIQuery:
		return "APIQUERY"
	case HarvesterEmail:
		return "EMAIL"
	}
	return "UNKNOWN"
}

// UploadOperation controls whether harvested records are meant for delivery.
type UploadOperation int

const (
	UploadNone UploadOperation = iota
	UploadTest
	UploadLive
)

func ParseUploadOperation(s string) (UploadOperation, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return UploadNone, nil
	case "TEST":
		return UploadTest, nil
	case "LIVE":
		return UploadLive, nil
	}
	return 0, fmt.Errorf("unknown upload operation %q", s)
}

func (op UploadOperation) String() string {
	switch op {
	case UploadTest:
		return "TEST"
	case UploadLive:
		return "LIVE"
	}
	return "NONE"
}

// LanguageMode steers the language resolution algorithm.
type LanguageMode int

const (
	LanguageModeDefault LanguageMode = iota
	LanguageModeForceLanguages
	LanguageModeForceDetection
	LanguageModeForceFromTranslator
)

func ParseLanguageMode(s string) (LanguageMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "DEFAULT":
		return LanguageModeDefault, nil
	case "FORCE_LANGUAGES":
		return LanguageModeForceLanguages, nil
	case "FORCE_DETECTION":
		return LanguageModeForceDetection, nil
	case "FORCE_FROM_TRANSLATOR":
		return LanguageModeForceFromTranslator, nil
	}
	return 0, fmt.Errorf("unknown language mode %q", s)
}

// RewriteRule replaces regex matches on a field or subfield with a
// replacement string.
type RewriteRule struct {
	Field       string
	Match       *regexp.Regexp
	Replacement string
}

// ConditionalField adds a variable field only when an existing field
// matches the condition.
type ConditionalField struct {
	FieldContents string
	IfField       string
	Match         *regexp.Regexp
}

// ZoteroParams are the filters applied to translation-service items before
// conversion. Keys are zotero field names.
type ZoteroParams struct {
	SuppressFilters  map[string]*regexp.Regexp
	OverridePatterns map[string]string
	ExclusionFilters map[string]*regexp.Regexp
	RewriteFilters   []RewriteRule
}

// MARCParams are the filters applied to assembled catalog records. Keys are
// "tag" or "tag$code" strings.
type MARCParams struct {
	FieldsToAdd       []string
	FieldsToAddIf     []ConditionalField
	FieldsToRemove    map[string]*regexp.Regexp
	SubfieldsToRemove map[string]string
	RewriteFilters    []RewriteRule
	ExclusionFilters  map[string]*regexp.Regexp
}

// MetadataParams bundles both filter layers of one configuration scope.
type MetadataParams struct {
	Zotero ZoteroParams
	MARC   MARCParams
}

// DownloadDelayParams hold the per-domain politeness window.
type DownloadDelayParams struct {
	DefaultDelay        time.Duration
	MaxDelay            time.Duration
	PerDomainDefault    map[string]time.Duration
	PerDomainMax        map[string]time.Duration
}

// DefaultDelayFor returns the lower delay bound for a domain.
func (p *DownloadDelayParams) DefaultDelayFor(domain string) time.Duration {
	if d, ok := p.PerDomainDefault[domain]; ok {
		return d
	}
	return p.DefaultDelay
}

// MaxDelayFor returns the upper delay bound for a domain.
func (p *DownloadDelayParams) MaxDelayFor(domain string) time.Duration {
	if d, ok := p.PerDomainMax[domain]; ok {
		return d
	}
	return p.MaxDelay
}

// GlobalParams is the global section of the harvester configuration.
type GlobalParams struct {
	TranslationServerURL    string
	LanguageDetectionURL    string
	APIQueryURL             string
	EnhancementMapsDir      string
	Mailboxes               []string
	DownloadDelay           DownloadDelayParams
	TimeoutCrawlOperation   time.Duration
	TimeoutDownloadRequest  time.Duration
	ResponseCacheTTL        time.Duration
	MaxDirectDownloads      int
	MaxCrawls               int
	MaxFeeds                int
	MaxConversions          int
	SkipOnlineFirstAlways   bool
	ReviewRegex             *regexp.Regexp
	NotesRegex              *regexp.Regexp
	Metadata                MetadataParams
}

// GroupParams is one group or subgroup section.
type GroupParams struct {
	Name            string
	UserAgent       string
	ISIL            string
	OutputFolder    string
	AuthorLookupURL string
	Metadata        MetadataParams
}

// JournalParams is one journal section. Immutable after load.
type JournalParams struct {
	Name                  string
	ZederID               int
	ZederInstance         string
	Group                 string
	Subgroup              string
	EntryPointURL         string
	HarvesterOperation    HarvesterOperation
	UploadOperation       UploadOperation
	OnlineISSN            string
	OnlinePPN             string
	PrintISSN             string
	PrintPPN              string
	StrptimeFormat        string
	UpdateWindowDays      int
	ReviewRegex           *regexp.Regexp
	NotesRegex            *regexp.Regexp
	ExpectedLanguages     []string
	LanguageMode          LanguageMode
	SourceTextFields      string
	MaxCrawlDepth         int
	ExtractionRegex       *regexp.Regexp
	CrawlURLRegex         *regexp.Regexp
	Personalized          bool
	License               string
	SSGN                  string
	SelectiveEvaluation   bool
	EmailSubjectRegex     *regexp.Regexp
	PagedRSS              bool
	PagedRSSSize          int
	PagedRSSRange         []int
	Metadata              MetadataParams
}

// Config is the loaded configuration container shared read-only by every
// component.
type Config struct {
	Global   GlobalParams
	Groups   map[string]*GroupParams
	Journals []*JournalParams
}

// GroupOf resolves the group section a journal belongs to.
func (c *Config) GroupOf(j *JournalParams) *GroupParams {
	return c.Groups[j.Group]
}

// SubgroupOf resolves the optional subgroup section of a journal.
func (c *Config) SubgroupOf(j *JournalParams) *GroupParams {
	if j.Subgroup == "" {
		return nil
	}
	return c.Groups[j.Subgroup]
}

// JournalByName finds a journal section by its display name.
func (c *Config) JournalByName(name string) *JournalParams {
	for _, j := range c.Journals {
		if j.Name == name {
			return j
		}
	}
	return nil
}
