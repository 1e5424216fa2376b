package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Section key prefixes for the filter layers. The value side of a rewrite
// rule is "regex|replacement" with the first unescaped pipe as separator.
const (
	keySuppress       = "suppress:"
	keyOverride       = "override:"
	keyExclude        = "exclude:"
	keyRewrite        = "rewrite:"
	keyAddField       = "add_field"
	keyAddFieldIf     = "add_field_if:"
	keyRemoveField    = "remove_field:"
	keyRemoveSubfield = "remove_subfield:"
	keyRewriteField   = "rewrite_field:"
	keyExcludeField   = "exclude_field:"
	keyDomainDelay    = "delay:"
)

// Load reads the INI configuration file, applies the optional overrides
// snippet to every journal section, and validates the result.
func Load(path, overrides string) (*Config, error) {
	// Keys like "delay:<domain>" contain colons, so only '=' may act as
	// the key/value delimiter.
	opts := ini.LoadOptions{AllowShadows: true, KeyValueDelimiters: "="}
	file, err := ini.LoadSources(opts, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	var overrideSection *ini.Section
	if overrides != "" {
		// Overrides arrive as "key=value;key=value" on the command line.
		snippet, err := ini.LoadSources(opts, []byte(strings.ReplaceAll(overrides, ";", "\n")))
		if err != nil {
			return nil, fmt.Errorf("failed to parse config overrides: %w", err)
		}
		overrideSection = snippet.Section(ini.DefaultSection)
	}
	return build(file, overrideSection)
}

func build(file *ini.File, overrides *ini.Section) (*Config, error) {
	cfg := &Config{Groups: make(map[string]*GroupParams)}

	global, err := loadGlobal(file.Section(ini.DefaultSection))
	if err != nil {
		return nil, err
	}
	cfg.Global = *global

	// Groups are declared before journals reference them; classify by key
	// presence so section order in the file does not matter.
	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		if isGroupSection(section) {
			group, err := loadGroup(section)
			if err != nil {
				return nil, err
			}
			cfg.Groups[group.Name] = group
		}
	}
	for _, section := range file.Sections() {
		if section.Name() == ini.DefaultSection || isGroupSection(section) {
			continue
		}
		if overrides != nil {
			applyOverrides(section, overrides)
		}
		journal, err := loadJournal(section)
		if err != nil {
			return nil, err
		}
		cfg.Journals = append(cfg.Journals, journal)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// A group section carries an ISIL or an output folder; journal sections
// carry an entry point URL.
func isGroupSection(section *ini.Section) bool {
	return (section.HasKey("isil") || section.HasKey("output_folder")) &&
		!section.HasKey("entry_point_url")
}

func applyOverrides(section, overrides *ini.Section) {
	for _, key := range overrides.Keys() {
		section.Key(key.Name()).SetValue(key.Value())
	}
}

func loadGlobal(section *ini.Section) (*GlobalParams, error) {
	g := &GlobalParams{
		TimeoutCrawlOperation:  3 * time.Minute,
		TimeoutDownloadRequest: 30 * time.Second,
		ResponseCacheTTL:       15 * time.Minute,
		MaxDirectDownloads:     8,
		MaxCrawls:              2,
		MaxFeeds:               4,
		MaxConversions:         8,
	}
	g.DownloadDelay = DownloadDelayParams{
		DefaultDelay:     2 * time.Second,
		MaxDelay:         5 * time.Second,
		PerDomainDefault: make(map[string]time.Duration),
		PerDomainMax:     make(map[string]time.Duration),
	}

	g.TranslationServerURL = section.Key("translation_server_url").String()
	g.LanguageDetectionURL = section.Key("language_detection_url").String()
	g.APIQueryURL = section.Key("api_query_url").MustString("https://api.crossref.org/journals")
	g.EnhancementMapsDir = section.Key("enhancement_maps_directory").String()
	if v := section.Key("mailboxes").String(); v != "" {
		g.Mailboxes = splitList(v)
	}
	var err error
	if g.DownloadDelay.DefaultDelay, err = durationMS(section, "default_download_delay_ms", g.DownloadDelay.DefaultDelay); err != nil {
		return nil, err
	}
	if g.DownloadDelay.MaxDelay, err = durationMS(section, "max_download_delay_ms", g.DownloadDelay.MaxDelay); err != nil {
		return nil, err
	}
	if g.TimeoutCrawlOperation, err = durationSecs(section, "timeout_crawl_operation", g.TimeoutCrawlOperation); err != nil {
		return nil, err
	}
	if g.TimeoutDownloadRequest, err = durationSecs(section, "timeout_download_request", g.TimeoutDownloadRequest); err != nil {
		return nil, err
	}
	if g.ResponseCacheTTL, err = durationSecs(section, "response_cache_ttl", g.ResponseCacheTTL); err != nil {
		return nil, err
	}
	for name, target := range map[string]*int{
		"max_direct_downloads": &g.MaxDirectDownloads,
		"max_crawls":           &g.MaxCrawls,
		"max_feeds":            &g.MaxFeeds,
		"max_conversions":      &g.MaxConversions,
	} {
		if section.HasKey(name) {
			v, err := section.Key(name).Int()
			if err != nil {
				return nil, fmt.Errorf("global key %s: %w", name, err)
			}
			*target = v
		}
	}
	g.SkipOnlineFirstAlways = section.Key("skip_online_first_unconditionally").MustBool(false)
	if g.ReviewRegex, err = optionalRegex(section, "review_regex"); err != nil {
		return nil, err
	}
	if g.NotesRegex, err = optionalRegex(section, "notes_regex"); err != nil {
		return nil, err
	}

	// Per-domain delay overrides: delay:<domain> = <default_ms>,<max_ms>
	for _, key := range section.Keys() {
		if !strings.HasPrefix(key.Name(), keyDomainDelay) {
			continue
		}
		domain := strings.TrimPrefix(key.Name(), keyDomainDelay)
		parts := strings.SplitN(key.Value(), ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("global key %s: expected <default_ms>,<max_ms>", key.Name())
		}
		def, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		max, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("global key %s: malformed delay pair %q", key.Name(), key.Value())
		}
		g.DownloadDelay.PerDomainDefault[domain] = time.Duration(def) * time.Millisecond
		g.DownloadDelay.PerDomainMax[domain] = time.Duration(max) * time.Millisecond
	}

	if g.Metadata, err = loadMetadataParams(section); err != nil {
		return nil, err
	}
	return g, nil
}

func loadGroup(section *ini.Section) (*GroupParams, error) {
	g := &GroupParams{
		Name:            section.Name(),
		UserAgent:       section.Key("user_agent").String(),
		ISIL:            section.Key("isil").String(),
		OutputFolder:    section.Key("output_folder").String(),
		AuthorLookupURL: section.Key("author_lookup_url").String(),
	}
	if g.OutputFolder == "" {
		g.OutputFolder = g.Name
	}
	var err error
	if g.Metadata, err = loadMetadataParams(section); err != nil {
		return nil, err
	}
	return g, nil
}

func loadJournal(section *ini.Section) (*JournalParams, error) {
	j := &JournalParams{
		Name:             section.Name(),
		ZederInstance:    section.Key("zeder_instance").MustString("ixtheo"),
		Group:            section.Key("group").String(),
		Subgroup:         section.Key("subgroup").String(),
		EntryPointURL:    section.Key("entry_point_url").String(),
		OnlineISSN:       section.Key("online_issn").String(),
		OnlinePPN:        section.Key("online_ppn").String(),
		PrintISSN:        section.Key("print_issn").String(),
		PrintPPN:         section.Key("print_ppn").String(),
		StrptimeFormat:   section.Key("strptime_format_string").String(),
		License:          section.Key("license").String(),
		SSGN:             section.Key("ssgn").String(),
		SourceTextFields: section.Key("source_text_fields").MustString("title"),
	}

	var err error
	if j.ZederID, err = section.Key("zeder_id").Int(); err != nil {
		return nil, fmt.Errorf("journal %s: zeder_id: %w", j.Name, err)
	}
	if j.HarvesterOperation, err = ParseHarvesterOperation(section.Key("harvester_operation").String()); err != nil {
		return nil, fmt.Errorf("journal %s: %w", j.Name, err)
	}
	if j.UploadOperation, err = ParseUploadOperation(section.Key("upload_operation").String()); err != nil {
		return nil, fmt.Errorf("journal %s: %w", j.Name, err)
	}
	if j.LanguageMode, err = ParseLanguageMode(section.Key("language_mode").String()); err != nil {
		return nil, fmt.Errorf("journal %s: %w", j.Name, err)
	}
	if v := section.Key("expected_languages").String(); v != "" {
		j.ExpectedLanguages = splitList(v)
	}
	j.UpdateWindowDays = section.Key("update_window").MustInt(0)
	j.MaxCrawlDepth = section.Key("max_crawl_depth").MustInt(1)
	j.Personalized = section.Key("personalized_authors").MustBool(false)
	j.SelectiveEvaluation = section.Key("selective_evaluation").MustBool(false)
	j.PagedRSS = section.Key("paged_rss").MustBool(false)
	j.PagedRSSSize = section.Key("paged_rss_size").MustInt(20)
	if v := section.Key("paged_rss_range").String(); v != "" {
		for _, part := range splitList(v) {
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("journal %s: paged_rss_range: %w", j.Name, err)
			}
			j.PagedRSSRange = append(j.PagedRSSRange, n)
		}
	}
	for name, target := range map[string]**regexp.Regexp{
		"review_regex":             &j.ReviewRegex,
		"notes_regex":              &j.NotesRegex,
		"extraction_regex":         &j.ExtractionRegex,
		"crawl_url_regex":          &j.CrawlURLRegex,
		"emailcrawl_subject_regex": &j.EmailSubjectRegex,
	} {
		re, err := optionalRegex(section, name)
		if err != nil {
			return nil, fmt.Errorf("journal %s: %w", j.Name, err)
		}
		*target = re
	}
	if j.Metadata, err = loadMetadataParams(section); err != nil {
		return nil, fmt.Errorf("journal %s: %w", j.Name, err)
	}
	return j, nil
}

func loadMetadataParams(section *ini.Section) (MetadataParams, error) {
	params := MetadataParams{
		Zotero: ZoteroParams{
			SuppressFilters:  make(map[string]*regexp.Regexp),
			OverridePatterns: make(map[string]string),
			ExclusionFilters: make(map[string]*regexp.Regexp),
		},
		MARC: MARCParams{
			FieldsToRemove:    make(map[string]*regexp.Regexp),
			SubfieldsToRemove: make(map[string]string),
			ExclusionFilters:  make(map[string]*regexp.Regexp),
		},
	}
	for _, key := range section.Keys() {
		name, value := key.Name(), key.Value()
		switch {
		case strings.HasPrefix(name, keySuppress):
			re, err := regexp.Compile(value)
			if err != nil {
				return params, fmt.Errorf("key %s: %w", name, err)
			}
			params.Zotero.SuppressFilters[strings.TrimPrefix(name, keySuppress)] = re
		case strings.HasPrefix(name, keyOverride):
			params.Zotero.OverridePatterns[strings.TrimPrefix(name, keyOverride)] = value
		case strings.HasPrefix(name, keyExclude):
			re, err := regexp.Compile(value)
			if err != nil {
				return params, fmt.Errorf("key %s: %w", name, err)
			}
			params.Zotero.ExclusionFilters[strings.TrimPrefix(name, keyExclude)] = re
		case strings.HasPrefix(name, keyRewrite):
			rule, err := parseRewrite(strings.TrimPrefix(name, keyRewrite), value)
			if err != nil {
				return params, fmt.Errorf("key %s: %w", name, err)
			}
			params.Zotero.RewriteFilters = append(params.Zotero.RewriteFilters, rule)
		case name == keyAddField:
			params.MARC.FieldsToAdd = append(params.MARC.FieldsToAdd, key.ValueWithShadows()...)
		case strings.HasPrefix(name, keyAddFieldIf):
			// add_field_if:<iffield> = <regex>|<field contents>
			ifField := strings.TrimPrefix(name, keyAddFieldIf)
			pattern, contents, err := splitPair(value)
			if err != nil {
				return params, fmt.Errorf("key %s: %w", name, err)
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return params, fmt.Errorf("key %s: %w", name, err)
			}
			params.MARC.FieldsToAddIf = append(params.MARC.FieldsToAddIf, ConditionalField{
				FieldContents: contents,
				IfField:       ifField,
				Match:         re,
			})
		case strings.HasPrefix(name, keyRemoveField):
			re, err := regexp.Compile(value)
			if err != nil {
				return params, fmt.Errorf("key %s: %w", name, err)
			}
			params.MARC.FieldsToRemove[strings.TrimPrefix(name, keyRemoveField)] = re
		case strings.HasPrefix(name, keyRemoveSubfield):
			params.MARC.SubfieldsToRemove[strings.TrimPrefix(name, keyRemoveSubfield)] = value
		case strings.HasPrefix(name, keyRewriteField):
			rule, err := parseRewrite(strings.TrimPrefix(name, keyRewriteField), value)
			if err != nil {
				return params, fmt.Errorf("key %s: %w", name, err)
			}
			params.MARC.RewriteFilters = append(params.MARC.RewriteFilters, rule)
		case strings.HasPrefix(name, keyExcludeField):
			re, err := regexp.Compile(value)
			if err != nil {
				return params, fmt.Errorf("key %s: %w", name, err)
			}
			params.MARC.ExclusionFilters[strings.TrimPrefix(name, keyExcludeField)] = re
		}
	}
	return params, nil
}

func parseRewrite(field, value string) (RewriteRule, error) {
	pattern, replacement, err := splitPair(value)
	if err != nil {
		return RewriteRule{}, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return RewriteRule{}, err
	}
	return RewriteRule{Field: field, Match: re, Replacement: replacement}, nil
}

// splitPair splits "left|right" at the first pipe not escaped as "\|".
func splitPair(value string) (string, string, error) {
	for i := 0; i < len(value); i++ {
		if value[i] == '|' && (i == 0 || value[i-1] != '\\') {
			left := strings.ReplaceAll(value[:i], `\|`, "|")
			return left, value[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("expected <left>|<right> in %q", value)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func optionalRegex(section *ini.Section, name string) (*regexp.Regexp, error) {
	if !section.HasKey(name) {
		return nil, nil
	}
	re, err := regexp.Compile(section.Key(name).String())
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", name, err)
	}
	return re, nil
}

func durationMS(section *ini.Section, name string, fallback time.Duration) (time.Duration, error) {
	if !section.HasKey(name) {
		return fallback, nil
	}
	v, err := section.Key(name).Int()
	if err != nil {
		return 0, fmt.Errorf("global key %s: %w", name, err)
	}
	return time.Duration(v) * time.Millisecond, nil
}

func durationSecs(section *ini.Section, name string, fallback time.Duration) (time.Duration, error) {
	if !section.HasKey(name) {
		return fallback, nil
	}
	v, err := section.Key(name).Int()
	if err != nil {
		return 0, fmt.Errorf("global key %s: %w", name, err)
	}
	return time.Duration(v) * time.Second, nil
}
