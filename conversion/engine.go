// Package conversion turns translation-service items into catalog records:
// parse, filter, extract, augment, assemble, deduplicate.
package conversion

import (
	"context"
	"fmt"
	"log/slog"

	"harvester/config"
	"harvester/marc"
	"harvester/models"
	"harvester/translator"
)

// SkipReason says why an item produced no record. The zero value means the
// item was converted.
type SkipReason int

const (
	SkipNone SkipReason = iota
	SkipExclusionFilters
	SkipUndesiredItemType
	SkipOnlineFirst
	SkipEarlyView
	SkipAlreadyDelivered
)

func (r SkipReason) String() string {
	switch r {
	case SkipExclusionFilters:
		return "exclusion_filters"
	case SkipUndesiredItemType:
		return "undesired_item_type"
	case SkipOnlineFirst:
		return "online_first"
	case SkipEarlyView:
		return "early_view"
	case SkipAlreadyDelivered:
		return "already_delivered"
	}
	return "none"
}

// ConversionError marks items whose conversion failed outright (bad JSON,
// missing URL, empty title, incomplete ISSN/PPN configuration).
type ConversionError struct {
	Reason string
}

func (e *ConversionError) Error() string { return "conversion error: " + e.Reason }

// Outcome is the result for one translation item: a record, a skip, or an
// error.
type Outcome struct {
	Record *marc.Record
	Skip   SkipReason
	Error  error
}

// DeliveryLookup is the slice of the delivery-history store the engine
// needs for the final dedup stage. Implementations ignore records whose
// state is retryable (ERROR, RESET).
type DeliveryLookup interface {
	RecordAlreadyDelivered(ctx context.Context, urls []string, hash string) (bool, error)
}

// Options are the command-line switches that alter conversion behavior.
type Options struct {
	ForceDownloads bool
}

// Engine converts translation items for all journals of a run. Safe for
// concurrent use; all configuration is read-only.
type Engine struct {
	cfg      *config.Config
	store    DeliveryLookup
	detector *LanguageDetector
	authors  *AuthorLookup
	maps     *EnhancementMaps
	logger   *slog.Logger
	opts     Options
}

func NewEngine(cfg *config.Config, store DeliveryLookup, maps *EnhancementMaps, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    store,
		detector: NewLanguageDetector(cfg.Global.LanguageDetectionURL, logger),
		authors:  NewAuthorLookup(logger),
		maps:     maps,
		logger:   logger,
		opts:     opts,
	}
}

// Convert processes the translation-service response for one downloaded
// item and returns one outcome per contained entry.
func (e *Engine) Convert(ctx context.Context, item models.HarvestableItem, blob []byte) []Outcome {
	entries, err := translator.Parse(blob)
	if err != nil {
		return []Outcome{{Error: &ConversionError{Reason: fmt.Sprintf("bad json: %v", err)}}}
	}

	journal := item.Journal
	group := e.cfg.GroupOf(journal)
	subgroup := e.cfg.SubgroupOf(journal)
	scopes := zoteroScopes(&e.cfg.Global.Metadata, groupMetadata(group), groupMetadata(subgroup), &journal.Metadata)

	translator.ApplyFieldFilters(entries, scopes...)

	outcomes := make([]Outcome, 0, len(entries))
	for _, entry := range entries {
		outcomes = append(outcomes, e.convertOne(ctx, item, group, scopes, entry))
	}
	return outcomes
}

func (e *Engine) convertOne(ctx context.Context, item models.HarvestableItem, group *config.GroupParams, scopes []*config.ZoteroParams, entry translator.Item) Outcome {
	journal := item.Journal

	if translator.MatchesExclusion(entry, scopes...) {
		e.logger.InfoContext(ctx, "item dropped by exclusion filter", "item", item.String())
		return Outcome{Skip: SkipExclusionFilters}
	}

	record := extractMetadata(entry, item)

	if undesiredItemTypes[record.ItemType] {
		e.logger.InfoContext(ctx, "undesired item type", "item", item.String(), "type", record.ItemType)
		return Outcome{Skip: SkipUndesiredItemType}
	}

	if err := e.augment(ctx, record, item, group); err != nil {
		return Outcome{Error: err}
	}

	if skip := earlyViewCheck(record, e.cfg.Global.SkipOnlineFirstAlways); skip != SkipNone {
		e.logger.InfoContext(ctx, "item skipped", "item", item.String(), "reason", skip.String())
		return Outcome{Skip: skip}
	}

	marcRecord, err := e.assemble(record, item, group)
	if err != nil {
		return Outcome{Error: err}
	}

	if e.matchesMARCExclusion(marcRecord, journal, group) {
		e.logger.InfoContext(ctx, "record dropped by catalog exclusion filter", "item", item.String())
		return Outcome{Skip: SkipExclusionFilters}
	}

	hash := marcRecord.Checksum()
	identify(marcRecord, group.Name, hash)

	if !e.opts.ForceDownloads {
		delivered, err := e.store.RecordAlreadyDelivered(ctx, recordURLs(record), hash)
		if err != nil {
			return Outcome{Error: fmt.Errorf("delivery lookup failed: %w", err)}
		}
		if delivered {
			e.logger.InfoContext(ctx, "record already delivered", "item", item.String(), "hash", hash)
			return Outcome{Skip: SkipAlreadyDelivered}
		}
	}

	return Outcome{Record: marcRecord}
}

// undesiredItemTypes never become catalog records.
var undesiredItemTypes = map[string]bool{
	"webpage":    true,
	"attachment": true,
	"blogPost":   true,
	"forumPost":  true,
}

// earlyViewCheck implements the online-first and early-view filters for
// article-like item types.
func earlyViewCheck(record *models.MetadataRecord, skipOnlineFirstAlways bool) SkipReason {
	if !record.HasArticleItemType() {
		return SkipNone
	}
	if record.Issue == "n/a" || record.Volume == "n/a" {
		return SkipEarlyView
	}
	if record.Issue == "" && record.Volume == "" {
		if skipOnlineFirstAlways || record.DOI == "" {
			return SkipOnlineFirst
		}
	}
	return SkipNone
}

func recordURLs(record *models.MetadataRecord) []string {
	urls := []string{record.URL}
	if record.DOI != "" {
		urls = append(urls, "https://doi.org/"+record.DOI)
	}
	return urls
}

func zoteroScopes(scopes ...*config.MetadataParams) []*config.ZoteroParams {
	var out []*config.ZoteroParams
	for _, scope := range scopes {
		if scope != nil {
			out = append(out, &scope.Zotero)
		}
	}
	return out
}

func groupMetadata(group *config.GroupParams) *config.MetadataParams {
	if group == nil {
		return nil
	}
	return &group.Metadata
}
