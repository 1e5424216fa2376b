// Package repository implements the delivery-history store on top of the
// driver layer. It answers the two dedup questions of the pipeline (has this
// URL, has this record been delivered) and archives every emitted record.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/semaphore"

	"harvester/config"
	"harvester/driver"
	"harvester/marc"
	"harvester/models"
)

// doiPattern extracts the DOI from resolver and landing-page URLs so both
// forms dedup against each other.
var doiPattern = regexp.MustCompile(`10\.\d{4,9}/[^\s"<>?#]+`)

// DeliveryRepository is safe for concurrent use. A weighted semaphore caps
// in-flight database work independently of the pool size.
type DeliveryRepository struct {
	db      driver.Querier
	sem     *semaphore.Weighted
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  *slog.Logger

	mu         sync.Mutex
	journalIDs map[string]int64
}

func NewDeliveryRepository(db driver.Querier, maxInFlight int64, logger *slog.Logger) (*DeliveryRepository, error) {
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob decoder: %w", err)
	}
	return &DeliveryRepository{
		db:         db,
		sem:        semaphore.NewWeighted(maxInFlight),
		encoder:    encoder,
		decoder:    decoder,
		logger:     logger,
		journalIDs: make(map[string]int64),
	}, nil
}

// RegisterJournal makes sure the journal exists in the store and returns its
// surrogate id. Results are cached for the lifetime of the run.
func (r *DeliveryRepository) RegisterJournal(ctx context.Context, journal *config.JournalParams) (int64, error) {
	key := fmt.Sprintf("%d:%s", journal.ZederID, journal.ZederInstance)

	r.mu.Lock()
	if id, ok := r.journalIDs[key]; ok {
		r.mu.Unlock()
		return id, nil
	}
	r.mu.Unlock()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer r.sem.Release(1)

	id, err := driver.UpsertJournal(ctx, r.db, journal.ZederID, journal.ZederInstance, journal.Name)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.journalIDs[key] = id
	r.mu.Unlock()
	return id, nil
}

// URLAlreadyDelivered reports whether a non-retryable delivery exists for
// the URL. DOI-bearing URLs also match deliveries recorded under any other
// URL form of the same DOI.
func (r *DeliveryRepository) URLAlreadyDelivered(ctx context.Context, url string) (bool, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer r.sem.Release(1)

	rows, err := driver.RecordsByURL(ctx, r.db, url, doiPattern.FindString(url))
	if err != nil {
		return false, err
	}
	return anyBlocking(rows), nil
}

// RecordAlreadyDelivered reports whether the record identified by its URLs
// and content hash has a non-retryable delivery. A hash match means the
// identical content went out before, possibly under a different URL.
func (r *DeliveryRepository) RecordAlreadyDelivered(ctx context.Context, urls []string, hash string) (bool, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer r.sem.Release(1)

	rows, err := driver.RecordsByHash(ctx, r.db, hash)
	if err != nil {
		return false, err
	}
	if anyBlocking(rows) {
		return true, nil
	}
	for _, url := range urls {
		rows, err := driver.RecordsByURL(ctx, r.db, url, doiPattern.FindString(url))
		if err != nil {
			return false, err
		}
		if anyBlocking(rows) {
			return true, nil
		}
	}
	return false, nil
}

// LastUploadTime returns the newest delivery timestamp of a journal; the
// zero time for journals that never delivered.
func (r *DeliveryRepository) LastUploadTime(ctx context.Context, zederID int, zederInstance string) (time.Time, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return time.Time{}, err
	}
	defer r.sem.Release(1)

	return driver.LastUploadTime(ctx, r.db, zederID, zederInstance)
}

// Archive stores one emitted record. When a retryable earlier delivery
// (ERROR or RESET) exists for any of the record's URLs, that row is updated
// in place instead of inserting a second one, keeping re-harvest runs
// idempotent.
func (r *DeliveryRepository) Archive(ctx context.Context, record *marc.Record, journal *config.JournalParams, state models.DeliveryState, errorMessage string) error {
	journalID, err := r.RegisterJournal(ctx, journal)
	if err != nil {
		return err
	}

	urls := recordURLs(record)
	hash := record.Checksum()
	blob := r.encoder.EncodeAll(record.Binary(), nil)

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)

	var retryableID int64
	for _, url := range urls {
		rows, err := driver.RecordsByURL(ctx, r.db, url, doiPattern.FindString(url))
		if err != nil {
			return err
		}
		for _, row := range rows {
			if rowState, err := models.ParseDeliveryState(row.DeliveryState); err == nil && isRetryable(rowState) {
				retryableID = row.ID
			}
		}
	}

	recordID := retryableID
	if retryableID != 0 {
		err = driver.UpdateDeliveredRecord(ctx, r.db, retryableID, hash, state.String(),
			errorMessage, record.MainTitle(), blob)
	} else {
		recordID, err = driver.InsertDeliveredRecord(ctx, r.db, journalID, hash, state.String(),
			errorMessage, record.MainTitle(), blob)
	}
	if err != nil {
		return err
	}

	for _, url := range urls {
		if err := driver.InsertRecordURL(ctx, r.db, recordID, url); err != nil {
			return err
		}
	}
	return nil
}

// TraceFieldPresence records which fields and subfields the record carried,
// building up the per-journal presence expectations that flag metadata
// vanishing from a source between harvests.
func (r *DeliveryRepository) TraceFieldPresence(ctx context.Context, journal *config.JournalParams, record *marc.Record) error {
	journalID, err := r.RegisterJournal(ctx, journal)
	if err != nil {
		return err
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)

	recordType := "regular_article"
	for _, field := range record.FieldsByTag("935") {
		if field.Subfield('c') == "uwre" {
			recordType = "review"
		}
	}

	seen := make(map[string]bool)
	for _, field := range record.Fields {
		if field.IsControl() {
			continue
		}
		for _, subfield := range field.Subfields {
			key := field.Tag + string(subfield.Code)
			if seen[key] {
				continue
			}
			seen[key] = true
			if err := driver.UpsertTracerEntry(ctx, r.db, driver.TracerRow{
				JournalID:     journalID,
				FieldTag:      field.Tag,
				SubfieldCode:  string(subfield.Code),
				RecordType:    recordType,
				FieldPresence: "always",
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// FieldPresenceExpectations lists the presence entries recorded for a
// journal so far. Unknown journals have no expectations yet.
func (r *DeliveryRepository) FieldPresenceExpectations(ctx context.Context, journal *config.JournalParams) ([]driver.TracerRow, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	journalID, found, err := driver.JournalID(ctx, r.db, journal.ZederID, journal.ZederInstance)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return driver.TracerEntries(ctx, r.db, journalID)
}

// EntriesByHash returns the delivery entries matching a content hash,
// oldest first.
func (r *DeliveryRepository) EntriesByHash(ctx context.Context, hash string) ([]models.DeliveredRecordEntry, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	rows, err := driver.RecordsByHash(ctx, r.db, hash)
	if err != nil {
		return nil, err
	}
	entries := make([]models.DeliveredRecordEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toEntry(row))
	}
	return entries, nil
}

// RecordBlob fetches and decompresses the archived serialization of one
// delivery.
func (r *DeliveryRepository) RecordBlob(ctx context.Context, id int64) ([]byte, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	blob, err := driver.RecordBlob(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return nil, nil
	}
	raw, err := r.decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress record blob %d: %w", id, err)
	}
	return raw, nil
}

// PurgeOnlineFirst drops a journal's online-first placeholder deliveries
// older than the given age so finalized versions get through the dedup.
func (r *DeliveryRepository) PurgeOnlineFirst(ctx context.Context, journal *config.JournalParams, olderThanDays int) (int64, error) {
	journalID, err := r.RegisterJournal(ctx, journal)
	if err != nil {
		return 0, err
	}
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer r.sem.Release(1)

	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	deleted, err := driver.DeleteOnlineFirstOlderThan(ctx, r.db, journalID, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.logger.InfoContext(ctx, "purged stale online-first deliveries",
			"journal", journal.Name, "count", deleted)
	}
	return deleted, nil
}

func anyBlocking(rows []driver.RecordRow) bool {
	for _, row := range rows {
		state, err := models.ParseDeliveryState(row.DeliveryState)
		if err != nil {
			// Unknown states block; losing a duplicate beats delivering one.
			return true
		}
		if !isRetryable(state) {
			return true
		}
	}
	return false
}

func isRetryable(state models.DeliveryState) bool {
	for _, s := range models.RetryableDeliveryStates {
		if s == state {
			return true
		}
	}
	return false
}

func toEntry(row driver.RecordRow) models.DeliveredRecordEntry {
	state, err := models.ParseDeliveryState(row.DeliveryState)
	if err != nil {
		state = models.DeliveryError
	}
	return models.DeliveredRecordEntry{
		ID:             row.ID,
		Hash:           row.Hash,
		MainTitle:      row.MainTitle,
		ZederJournalID: row.ZederJournalID,
		State:          state,
		ErrorMessage:   row.ErrorMessage,
		DeliveredAt:    row.DeliveredAt,
	}
}

// recordURLs collects the dedup identity URLs of an assembled record: the
// harvest URL control field plus every electronic-location link.
func recordURLs(record *marc.Record) []string {
	seen := make(map[string]bool)
	var urls []string
	add := func(url string) {
		if url != "" && !seen[url] {
			seen[url] = true
			urls = append(urls, url)
		}
	}
	for _, field := range record.FieldsByTag(marc.TagURL) {
		add(field.ControlValue)
	}
	for _, field := range record.FieldsByTag("856") {
		add(field.Subfield('u'))
	}
	return urls
}
