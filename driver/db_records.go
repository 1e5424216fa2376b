package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// RecordRow mirrors one row of delivered_marc_records.
type RecordRow struct {
	ID             int64
	ZederJournalID int64
	Hash           string
	DeliveryState  string
	ErrorMessage   string
	DeliveredAt    time.Time
	MainTitle      string
}

// InsertDeliveredRecord stores one delivered record and returns its id. The
// blob is the compressed serialized record; it may be nil for states that
// never produced one.
func InsertDeliveredRecord(ctx context.Context, db Querier, journalID int64, hash, state, errorMessage, mainTitle string, blob []byte) (int64, error) {
	const query = `
		INSERT INTO delivered_marc_records
			(zeder_journal_id, hash, delivery_state, error_message, main_title, record_blob_compressed)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	var id int64
	err := db.QueryRow(ctx, query, journalID, hash, state, errorMessage, mainTitle, blob).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert delivered record: %w", err)
	}
	return id, nil
}

// UpdateDeliveredRecord overwrites an existing delivery entry in place; used
// when a record supersedes a retryable earlier delivery of the same item.
func UpdateDeliveredRecord(ctx context.Context, db Querier, id int64, hash, state, errorMessage, mainTitle string, blob []byte) error {
	const query = `
		UPDATE delivered_marc_records
		SET hash = $2, delivery_state = $3, error_message = $4,
		    main_title = $5, record_blob_compressed = $6, delivered_at = NOW()
		WHERE id = $1`

	if _, err := db.Exec(ctx, query, id, hash, state, errorMessage, mainTitle, blob); err != nil {
		return fmt.Errorf("failed to update delivered record %d: %w", id, err)
	}
	return nil
}

// InsertRecordURL attaches a URL to a delivered record.
func InsertRecordURL(ctx context.Context, db Querier, recordID int64, url string) error {
	const query = `
		INSERT INTO delivered_marc_records_urls (record_id, url)
		VALUES ($1, $2)
		ON CONFLICT (record_id, url) DO NOTHING`

	if _, err := db.Exec(ctx, query, recordID, url); err != nil {
		return fmt.Errorf("failed to insert record url: %w", err)
	}
	return nil
}

// RecordsByHash returns deliveries with the given content hash, oldest
// first.
func RecordsByHash(ctx context.Context, db Querier, hash string) ([]RecordRow, error) {
	const query = `
		SELECT id, zeder_journal_id, hash, delivery_state, error_message, delivered_at, main_title
		FROM delivered_marc_records
		WHERE hash = $1
		ORDER BY delivered_at`

	rows, err := db.Query(ctx, query, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to query records by hash: %w", err)
	}
	defer rows.Close()
	return scanRecordRows(rows)
}

// RecordsByURL returns deliveries attached to the exact URL. When doiSuffix
// is non-empty, deliveries whose URL ends in that suffix match as well, so a
// DOI resolves against both resolver and landing-page forms.
func RecordsByURL(ctx context.Context, db Querier, url, doiSuffix string) ([]RecordRow, error) {
	const query = `
		SELECT DISTINCT r.id, r.zeder_journal_id, r.hash, r.delivery_state,
		       r.error_message, r.delivered_at, r.main_title
		FROM delivered_marc_records r
		JOIN delivered_marc_records_urls u ON u.record_id = r.id
		WHERE u.url = $1 OR ($2 <> '' AND u.url LIKE '%' || $2)
		ORDER BY r.delivered_at`

	rows, err := db.Query(ctx, query, url, doiSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to query records by url: %w", err)
	}
	defer rows.Close()
	return scanRecordRows(rows)
}

// RecordBlob fetches the compressed record blob of one delivery.
func RecordBlob(ctx context.Context, db Querier, id int64) ([]byte, error) {
	const query = `
		SELECT record_blob_compressed FROM delivered_marc_records WHERE id = $1`

	var blob []byte
	err := db.QueryRow(ctx, query, id).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no delivered record with id %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch record blob %d: %w", id, err)
	}
	return blob, nil
}

// DeleteOnlineFirstOlderThan drops stale online-first placeholders of one
// journal so the finalized versions can be delivered again.
func DeleteOnlineFirstOlderThan(ctx context.Context, db Querier, journalID int64, cutoff time.Time) (int64, error) {
	const query = `
		DELETE FROM delivered_marc_records
		WHERE zeder_journal_id = $1
		  AND delivery_state = 'ONLINE_FIRST'
		  AND delivered_at < $2`

	tag, err := db.Exec(ctx, query, journalID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete online-first records: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecordRows(rows pgx.Rows) ([]RecordRow, error) {
	var entries []RecordRow
	for rows.Next() {
		var row RecordRow
		if err := rows.Scan(&row.ID, &row.ZederJournalID, &row.Hash, &row.DeliveryState,
			&row.ErrorMessage, &row.DeliveredAt, &row.MainTitle); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		entries = append(entries, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate record rows: %w", err)
	}
	return entries, nil
}
