package driver

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TracerRow mirrors one row of metadata_presence_tracer: which MARC fields a
// journal's records have historically carried.
type TracerRow struct {
	JournalID     int64
	FieldTag      string
	SubfieldCode  string
	RecordType    string
	Regex         string
	FieldPresence string
}

// UpsertTracerEntry records that a field occurred (or is expected) in a
// journal's output.
func UpsertTracerEntry(ctx context.Context, db Querier, entry TracerRow) error {
	const query = `
		INSERT INTO metadata_presence_tracer
			(journal_id, marc_field_tag, marc_subfield_code, record_type, regex, field_presence)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (journal_id, marc_field_tag, marc_subfield_code, record_type)
		DO UPDATE SET regex = EXCLUDED.regex, field_presence = EXCLUDED.field_presence`

	_, err := db.Exec(ctx, query, entry.JournalID, entry.FieldTag, entry.SubfieldCode,
		entry.RecordType, entry.Regex, entry.FieldPresence)
	if err != nil {
		return fmt.Errorf("failed to upsert tracer entry: %w", err)
	}
	return nil
}

// TracerEntries lists the presence expectations of one journal.
func TracerEntries(ctx context.Context, db Querier, journalID int64) ([]TracerRow, error) {
	const query = `
		SELECT journal_id, marc_field_tag, marc_subfield_code, record_type,
		       COALESCE(regex, ''), field_presence
		FROM metadata_presence_tracer
		WHERE journal_id = $1
		ORDER BY marc_field_tag, marc_subfield_code`

	rows, err := db.Query(ctx, query, journalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracer entries: %w", err)
	}
	defer rows.Close()
	return scanTracerRows(rows)
}

func scanTracerRows(rows pgx.Rows) ([]TracerRow, error) {
	var entries []TracerRow
	for rows.Next() {
		var row TracerRow
		if err := rows.Scan(&row.JournalID, &row.FieldTag, &row.SubfieldCode,
			&row.RecordType, &row.Regex, &row.FieldPresence); err != nil {
			return nil, fmt.Errorf("failed to scan tracer row: %w", err)
		}
		entries = append(entries, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tracer rows: %w", err)
	}
	return entries, nil
}
