package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// UpsertJournal registers a journal in the delivery history and returns its
// surrogate id. The journal name follows renames in the configuration.
func UpsertJournal(ctx context.Context, db Querier, zederID int, zederInstance, name string) (int64, error) {
	const query = `
		INSERT INTO zeder_journals (zeder_id, zeder_instance, journal_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (zeder_id, zeder_instance)
		DO UPDATE SET journal_name = EXCLUDED.journal_name
		RETURNING id`

	var id int64
	if err := db.QueryRow(ctx, query, zederID, zederInstance, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to upsert journal %d:%s: %w", zederID, zederInstance, err)
	}
	return id, nil
}

// JournalID resolves the surrogate id without registering anything.
func JournalID(ctx context.Context, db Querier, zederID int, zederInstance string) (int64, bool, error) {
	const query = `
		SELECT id FROM zeder_journals
		WHERE zeder_id = $1 AND zeder_instance = $2`

	var id int64
	err := db.QueryRow(ctx, query, zederID, zederInstance).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up journal %d:%s: %w", zederID, zederInstance, err)
	}
	return id, true, nil
}

// LastUploadTime returns the newest delivery timestamp for a journal. The
// zero time means the journal has never delivered anything.
func LastUploadTime(ctx context.Context, db Querier, zederID int, zederInstance string) (time.Time, error) {
	const query = `
		SELECT COALESCE(MAX(r.delivered_at), 'epoch'::timestamp)
		FROM delivered_marc_records r
		JOIN zeder_journals j ON j.id = r.zeder_journal_id
		WHERE j.zeder_id = $1 AND j.zeder_instance = $2`

	var last time.Time
	if err := db.QueryRow(ctx, query, zederID, zederInstance).Scan(&last); err != nil {
		return time.Time{}, fmt.Errorf("failed to get last upload time for %d:%s: %w", zederID, zederInstance, err)
	}
	if last.Unix() <= 0 {
		return time.Time{}, nil
	}
	return last, nil
}
