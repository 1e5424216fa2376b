// Package driver holds the SQL layer of the delivery-history store. Each
// table family has its own file; all functions run against the Querier
// interface so tests can substitute a mock pool.
package driver

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the pgxpool.Pool subset the driver needs; pgxmock satisfies
// it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Init opens the connection pool from DATABASE_URL.
func Init(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the delivery-history tables when they do not exist.
func EnsureSchema(ctx context.Context, db Querier) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS zeder_journals (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			zeder_id INTEGER NOT NULL,
			zeder_instance TEXT NOT NULL,
			journal_name TEXT NOT NULL,
			UNIQUE (zeder_id, zeder_instance)
		)`,
		`CREATE TABLE IF NOT EXISTS delivered_marc_records (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			zeder_journal_id BIGINT NOT NULL REFERENCES zeder_journals(id),
			hash TEXT NOT NULL,
			delivery_state TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			delivered_at TIMESTAMP NOT NULL DEFAULT NOW(),
			main_title TEXT NOT NULL DEFAULT '',
			record_blob_compressed BYTEA
		)`,
		`CREATE INDEX IF NOT EXISTS delivered_marc_records_hash_idx
			ON delivered_marc_records (hash)`,
		`CREATE TABLE IF NOT EXISTS delivered_marc_records_urls (
			record_id BIGINT NOT NULL REFERENCES delivered_marc_records(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			UNIQUE (record_id, url)
		)`,
		`CREATE TABLE IF NOT EXISTS metadata_presence_tracer (
			journal_id BIGINT NOT NULL REFERENCES zeder_journals(id),
			marc_field_tag TEXT NOT NULL,
			marc_subfield_code TEXT NOT NULL,
			record_type TEXT NOT NULL DEFAULT 'regular',
			regex TEXT,
			field_presence TEXT NOT NULL DEFAULT 'optional',
			UNIQUE (journal_id, marc_field_tag, marc_subfield_code, record_type)
		)`,
	}
	for _, statement := range statements {
		if _, err := db.Exec(ctx, statement); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
