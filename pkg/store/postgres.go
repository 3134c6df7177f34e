package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS agents (
	handle     TEXT PRIMARY KEY,
	authority  TEXT NOT NULL UNIQUE,
	record     BYTEA NOT NULL,
	score      BIGINT NOT NULL CHECK (score BETWEEN 0 AND 10000),
	version    BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

var postgresDialect = dialect{
	name:   "postgres",
	schema: postgresSchema,
	insert: `INSERT INTO agents (handle, authority, record, score, version)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (handle) DO NOTHING`,
	load: `SELECT record, version FROM agents WHERE handle = $1`,
	update: `UPDATE agents
		SET record = $1, score = $2, version = version + 1, updated_at = NOW()
		WHERE handle = $3 AND version = $4`,
	// Class 53: insufficient_resources (disk_full, out_of_memory, ...).
	allocation: func(err error) bool { return pqClass(err) == "53" },
	// Class 40: transaction_rollback (serialization_failure, deadlock_detected).
	conflict: func(err error) bool { return pqClass(err) == "40" },
}

func pqClass(err error) pq.ErrorClass {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code.Class()
	}
	return ""
}

// NewPostgresStore creates an agent store on an open Postgres database and
// applies the schema.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	return newSQLStore(ctx, db, postgresDialect)
}

// OpenPostgres connects using a lib/pq DSN or URL.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s, err := NewPostgresStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
