package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS agents (
	handle     TEXT PRIMARY KEY,
	authority  TEXT NOT NULL UNIQUE,
	record     BLOB NOT NULL,
	score      INTEGER NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

var sqliteDialect = dialect{
	name:   "sqlite",
	schema: sqliteSchema,
	insert: `INSERT INTO agents (handle, authority, record, score, version)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(handle) DO NOTHING`,
	load: `SELECT record, version FROM agents WHERE handle = ?`,
	update: `UPDATE agents
		SET record = ?, score = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE handle = ? AND version = ?`,
	allocation: func(err error) bool { return sqliteCode(err) == sqlite3.SQLITE_FULL },
	conflict: func(err error) bool {
		code := sqliteCode(err)
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	},
}

// sqliteCode returns the primary result code of a driver error, or -1.
func sqliteCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() & 0xff
	}
	return -1
}

// NewSQLiteStore creates an agent store on an open SQLite database and
// applies the schema.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	return newSQLStore(ctx, db, sqliteDialect)
}

// OpenSQLite opens (or creates) the database at path in WAL mode and
// returns a store on it.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer connection; concurrent writers are detected via version.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}

	s, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
