package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaVersion is the version this build of the store understands. Opening
// a database stamped with any other version fails closed: the store never
// auto-migrates (spec §6).
const schemaVersion = 1

const ddl = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	media_id                 TEXT    PRIMARY KEY,
	fingerprint              BLOB,
	hashed                   INTEGER NOT NULL DEFAULT 0,
	search_complete          INTEGER NOT NULL DEFAULT 0,
	failed                   INTEGER NOT NULL DEFAULT 0,
	farthest_searched_cursor TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_entries_hashed ON entries (hashed);
CREATE INDEX IF NOT EXISTS idx_entries_search_complete ON entries (search_complete);
`

// ErrVersionMismatch is returned by Open when an existing database was
// stamped by a different, incompatible schema version.
type ErrVersionMismatch struct {
	Found, Want int
}

func (e *ErrVersionMismatch) Error() string {
	return fmt.Sprintf("store: schema version %d on disk, this build understands %d", e.Found, e.Want)
}

// ErrCorruption is returned when a stored fingerprint BLOB fails to decode
// (spec §6: truncated or malformed wire-format payload).
type ErrCorruption struct {
	MediaID string
	Reason  string
}

func (e *ErrCorruption) Error() string {
	return fmt.Sprintf("store: corrupt fingerprint for media %q: %s", e.MediaID, e.Reason)
}

func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return fmt.Errorf("store: read schema_version: %w", err)
	}

	if count == 0 {
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("store: stamp schema_version: %w", err)
		}
		return nil
	}

	var found int
	if err := db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&found); err != nil {
		return fmt.Errorf("store: read schema_version: %w", err)
	}
	if found != schemaVersion {
		return &ErrVersionMismatch{Found: found, Want: schemaVersion}
	}
	return nil
}
