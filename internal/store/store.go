// Package store persists per-media hashing and search progress in a
// versioned SQLite database: one row per media item, carrying its encoded
// vPDQ fingerprint and the lifecycle flags the Pipeline Driver and Search
// Coordinator use to resume interrupted runs.
//
// Grounded on the teacher's domkeeper/internal/store package: a single
// *sql.DB, explicit schema versioning that refuses silently-incompatible
// databases rather than migrating them, and dbopen for pragma setup and
// SQLITE_BUSY retry.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hydrusvideodeduplicator/hvdedup/internal/dbopen"
	"github.com/hydrusvideodeduplicator/hvdedup/internal/vpdq"
)

// Entry is one media item's persisted state.
type Entry struct {
	MediaID                string
	Fingerprint            vpdq.Fingerprint
	Hashed                 bool
	SearchComplete         bool
	Failed                 bool
	FarthestSearchedCursor string // lexicographically largest MediaID considered during this entry's search pass
}

// Store wraps a SQLite database holding hashing/search progress.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the database at path and verifies its
// schema version. It never migrates: a database stamped with an
// incompatible version returns *ErrVersionMismatch.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenWithDB wraps an already-open *sql.DB (used by tests with
// dbopen.OpenMemory).
func OpenWithDB(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := initSchema(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the entry for mediaID, or ok=false if it has never been seen.
func (s *Store) Get(ctx context.Context, mediaID string) (Entry, bool, error) {
	var (
		blob           []byte
		hashed         bool
		searchComplete bool
		failed         bool
		cursor         string
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, hashed, search_complete, failed, farthest_searched_cursor
		FROM entries WHERE media_id = ?`, mediaID)
	err := row.Scan(&blob, &hashed, &searchComplete, &failed, &cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("store: get %q: %w", mediaID, err)
	}

	e := Entry{
		MediaID:                mediaID,
		Hashed:                 hashed,
		SearchComplete:         searchComplete,
		Failed:                 failed,
		FarthestSearchedCursor: cursor,
	}
	if len(blob) > 0 {
		_, fp, err := decodeFingerprint(blob)
		if err != nil {
			return Entry{}, false, &ErrCorruption{MediaID: mediaID, Reason: err.Error()}
		}
		e.Fingerprint = fp
	}
	return e, true, nil
}

// UpsertFingerprint stores a video's fingerprint and marks it hashed,
// clearing any prior failed flag.
func (s *Store) UpsertFingerprint(ctx context.Context, mediaID string, fp vpdq.Fingerprint) error {
	blob, err := encodeFingerprint(mediaID, fp)
	if err != nil {
		return err
	}
	_, err = dbopen.Exec(ctx, s.db, `
		INSERT INTO entries (media_id, fingerprint, hashed, failed)
		VALUES (?, ?, 1, 0)
		ON CONFLICT (media_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			hashed = 1,
			failed = 0,
			search_complete = 0,
			farthest_searched_cursor = ''`,
		mediaID, blob)
	if err != nil {
		return fmt.Errorf("store: upsert fingerprint %q: %w", mediaID, err)
	}
	return nil
}

// MarkFailed records that mediaID could not be hashed.
func (s *Store) MarkFailed(ctx context.Context, mediaID string) error {
	_, err := dbopen.Exec(ctx, s.db, `
		INSERT INTO entries (media_id, hashed, failed)
		VALUES (?, 0, 1)
		ON CONFLICT (media_id) DO UPDATE SET failed = 1`,
		mediaID)
	if err != nil {
		return fmt.Errorf("store: mark failed %q: %w", mediaID, err)
	}
	return nil
}

// AdvanceSearchCursor records the farthest MediaID this entry has been
// compared against, so a cancelled search run can resume without
// re-comparing already-searched pairs.
func (s *Store) AdvanceSearchCursor(ctx context.Context, mediaID, cursor string) error {
	_, err := dbopen.Exec(ctx, s.db, `
		UPDATE entries SET farthest_searched_cursor = ? WHERE media_id = ?`,
		cursor, mediaID)
	if err != nil {
		return fmt.Errorf("store: advance cursor %q: %w", mediaID, err)
	}
	return nil
}

// MarkSearchComplete marks mediaID as having been compared against every
// other hashed entry available at the time of the search pass.
func (s *Store) MarkSearchComplete(ctx context.Context, mediaID string) error {
	_, err := dbopen.Exec(ctx, s.db, `
		UPDATE entries SET search_complete = 1 WHERE media_id = ?`, mediaID)
	if err != nil {
		return fmt.Errorf("store: mark search complete %q: %w", mediaID, err)
	}
	return nil
}

// Delete removes mediaID's entry entirely.
func (s *Store) Delete(ctx context.Context, mediaID string) error {
	_, err := dbopen.Exec(ctx, s.db, `DELETE FROM entries WHERE media_id = ?`, mediaID)
	if err != nil {
		return fmt.Errorf("store: delete %q: %w", mediaID, err)
	}
	return nil
}

// ClearSearchProgress resets search_complete and farthest_searched_cursor
// on every entry, forcing a full re-search on the next pipeline run
// (config.ClearSearchCache, spec §6).
func (s *Store) ClearSearchProgress(ctx context.Context) error {
	_, err := dbopen.Exec(ctx, s.db, `
		UPDATE entries SET search_complete = 0, farthest_searched_cursor = ''`)
	if err != nil {
		return fmt.Errorf("store: clear search progress: %w", err)
	}
	return nil
}

// Clear removes every entry (config.ClearEntireCache, spec §6).
func (s *Store) Clear(ctx context.Context) error {
	_, err := dbopen.Exec(ctx, s.db, `DELETE FROM entries`)
	if err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}

// ListFailed returns every MediaId currently marked failed, in media_id
// order, so a caller can address them for follow-up (re-fetch, report,
// manual inspection) without scanning the whole store.
func (s *Store) ListFailed(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.Iter(ctx, IterOptions{FailedOnly: true}, func(e Entry) (bool, error) {
		ids = append(ids, e.MediaID)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// VisitFunc is called once per matching entry by Iter. Returning false
// stops iteration early.
type VisitFunc func(Entry) (cont bool, err error)

// IterOptions filters which entries Iter visits.
type IterOptions struct {
	HashedOnly        bool // only entries with hashed = 1
	ExcludeSearchDone bool // skip entries with search_complete = 1
	ExcludeFailed     bool // skip entries with failed = 1
	FailedOnly        bool // only entries with failed = 1
}

// Iter streams entries matching opts to visit, in media_id order, without
// loading the whole table into memory.
func (s *Store) Iter(ctx context.Context, opts IterOptions, visit VisitFunc) error {
	query := `SELECT media_id, fingerprint, hashed, search_complete, failed, farthest_searched_cursor FROM entries WHERE 1=1`
	if opts.HashedOnly {
		query += ` AND hashed = 1`
	}
	if opts.ExcludeSearchDone {
		query += ` AND search_complete = 0`
	}
	if opts.ExcludeFailed {
		query += ` AND failed = 0`
	}
	if opts.FailedOnly {
		query += ` AND failed = 1`
	}
	query += ` ORDER BY media_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("store: iter: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			mediaID        string
			blob           []byte
			hashed         bool
			searchComplete bool
			failed         bool
			cursor         string
		)
		if err := rows.Scan(&mediaID, &blob, &hashed, &searchComplete, &failed, &cursor); err != nil {
			return fmt.Errorf("store: iter scan: %w", err)
		}

		e := Entry{
			MediaID:                mediaID,
			Hashed:                 hashed,
			SearchComplete:         searchComplete,
			Failed:                 failed,
			FarthestSearchedCursor: cursor,
		}
		if len(blob) > 0 {
			_, fp, err := decodeFingerprint(blob)
			if err != nil {
				return &ErrCorruption{MediaID: mediaID, Reason: err.Error()}
			}
			e.Fingerprint = fp
		}

		cont, err := visit(e)
		if err != nil {
			return err
		}
		if !cont {
			break
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return rows.Err()
}
