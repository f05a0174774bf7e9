package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// retryPolicy configures RunTx/Exec's retry-on-SQLITE_BUSY behavior.
type retryPolicy struct {
	attempts int
	base     time.Duration
	max      time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{attempts: 5, base: 10 * time.Millisecond, max: 500 * time.Millisecond}
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

func backoffSleep(ctx context.Context, attempt int, p retryPolicy) error {
	d := p.base * (1 << attempt)
	if d > p.max {
		d = p.max
	}
	d += time.Duration(rand.Int63n(int64(d)/2 + 1))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RunTx runs fn inside a transaction, retrying the whole transaction on
// SQLITE_BUSY/SQLITE_LOCKED with exponential backoff. fn must be
// idempotent: it may be invoked more than once.
func RunTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	p := defaultRetryPolicy()
	var lastErr error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			if err := backoffSleep(ctx, attempt, p); err != nil {
				return err
			}
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			if isBusy(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := fn(tx); err != nil {
			tx.Rollback()
			if isBusy(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isBusy(err) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

// Exec runs db.ExecContext, retrying on SQLITE_BUSY/SQLITE_LOCKED with
// exponential backoff.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	p := defaultRetryPolicy()
	var lastErr error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			if err := backoffSleep(ctx, attempt, p); err != nil {
				return nil, err
			}
		}
		res, err := db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		if !isBusy(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
