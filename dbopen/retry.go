package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// The artifact index and the monitor daemon write to the same database
// file, so short BUSY windows are normal. Three attempts with a linear
// backoff ride them out; anything longer is a real problem and surfaces
// to the caller.
const maxRetries = 3

func backoff(attempt int) time.Duration {
	return time.Duration(100*(attempt+1)) * time.Millisecond
}

// IsBusy reports whether err is an SQLite lock contention error worth
// retrying. Driver versions differ in how they phrase it, so the message
// is matched rather than the code.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx runs fn in a transaction, retrying the whole transaction when the
// database is busy. fn may run more than once and must be safe to repeat.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	for attempt := range maxRetries {
		err := runTxOnce(ctx, db, fn)
		if err == nil {
			return nil
		}
		if !IsBusy(err) || attempt == maxRetries-1 {
			return err
		}
		if err := waitRetry(ctx, backoff(attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("dbopen: RunTx: max retries exceeded")
}

func runTxOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

// Exec runs a single statement with the same busy-retry policy as RunTx.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	for attempt := range maxRetries {
		result, err := db.ExecContext(ctx, query, args...)
		if err == nil {
			return result, nil
		}
		if !IsBusy(err) || attempt == maxRetries-1 {
			return nil, err
		}
		if err := waitRetry(ctx, backoff(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("dbopen: Exec: max retries exceeded")
}

func waitRetry(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("dbopen: context cancelled during retry: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}
