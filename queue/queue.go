// Package queue schedules recurring monitoring work in SQLite.
//
// Each monitored subject is a row with a next-due timestamp. A worker claims
// the oldest due subject by pushing its due time forward (the visibility
// window); if the worker finishes it reschedules the subject one interval
// ahead, and if it crashes the subject simply becomes due again when the
// window expires. Multiple daemon instances can share one table without a
// broker; SQLite's single-writer semantics make the claim atomic.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/pageshot/idgen"
)

// Schema creates the monitor schedule table.
const Schema = `
CREATE TABLE IF NOT EXISTS monitor_subjects (
    id          TEXT PRIMARY KEY,
    url         TEXT NOT NULL UNIQUE,
    interval_ms INTEGER NOT NULL,
    due_at      INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL,
    runs        INTEGER NOT NULL DEFAULT 0,
    last_error  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_monitor_due ON monitor_subjects (due_at);
`

// Subject is one monitored URL and its schedule.
type Subject struct {
	ID        string
	URL       string
	Interval  time.Duration
	DueAt     time.Time
	CreatedAt time.Time
	Runs      int
	LastError string
}

// Options configures scheduler behaviour.
type Options struct {
	// Visibility is how long a claimed subject stays off the schedule
	// while a worker runs it. Must exceed the slowest expected snapshot.
	// Default: 2m.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts in the Run loop.
	// Default: 5s.
	PollInterval time.Duration
	// RetryDelay is how soon a failed snapshot is retried, instead of
	// waiting a full interval. Default: 1m.
	RetryDelay time.Duration

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Scheduler is the schedule handle.
type Scheduler struct {
	db    *sql.DB
	opts  Options
	newID idgen.Generator
}

// New creates a Scheduler. Call Init once at startup.
func New(db *sql.DB, opts Options) *Scheduler {
	opts.defaults()
	return &Scheduler{db: db, opts: opts, newID: idgen.Prefixed("sub_", idgen.Default)}
}

// Init creates the schedule table if it doesn't exist.
func (s *Scheduler) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

// Add registers url for monitoring at the given interval. The first run is
// due immediately. Adding an existing URL updates its interval.
func (s *Scheduler) Add(ctx context.Context, url string, interval time.Duration) (*Subject, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("queue: interval must be positive, got %s", interval)
	}
	now := time.Now()
	id := s.newID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitor_subjects (id, url, interval_ms, due_at, created_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(url) DO UPDATE SET interval_ms = excluded.interval_ms`,
		id, url, interval.Milliseconds(), now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("queue: add %s: %w", url, err)
	}
	return s.getByURL(ctx, url)
}

// Remove drops url from the schedule.
func (s *Scheduler) Remove(ctx context.Context, url string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM monitor_subjects WHERE url = ?`, url)
	if err != nil {
		return fmt.Errorf("queue: remove %s: %w", url, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue: not monitored: %s", url)
	}
	return nil
}

// List returns all subjects ordered by next due time.
func (s *Scheduler) List(ctx context.Context) ([]Subject, error) {
	rows, err := s.db.QueryContext(ctx, selectCols+` ORDER BY due_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("queue: list: %w", err)
	}
	defer rows.Close()

	var out []Subject
	for rows.Next() {
		sub, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

// ClaimDue atomically picks the most overdue subject and pushes its due
// time into the visibility window. Returns nil, nil when nothing is due.
func (s *Scheduler) ClaimDue(ctx context.Context) (*Subject, error) {
	now := time.Now()
	row := s.db.QueryRowContext(ctx, `
		UPDATE monitor_subjects
		SET due_at = ?, runs = runs + 1
		WHERE id = (
			SELECT id FROM monitor_subjects
			WHERE due_at <= ?
			ORDER BY due_at ASC
			LIMIT 1
		)
		RETURNING id, url, interval_ms, due_at, created_at, runs, last_error`,
		now.Add(s.opts.Visibility).UnixMilli(), now.UnixMilli(),
	)
	sub, err := scanSubject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sub, err
}

// Complete reschedules a claimed subject one interval ahead and clears its
// error marker.
func (s *Scheduler) Complete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE monitor_subjects
		SET due_at = ? + interval_ms, last_error = ''
		WHERE id = ?`,
		time.Now().UnixMilli(), id,
	)
	return err
}

// Fail records the error and reschedules after the retry delay, so a flaky
// page is retried sooner than its full interval.
func (s *Scheduler) Fail(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE monitor_subjects SET due_at = ?, last_error = ? WHERE id = ?`,
		time.Now().Add(s.opts.RetryDelay).UnixMilli(), msg, id,
	)
	return err
}

// Handler runs one snapshot for a due subject. Return nil to reschedule
// normally, non-nil to retry after the retry delay.
type Handler func(ctx context.Context, sub *Subject) error

// Run polls for due subjects and calls handler for each one, sequentially.
// Blocks until ctx is cancelled. Captures are browser-heavy, so the daemon
// runs one subject at a time; concurrency lives inside the capture batch.
func (s *Scheduler) Run(ctx context.Context, handler Handler) {
	log := s.opts.Logger
	log.Info("monitor scheduler started", "poll", s.opts.PollInterval, "visibility", s.opts.Visibility)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("monitor scheduler stopped")
			return
		case <-ticker.C:
			s.drain(ctx, handler, log)
		}
	}
}

func (s *Scheduler) drain(ctx context.Context, handler Handler, log *slog.Logger) {
	for {
		sub, err := s.ClaimDue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("claim failed", "error", err)
			}
			return
		}
		if sub == nil {
			return
		}

		if err := handler(ctx, sub); err != nil {
			log.Warn("snapshot failed", "url", sub.URL, "error", err)
			_ = s.Fail(context.WithoutCancel(ctx), sub.ID, err)
		} else {
			_ = s.Complete(context.WithoutCancel(ctx), sub.ID)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

const selectCols = `SELECT id, url, interval_ms, due_at, created_at, runs, last_error FROM monitor_subjects`

func (s *Scheduler) getByURL(ctx context.Context, url string) (*Subject, error) {
	row := s.db.QueryRowContext(ctx, selectCols+` WHERE url = ?`, url)
	return scanSubject(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubject(row rowScanner) (*Subject, error) {
	var sub Subject
	var intervalMS, dueAt, createdAt int64
	if err := row.Scan(&sub.ID, &sub.URL, &intervalMS, &dueAt, &createdAt, &sub.Runs, &sub.LastError); err != nil {
		return nil, err
	}
	sub.Interval = time.Duration(intervalMS) * time.Millisecond
	sub.DueAt = time.UnixMilli(dueAt)
	sub.CreatedAt = time.UnixMilli(createdAt)
	return &sub, nil
}
