package artifact

import (
	"fmt"
	"time"
)

// ErrNotFound is returned when no artifact exists for the requested key
// (or key + timestamp).
type ErrNotFound struct {
	Key string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("artifact: not found: %s", e.Key)
}

// ErrDuplicate is returned when Put would overwrite an existing
// (key, timestamp) pair. Artifacts are append-only per key.
type ErrDuplicate struct {
	Key       string
	Timestamp time.Time
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("artifact: duplicate version %s@%s", e.Key, e.Timestamp.UTC().Format(time.RFC3339))
}

// ErrStorage wraps failures of the underlying medium (filesystem or index
// database). Not retried internally.
type ErrStorage struct {
	Op    string
	Cause error
}

func (e *ErrStorage) Error() string {
	return fmt.Sprintf("artifact: %s: %v", e.Op, e.Cause)
}

func (e *ErrStorage) Unwrap() error { return e.Cause }
