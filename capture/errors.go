package capture

import (
	"fmt"
	"time"
)

// ErrValidation is returned when a batch is rejected before any capture
// starts: malformed request, duplicate output keys, or a bad concurrency
// value. Fully recoverable by the caller correcting its input.
type ErrValidation struct {
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("capture: invalid batch: %s", e.Reason)
}

// ErrNavigation is recorded on a Result when the browser could not reach or
// load the requested URL. It never aborts sibling requests.
type ErrNavigation struct {
	URL   string
	Cause error
}

func (e *ErrNavigation) Error() string {
	return fmt.Sprintf("capture: navigate %s: %v", e.URL, e.Cause)
}

func (e *ErrNavigation) Unwrap() error { return e.Cause }

// ErrTimeout is recorded on a Result when a phase of the capture exceeded
// its time budget. Phase is one of "acquire", "navigate", "capture".
type ErrTimeout struct {
	URL   string
	Phase string
	Limit time.Duration
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("capture: %s timeout after %s for %s", e.Phase, e.Limit, e.URL)
}

// ErrCapture is recorded on a Result when navigation succeeded but the
// screenshot or PDF render itself failed.
type ErrCapture struct {
	URL   string
	Cause error
}

func (e *ErrCapture) Error() string {
	return fmt.Sprintf("capture: render %s: %v", e.URL, e.Cause)
}

func (e *ErrCapture) Unwrap() error { return e.Cause }

// ErrCancelled is the terminal status of an in-flight or not-yet-started
// request when the batch context is cancelled.
type ErrCancelled struct {
	URL string
}

func (e *ErrCancelled) Error() string {
	return fmt.Sprintf("capture: cancelled: %s", e.URL)
}
