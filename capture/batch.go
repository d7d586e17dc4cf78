package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Scheduler executes batches of Requests against a page pool with bounded
// parallelism.
//
// Contract: Run returns exactly one Result per distinct output key. Batch
// preconditions (duplicate keys, bad concurrency, malformed requests) are
// rejected before any capture starts; everything that fails afterwards is
// recorded in that request's Result and never escalated. The scheduler does
// not retry; callers resubmit a smaller batch of the failed keys if they
// want retries.
type Scheduler struct {
	pool           Pool
	acquireTimeout time.Duration
	logger         *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithAcquireTimeout bounds how long a task may wait for a pool slot.
// Without it a batch could hang indefinitely on a saturated pool.
// Default: 60s.
func WithAcquireTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.acquireTimeout = d }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a Scheduler on top of a page pool.
func NewScheduler(pool Pool, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		pool:           pool,
		acquireTimeout: 60 * time.Second,
		logger:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run executes the batch with at most concurrency captures in flight.
// The returned map is keyed by output key and complete even under
// cancellation: requests cut short carry a failed Result with ErrCancelled.
func (s *Scheduler) Run(ctx context.Context, requests []Request, concurrency int) (map[string]Result, error) {
	if concurrency < 1 {
		return nil, &ErrValidation{Reason: fmt.Sprintf("concurrency must be >= 1, got %d", concurrency)}
	}
	// Normalize a copy; the caller's requests are treated as immutable.
	reqs := make([]Request, len(requests))
	copy(reqs, requests)

	seen := make(map[string]bool, len(reqs))
	for i := range reqs {
		reqs[i].Normalize()
		if err := reqs[i].Validate(); err != nil {
			return nil, err
		}
		if seen[reqs[i].OutputKey] {
			return nil, &ErrValidation{Reason: fmt.Sprintf("duplicate output key %q", reqs[i].OutputKey)}
		}
		seen[reqs[i].OutputKey] = true
	}

	results := make(map[string]Result, len(reqs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	// The semaphore bounds in-flight tasks; the pool bounds page handles.
	// Keeping both at the same size means a task never parks holding a
	// handle it cannot use.
	sem := make(chan struct{}, concurrency)

	for _, req := range reqs {
		wg.Add(1)
		go func(req Request) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				results[req.OutputKey] = Result{
					Request: req,
					Status:  StatusFailed,
					Err:     &ErrCancelled{URL: req.URL},
				}
				mu.Unlock()
				return
			}

			res := s.capture(ctx, req)
			mu.Lock()
			results[req.OutputKey] = res
			mu.Unlock()
		}(req)
	}

	wg.Wait()
	return results, nil
}

// capture runs one request on one page handle. All failure modes end up in
// the Result; nothing propagates.
func (s *Scheduler) capture(ctx context.Context, req Request) Result {
	start := time.Now()
	fail := func(err error) Result {
		s.logger.Warn("capture failed", "url", req.URL, "key", req.OutputKey, "error", err)
		return Result{Request: req, Status: StatusFailed, Err: err, Elapsed: time.Since(start)}
	}

	acquireCtx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	page, err := s.pool.Acquire(acquireCtx, req.Stealth)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return fail(&ErrCancelled{URL: req.URL})
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fail(&ErrTimeout{URL: req.URL, Phase: "acquire", Limit: s.acquireTimeout})
		}
		return fail(&ErrCapture{URL: req.URL, Cause: err})
	}

	// Everything from here on runs under the per-request budget.
	reqCtx, cancelReq := context.WithTimeout(ctx, req.Timeout)
	defer cancelReq()

	res, pageErr := s.render(reqCtx, page, req)
	if pageErr != nil {
		// The handle may be wedged; never give it back.
		s.pool.Discard(page)
		if ctx.Err() != nil {
			return fail(&ErrCancelled{URL: req.URL})
		}
		return fail(pageErr)
	}

	s.pool.Release(page)
	res.Elapsed = time.Since(start)
	s.logger.Debug("capture succeeded",
		"url", req.URL, "key", req.OutputKey,
		"bytes", len(res.Payload), "elapsed", res.Elapsed)
	return res
}

func (s *Scheduler) render(ctx context.Context, page Page, req Request) (Result, error) {
	if err := page.Setup(req.Viewport); err != nil {
		return Result{}, &ErrCapture{URL: req.URL, Cause: err}
	}

	if err := page.Navigate(ctx, req.URL); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, &ErrTimeout{URL: req.URL, Phase: "navigate", Limit: req.Timeout}
		}
		return Result{}, &ErrNavigation{URL: req.URL, Cause: err}
	}

	if req.Delay > 0 {
		if err := sleepCtx(ctx, req.Delay); err != nil {
			return Result{}, &ErrTimeout{URL: req.URL, Phase: "navigate", Limit: req.Timeout}
		}
	}

	if req.HideSticky {
		// Cosmetic only; a page that blocks script evaluation still gets shot.
		if err := page.Evaluate(ctx, hideStickyJS); err != nil {
			s.logger.Warn("hide sticky failed", "url", req.URL, "error", err)
		}
	}

	info, err := page.Info(ctx)
	if err != nil {
		return Result{}, &ErrCapture{URL: req.URL, Cause: err}
	}

	var payload []byte
	switch req.Format {
	case FormatPDF:
		payload, err = page.PDF(ctx)
	default:
		payload, err = page.Screenshot(ctx, req.Format, req.Quality, req.FullPage)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{}, &ErrTimeout{URL: req.URL, Phase: "capture", Limit: req.Timeout}
		}
		return Result{}, &ErrCapture{URL: req.URL, Cause: err}
	}

	html, err := page.HTML(ctx)
	if err != nil {
		// Content snapshot is best-effort; the shot already succeeded.
		s.logger.Debug("html snapshot failed", "url", req.URL, "error", err)
		html = ""
	}

	return Result{
		Request:    req,
		Status:     StatusSucceeded,
		Payload:    payload,
		PageWidth:  info.Width,
		PageHeight: info.Height,
		Title:      info.Title,
		HTML:       html,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
