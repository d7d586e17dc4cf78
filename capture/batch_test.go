package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakePage is an instrumented in-memory Page.
type fakePage struct {
	pool *fakePool
}

func (p *fakePage) Setup(v Viewport) error {
	p.pool.mu.Lock()
	p.pool.setups = append(p.pool.setups, v)
	p.pool.mu.Unlock()
	return nil
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	cur := p.pool.inFlight.Add(1)
	defer p.pool.inFlight.Add(-1)
	for {
		max := p.pool.maxInFlight.Load()
		if cur <= max || p.pool.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	if p.pool.navDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pool.navDelay):
		}
	}
	if p.pool.failNav != nil && p.pool.failNav(url) {
		return errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	return nil
}

func (p *fakePage) Evaluate(ctx context.Context, js string) error { return nil }

func (p *fakePage) Info(ctx context.Context) (PageInfo, error) {
	return PageInfo{Width: 1280, Height: 3000, Title: "fake page"}, nil
}

func (p *fakePage) Screenshot(ctx context.Context, format Format, quality int, fullPage bool) ([]byte, error) {
	return []byte("png-bytes"), nil
}

func (p *fakePage) PDF(ctx context.Context) ([]byte, error) {
	return []byte("pdf-bytes"), nil
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	return "<html><head><title>fake page</title></head></html>", nil
}

// fakePool hands out fakePages and records pool traffic.
type fakePool struct {
	mu        sync.Mutex
	acquired  int
	released  int
	discarded int
	setups    []Viewport

	inFlight    atomic.Int64
	maxInFlight atomic.Int64

	navDelay time.Duration
	failNav  func(url string) bool
}

func (p *fakePool) Acquire(ctx context.Context, stealth bool) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.acquired++
	p.mu.Unlock()
	return &fakePage{pool: p}, nil
}

func (p *fakePool) Release(pg Page) {
	p.mu.Lock()
	p.released++
	p.mu.Unlock()
}

func (p *fakePool) Discard(pg Page) {
	p.mu.Lock()
	p.discarded++
	p.mu.Unlock()
}

func testRequests(n int) []Request {
	reqs := make([]Request, n)
	for i := range reqs {
		reqs[i] = NewRequest(fmt.Sprintf("https://example.com/page/%d", i))
	}
	return reqs
}

func TestRunCompleteResults(t *testing.T) {
	pool := &fakePool{}
	sched := NewScheduler(pool)

	reqs := testRequests(8)
	results, err := sched.Run(context.Background(), reqs, 3)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 8 {
		t.Fatalf("got %d results, want 8", len(results))
	}
	for _, req := range reqs {
		res, ok := results[req.OutputKey]
		if !ok {
			t.Fatalf("missing result for key %s", req.OutputKey)
		}
		if !res.Succeeded() {
			t.Errorf("%s: status %s, err %v", req.URL, res.Status, res.Err)
		}
		if len(res.Payload) == 0 {
			t.Errorf("%s: empty payload", req.URL)
		}
		if res.Title != "fake page" {
			t.Errorf("%s: title %q", req.URL, res.Title)
		}
	}
	if pool.released != 8 || pool.discarded != 0 {
		t.Errorf("released %d discarded %d, want 8/0", pool.released, pool.discarded)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	pool := &fakePool{navDelay: 20 * time.Millisecond}
	sched := NewScheduler(pool)

	if _, err := sched.Run(context.Background(), testRequests(10), 3); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if max := pool.maxInFlight.Load(); max > 3 {
		t.Errorf("max in-flight captures %d, want <= 3", max)
	}
}

func TestRunFailureIsolation(t *testing.T) {
	pool := &fakePool{
		failNav: func(url string) bool { return strings.HasSuffix(url, "/3") },
	}
	sched := NewScheduler(pool)

	reqs := testRequests(5)
	results, err := sched.Run(context.Background(), reqs, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var failed, succeeded int
	for _, res := range results {
		if res.Succeeded() {
			succeeded++
			continue
		}
		failed++
		var navErr *ErrNavigation
		if !errors.As(res.Err, &navErr) {
			t.Errorf("failed result carries %T, want *ErrNavigation", res.Err)
		}
	}
	if succeeded != 4 || failed != 1 {
		t.Fatalf("got %d succeeded / %d failed, want 4/1", succeeded, failed)
	}
	// The wedged handle must not return to the pool.
	if pool.discarded != 1 || pool.released != 4 {
		t.Errorf("released %d discarded %d, want 4/1", pool.released, pool.discarded)
	}
}

func TestRunRejectsDuplicateKeys(t *testing.T) {
	pool := &fakePool{}
	sched := NewScheduler(pool)

	reqs := []Request{
		NewRequest("https://example.com/"),
		NewRequest("https://example.com/"),
	}
	_, err := sched.Run(context.Background(), reqs, 2)
	var verr *ErrValidation
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want *ErrValidation", err)
	}
	// Rejection happens before any capture.
	if pool.acquired != 0 {
		t.Errorf("acquired %d pages before validation failure, want 0", pool.acquired)
	}
}

func TestRunRejectsBadConcurrency(t *testing.T) {
	sched := NewScheduler(&fakePool{})
	_, err := sched.Run(context.Background(), testRequests(2), 0)
	var verr *ErrValidation
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want *ErrValidation", err)
	}
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	pool := &fakePool{}
	sched := NewScheduler(pool)

	reqs := []Request{NewRequest("ftp://example.com/file")}
	if _, err := sched.Run(context.Background(), reqs, 1); err == nil {
		t.Fatal("expected validation error for non-http scheme")
	}
	if pool.acquired != 0 {
		t.Errorf("acquired %d pages, want 0", pool.acquired)
	}
}

func TestRunCancellation(t *testing.T) {
	pool := &fakePool{navDelay: 50 * time.Millisecond}
	sched := NewScheduler(pool)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	reqs := testRequests(6)
	results, err := sched.Run(ctx, reqs, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Cancellation still yields one result per request.
	if len(results) != 6 {
		t.Fatalf("got %d results, want 6", len(results))
	}

	var cancelled int
	for _, res := range results {
		if res.Succeeded() {
			continue
		}
		var cerr *ErrCancelled
		if errors.As(res.Err, &cerr) {
			cancelled++
		}
	}
	if cancelled == 0 {
		t.Error("expected at least one cancelled result")
	}
	// No handle may leak: everything acquired was released or discarded.
	if pool.acquired != pool.released+pool.discarded {
		t.Errorf("acquired %d, returned %d", pool.acquired, pool.released+pool.discarded)
	}
}

func TestRunPDFFormat(t *testing.T) {
	sched := NewScheduler(&fakePool{})

	req := NewRequest("https://example.com/doc")
	req.Format = FormatPDF
	results, err := sched.Run(context.Background(), []Request{req}, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := results[req.OutputKey]
	if string(res.Payload) != "pdf-bytes" {
		t.Errorf("payload %q, want pdf-bytes", res.Payload)
	}
}

func TestRunSetupPerRequestViewport(t *testing.T) {
	pool := &fakePool{}
	sched := NewScheduler(pool)

	// A mobile capture followed by a desktop one on the same worker:
	// each Setup must carry its own request's viewport so the page
	// never keeps the previous capture's emulation.
	mobile := NewRequest("https://example.com/m")
	mobile.Viewport = Viewport{Width: 390, Height: 844, Mobile: true}
	desktop := NewRequest("https://example.com/d")

	results, err := sched.Run(context.Background(), []Request{mobile, desktop}, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for key, res := range results {
		if !res.Succeeded() {
			t.Fatalf("%s: %v", key, res.Err)
		}
	}

	if len(pool.setups) != 2 {
		t.Fatalf("got %d Setup calls, want 2", len(pool.setups))
	}
	var mobileSetups, desktopSetups int
	for _, v := range pool.setups {
		if v.Mobile {
			mobileSetups++
		} else {
			desktopSetups++
		}
	}
	if mobileSetups != 1 || desktopSetups != 1 {
		t.Errorf("got %d mobile / %d desktop setups, want 1/1", mobileSetups, desktopSetups)
	}
}

func TestRunDoesNotMutateRequests(t *testing.T) {
	sched := NewScheduler(&fakePool{})

	reqs := []Request{{URL: "https://example.com/"}}
	if _, err := sched.Run(context.Background(), reqs, 1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Run normalizes into its own copy; the caller's requests stay as built.
	if reqs[0].OutputKey != "" {
		t.Errorf("OutputKey = %q, want empty", reqs[0].OutputKey)
	}
	if reqs[0].Format != "" {
		t.Errorf("Format = %q, want empty", reqs[0].Format)
	}
	if reqs[0].Viewport.Width != 0 {
		t.Errorf("Viewport.Width = %d, want 0", reqs[0].Viewport.Width)
	}
}
