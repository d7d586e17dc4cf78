package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/pageshot/capture"
)

// Pool deals out at most size page handles at a time. It implements
// capture.Pool.
//
// Slots are tokens in a buffered channel; page handles are cached between
// captures and revalidated against a generation counter that the manager
// bumps on every Chrome recycle, so a handle from a dead process is closed
// instead of reused. Acquisition and release are serialized through the
// channel plus one mutex, so there are no lost-slot races under concurrent use.
type Pool struct {
	mgr    *Manager
	size   int
	tokens chan struct{}
	log    *slog.Logger

	mu   sync.Mutex
	idle []*Page
	gen  uint64
}

// NewPool creates a Pool of the given size on top of a started Manager.
func NewPool(mgr *Manager, size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		mgr:    mgr,
		size:   size,
		tokens: make(chan struct{}, size),
		log:    logger,
	}
	for range size {
		p.tokens <- struct{}{}
	}

	mgr.SetRecycleCallback(&RecycleCallback{
		BeforeRecycle: p.invalidate,
	})
	return p
}

// Size returns the slot count.
func (p *Pool) Size() int { return p.size }

// Acquire blocks until a slot is free (or ctx is done), then returns a
// page handle: a cached one when a healthy match exists, a fresh one
// otherwise.
func (p *Pool) Acquire(ctx context.Context, stealthMode bool) (capture.Page, error) {
	select {
	case <-p.tokens:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if pg := p.takeIdle(stealthMode); pg != nil {
		return pg, nil
	}

	pg, err := p.newPage(stealthMode)
	if err != nil {
		p.tokens <- struct{}{}
		return nil, err
	}
	return pg, nil
}

// Release returns a healthy handle to the pool for reuse.
func (p *Pool) Release(cp capture.Page) {
	pg, ok := cp.(*Page)
	if !ok || pg == nil {
		p.tokens <- struct{}{}
		return
	}

	p.mu.Lock()
	current := pg.gen == p.gen
	if current {
		p.idle = append(p.idle, pg)
	}
	p.mu.Unlock()

	if !current {
		pg.close()
	}
	p.tokens <- struct{}{}
}

// Discard closes an errored handle without returning it to the idle set.
// The slot frees up; the next Acquire creates a fresh page.
func (p *Pool) Discard(cp capture.Page) {
	if pg, ok := cp.(*Page); ok && pg != nil {
		pg.close()
	}
	p.tokens <- struct{}{}
}

// Close drains the idle set. Outstanding handles are closed by their
// holders via Release/Discard.
func (p *Pool) Close() {
	p.invalidate()
}

// invalidate bumps the generation and closes every idle handle. Called
// before the manager recycles Chrome and on pool shutdown.
func (p *Pool) invalidate() {
	p.mu.Lock()
	stale := p.idle
	p.idle = nil
	p.gen++
	p.mu.Unlock()

	for _, pg := range stale {
		pg.close()
	}
}

func (p *Pool) takeIdle(stealthMode bool) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, pg := range p.idle {
		if pg.stealth == stealthMode && pg.gen == p.gen {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return pg
		}
	}
	return nil
}

func (p *Pool) newPage(stealthMode bool) (*Page, error) {
	b := p.mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var page *rod.Page
	var err error
	if stealthMode {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()

	return &Page{p: page, stealth: stealthMode, gen: gen, log: p.log}, nil
}
