package capture

import "context"

// PageInfo is the metadata the browser reports after rendering.
type PageInfo struct {
	Width  int
	Height int
	Title  string
}

// Page is one checked-out browser rendering context. Implementations are
// not safe for concurrent use; the scheduler guarantees a page is held by
// at most one task at a time.
type Page interface {
	// Setup applies the viewport (and mobile emulation) before navigation.
	Setup(v Viewport) error
	// Navigate loads the URL and waits for the load event, bounded by ctx.
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a script in the page. Used only for cosmetic hooks
	// such as sticky-element hiding; not part of the capture contract.
	Evaluate(ctx context.Context, js string) error
	// Info returns the rendered page dimensions and title.
	Info(ctx context.Context) (PageInfo, error)
	// Screenshot renders the page as PNG or JPEG bytes.
	Screenshot(ctx context.Context, format Format, quality int, fullPage bool) ([]byte, error)
	// PDF renders the page as PDF bytes.
	PDF(ctx context.Context) ([]byte, error)
	// HTML returns the serialized document, used for content snapshots.
	HTML(ctx context.Context) (string, error)
}

// Pool hands out page handles with bounded parallelism. Acquire blocks
// until a slot frees up or ctx is done; this is the natural backpressure
// point of the scheduler.
//
// A page that errored mid-capture must go back through Discard, never
// Release: the pool closes it and creates a fresh replacement on the next
// acquisition, so one bad page cannot poison the pool.
type Pool interface {
	Acquire(ctx context.Context, stealth bool) (Page, error)
	Release(p Page)
	Discard(p Page)
}

// hideStickyJS rewrites fixed and sticky positioning to absolute so
// headers and cookie bars do not repeat down a full-page capture.
const hideStickyJS = `() => {
	document.querySelectorAll('*').forEach(el => {
		const style = window.getComputedStyle(el);
		if (style.position === 'fixed' || style.position === 'sticky') {
			el.style.position = 'absolute';
		}
	});
}`
