// Package capture executes batches of page-capture requests against a
// bounded pool of browser page handles.
//
// The scheduler isolates failures per request: one unreachable host never
// aborts its siblings, and a batch call always returns a complete result
// set, one entry per output key.
package capture

import (
	"fmt"
	"net/url"
	"time"
)

// Format selects the payload encoding of a capture.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatPDF  Format = "pdf"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	switch f {
	case FormatPNG, FormatJPEG, FormatPDF:
		return true
	}
	return false
}

// Viewport describes the emulated device window for a capture.
type Viewport struct {
	Width  int  `yaml:"width" json:"width"`
	Height int  `yaml:"height" json:"height"`
	Mobile bool `yaml:"mobile" json:"mobile"`
}

// String renders the viewport as "1280x800" or "375x812-mobile".
func (v Viewport) String() string {
	s := fmt.Sprintf("%dx%d", v.Width, v.Height)
	if v.Mobile {
		s += "-mobile"
	}
	return s
}

// Default viewports, matching the sizes the reporting tooling expects.
var (
	DesktopViewport = Viewport{Width: 1920, Height: 1080}
	MobileViewport  = Viewport{Width: 375, Height: 812, Mobile: true}
	SERPViewport    = Viewport{Width: 1280, Height: 800}
)

// Request describes one desired shot. It is immutable once built: all
// fields are either required or defaulted by Normalize, never threaded
// through as an open-ended map.
type Request struct {
	// URL to render. Must be an absolute http(s) URL.
	URL string `json:"url"`
	// Viewport to emulate. Defaults to 1280x800 desktop.
	Viewport Viewport `json:"viewport"`
	// Format of the payload. Defaults to PNG.
	Format Format `json:"format"`
	// Quality for JPEG output, 1-100. Defaults to 90. Ignored otherwise.
	Quality int `json:"quality,omitempty"`
	// Delay to wait after load before capturing.
	Delay time.Duration `json:"delay,omitempty"`
	// Timeout bounds navigation plus capture. Defaults to 30s.
	Timeout time.Duration `json:"timeout,omitempty"`
	// OutputKey identifies the result within the batch. Must be unique
	// per batch. Empty keys are derived from URL and viewport.
	OutputKey string `json:"output_key"`
	// FullPage captures the whole scroll height instead of the viewport.
	// Defaults to true. Ignored for PDF.
	FullPage bool `json:"full_page"`
	// HideSticky rewrites fixed/sticky elements to absolute before the
	// shot so headers do not repeat down a full-page capture. Cosmetic,
	// defaults to true.
	HideSticky bool `json:"hide_sticky"`
	// Stealth opens the page with bot-detection countermeasures. Used for
	// SERP captures.
	Stealth bool `json:"stealth,omitempty"`
}

// NewRequest builds a Request for rawURL with all defaults applied,
// including the boolean defaults (full page, hide sticky) that Normalize
// cannot distinguish from an explicit false.
func NewRequest(rawURL string) Request {
	r := Request{URL: rawURL, FullPage: true, HideSticky: true}
	r.Normalize()
	return r
}

// Normalize fills unset fields with their defaults. It does not validate;
// call Validate afterwards.
func (r *Request) Normalize() {
	if r.Viewport.Width == 0 && r.Viewport.Height == 0 {
		r.Viewport = Viewport{Width: 1280, Height: 800}
	}
	if r.Format == "" {
		r.Format = FormatPNG
	}
	if r.Quality == 0 {
		r.Quality = 90
	}
	if r.Timeout <= 0 {
		r.Timeout = 30 * time.Second
	}
	if r.OutputKey == "" {
		r.OutputKey = deriveOutputKey(r.URL, r.Viewport)
	}
}

// Validate checks the request invariants from the batch contract.
func (r *Request) Validate() error {
	if r.URL == "" {
		return &ErrValidation{Reason: "empty url"}
	}
	u, err := url.Parse(r.URL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return &ErrValidation{Reason: fmt.Sprintf("not an absolute URL: %q", r.URL)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ErrValidation{Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if r.Viewport.Width <= 0 || r.Viewport.Height <= 0 {
		return &ErrValidation{Reason: fmt.Sprintf("non-positive viewport %s", r.Viewport)}
	}
	if !r.Format.Valid() {
		return &ErrValidation{Reason: fmt.Sprintf("unknown format %q", r.Format)}
	}
	if r.Delay < 0 {
		return &ErrValidation{Reason: "negative delay"}
	}
	if r.Timeout <= 0 {
		return &ErrValidation{Reason: "non-positive timeout"}
	}
	if r.OutputKey == "" {
		return &ErrValidation{Reason: "empty output key"}
	}
	return nil
}

// Status of a finished capture attempt.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Result is produced exactly once per request and never mutated afterwards.
type Result struct {
	Request    Request       `json:"request"`
	Status     Status        `json:"status"`
	Payload    []byte        `json:"-"`
	PageWidth  int           `json:"page_width,omitempty"`
	PageHeight int           `json:"page_height,omitempty"`
	Title      string        `json:"title,omitempty"`
	HTML       string        `json:"-"`
	Err        error         `json:"-"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Succeeded reports whether the capture produced a payload.
func (r Result) Succeeded() bool { return r.Status == StatusSucceeded }
