package capture

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// DefaultBreakpoints are the viewport widths a layout audit walks through,
// from small phones up to full desktop.
var DefaultBreakpoints = []int{320, 375, 425, 768, 1024, 1440, 1920}

// mobileBreakpointMax is the widest breakpoint still emulated as a touch
// device with a mobile user agent.
const mobileBreakpointMax = 425

// LayoutShot is one breakpoint capture inside a layout audit.
type LayoutShot struct {
	Width  int    `json:"width"`
	Mobile bool   `json:"mobile"`
	Result Result `json:"result"`
	File   string `json:"file,omitempty"`
}

// LayoutReport is the outcome of a layout audit for one URL.
type LayoutReport struct {
	URL       string       `json:"url"`
	Dir       string       `json:"dir"`
	Shots     []LayoutShot `json:"shots"`
	Timestamp time.Time    `json:"timestamp"`
}

// Succeeded reports whether every breakpoint rendered.
func (r *LayoutReport) Succeeded() bool {
	for _, s := range r.Shots {
		if !s.Result.Succeeded() {
			return false
		}
	}
	return len(r.Shots) > 0
}

// LayoutAudit captures url at each breakpoint width and writes the shots
// into a timestamped directory, one viewport_<width>px.png per breakpoint.
// A nil breakpoints slice means DefaultBreakpoints.
func (s *Service) LayoutAudit(ctx context.Context, url string, breakpoints []int) (*LayoutReport, error) {
	if len(breakpoints) == 0 {
		breakpoints = DefaultBreakpoints
	}

	requests := make([]Request, 0, len(breakpoints))
	for _, w := range breakpoints {
		if w < 1 {
			return nil, &ErrValidation{Reason: fmt.Sprintf("breakpoint width %d", w)}
		}
		req := NewRequest(url)
		req.Viewport = Viewport{Width: w, Height: 800, Mobile: w <= mobileBreakpointMax}
		req.OutputKey = deriveOutputKey(url, req.Viewport)
		requests = append(requests, req)
	}

	results, err := s.RunBatch(ctx, requests, s.cfg.Concurrency)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	dir := filepath.Join(s.cfg.OutputDir, "layout_audit_"+now.Format("20060102_150405"))
	report := &LayoutReport{URL: url, Dir: dir, Timestamp: now}

	for _, req := range requests {
		res := results[req.OutputKey]
		shot := LayoutShot{Width: req.Viewport.Width, Mobile: req.Viewport.Mobile, Result: res}
		if res.Succeeded() {
			name := fmt.Sprintf("viewport_%dpx.png", req.Viewport.Width)
			if path, werr := s.WriteResult(&res, dir, name); werr == nil {
				shot.File = path
			} else {
				s.log.Warn("layout shot write failed", "url", url, "width", req.Viewport.Width, "error", werr)
			}
		} else {
			s.log.Warn("layout breakpoint failed", "url", url, "width", req.Viewport.Width, "error", res.Err)
		}
		report.Shots = append(report.Shots, shot)
	}
	return report, nil
}
