package capture

import (
	"context"
	"fmt"
	"time"
)

// AuditEntry is the desktop (and optionally mobile) shots of one URL in an
// SEO audit run.
type AuditEntry struct {
	URL     string  `json:"url"`
	Desktop *Result `json:"desktop"`
	Mobile  *Result `json:"mobile,omitempty"`

	DesktopFile string `json:"desktop_file,omitempty"`
	MobileFile  string `json:"mobile_file,omitempty"`
}

// AuditReport collects a full SEO audit run.
type AuditReport struct {
	Dir       string       `json:"dir"`
	Entries   []AuditEntry `json:"entries"`
	Failed    int          `json:"failed"`
	Timestamp time.Time    `json:"timestamp"`
}

// SEOAudit captures every URL full-page at the desktop viewport, plus a
// mobile shot when includeMobile is set, into a timestamped audit
// directory. Per-URL failures are recorded, not fatal.
func (s *Service) SEOAudit(ctx context.Context, urls []string, includeMobile bool) (*AuditReport, error) {
	if len(urls) == 0 {
		return nil, &ErrValidation{Reason: "no urls to audit"}
	}

	requests := make([]Request, 0, len(urls)*2)
	type pair struct{ desktop, mobile string }
	keys := make([]pair, 0, len(urls))

	for _, u := range urls {
		d := NewRequest(u)
		d.Viewport = DesktopViewport
		d.OutputKey = deriveOutputKey(u, d.Viewport)
		requests = append(requests, d)

		p := pair{desktop: d.OutputKey}
		if includeMobile {
			m := NewRequest(u)
			m.Viewport = MobileViewport
			m.OutputKey = deriveOutputKey(u, m.Viewport)
			requests = append(requests, m)
			p.mobile = m.OutputKey
		}
		keys = append(keys, p)
	}

	results, err := s.RunBatch(ctx, requests, s.cfg.Concurrency)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	report := &AuditReport{
		Dir:       fmt.Sprintf("%s/seo_audit_%s", s.cfg.OutputDir, now.Format("20060102_150405")),
		Timestamp: now,
	}

	for i, u := range urls {
		d := results[keys[i].desktop]
		entry := AuditEntry{URL: u, Desktop: &d}
		if !d.Succeeded() {
			report.Failed++
			s.log.Warn("seo audit desktop capture failed", "url", u, "error", d.Err)
		} else if path, werr := s.WriteResult(&d, report.Dir, fmt.Sprintf("%03d_desktop_%s.png", i+1, d.Request.OutputKey)); werr == nil {
			entry.DesktopFile = path
		}
		if includeMobile {
			m := results[keys[i].mobile]
			entry.Mobile = &m
			if !m.Succeeded() {
				report.Failed++
				s.log.Warn("seo audit mobile capture failed", "url", u, "error", m.Err)
			} else if path, werr := s.WriteResult(&m, report.Dir, fmt.Sprintf("%03d_mobile_%s.png", i+1, m.Request.OutputKey)); werr == nil {
				entry.MobileFile = path
			}
		}
		report.Entries = append(report.Entries, entry)
	}
	return report, nil
}
