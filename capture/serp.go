package capture

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// SERPEngine is a supported search engine for result-page snapshots.
type SERPEngine string

const (
	EngineYandex SERPEngine = "yandex"
	EngineGoogle SERPEngine = "google"
)

// BuildSERPURL composes the search results URL for a query. Region maps to
// yandex "lr" (e.g. 213 for Moscow) or google "gl".
func BuildSERPURL(query string, engine SERPEngine, region string) (string, error) {
	q := url.QueryEscape(query)
	switch engine {
	case EngineYandex:
		u := "https://yandex.ru/search/?text=" + q
		if region != "" {
			u += "&lr=" + url.QueryEscape(region)
		}
		return u, nil
	case EngineGoogle:
		u := "https://www.google.com/search?q=" + q
		if region != "" {
			u += "&gl=" + url.QueryEscape(region)
		}
		return u, nil
	default:
		return "", &ErrValidation{Reason: fmt.Sprintf("unknown search engine %q", engine)}
	}
}

// SERPResult is one search-results snapshot.
type SERPResult struct {
	Query  string     `json:"query"`
	Engine SERPEngine `json:"engine"`
	Region string     `json:"region,omitempty"`
	Result Result     `json:"result"`
	File   string     `json:"file,omitempty"`
}

// SERPBatchReport collects the snapshots of one query list.
type SERPBatchReport struct {
	Dir       string       `json:"dir"`
	Engine    SERPEngine   `json:"engine"`
	Region    string       `json:"region,omitempty"`
	Queries   []SERPResult `json:"queries"`
	Timestamp time.Time    `json:"timestamp"`
}

// SERPScreenshot captures the results page for one query. SERP pages get a
// stealth page, a fixed 1280 viewport and a 2s settle delay; search
// engines render results late and dislike obvious automation.
func (s *Service) SERPScreenshot(ctx context.Context, query string, engine SERPEngine, region string) (*SERPResult, error) {
	u, err := BuildSERPURL(query, engine, region)
	if err != nil {
		return nil, err
	}

	req := NewRequest(u)
	req.Viewport = SERPViewport
	req.Delay = 2 * time.Second
	req.Stealth = true
	req.OutputKey = deriveOutputKey(u, req.Viewport)

	res, err := s.CaptureURL(ctx, req)
	if err != nil {
		return nil, err
	}
	return &SERPResult{Query: query, Engine: engine, Region: region, Result: *res}, nil
}

// SERPBatch captures a list of queries sequentially, pausing between
// queries, and writes each snapshot into a timestamped directory.
func (s *Service) SERPBatch(ctx context.Context, queries []string, engine SERPEngine, region string) (*SERPBatchReport, error) {
	now := time.Now()
	dir := filepath.Join(s.cfg.OutputDir,
		fmt.Sprintf("serp_%s_%s", engine, now.Format("20060102_150405")))

	report := &SERPBatchReport{Dir: dir, Engine: engine, Region: region, Timestamp: now}

	for i, query := range queries {
		s.log.Info("serp capture", "query", query, "n", i+1, "total", len(queries))

		sr, err := s.SERPScreenshot(ctx, query, engine, region)
		if err != nil {
			return nil, err
		}
		if sr.Result.Succeeded() {
			name := fmt.Sprintf("%03d_%s.png", i+1, sanitizeQuery(query))
			if path, werr := s.WriteResult(&sr.Result, dir, name); werr == nil {
				sr.File = path
			} else {
				s.log.Warn("serp write failed", "query", query, "error", werr)
			}
		}
		report.Queries = append(report.Queries, *sr)

		// Pause between queries: sequential SERP hammering gets captchas.
		if i < len(queries)-1 {
			if err := sleepCtx(ctx, s.cfg.SERPPause); err != nil {
				return report, nil
			}
		}
	}
	return report, nil
}

// sanitizeQuery turns a search query into a filename fragment.
func sanitizeQuery(query string) string {
	var b strings.Builder
	for _, r := range query {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > 30 {
		out = out[:30]
	}
	return out
}
