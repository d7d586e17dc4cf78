package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/pageshot/artifact"
	"github.com/hazyhaar/pageshot/content"
	"github.com/hazyhaar/pageshot/diff"
	"github.com/hazyhaar/pageshot/observability"
)

// MonitorReport is the outcome of one monitoring snapshot: the fresh
// artifact plus the change record against the previous version, if any.
type MonitorReport struct {
	URL      string             `json:"url"`
	Key      string             `json:"key"`
	Artifact *artifact.Artifact `json:"artifact"`
	// Change is nil on the first snapshot of a subject.
	Change *diff.ChangeRecord `json:"change,omitempty"`
	First  bool               `json:"first"`
}

// CompareLatest compares the two most recent stored versions of key without
// capturing anything new.
func (s *Service) CompareLatest(ctx context.Context, key string) (*diff.ChangeRecord, error) {
	if s.store == nil {
		return nil, fmt.Errorf("capture: comparison needs an artifact store")
	}
	versions, err := s.store.ListVersions(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(versions) < 2 {
		return nil, fmt.Errorf("capture: need two versions of %s to compare, have %d", key, len(versions))
	}
	previous, err := s.store.GetAt(ctx, key, versions[len(versions)-2])
	if err != nil {
		return nil, err
	}
	current, err := s.store.GetAt(ctx, key, versions[len(versions)-1])
	if err != nil {
		return nil, err
	}
	return s.det.Compare(previous, current)
}

// MonitorSnapshot captures url at the desktop viewport, stores the shot as
// a new artifact version and compares it against the previous version. The
// first snapshot of a subject stores without comparing.
func (s *Service) MonitorSnapshot(ctx context.Context, url string) (*MonitorReport, error) {
	if s.store == nil {
		return nil, fmt.Errorf("capture: monitoring needs an artifact store")
	}

	req := NewRequest(url)
	req.Viewport = DesktopViewport
	req.OutputKey = deriveOutputKey(url, req.Viewport)

	res, err := s.CaptureURL(ctx, req)
	if err != nil {
		return nil, err
	}
	if !res.Succeeded() {
		return nil, res.Err
	}

	meta := artifact.Metadata{
		Format:     string(res.Request.Format),
		PageWidth:  res.PageWidth,
		PageHeight: res.PageHeight,
		Title:      res.Title,
	}
	if res.HTML != "" {
		if md, merr := s.snap.Markdown(res.HTML); merr == nil {
			meta.ContentHash = content.Hash(md)
		} else {
			s.log.Warn("content snapshot failed", "url", url, "error", merr)
		}
	}

	// Fetch the previous version before storing the new one, so "previous"
	// can never be the artifact we are about to write.
	var previous *artifact.Artifact
	prev, err := s.store.Get(ctx, req.OutputKey)
	switch {
	case err == nil:
		previous = prev
	case errors.As(err, new(*artifact.ErrNotFound)):
		// first snapshot
	default:
		return nil, err
	}

	current, err := s.store.Put(ctx, req.OutputKey, time.Now(), res.Payload, meta)
	if err != nil {
		return nil, err
	}

	report := &MonitorReport{URL: url, Key: req.OutputKey, Artifact: current, First: previous == nil}
	if previous != nil {
		rec, err := s.det.Compare(previous, current)
		if err != nil {
			return nil, err
		}
		rec.Subject.URL = url
		rec.Subject.Viewport = req.Viewport.String()
		report.Change = rec

		if rec.Changed && s.events != nil {
			s.events.LogEvent(ctx, observability.BusinessEvent{
				EventType:   "monitor_changed",
				ServiceName: "pageshot",
				EntityType:  "subject",
				EntityID:    req.OutputKey,
				Action:      "compare",
				Success:     true,
				Details: fmt.Sprintf(`{"difference_percent":%.2f,"metric":%q}`,
					rec.DifferencePercent, rec.Metric),
			})
		}
	}
	return report, nil
}
