// Package diff decides whether two artifacts for the same subject represent
// a visually different page.
//
// The default metric is the byte-size delta of the stored payloads. It is a
// coarse heuristic, not a pixel comparison: content can change without
// moving the size (false negative), and rotating ads or embedded timestamps
// can move the size without a meaningful change (false positive). The
// Metric interface exists so a perceptual-hash distance can be swapped in
// without touching callers.
package diff

import (
	"fmt"
	"time"

	"github.com/hazyhaar/pageshot/artifact"
)

// DefaultThreshold is the difference percent above which a subject is
// considered changed.
const DefaultThreshold = 5.0

// Subject identifies what the two artifacts are versions of.
type Subject struct {
	URL      string `json:"url,omitempty"`
	Key      string `json:"key"`
	Viewport string `json:"viewport,omitempty"`
}

// ChangeRecord is the outcome of comparing two versions of a subject.
// It references its inputs but never mutates them.
type ChangeRecord struct {
	Subject           Subject            `json:"subject"`
	Previous          *artifact.Artifact `json:"previous"`
	Current           *artifact.Artifact `json:"current"`
	Changed           bool               `json:"changed"`
	DifferencePercent float64            `json:"difference_percent"`
	Metric            string             `json:"metric"`
	// ContentChanged is set when both artifacts carry content hashes and
	// they differ. Complements the payload metric.
	ContentChanged bool `json:"content_changed,omitempty"`
}

// ErrOrdering is returned when current is older than previous.
type ErrOrdering struct {
	Previous time.Time
	Current  time.Time
}

func (e *ErrOrdering) Error() string {
	return fmt.Sprintf("diff: current (%s) is older than previous (%s)",
		e.Current.UTC().Format(time.RFC3339), e.Previous.UTC().Format(time.RFC3339))
}

// Metric scores the difference between two artifacts as a percent in [0,100].
type Metric interface {
	Name() string
	Score(previous, current *artifact.Artifact) (float64, error)
}

// ByteSize is the default metric: 100 * |cur - prev| / max(prev, 1).
type ByteSize struct{}

func (ByteSize) Name() string { return "byte-size" }

func (ByteSize) Score(previous, current *artifact.Artifact) (float64, error) {
	prev := previous.Size
	if prev < 1 {
		prev = 1
	}
	delta := current.Size - previous.Size
	if delta < 0 {
		delta = -delta
	}
	return 100 * float64(delta) / float64(prev), nil
}

// Detector compares artifact versions with a pluggable metric.
type Detector struct {
	metric    Metric
	threshold float64
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithMetric swaps the difference metric.
func WithMetric(m Metric) DetectorOption {
	return func(d *Detector) { d.metric = m }
}

// WithThreshold sets the changed threshold percent. Default: 5.0.
func WithThreshold(pct float64) DetectorOption {
	return func(d *Detector) { d.threshold = pct }
}

// NewDetector creates a Detector with the byte-size metric.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{metric: ByteSize{}, threshold: DefaultThreshold}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Compare scores current against previous. previous must not be newer than
// current, else ErrOrdering.
func (d *Detector) Compare(previous, current *artifact.Artifact) (*ChangeRecord, error) {
	if current.Timestamp.Before(previous.Timestamp) {
		return nil, &ErrOrdering{Previous: previous.Timestamp, Current: current.Timestamp}
	}

	pct, err := d.metric.Score(previous, current)
	if err != nil {
		return nil, fmt.Errorf("diff: metric %s: %w", d.metric.Name(), err)
	}

	rec := &ChangeRecord{
		Subject:           Subject{Key: current.Key},
		Previous:          previous,
		Current:           current,
		Changed:           pct > d.threshold,
		DifferencePercent: pct,
		Metric:            d.metric.Name(),
	}
	if previous.ContentHash != "" && current.ContentHash != "" {
		rec.ContentChanged = previous.ContentHash != current.ContentHash
	}
	return rec, nil
}
