package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/pageshot/artifact"
	"github.com/hazyhaar/pageshot/content"
	"github.com/hazyhaar/pageshot/diff"
	"github.com/hazyhaar/pageshot/observability"
)

// ServiceConfig configures the high-level capture service.
type ServiceConfig struct {
	// OutputDir is where file-producing operations (audits, SERP shots)
	// write their images and reports. Default: "./screenshots".
	OutputDir string `yaml:"output_dir"`
	// Concurrency bounds parallel captures inside multi-shot operations.
	// Default: 3. Captures are memory-hungry browser work.
	Concurrency int `yaml:"concurrency"`
	// SERPPause is the wait between consecutive SERP queries, to stay
	// under the search engines' bot radar. Default: 2s.
	SERPPause time.Duration `yaml:"serp_pause"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *ServiceConfig) defaults() {
	if c.OutputDir == "" {
		c.OutputDir = "./screenshots"
	}
	if c.Concurrency < 1 {
		c.Concurrency = 3
	}
	if c.SERPPause <= 0 {
		c.SERPPause = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service composes the batch scheduler, artifact store and change detector
// into the operations the CLI, bot and HTTP API expose.
type Service struct {
	sched  *Scheduler
	store  *artifact.Store
	det    *diff.Detector
	snap   *content.Snapshotter
	events *observability.EventLogger
	cfg    ServiceConfig
	log    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithStore attaches the artifact store used by monitoring snapshots.
func WithStore(st *artifact.Store) ServiceOption {
	return func(s *Service) { s.store = st }
}

// WithDetector overrides the default change detector.
func WithDetector(d *diff.Detector) ServiceOption {
	return func(s *Service) { s.det = d }
}

// WithEvents attaches a business-event logger.
func WithEvents(ev *observability.EventLogger) ServiceOption {
	return func(s *Service) { s.events = ev }
}

// NewService creates a Service on top of a Scheduler.
func NewService(sched *Scheduler, cfg ServiceConfig, opts ...ServiceOption) *Service {
	cfg.defaults()
	s := &Service{
		sched: sched,
		det:   diff.NewDetector(),
		snap:  content.NewSnapshotter(),
		cfg:   cfg,
		log:   cfg.Logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RunBatch is the raw kernel surface: execute requests with the given
// concurrency and return one result per output key.
func (s *Service) RunBatch(ctx context.Context, requests []Request, concurrency int) (map[string]Result, error) {
	if concurrency < 1 {
		concurrency = s.cfg.Concurrency
	}
	results, err := s.sched.Run(ctx, requests, concurrency)
	if err != nil {
		return nil, err
	}
	s.recordBatch(ctx, results)
	return results, nil
}

// CaptureURL renders one request and returns its result. Only batch-level
// validation surfaces as an error; capture failures live in the Result.
func (s *Service) CaptureURL(ctx context.Context, req Request) (*Result, error) {
	req.Normalize()
	results, err := s.RunBatch(ctx, []Request{req}, 1)
	if err != nil {
		return nil, err
	}
	res := results[req.OutputKey]
	return &res, nil
}

// BothResult holds the desktop and mobile shots of one URL.
type BothResult struct {
	URL     string  `json:"url"`
	Desktop *Result `json:"desktop"`
	Mobile  *Result `json:"mobile"`
}

// CaptureBoth renders url at the desktop and mobile default viewports.
func (s *Service) CaptureBoth(ctx context.Context, url string) (*BothResult, error) {
	desktop := NewRequest(url)
	desktop.Viewport = DesktopViewport
	desktop.OutputKey = deriveOutputKey(url, desktop.Viewport)

	mobile := NewRequest(url)
	mobile.Viewport = MobileViewport
	mobile.OutputKey = deriveOutputKey(url, mobile.Viewport)

	results, err := s.RunBatch(ctx, []Request{desktop, mobile}, 2)
	if err != nil {
		return nil, err
	}
	d := results[desktop.OutputKey]
	m := results[mobile.OutputKey]
	return &BothResult{URL: url, Desktop: &d, Mobile: &m}, nil
}

// WriteResult saves a successful result's payload under dir (default: the
// service output dir) and returns the file path.
func (s *Service) WriteResult(res *Result, dir, name string) (string, error) {
	if !res.Succeeded() {
		return "", fmt.Errorf("capture: no payload to write for %s: %w", res.Request.URL, res.Err)
	}
	if dir == "" {
		dir = s.cfg.OutputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("capture: mkdir %s: %w", dir, err)
	}
	if name == "" {
		name = fmt.Sprintf("%s_%s.%s",
			res.Request.OutputKey,
			time.Now().Format("20060102_150405"),
			fileExt(res.Request.Format))
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, res.Payload, 0o644); err != nil {
		return "", fmt.Errorf("capture: write %s: %w", path, err)
	}
	return path, nil
}

func (s *Service) recordBatch(ctx context.Context, results map[string]Result) {
	if s.events == nil {
		return
	}
	var failed int
	for key, res := range results {
		evt := observability.BusinessEvent{
			EventType:   "capture_succeeded",
			ServiceName: "pageshot",
			EntityType:  "capture",
			EntityID:    key,
			Action:      string(res.Request.Format),
			Success:     true,
		}
		if !res.Succeeded() {
			failed++
			evt.EventType = "capture_failed"
			evt.Success = false
			if res.Err != nil {
				evt.Details = fmt.Sprintf(`{"error":%q}`, res.Err.Error())
			}
		}
		s.events.LogEvent(ctx, evt)
	}
	s.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "batch_completed",
		ServiceName: "pageshot",
		EntityType:  "batch",
		Action:      "run",
		Details:     fmt.Sprintf(`{"total":%d,"failed":%d}`, len(results), failed),
		Success:     failed == 0,
	})
}

func fileExt(f Format) string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}
