// Package httpapi exposes the capture service over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/pageshot/artifact"
	"github.com/hazyhaar/pageshot/capture"
	"github.com/hazyhaar/pageshot/shield"
)

// Config configures the API server.
type Config struct {
	Addr string `yaml:"addr"`
	// Username and PasswordHash enable basic auth when both are set.
	// PasswordHash is a bcrypt hash, never a plaintext password.
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	// RateLimit is requests per client IP per minute. Default: 30.
	RateLimit int `yaml:"rate_limit"`
	// MaxBodyBytes caps request bodies. Default: 1 MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.RateLimit < 1 {
		c.RateLimit = 30
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Server serves capture and artifact endpoints.
type Server struct {
	svc     *capture.Service
	store   *artifact.Store
	limiter *shield.RateLimiter
	cfg     Config
	log     *slog.Logger
}

// NewServer wires the capture service and artifact store behind a router.
// store may be nil; artifact routes then answer 404.
func NewServer(svc *capture.Service, store *artifact.Store, cfg Config) *Server {
	cfg.defaults()
	return &Server{
		svc:     svc,
		store:   store,
		limiter: shield.NewRateLimiter(cfg.RateLimit, time.Minute),
		cfg:     cfg,
		log:     cfg.Logger,
	}
}

// Router builds the chi router with the full middleware stack.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(shield.MaxBody(s.cfg.MaxBodyBytes))
	r.Use(shield.RequestID)
	r.Use(s.limiter.Middleware)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.cfg.Username != "" && s.cfg.PasswordHash != "" {
			r.Use(shield.BasicAuth(s.cfg.Username, s.cfg.PasswordHash))
		}
		r.Post("/capture", s.handleCapture)
		r.Post("/batch", s.handleBatch)
		if s.store != nil {
			r.Get("/artifacts/{key}", s.handleArtifact)
			r.Get("/artifacts/{key}/versions", s.handleVersions)
			r.Get("/artifacts/{key}/diff", s.handleDiff)
		}
	})
	return r
}

// ListenAndServe runs the server until ctx is cancelled, then drains with a
// 10s grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.limiter.StartGC(ctx.Done())

	errc := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", "addr", s.cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// captureRequest is the wire form of one capture.
type captureRequest struct {
	URL      string `json:"url"`
	Mobile   bool   `json:"mobile,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Format   string `json:"format,omitempty"`
	Quality  int    `json:"quality,omitempty"`
	DelayMS  int    `json:"delay_ms,omitempty"`
	FullPage *bool  `json:"full_page,omitempty"`
}

func (cr *captureRequest) toRequest() capture.Request {
	req := capture.NewRequest(cr.URL)
	switch {
	case cr.Width > 0 && cr.Height > 0:
		req.Viewport = capture.Viewport{Width: cr.Width, Height: cr.Height, Mobile: cr.Mobile}
	case cr.Mobile:
		req.Viewport = capture.MobileViewport
	default:
		req.Viewport = capture.DesktopViewport
	}
	if cr.Format != "" {
		req.Format = capture.Format(cr.Format)
	}
	if cr.Quality > 0 {
		req.Quality = cr.Quality
	}
	if cr.DelayMS > 0 {
		req.Delay = time.Duration(cr.DelayMS) * time.Millisecond
	}
	if cr.FullPage != nil {
		req.FullPage = *cr.FullPage
	}
	req.Normalize()
	return req
}

// handleCapture renders one URL and streams the payload back. Metadata
// travels in X-Pageshot-* headers so the body stays pure image/PDF.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())

	var cr captureRequest
	if err := json.NewDecoder(r.Body).Decode(&cr); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	res, err := s.svc.CaptureURL(r.Context(), cr.toRequest())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if !res.Succeeded() {
		log.Warn("capture failed", "url", cr.URL, "error", res.Err)
		writeError(w, statusFor(res.Err), res.Err)
		return
	}

	w.Header().Set("Content-Type", contentType(res.Request.Format))
	w.Header().Set("X-Pageshot-Key", res.Request.OutputKey)
	w.Header().Set("X-Pageshot-Page-Size", fmt.Sprintf("%dx%d", res.PageWidth, res.PageHeight))
	w.WriteHeader(http.StatusOK)
	w.Write(res.Payload)
}

// batchResponse summarizes one request of a batch. Payloads are not echoed
// back; clients fetch them from the artifact store or re-capture singly.
type batchResponse struct {
	Key        string `json:"key"`
	URL        string `json:"url"`
	Status     string `json:"status"`
	PageWidth  int    `json:"page_width,omitempty"`
	PageHeight int    `json:"page_height,omitempty"`
	Title      string `json:"title,omitempty"`
	SizeBytes  int    `json:"size_bytes,omitempty"`
	Error      string `json:"error,omitempty"`
	ElapsedMS  int64  `json:"elapsed_ms"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Requests    []captureRequest `json:"requests"`
		Concurrency int              `json:"concurrency,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if len(body.Requests) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("empty batch"))
		return
	}

	requests := make([]capture.Request, len(body.Requests))
	for i, cr := range body.Requests {
		requests[i] = cr.toRequest()
	}

	results, err := s.svc.RunBatch(r.Context(), requests, body.Concurrency)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	out := make([]batchResponse, 0, len(results))
	for key, res := range results {
		br := batchResponse{
			Key:        key,
			URL:        res.Request.URL,
			Status:     string(res.Status),
			PageWidth:  res.PageWidth,
			PageHeight: res.PageHeight,
			Title:      res.Title,
			SizeBytes:  len(res.Payload),
			ElapsedMS:  res.Elapsed.Milliseconds(),
		}
		if res.Err != nil {
			br.Error = res.Err.Error()
		}
		out = append(out, br)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	a, err := s.store.Get(r.Context(), key)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	payload, err := s.store.Payload(a)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", contentType(capture.Format(a.Format)))
	w.Header().Set("X-Pageshot-Captured-At", a.Timestamp.UTC().Format(time.RFC3339))
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	versions, err := s.store.ListVersions(r.Context(), key)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if len(versions) == 0 {
		writeError(w, http.StatusNotFound, &artifact.ErrNotFound{Key: key})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "versions": versions})
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	rec, err := s.svc.CompareLatest(r.Context(), key)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func statusFor(err error) int {
	var notFound *artifact.ErrNotFound
	var validation *capture.ErrValidation
	var timeout *capture.ErrTimeout
	var navigation *capture.ErrNavigation
	var capFail *capture.ErrCapture
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &navigation), errors.As(err, &capFail):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func contentType(f capture.Format) string {
	switch f {
	case capture.FormatJPEG:
		return "image/jpeg"
	case capture.FormatPDF:
		return "application/pdf"
	default:
		return "image/png"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
