package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pageshot/artifact"
	"github.com/hazyhaar/pageshot/capture"
	"github.com/hazyhaar/pageshot/dbopen"
)

type fakePage struct{}

func (fakePage) Setup(capture.Viewport) error                 { return nil }
func (fakePage) Navigate(context.Context, string) error       { return nil }
func (fakePage) Evaluate(context.Context, string) error       { return nil }
func (fakePage) PDF(context.Context) ([]byte, error)          { return []byte("pdf"), nil }
func (fakePage) HTML(context.Context) (string, error)         { return "<html></html>", nil }
func (fakePage) Info(context.Context) (capture.PageInfo, error) {
	return capture.PageInfo{Width: 1280, Height: 2400, Title: "t"}, nil
}
func (fakePage) Screenshot(context.Context, capture.Format, int, bool) ([]byte, error) {
	return []byte("png"), nil
}

type fakePool struct{}

func (fakePool) Acquire(ctx context.Context, stealth bool) (capture.Page, error) {
	return fakePage{}, ctx.Err()
}
func (fakePool) Release(capture.Page) {}
func (fakePool) Discard(capture.Page) {}

func newTestServer(t *testing.T, cfg Config) (*Server, *artifact.Store) {
	t.Helper()
	store := artifact.NewStore(dbopen.OpenMemory(t), t.TempDir())
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("store init: %v", err)
	}
	svc := capture.NewService(
		capture.NewScheduler(fakePool{}),
		capture.ServiceConfig{OutputDir: t.TempDir()},
		capture.WithStore(store),
	)
	return NewServer(svc, store, cfg), store
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestCaptureEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	body := `{"url":"https://example.com","format":"png"}`
	req := httptest.NewRequest(http.MethodPost, "/capture", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type %q", ct)
	}
	if rec.Header().Get("X-Pageshot-Key") == "" {
		t.Error("missing artifact key header")
	}
	if rec.Body.String() != "png" {
		t.Errorf("body %q", rec.Body)
	}
}

func TestCaptureRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	router := srv.Router()

	for name, body := range map[string]string{
		"malformed json": `{"url":`,
		"bad scheme":     `{"url":"ftp://example.com"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/capture", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want 400", name, rec.Code)
		}
	}
}

func TestBatchEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	body := `{"requests":[{"url":"https://example.com/a"},{"url":"https://example.com/b","mobile":true}],"concurrency":2}`
	req := httptest.NewRequest(http.MethodPost, "/batch", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var out struct {
		Results []batchResponse `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(out.Results))
	}
	for _, r := range out.Results {
		if r.Status != "succeeded" {
			t.Errorf("%s: status %s (%s)", r.URL, r.Status, r.Error)
		}
	}
}

func TestArtifactRoutes(t *testing.T) {
	srv, store := newTestServer(t, Config{})
	router := srv.Router()
	ctx := context.Background()

	// Unknown key.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/artifacts/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown key: status %d", rec.Code)
	}

	key := "example.com_abcd1234"
	t0 := time.Now().Add(-time.Hour)
	if _, err := store.Put(ctx, key, t0, []byte("old-version"), artifact.Metadata{Format: "png"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Put(ctx, key, time.Now(), []byte("new-version!"), artifact.Metadata{Format: "png"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Latest payload.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/artifacts/"+key, nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "new-version!" {
		t.Fatalf("artifact: status %d body %q", rec.Code, rec.Body)
	}

	// Version list.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/artifacts/"+key+"/versions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("versions: status %d", rec.Code)
	}
	var versions struct {
		Versions []time.Time `json:"versions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &versions); err != nil {
		t.Fatalf("decode versions: %v", err)
	}
	if len(versions.Versions) != 2 {
		t.Fatalf("got %d versions, want 2", len(versions.Versions))
	}

	// Diff of the two versions.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/artifacts/"+key+"/diff", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("diff: status %d: %s", rec.Code, rec.Body)
	}
	var diffOut struct {
		Changed           bool    `json:"changed"`
		DifferencePercent float64 `json:"difference_percent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &diffOut); err != nil {
		t.Fatalf("decode diff: %v", err)
	}
	// 11 -> 12 bytes is ~9%, over the 5% default threshold.
	if !diffOut.Changed {
		t.Errorf("diff %+v, want changed", diffOut)
	}
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	srv, _ := newTestServer(t, Config{Username: "ops", PasswordHash: string(hash)})
	router := srv.Router()

	// Health stays open.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", rec.Code)
	}

	body := `{"url":"https://example.com"}`

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/capture", strings.NewReader(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no creds: status %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/capture", strings.NewReader(body))
	req.SetBasicAuth("ops", "wrong")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: status %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/capture", strings.NewReader(body))
	req.SetBasicAuth("ops", "hunter2")
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("good creds: status %d: %s", rec.Code, rec.Body)
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options %q", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}
