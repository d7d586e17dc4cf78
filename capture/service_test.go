package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pageshot/dbopen"
	"github.com/hazyhaar/pageshot/observability"
)

func newTestService(t *testing.T, pool *fakePool) *Service {
	t.Helper()
	return NewService(NewScheduler(pool), ServiceConfig{
		OutputDir: t.TempDir(),
	})
}

func TestCaptureURL(t *testing.T) {
	svc := newTestService(t, &fakePool{})

	res, err := svc.CaptureURL(context.Background(), NewRequest("https://example.com"))
	if err != nil {
		t.Fatalf("CaptureURL: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("status %s, err %v", res.Status, res.Err)
	}
	if res.Request.OutputKey == "" {
		t.Error("result lost its output key")
	}
}

func TestCaptureBoth(t *testing.T) {
	svc := newTestService(t, &fakePool{})

	both, err := svc.CaptureBoth(context.Background(), "https://example.com")
	if err != nil {
		t.Fatalf("CaptureBoth: %v", err)
	}
	if !both.Desktop.Succeeded() || !both.Mobile.Succeeded() {
		t.Fatalf("desktop %v / mobile %v", both.Desktop.Err, both.Mobile.Err)
	}
	if both.Desktop.Request.Viewport != DesktopViewport {
		t.Errorf("desktop viewport %s", both.Desktop.Request.Viewport)
	}
	if both.Mobile.Request.Viewport != MobileViewport {
		t.Errorf("mobile viewport %s", both.Mobile.Request.Viewport)
	}
	if both.Desktop.Request.OutputKey == both.Mobile.Request.OutputKey {
		t.Error("desktop and mobile shots share an output key")
	}
}

func TestWriteResult(t *testing.T) {
	svc := newTestService(t, &fakePool{})

	res, err := svc.CaptureURL(context.Background(), NewRequest("https://example.com"))
	if err != nil {
		t.Fatalf("CaptureURL: %v", err)
	}

	dir := t.TempDir()
	path, err := svc.WriteResult(res, dir, "shot.png")
	if err != nil {
		t.Fatalf("WriteResult: %v", err)
	}
	if filepath.Base(path) != "shot.png" {
		t.Errorf("path %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("payload %q", data)
	}
}

func TestWriteResultRefusesFailure(t *testing.T) {
	svc := newTestService(t, &fakePool{})
	res := &Result{Request: NewRequest("https://example.com"), Status: StatusFailed}
	if _, err := svc.WriteResult(res, "", ""); err == nil {
		t.Fatal("expected error writing a failed result")
	}
}

func TestRunBatchRecordsEvents(t *testing.T) {
	db := dbopen.OpenMemory(t)
	events := observability.NewEventLogger(db)
	if err := events.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	svc := NewService(NewScheduler(&fakePool{}), ServiceConfig{
		OutputDir: t.TempDir(),
	}, WithEvents(events))

	if _, err := svc.RunBatch(context.Background(), testRequests(3), 2); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	var succeeded int
	db.QueryRow(`SELECT COUNT(*) FROM business_event_logs
		WHERE event_type = 'capture_succeeded'`).Scan(&succeeded)
	if succeeded != 3 {
		t.Errorf("capture_succeeded events = %d, want 3", succeeded)
	}

	var batches, ok int
	db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(success), 0)
		FROM business_event_logs WHERE event_type = 'batch_completed'`).Scan(&batches, &ok)
	if batches != 1 {
		t.Fatalf("batch_completed events = %d, want 1", batches)
	}
	if ok != 1 {
		t.Error("batch summary not marked successful")
	}

	var details string
	db.QueryRow(`SELECT details FROM business_event_logs
		WHERE event_type = 'batch_completed'`).Scan(&details)
	if details != `{"total":3,"failed":0}` {
		t.Errorf("details = %s", details)
	}
}

func TestLayoutAudit(t *testing.T) {
	svc := newTestService(t, &fakePool{})

	rep, err := svc.LayoutAudit(context.Background(), "https://example.com", nil)
	if err != nil {
		t.Fatalf("LayoutAudit: %v", err)
	}
	if len(rep.Shots) != len(DefaultBreakpoints) {
		t.Fatalf("got %d shots, want %d", len(rep.Shots), len(DefaultBreakpoints))
	}
	if !rep.Succeeded() {
		t.Fatal("audit reported failure")
	}
	for _, shot := range rep.Shots {
		wantMobile := shot.Width <= mobileBreakpointMax
		if shot.Mobile != wantMobile {
			t.Errorf("width %d: mobile=%v, want %v", shot.Width, shot.Mobile, wantMobile)
		}
		if shot.File == "" {
			t.Errorf("width %d: shot not written", shot.Width)
		}
	}
}

func TestLayoutAuditRejectsBadBreakpoint(t *testing.T) {
	svc := newTestService(t, &fakePool{})
	if _, err := svc.LayoutAudit(context.Background(), "https://example.com", []int{0}); err == nil {
		t.Fatal("expected validation error for zero-width breakpoint")
	}
}

func TestSEOAudit(t *testing.T) {
	svc := newTestService(t, &fakePool{})

	urls := []string{"https://example.com", "https://example.org"}
	rep, err := svc.SEOAudit(context.Background(), urls, true)
	if err != nil {
		t.Fatalf("SEOAudit: %v", err)
	}
	if len(rep.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(rep.Entries))
	}
	if rep.Failed != 0 {
		t.Errorf("failed %d, want 0", rep.Failed)
	}
	for _, e := range rep.Entries {
		if e.DesktopFile == "" || e.MobileFile == "" {
			t.Errorf("%s: files desktop=%q mobile=%q", e.URL, e.DesktopFile, e.MobileFile)
		}
	}
}
