package artifact

import (
	"context"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pageshot/dbopen"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	st := NewStore(db, t.TempDir())
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return st
}

func TestPutGetRoundtrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	ts := time.Now()
	meta := Metadata{Format: "png", PageWidth: 1280, PageHeight: 4200, Title: "Pricing"}
	put, err := st.Put(ctx, "example.com_pricing_abcd1234", ts, []byte("payload-1"), meta)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if put.ID == "" || put.Path == "" {
		t.Fatalf("artifact incomplete: %+v", put)
	}

	got, err := st.Get(ctx, "example.com_pricing_abcd1234")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Pricing" || got.PageHeight != 4200 || got.Size != int64(len("payload-1")) {
		t.Errorf("got %+v", got)
	}

	payload, err := st.Payload(got)
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	if string(payload) != "payload-1" {
		t.Errorf("payload %q", payload)
	}
}

func TestGetNotFound(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Get(context.Background(), "missing")
	var nf *ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("got %v, want *ErrNotFound", err)
	}
}

func TestPutRejectsDuplicateVersion(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := time.Now()

	if _, err := st.Put(ctx, "key", ts, []byte("a"), Metadata{Format: "png"}); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	_, err := st.Put(ctx, "key", ts, []byte("b"), Metadata{Format: "png"})
	var dup *ErrDuplicate
	if !errors.As(err, &dup) {
		t.Fatalf("got %v, want *ErrDuplicate", err)
	}

	// The original version is untouched.
	got, err := st.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	payload, _ := st.Payload(got)
	if string(payload) != "a" {
		t.Errorf("payload %q, want original", payload)
	}
}

func TestVersionsOrderedAndLatestWins(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	t0 := time.Now().Add(-2 * time.Hour)
	t1 := t0.Add(time.Hour)
	t2 := t1.Add(time.Hour)
	// Insert out of order; timestamps decide.
	for _, v := range []struct {
		ts   time.Time
		body string
	}{{t1, "v1"}, {t0, "v0"}, {t2, "v2"}} {
		if _, err := st.Put(ctx, "key", v.ts, []byte(v.body), Metadata{Format: "png"}); err != nil {
			t.Fatalf("Put %s: %v", v.body, err)
		}
	}

	versions, err := st.ListVersions(ctx, "key")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("got %d versions, want 3", len(versions))
	}
	for i := 1; i < len(versions); i++ {
		if versions[i].Before(versions[i-1]) {
			t.Fatalf("versions not oldest-first: %v", versions)
		}
	}

	latest, err := st.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	payload, _ := st.Payload(latest)
	if string(payload) != "v2" {
		t.Errorf("latest payload %q, want v2", payload)
	}

	at, err := st.GetAt(ctx, "key", versions[0])
	if err != nil {
		t.Fatalf("GetAt: %v", err)
	}
	payload, _ = st.Payload(at)
	if string(payload) != "v0" {
		t.Errorf("oldest payload %q, want v0", payload)
	}
}

func TestPruneKeepsNewestPerKey(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-72 * time.Hour)
	for i := 0; i < 3; i++ {
		ts := old.Add(time.Duration(i) * time.Hour)
		if _, err := st.Put(ctx, "stale", ts, []byte{byte(i)}, Metadata{Format: "png"}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	removed, err := st.PruneOlderThan(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed %d, want 2", removed)
	}

	versions, err := st.ListVersions(ctx, "stale")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("got %d versions after prune, want 1", len(versions))
	}
	// The survivor is the newest.
	if got, _ := st.Get(ctx, "stale"); got == nil || !got.Timestamp.Equal(old.Add(2*time.Hour).Truncate(time.Millisecond)) {
		t.Errorf("survivor %+v", got)
	}
}
