// Package artifact durably records capture payloads under deterministic,
// collision-free keys.
//
// Payload bytes are written to the filesystem under the store root
// (<root>/<key>/<unix-millis>.<ext>); an SQLite index tracks versions and
// metadata. Writes are append-only per key, so a monitoring subject
// accumulates an ordered history that the change detector can walk.
package artifact

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/pageshot/dbopen"
	"github.com/hazyhaar/pageshot/idgen"
)

// Artifact is one stored capture payload.
type Artifact struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Timestamp   time.Time `json:"timestamp"`
	Format      string    `json:"format"`
	Path        string    `json:"path"`
	Size        int64     `json:"size_bytes"`
	PageWidth   int       `json:"page_width,omitempty"`
	PageHeight  int       `json:"page_height,omitempty"`
	Title       string    `json:"title,omitempty"`
	PDFPages    int       `json:"pdf_pages,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
}

// Metadata accompanies a payload into Put.
type Metadata struct {
	Format      string
	PageWidth   int
	PageHeight  int
	Title       string
	ContentHash string
}

// Store is the artifact index plus payload directory.
type Store struct {
	db    *sql.DB
	root  string
	newID idgen.Generator
	log   *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIDGenerator sets a custom ID generator for artifact IDs.
func WithIDGenerator(gen idgen.Generator) StoreOption {
	return func(s *Store) { s.newID = gen }
}

// WithStoreLogger overrides the default slog logger.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.log = l }
}

// NewStore creates a Store over an opened index database and a payload
// root directory. Call Init once at startup to apply the schema.
func NewStore(db *sql.DB, root string, opts ...StoreOption) *Store {
	s := &Store{
		db:    db,
		root:  root,
		newID: idgen.Prefixed("art_", idgen.Default),
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init applies the index schema and creates the payload root.
func (s *Store) Init(ctx context.Context) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return &ErrStorage{Op: "mkdir root", Cause: err}
	}
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return &ErrStorage{Op: "apply schema", Cause: err}
	}
	return nil
}

// Put stores payload under (key, ts). Overwriting an existing version is
// rejected with ErrDuplicate; medium failures surface as ErrStorage.
// PDF payloads are validated and their page count recorded.
func (s *Store) Put(ctx context.Context, key string, ts time.Time, payload []byte, meta Metadata) (*Artifact, error) {
	if key == "" {
		return nil, &ErrStorage{Op: "put", Cause: errors.New("empty key")}
	}

	pdfPages := 0
	if meta.Format == "pdf" {
		n, err := pdfPageCount(payload)
		if err != nil {
			return nil, &ErrStorage{Op: "validate pdf", Cause: err}
		}
		pdfPages = n
	}

	dir := filepath.Join(s.root, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &ErrStorage{Op: "mkdir", Cause: err}
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.%s", ts.UnixMilli(), ext(meta.Format)))

	a := &Artifact{
		ID:          s.newID(),
		Key:         key,
		Timestamp:   ts,
		Format:      meta.Format,
		Path:        path,
		Size:        int64(len(payload)),
		PageWidth:   meta.PageWidth,
		PageHeight:  meta.PageHeight,
		Title:       meta.Title,
		PDFPages:    pdfPages,
		ContentHash: meta.ContentHash,
	}

	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM artifacts WHERE output_key = ? AND captured_at = ?`,
			key, ts.UnixMilli()).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return &ErrDuplicate{Key: key, Timestamp: ts}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO artifacts (
				id, output_key, captured_at, format, path, size_bytes,
				page_width, page_height, title, pdf_pages, content_hash, created_at
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			a.ID, a.Key, ts.UnixMilli(), a.Format, a.Path, a.Size,
			a.PageWidth, a.PageHeight, a.Title, a.PDFPages, a.ContentHash,
			time.Now().Unix())
		return err
	})
	if err != nil {
		var dup *ErrDuplicate
		if errors.As(err, &dup) {
			return nil, dup
		}
		return nil, &ErrStorage{Op: "index insert", Cause: err}
	}

	if err := os.WriteFile(path, payload, 0o644); err != nil {
		// Roll the index row back so a failed write does not leave a
		// phantom version.
		if _, delErr := dbopen.Exec(ctx, s.db, `DELETE FROM artifacts WHERE id = ?`, a.ID); delErr != nil {
			s.log.Error("artifact: orphan index row", "id", a.ID, "error", delErr)
		}
		return nil, &ErrStorage{Op: "write payload", Cause: err}
	}

	s.log.Debug("artifact stored", "key", key, "ts", ts.UnixMilli(), "bytes", a.Size)
	return a, nil
}

// Get returns the most recent artifact for key.
func (s *Store) Get(ctx context.Context, key string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, selectCols+`
		WHERE output_key = ? ORDER BY captured_at DESC LIMIT 1`, key)
	return scanArtifact(row, key)
}

// GetAt returns the artifact stored for key at exactly ts.
func (s *Store) GetAt(ctx context.Context, key string, ts time.Time) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, selectCols+`
		WHERE output_key = ? AND captured_at = ?`, key, ts.UnixMilli())
	return scanArtifact(row, key)
}

// ListVersions returns the stored timestamps for key, oldest first.
func (s *Store) ListVersions(ctx context.Context, key string) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT captured_at FROM artifacts WHERE output_key = ? ORDER BY captured_at ASC`, key)
	if err != nil {
		return nil, &ErrStorage{Op: "list versions", Cause: err}
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, &ErrStorage{Op: "list versions", Cause: err}
		}
		out = append(out, time.UnixMilli(ms))
	}
	return out, rows.Err()
}

// Payload reads an artifact's bytes back from the filesystem.
func (s *Store) Payload(a *Artifact) ([]byte, error) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, &ErrStorage{Op: "read payload", Cause: err}
	}
	return data, nil
}

// PruneOlderThan deletes versions captured before cutoff, keeping at least
// the newest version of every key. Returns the number of versions removed.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path FROM artifacts a
		WHERE captured_at < ?
		  AND captured_at < (SELECT MAX(captured_at) FROM artifacts WHERE output_key = a.output_key)`,
		cutoff.UnixMilli())
	if err != nil {
		return 0, &ErrStorage{Op: "prune select", Cause: err}
	}
	defer rows.Close()

	type victim struct{ id, path string }
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.path); err != nil {
			return 0, &ErrStorage{Op: "prune scan", Cause: err}
		}
		victims = append(victims, v)
	}
	if err := rows.Err(); err != nil {
		return 0, &ErrStorage{Op: "prune select", Cause: err}
	}

	pruned := 0
	for _, v := range victims {
		if _, err := dbopen.Exec(ctx, s.db, `DELETE FROM artifacts WHERE id = ?`, v.id); err != nil {
			return pruned, &ErrStorage{Op: "prune delete", Cause: err}
		}
		if err := os.Remove(v.path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("artifact: prune payload", "path", v.path, "error", err)
		}
		pruned++
	}
	return pruned, nil
}

const selectCols = `
	SELECT id, output_key, captured_at, format, path, size_bytes,
	       page_width, page_height, title, pdf_pages, content_hash
	FROM artifacts`

func scanArtifact(row *sql.Row, key string) (*Artifact, error) {
	var a Artifact
	var ms int64
	err := row.Scan(&a.ID, &a.Key, &ms, &a.Format, &a.Path, &a.Size,
		&a.PageWidth, &a.PageHeight, &a.Title, &a.PDFPages, &a.ContentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Key: key}
	}
	if err != nil {
		return nil, &ErrStorage{Op: "scan", Cause: err}
	}
	a.Timestamp = time.UnixMilli(ms)
	return &a, nil
}

func ext(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "pdf":
		return "pdf"
	default:
		return "png"
	}
}

// pdfPageCount validates the payload as a PDF and returns its page count.
func pdfPageCount(payload []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(payload), conf)
	if err != nil {
		return 0, fmt.Errorf("pdfcpu read: %w", err)
	}
	return pdfCtx.PageCount, nil
}
