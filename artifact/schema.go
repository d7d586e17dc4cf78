package artifact

// Schema is the artifact index DDL. Payload bytes live on the filesystem
// under the store root; the table only tracks identity and metadata.
// Artifacts are append-only per key: (output_key, captured_at) is unique.
const Schema = `
CREATE TABLE IF NOT EXISTS artifacts (
    id            TEXT PRIMARY KEY,
    output_key    TEXT NOT NULL,
    captured_at   INTEGER NOT NULL,
    format        TEXT NOT NULL,
    path          TEXT NOT NULL,
    size_bytes    INTEGER NOT NULL,
    page_width    INTEGER NOT NULL DEFAULT 0,
    page_height   INTEGER NOT NULL DEFAULT 0,
    title         TEXT NOT NULL DEFAULT '',
    pdf_pages     INTEGER NOT NULL DEFAULT 0,
    content_hash  TEXT NOT NULL DEFAULT '',
    created_at    INTEGER NOT NULL,
    UNIQUE(output_key, captured_at)
);
CREATE INDEX IF NOT EXISTS idx_artifacts_key_time
    ON artifacts(output_key, captured_at DESC);
`
