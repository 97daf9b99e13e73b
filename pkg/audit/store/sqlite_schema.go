package store

// SchemaVersion is the current audit database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the audit log schema.
//
// Events are append-only at the database layer: BEFORE UPDATE and BEFORE
// DELETE triggers abort the statement, so no writer (including raw SQL
// bypassing this package) can alter history. Sidecars are ordinary rows; the
// one-way transitions on them are enforced in code.
const Schema = `
-- Immutable event log
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    summary TEXT,
    actor TEXT NOT NULL DEFAULT '',
    details TEXT,
    created_at INTEGER NOT NULL
);

-- Mutable sidecar, one-to-one with events
CREATE TABLE IF NOT EXISTS event_metadata (
    event_id TEXT PRIMARY KEY REFERENCES events(id),
    processed INTEGER NOT NULL DEFAULT 0,
    violation_id TEXT NOT NULL DEFAULT '',
    prev_hash TEXT NOT NULL DEFAULT '',
    signature TEXT NOT NULL DEFAULT '',
    key_version TEXT NOT NULL DEFAULT '',
    timestamp_token TEXT NOT NULL DEFAULT '',
    updated_at INTEGER NOT NULL
);

-- Schema version table
CREATE TABLE IF NOT EXISTS audit_schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_actor_ts ON events(actor, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_metadata_processed ON event_metadata(processed);

-- Append-only enforcement: the event log cannot be rewritten from SQL.
CREATE TRIGGER IF NOT EXISTS events_no_update
BEFORE UPDATE ON events
BEGIN
    SELECT RAISE(ABORT, 'events are append-only');
END;

CREATE TRIGGER IF NOT EXISTS events_no_delete
BEFORE DELETE ON events
BEGIN
    SELECT RAISE(ABORT, 'events are append-only');
END;
`

// InsertSchemaVersion inserts the schema version into the version table.
const InsertSchemaVersion = `
INSERT INTO audit_schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`
