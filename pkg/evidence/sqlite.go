package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"veridian-hq/warden/pkg/audit"
	"veridian-hq/warden/pkg/storage"
)

// Schema contains the SQL statements for the evidence table. Like the event
// log, evidence is append-only at the database layer: triggers abort any
// UPDATE or DELETE so raw SQL cannot rewrite forensic records.
const Schema = `
CREATE TABLE IF NOT EXISTS evidence (
    id TEXT PRIMARY KEY,
    violation_id TEXT NOT NULL DEFAULT '',
    policy TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evidence_violation ON evidence(violation_id);
CREATE INDEX IF NOT EXISTS idx_evidence_policy_created ON evidence(policy, created_at);

CREATE TRIGGER IF NOT EXISTS evidence_no_update
BEFORE UPDATE ON evidence
BEGIN
    SELECT RAISE(ABORT, 'evidence is immutable');
END;

CREATE TRIGGER IF NOT EXISTS evidence_no_delete
BEFORE DELETE ON evidence
BEGIN
    SELECT RAISE(ABORT, 'evidence is immutable');
END;
`

// SQLiteStore implements Store on the shared SQLite database.
type SQLiteStore struct {
	db *storage.DB
}

// NewSQLiteStore initializes the evidence schema on db.
func NewSQLiteStore(db *storage.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("failed to initialize evidence schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Create persists a new record.
func (s *SQLiteStore) Create(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if record.ID == "" {
		return fmt.Errorf("record id cannot be empty")
	}
	if record.Payload == nil {
		return fmt.Errorf("record payload cannot be nil")
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	payloadJSON, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evidence (id, violation_id, policy, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		record.ID, record.ViolationID, record.Payload.Policy,
		string(payloadJSON), record.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create evidence: %w", err)
	}
	return nil
}

// Get returns the record with the given ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, violation_id, payload, created_at FROM evidence WHERE id = ?`, id)

	record, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evidence: %w", err)
	}
	return record, nil
}

// List returns records matching the query, oldest first.
func (s *SQLiteStore) List(ctx context.Context, query *Query) ([]*Record, error) {
	q := `SELECT id, violation_id, payload, created_at FROM evidence WHERE 1=1`
	var args []any

	if query != nil {
		if query.ViolationID != "" {
			q += ` AND violation_id = ?`
			args = append(args, query.ViolationID)
		}
		if query.Policy != "" {
			q += ` AND policy = ?`
			args = append(args, query.Policy)
		}
		if query.StartTime != nil {
			q += ` AND created_at >= ?`
			args = append(args, query.StartTime.UnixNano())
		}
		if query.EndTime != nil {
			q += ` AND created_at <= ?`
			args = append(args, query.EndTime.UnixNano())
		}
	}
	q += ` ORDER BY created_at ASC, id ASC`
	if query != nil && query.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, query.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Update is unconditionally refused.
func (s *SQLiteStore) Update(_ context.Context, record *Record) error {
	id := ""
	if record != nil {
		id = record.ID
	}
	return &audit.ImmutabilityViolation{
		Entity:    "evidence",
		EntityID:  id,
		Operation: "update",
	}
}

// Delete is unconditionally refused.
func (s *SQLiteStore) Delete(_ context.Context, id string) error {
	return &audit.ImmutabilityViolation{
		Entity:    "evidence",
		EntityID:  id,
		Operation: "delete",
	}
}

// Close is a no-op; the shared database handle stays open.
func (s *SQLiteStore) Close() error {
	return nil
}

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var (
		record      Record
		payloadJSON string
		createdAt   int64
	)
	if err := scan(&record.ID, &record.ViolationID, &payloadJSON, &createdAt); err != nil {
		return nil, err
	}

	record.CreatedAt = time.Unix(0, createdAt)
	record.Payload = &Payload{}
	if err := json.Unmarshal([]byte(payloadJSON), record.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &record, nil
}
