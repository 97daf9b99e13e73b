package violation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"veridian-hq/warden/pkg/policy"
	"veridian-hq/warden/pkg/storage"
)

// Schema contains the SQL statements for the violations table. The unique
// index on dedup_key is the concurrency backstop: an insert racing past the
// transactional lookup fails there and is treated as "already created".
const Schema = `
CREATE TABLE IF NOT EXISTS violations (
    id TEXT PRIMARY KEY,
    dedup_key TEXT NOT NULL UNIQUE,
    policy_id TEXT NOT NULL,
    policy_name TEXT NOT NULL DEFAULT '',
    control_id TEXT NOT NULL,
    rule_id TEXT NOT NULL DEFAULT '',
    event_id TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL,
    evidence TEXT,
    acknowledged INTEGER NOT NULL DEFAULT 0,
    acknowledged_by TEXT NOT NULL DEFAULT '',
    acknowledged_at INTEGER,
    resolved INTEGER NOT NULL DEFAULT 0,
    resolved_by TEXT NOT NULL DEFAULT '',
    resolved_at INTEGER,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_violations_control_created ON violations(control_id, created_at);
CREATE INDEX IF NOT EXISTS idx_violations_actor_created ON violations(actor, created_at);
CREATE INDEX IF NOT EXISTS idx_violations_event ON violations(event_id);
`

// SQLiteStore implements Store on the shared SQLite database.
type SQLiteStore struct {
	db *storage.DB
}

// NewSQLiteStore initializes the violations schema on db.
func NewSQLiteStore(db *storage.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("failed to initialize violations schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const selectColumns = `
	id, dedup_key, policy_id, policy_name, control_id, rule_id, event_id, actor, severity, evidence,
	acknowledged, acknowledged_by, acknowledged_at, resolved, resolved_by, resolved_at, created_at
`

// CreateIfAbsent persists v unless its dedup key already exists. The lookup
// and insert run in one transaction; a duplicate insert slipping past it is
// caught on the unique index and resolved by re-fetching the winner.
func (s *SQLiteStore) CreateIfAbsent(ctx context.Context, v *Violation) (*Violation, bool, error) {
	if v == nil {
		return nil, false, fmt.Errorf("violation cannot be nil")
	}
	if v.DedupKey == "" {
		return nil, false, fmt.Errorf("dedup key cannot be empty")
	}
	if v.ID == "" {
		return nil, false, fmt.Errorf("violation id cannot be empty")
	}

	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	var evidenceJSON []byte
	var err error
	if v.Evidence != nil {
		evidenceJSON, err = json.Marshal(v.Evidence)
		if err != nil {
			return nil, false, fmt.Errorf("failed to marshal evidence: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin create-if-absent: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanViolation(tx.QueryRowContext(ctx,
		`SELECT`+selectColumns+`FROM violations WHERE dedup_key = ?`, v.DedupKey).Scan)
	if err == nil {
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("lookup dedup key: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO violations
			(id, dedup_key, policy_id, policy_name, control_id, rule_id, event_id, actor, severity, evidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.DedupKey, v.PolicyID, v.PolicyName, v.ControlID, v.RuleID, v.EventID, v.Actor,
		string(v.Severity), string(evidenceJSON), v.CreatedAt.UnixNano())
	if err != nil {
		if storage.IsUniqueConstraint(err) {
			// A concurrent writer won the race. Their row is the answer.
			winner, ferr := s.GetByDedupKey(ctx, v.DedupKey)
			if ferr != nil {
				return nil, false, fmt.Errorf("re-fetch after duplicate insert: %w", ferr)
			}
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("insert violation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if storage.IsUniqueConstraint(err) {
			winner, ferr := s.GetByDedupKey(ctx, v.DedupKey)
			if ferr != nil {
				return nil, false, fmt.Errorf("re-fetch after duplicate insert: %w", ferr)
			}
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("commit violation: %w", err)
	}

	return v, true, nil
}

// Get returns the violation with the given ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Violation, error) {
	v, err := scanViolation(s.db.QueryRowContext(ctx,
		`SELECT`+selectColumns+`FROM violations WHERE id = ?`, id).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get violation: %w", err)
	}
	return v, nil
}

// GetByDedupKey returns the violation with the given dedup key.
func (s *SQLiteStore) GetByDedupKey(ctx context.Context, key string) (*Violation, error) {
	v, err := scanViolation(s.db.QueryRowContext(ctx,
		`SELECT`+selectColumns+`FROM violations WHERE dedup_key = ?`, key).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get violation by dedup key: %w", err)
	}
	return v, nil
}

// Acknowledge sets the acknowledged flag once.
func (s *SQLiteStore) Acknowledge(ctx context.Context, id, actor string, at time.Time) error {
	return s.setFlag(ctx, id, "acknowledged", actor, at)
}

// Resolve sets the resolved flag once.
func (s *SQLiteStore) Resolve(ctx context.Context, id, actor string, at time.Time) error {
	return s.setFlag(ctx, id, "resolved", actor, at)
}

func (s *SQLiteStore) setFlag(ctx context.Context, id, flag, actor string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", flag, err)
	}
	defer tx.Rollback()

	var set int
	err = tx.QueryRowContext(ctx,
		`SELECT `+flag+` FROM violations WHERE id = ?`, id).Scan(&set)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup %s: %w", flag, err)
	}
	if set != 0 {
		return &AlreadySetError{ViolationID: id, Flag: flag}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE violations SET `+flag+` = 1, `+flag+`_by = ?, `+flag+`_at = ? WHERE id = ?`,
		actor, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("set %s: %w", flag, err)
	}

	return tx.Commit()
}

// CountControlViolations counts violations for a control since the given
// instant.
func (s *SQLiteStore) CountControlViolations(ctx context.Context, controlID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM violations WHERE control_id = ? AND created_at >= ?`,
		controlID, since.UnixNano()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count control violations: %w", err)
	}
	return count, nil
}

// CountActorViolations counts violations attributed to an actor since the
// given instant.
func (s *SQLiteStore) CountActorViolations(ctx context.Context, actor string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM violations WHERE actor = ? AND created_at >= ?`,
		actor, since.UnixNano()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count actor violations: %w", err)
	}
	return count, nil
}

// ListByEvent returns the violations recorded for an event, oldest first.
func (s *SQLiteStore) ListByEvent(ctx context.Context, eventID string) ([]*Violation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+selectColumns+`FROM violations WHERE event_id = ? ORDER BY created_at ASC, id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list violations by event: %w", err)
	}
	defer rows.Close()

	var out []*Violation
	for rows.Next() {
		v, err := scanViolation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Close is a no-op; the shared database handle stays open.
func (s *SQLiteStore) Close() error {
	return nil
}

func scanViolation(scan func(dest ...any) error) (*Violation, error) {
	var (
		v                      Violation
		severity, evidenceJSON string
		acknowledged, resolved int
		ackAt, resAt           sql.NullInt64
		createdAt              int64
	)
	err := scan(&v.ID, &v.DedupKey, &v.PolicyID, &v.PolicyName, &v.ControlID, &v.RuleID,
		&v.EventID, &v.Actor, &severity, &evidenceJSON,
		&acknowledged, &v.AcknowledgedBy, &ackAt,
		&resolved, &v.ResolvedBy, &resAt, &createdAt)
	if err != nil {
		return nil, err
	}

	v.Severity = policy.Severity(severity)
	v.Acknowledged = acknowledged != 0
	v.Resolved = resolved != 0
	v.CreatedAt = time.Unix(0, createdAt)
	if ackAt.Valid {
		t := time.Unix(0, ackAt.Int64)
		v.AcknowledgedAt = &t
	}
	if resAt.Valid {
		t := time.Unix(0, resAt.Int64)
		v.ResolvedAt = &t
	}
	if evidenceJSON != "" {
		if err := json.Unmarshal([]byte(evidenceJSON), &v.Evidence); err != nil {
			return nil, fmt.Errorf("unmarshal evidence: %w", err)
		}
	}
	return &v, nil
}
