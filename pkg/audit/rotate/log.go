package rotate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"veridian-hq/warden/pkg/storage"
)

// SQLiteLog persists rotation entries to the shared database.
type SQLiteLog struct {
	db *storage.DB
}

const logSchema = `
CREATE TABLE IF NOT EXISTS key_rotation_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL,
    actor TEXT NOT NULL,
    old_signature TEXT NOT NULL,
    new_signature TEXT NOT NULL,
    old_key_version TEXT NOT NULL,
    new_key_version TEXT NOT NULL,
    rotated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rotation_event ON key_rotation_log(event_id);
`

// NewSQLiteLog initializes the rotation log table on db.
func NewSQLiteLog(db *storage.DB) (*SQLiteLog, error) {
	if _, err := db.Exec(logSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize rotation log schema: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

// Record appends one rotation entry.
func (l *SQLiteLog) Record(ctx context.Context, entry *Entry) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO key_rotation_log
			(event_id, actor, old_signature, new_signature, old_key_version, new_key_version, rotated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.EventID, entry.Actor, entry.OldSignature, entry.NewSignature,
		entry.OldKeyVersion, entry.NewKeyVersion, entry.RotatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record rotation entry: %w", err)
	}
	return nil
}

// Entries returns all rotation entries for an event, oldest first.
func (l *SQLiteLog) Entries(ctx context.Context, eventID string) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, actor, old_signature, new_signature, old_key_version, new_key_version, rotated_at
		FROM key_rotation_log WHERE event_id = ? ORDER BY id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rotation log: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var rotatedAt int64
		if err := rows.Scan(&e.EventID, &e.Actor, &e.OldSignature, &e.NewSignature,
			&e.OldKeyVersion, &e.NewKeyVersion, &rotatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rotation entry: %w", err)
		}
		e.RotatedAt = time.Unix(0, rotatedAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// MemoryLog collects rotation entries in memory, for tests.
type MemoryLog struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewMemoryLog creates an empty in-memory rotation log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Record appends one rotation entry.
func (l *MemoryLog) Record(_ context.Context, entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *entry
	l.entries = append(l.entries, &cp)
	return nil
}

// All returns the recorded entries in order.
func (l *MemoryLog) All() []*Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
