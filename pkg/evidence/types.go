package evidence

import (
	"context"
	"errors"
	"io"
	"time"
)

// Payload is the structured forensic content of an evidence record:
// everything needed to reproduce the evaluation decision offline.
type Payload struct {
	// Timestamp is the evaluation instant, RFC3339Nano in UTC. It also
	// feeds the violation dedup key, so it must be carried verbatim.
	Timestamp string `json:"timestamp"`

	Policy  string `json:"policy"`
	Control string `json:"control"`
	Rule    string `json:"rule,omitempty"` // empty for expression and threshold evidence

	// Explanation is the evaluator output: a rule, expression or threshold
	// explanation tree.
	Explanation map[string]any `json:"explanation"`

	// EventSnapshot is the triggering event frozen at evaluation time.
	EventSnapshot map[string]any `json:"event_snapshot"`

	PolicyVersion string `json:"policy_version,omitempty"`
	RiskScore     int    `json:"risk_score"`
}

// Record is one immutable evidence row.
type Record struct {
	ID          string    `json:"id"` // UUID v4
	ViolationID string    `json:"violation_id,omitempty"`
	Payload     *Payload  `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("evidence: not found")

// Query filters evidence listings.
type Query struct {
	ViolationID string
	Policy      string
	StartTime   *time.Time
	EndTime     *time.Time
	Limit       int
}

// Store is the persistence contract for evidence. There is deliberately no
// update or delete in the interface; implementations additionally expose
// guard methods that refuse those operations with a typed error so callers
// probing for them get an auditable refusal.
type Store interface {
	// Create persists a new record.
	Create(ctx context.Context, record *Record) error

	// Get returns the record with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// List returns records matching the query, oldest first.
	List(ctx context.Context, query *Query) ([]*Record, error)

	// Update always fails with *audit.ImmutabilityViolation.
	Update(ctx context.Context, record *Record) error

	// Delete always fails with *audit.ImmutabilityViolation.
	Delete(ctx context.Context, id string) error

	// Close releases store resources.
	Close() error
}

// Exporter renders evidence records to a writer in one format.
type Exporter interface {
	// Format identifies the output format ("json", "csv").
	Format() string

	// Export writes the records to w.
	Export(ctx context.Context, records []*Record, w io.Writer) error
}
