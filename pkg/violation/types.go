package violation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"veridian-hq/warden/pkg/policy"
)

// RuleRefThreshold is the rule-slot marker for threshold violations, which
// have no rule of their own.
const RuleRefThreshold = "threshold"

// Violation is one recorded rule, expression or threshold failure.
// Acknowledged and Resolved are one-way flags, each settable exactly once
// with the acting party and instant.
type Violation struct {
	ID       string `json:"id"` // UUID v4
	DedupKey string `json:"dedup_key"`

	PolicyID   string          `json:"policy_id"`
	PolicyName string          `json:"policy_name,omitempty"`
	ControlID  string          `json:"control_id"`
	RuleID     string          `json:"rule_id,omitempty"` // empty for expression, "threshold" for threshold
	EventID    string          `json:"event_id"`
	Actor      string          `json:"actor,omitempty"` // from the triggering event
	Severity   policy.Severity `json:"severity"`

	// Evidence is the structured explanation payload synthesized at
	// evaluation time.
	Evidence map[string]any `json:"evidence,omitempty"`

	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`

	Resolved   bool       `json:"resolved"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// DedupKey computes the deterministic identity hash for a violation. ruleRef
// is the rule ID for per-rule violations, RuleRefThreshold for threshold
// violations, and "" for composite-expression violations. evidenceTimestamp
// is the timestamp carried in the evidence payload (the triggering event's
// own timestamp), so the key is recomputable from the stored evidence alone
// and identical across concurrent evaluations of the same event.
func DedupKey(policyID, controlID, ruleRef, eventID, evidenceTimestamp string) string {
	raw := strings.Join([]string{policyID, controlID, ruleRef, eventID, evidenceTimestamp}, ":")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ErrNotFound is returned when a violation does not exist.
var ErrNotFound = errors.New("violation: not found")

// AlreadySetError reports a second attempt at a one-way flag transition.
type AlreadySetError struct {
	ViolationID string
	Flag        string // "acknowledged", "resolved"
}

// Error implements the error interface.
func (e *AlreadySetError) Error() string {
	return fmt.Sprintf("violation %s: %s already set", e.ViolationID, e.Flag)
}

// Store is the persistence contract for violations. Implementations must be
// safe for concurrent use; CreateIfAbsent in particular is the single point
// of mutual exclusion in the evaluation path.
type Store interface {
	// CreateIfAbsent persists v unless a violation with the same dedup key
	// already exists. It returns the authoritative row and whether this
	// call created it. A concurrent duplicate insert is absorbed by
	// re-fetching the winner; it is never surfaced as an error.
	CreateIfAbsent(ctx context.Context, v *Violation) (*Violation, bool, error)

	// Get returns the violation with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Violation, error)

	// GetByDedupKey returns the violation with the given key, or ErrNotFound.
	GetByDedupKey(ctx context.Context, key string) (*Violation, error)

	// Acknowledge sets the acknowledged flag once.
	Acknowledge(ctx context.Context, id, actor string, at time.Time) error

	// Resolve sets the resolved flag once.
	Resolve(ctx context.Context, id, actor string, at time.Time) error

	// CountControlViolations counts violations for a control since the
	// given instant. Feeds the threshold evaluator.
	CountControlViolations(ctx context.Context, controlID string, since time.Time) (int, error)

	// CountActorViolations counts violations attributed to an actor since
	// the given instant. Feeds the risk scorer.
	CountActorViolations(ctx context.Context, actor string, since time.Time) (int, error)

	// ListByEvent returns the violations recorded for an event.
	ListByEvent(ctx context.Context, eventID string) ([]*Violation, error)

	// Close releases store resources.
	Close() error
}
