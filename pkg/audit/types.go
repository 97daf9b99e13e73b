package audit

import (
	"context"
	"time"
)

// Event is a single telemetry event in the append-only log. Identity fields
// (Timestamp, Type, Source, Actor, Details) are immutable after creation;
// stores reject any write that would change them.
type Event struct {
	// Identity
	ID        string    `json:"id"` // UUID v4
	Timestamp time.Time `json:"timestamp"`

	// Classification
	Type    string `json:"type"`    // e.g. "auth", "admin"
	Source  string `json:"source"`  // e.g. "auth.login_failed"
	Summary string `json:"summary"` // short human-readable label

	// Actor is the subject identifier; empty for anonymous events.
	Actor string `json:"actor,omitempty"`

	// Details is the structured payload the policy engine evaluates against.
	Details map[string]any `json:"details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// EventMetadata is the mutable sidecar attached one-to-one to an Event. The
// event row itself never changes; everything with a lifecycle lives here.
//
// Permitted transitions: Processed false→true exactly once; ViolationID set
// once when empty. Signature fields are written by the chain signer on event
// creation and rewritten only by key rotation.
type EventMetadata struct {
	EventID string `json:"event_id"`

	// Processed marks the event as evaluated. One-way false→true.
	Processed bool `json:"processed"`

	// ViolationID links the event to the violation it triggered, if any.
	// Set once; never overwritten.
	ViolationID string `json:"violation_id,omitempty"`

	// Hash chain: PrevHash is the signature of the actor's previous event
	// (empty at the chain head), Signature signs the canonical payload of
	// this event.
	PrevHash  string `json:"prev_hash,omitempty"`
	Signature string `json:"signature,omitempty"`

	// KeyVersion identifies the signing key that produced Signature.
	KeyVersion string `json:"key_version,omitempty"`

	// TimestampToken is an optional external trusted-timestamp token
	// covering the signature.
	TimestampToken string `json:"timestamp_token,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the persistence contract for events and their sidecars.
// Implementations must be safe for concurrent use and must enforce the
// immutability rules described on Event and EventMetadata.
type Store interface {
	// CreateEvent appends a new event and its empty sidecar. The event ID
	// must be unique.
	CreateEvent(ctx context.Context, event *Event) error

	// GetEvent returns the event with the given ID, or ErrNotFound.
	GetEvent(ctx context.Context, id string) (*Event, error)

	// UpdateEvent rejects any change to identity fields with
	// *ImmutabilityViolation. It exists so callers holding a modified copy
	// get a definitive refusal rather than a silent no-op.
	UpdateEvent(ctx context.Context, event *Event) error

	// GetMetadata returns the sidecar for an event, or ErrNotFound.
	GetMetadata(ctx context.Context, eventID string) (*EventMetadata, error)

	// SetSignature records the hash-chain fields on the sidecar. Used by the
	// chain signer at creation time and by key rotation.
	SetSignature(ctx context.Context, eventID, prevHash, signature, keyVersion, timestampToken string) error

	// MarkProcessed transitions the sidecar's processed flag false→true.
	// Marking an already-processed event returns *ImmutabilityViolation.
	MarkProcessed(ctx context.Context, eventID string) error

	// LinkViolation sets the sidecar's violation link if it is unset. A
	// second link attempt with a different violation is refused with
	// *ImmutabilityViolation; relinking the same violation is a no-op.
	LinkViolation(ctx context.Context, eventID, violationID string) error

	// ListUnprocessed returns up to limit events whose sidecar is not yet
	// processed, oldest first.
	ListUnprocessed(ctx context.Context, limit int) ([]*Event, error)

	// LatestSignature returns the sidecar signature of the actor's most
	// recent event, or "" when the actor has no signed events yet. The
	// empty actor addresses the global chain.
	LatestSignature(ctx context.Context, actor string) (string, error)

	// ListActorChain returns the actor's events with sidecars in chain
	// order (by timestamp, then ID). Used by chain verification and key
	// rotation.
	ListActorChain(ctx context.Context, actor string) ([]*ChainEntry, error)

	// ListActors returns the distinct actor identifiers present in the log,
	// including "" when anonymous events exist.
	ListActors(ctx context.Context) ([]string, error)

	// CountActorEvents returns the number of events for the actor since the
	// given instant. Feeds percent-threshold denominators.
	CountActorEvents(ctx context.Context, actor string, since time.Time) (int, error)

	// Close releases store resources.
	Close() error
}

// ChainEntry pairs an event with its sidecar for chain walks.
type ChainEntry struct {
	Event    *Event
	Metadata *EventMetadata
}
