package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"veridian-hq/warden/pkg/audit"
)

// CanonicalPayload builds the byte string that gets signed for an event:
// id | timestamp | actor | type | prev_hash | details. The timestamp is
// RFC3339Nano in UTC and details serialize with sorted keys, so the payload
// is reproducible from the stored event alone.
func CanonicalPayload(event *audit.Event, prevHash string) []byte {
	var details string
	if event.Details != nil {
		raw, _ := json.Marshal(event.Details)
		details = string(raw)
	}

	payload := fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		event.ID,
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		event.Actor,
		event.Type,
		prevHash,
		details,
	)
	return []byte(payload)
}

// ChainSigner signs events into per-actor hash chains. Anonymous events
// (empty actor) share one global chain.
type ChainSigner struct {
	store    audit.Store
	provider Provider
	tsa      *TimestampAuthority
	required bool
	logger   *slog.Logger
}

// Config configures a ChainSigner.
type Config struct {
	// Required makes signing failures fatal for event creation. When
	// false, a failed signing step is logged and the event stands unsigned.
	Required bool

	// TSA optionally fetches external timestamp tokens for each signature.
	TSA *TimestampAuthority
}

// NewChainSigner creates a chain signer over the given store and provider.
func NewChainSigner(store audit.Store, provider Provider, cfg Config, logger *slog.Logger) *ChainSigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainSigner{
		store:    store,
		provider: provider,
		tsa:      cfg.TSA,
		required: cfg.Required,
		logger:   logger.With("component", "chain_signer"),
	}
}

// Required reports whether signing failures must block event creation.
func (s *ChainSigner) Required() bool { return s.required }

// ProviderName identifies the configured signing backend.
func (s *ChainSigner) ProviderName() string { return s.provider.Name() }

// SignEvent extends the actor's chain with the event: the previous sidecar
// signature becomes prev_hash, the canonical payload is signed, and the
// result lands in the sidecar. The event row is never touched.
//
// A *ConfigurationError from the provider is returned to the caller; whether
// it aborts event creation is the caller's decision based on Required. A TSA
// failure is logged and never fatal.
func (s *ChainSigner) SignEvent(ctx context.Context, event *audit.Event) error {
	prevHash, err := s.store.LatestSignature(ctx, event.Actor)
	if err != nil {
		return fmt.Errorf("locate chain head for actor %q: %w", event.Actor, err)
	}

	payload := CanonicalPayload(event, prevHash)

	signature, err := s.provider.Sign(payload)
	if err != nil {
		s.logger.Error("event signing failed",
			"event_id", event.ID,
			"provider", s.provider.Name(),
			"error", err)
		return err
	}

	var token string
	if s.tsa != nil {
		token, err = s.tsa.Token(signature)
		if err != nil {
			s.logger.Warn("timestamp token fetch failed, continuing without",
				"event_id", event.ID, "error", err)
			token = ""
		}
	}

	if err := s.store.SetSignature(ctx, event.ID, prevHash, signature, s.provider.KeyVersion(), token); err != nil {
		return fmt.Errorf("persist signature for event %s: %w", event.ID, err)
	}

	return nil
}

// ChainBreak describes one discontinuity found during verification.
type ChainBreak struct {
	EventID string `json:"event_id"`
	Reason  string `json:"reason"` // "bad_signature", "prev_hash_mismatch", "unsigned"
}

// ChainReport summarizes a chain verification walk for one actor.
type ChainReport struct {
	Actor    string       `json:"actor"`
	Events   int          `json:"events"`
	Verified int          `json:"verified"`
	Breaks   []ChainBreak `json:"breaks,omitempty"`
}

// Valid reports whether the walk found an unbroken, fully signed chain.
func (r *ChainReport) Valid() bool {
	return len(r.Breaks) == 0
}

// VerifyChain walks the actor's chain in order, checking that each sidecar's
// prev_hash equals the previous signature and that each signature verifies
// against the recomputed canonical payload.
func (s *ChainSigner) VerifyChain(ctx context.Context, actor string) (*ChainReport, error) {
	entries, err := s.store.ListActorChain(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("list chain for actor %q: %w", actor, err)
	}

	report := &ChainReport{Actor: actor, Events: len(entries)}
	prev := ""

	for _, entry := range entries {
		meta := entry.Metadata

		if meta.Signature == "" {
			report.Breaks = append(report.Breaks, ChainBreak{EventID: entry.Event.ID, Reason: "unsigned"})
			prev = ""
			continue
		}

		if meta.PrevHash != prev {
			report.Breaks = append(report.Breaks, ChainBreak{EventID: entry.Event.ID, Reason: "prev_hash_mismatch"})
		}

		payload := CanonicalPayload(entry.Event, meta.PrevHash)
		ok, err := s.provider.Verify(payload, meta.Signature)
		if err != nil {
			return nil, fmt.Errorf("verify event %s: %w", entry.Event.ID, err)
		}
		if ok {
			report.Verified++
		} else {
			report.Breaks = append(report.Breaks, ChainBreak{EventID: entry.Event.ID, Reason: "bad_signature"})
		}

		prev = meta.Signature
	}

	return report, nil
}

// VerifyAll verifies every actor chain in the log.
func (s *ChainSigner) VerifyAll(ctx context.Context) ([]*ChainReport, error) {
	actors, err := s.store.ListActors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}

	reports := make([]*ChainReport, 0, len(actors))
	for _, actor := range actors {
		report, err := s.VerifyChain(ctx, actor)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}
