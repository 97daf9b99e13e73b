package rotate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"veridian-hq/warden/pkg/audit"
	"veridian-hq/warden/pkg/audit/signer"
)

// Entry is one old→new signature pair written to the rotation log.
type Entry struct {
	EventID       string    `json:"event_id"`
	Actor         string    `json:"actor"`
	OldSignature  string    `json:"old_signature"`
	NewSignature  string    `json:"new_signature"`
	OldKeyVersion string    `json:"old_key_version"`
	NewKeyVersion string    `json:"new_key_version"`
	RotatedAt     time.Time `json:"rotated_at"`
}

// Log persists rotation entries.
type Log interface {
	Record(ctx context.Context, entry *Entry) error
}

// Result summarizes one rotation run.
type Result struct {
	Actors   int `json:"actors"`
	Resigned int `json:"resigned"`
}

// Rotator re-signs sidecars with the provider's current key.
type Rotator struct {
	store    audit.Store
	provider signer.Provider
	log      Log
	logger   *slog.Logger
}

// NewRotator creates a rotator signing with provider and recording pairs to
// log.
func NewRotator(store audit.Store, provider signer.Provider, log Log, logger *slog.Logger) *Rotator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Rotator{
		store:    store,
		provider: provider,
		log:      log,
		logger:   logger.With("component", "key_rotation"),
	}
}

// Rotate re-signs every chain in the log. Within a chain, each event's
// prev_hash becomes the new signature of its predecessor, so verification
// under the new key succeeds end to end. Existing timestamp tokens are
// carried over unchanged; the rotation log preserves the old signatures
// they attest.
func (r *Rotator) Rotate(ctx context.Context) (*Result, error) {
	actors, err := r.store.ListActors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}

	result := &Result{Actors: len(actors)}

	for _, actor := range actors {
		n, err := r.rotateChain(ctx, actor)
		if err != nil {
			return result, fmt.Errorf("rotate chain for actor %q: %w", actor, err)
		}
		result.Resigned += n
	}

	r.logger.Info("key rotation complete",
		"actors", result.Actors,
		"resigned", result.Resigned,
		"new_key_version", r.provider.KeyVersion())
	return result, nil
}

func (r *Rotator) rotateChain(ctx context.Context, actor string) (int, error) {
	entries, err := r.store.ListActorChain(ctx, actor)
	if err != nil {
		return 0, err
	}

	prev := ""
	resigned := 0

	for _, entry := range entries {
		meta := entry.Metadata

		payload := signer.CanonicalPayload(entry.Event, prev)
		newSig, err := r.provider.Sign(payload)
		if err != nil {
			return resigned, fmt.Errorf("sign event %s: %w", entry.Event.ID, err)
		}

		if err := r.store.SetSignature(ctx, entry.Event.ID, prev, newSig,
			r.provider.KeyVersion(), meta.TimestampToken); err != nil {
			return resigned, fmt.Errorf("persist signature for event %s: %w", entry.Event.ID, err)
		}

		if r.log != nil {
			err := r.log.Record(ctx, &Entry{
				EventID:       entry.Event.ID,
				Actor:         actor,
				OldSignature:  meta.Signature,
				NewSignature:  newSig,
				OldKeyVersion: meta.KeyVersion,
				NewKeyVersion: r.provider.KeyVersion(),
				RotatedAt:     time.Now(),
			})
			if err != nil {
				return resigned, fmt.Errorf("record rotation of event %s: %w", entry.Event.ID, err)
			}
		}

		prev = newSig
		resigned++
	}

	return resigned, nil
}
