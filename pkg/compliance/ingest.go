package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"veridian-hq/warden/pkg/audit"
	"veridian-hq/warden/pkg/audit/signer"
	"veridian-hq/warden/pkg/telemetry/metrics"
)

// Ingestor appends events to the audit log and extends the signature chain.
// The sequence is explicit and ordered: create event, compute signature,
// persist sidecar. The event row is written first and never revisited.
type Ingestor struct {
	events  audit.Store
	chain   *signer.ChainSigner
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

// IngestorConfig carries the optional collaborators of an Ingestor.
type IngestorConfig struct {
	// Chain signs ingested events. Nil disables signing entirely.
	Chain *signer.ChainSigner

	Metrics *metrics.Collector
	Logger  *slog.Logger
	Now     func() time.Time
}

// NewIngestor creates an ingestor over the given event store.
func NewIngestor(events audit.Store, cfg IngestorConfig) *Ingestor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Ingestor{
		events:  events,
		chain:   cfg.Chain,
		metrics: cfg.Metrics,
		logger:  logger.With("component", "ingestor"),
		now:     now,
	}
}

// Ingest appends one event. A missing ID is assigned and a zero timestamp is
// stamped with the current instant, both before the write, so the stored row
// is complete from the start.
//
// Signing failures block ingestion only when the chain signer is configured
// as required; otherwise the event stands unsigned and the failure is logged.
// Either way the event row itself is already durable when signing runs.
func (i *Ingestor) Ingest(ctx context.Context, event *audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = i.now().UTC()
	}

	if err := i.events.CreateEvent(ctx, event); err != nil {
		return fmt.Errorf("append event %s: %w", event.ID, err)
	}
	i.metrics.RecordIngested()

	if i.chain == nil {
		return nil
	}

	if err := i.chain.SignEvent(ctx, event); err != nil {
		i.metrics.RecordSigningFailure(i.chain.ProviderName())
		if i.chain.Required() {
			return fmt.Errorf("sign event %s: %w", event.ID, err)
		}
		i.logger.Warn("event left unsigned",
			"event_id", event.ID,
			"provider", i.chain.ProviderName(),
			"error", err)
	}

	return nil
}
