package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"veridian-hq/warden/pkg/audit"
)

// MemoryStore implements audit.Store entirely in memory. It enforces the
// same immutability rules as the SQLite backend and is intended for tests
// and ephemeral deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	events   map[string]*audit.Event
	metadata map[string]*audit.EventMetadata
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[string]*audit.Event),
		metadata: make(map[string]*audit.EventMetadata),
	}
}

// CreateEvent appends an event and its empty sidecar.
func (s *MemoryStore) CreateEvent(_ context.Context, event *audit.Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.ID == "" {
		return fmt.Errorf("event id cannot be empty")
	}
	if event.Timestamp.IsZero() {
		return fmt.Errorf("event timestamp cannot be zero")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.ID]; exists {
		return audit.NewStorageError("create_event", fmt.Errorf("duplicate event id %q", event.ID))
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	s.events[event.ID] = copyEvent(event)
	s.metadata[event.ID] = &audit.EventMetadata{
		EventID:   event.ID,
		UpdatedAt: time.Now(),
	}
	return nil
}

// GetEvent returns a copy of the stored event.
func (s *MemoryStore) GetEvent(_ context.Context, id string) (*audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[id]
	if !ok {
		return nil, audit.ErrNotFound
	}
	return copyEvent(event), nil
}

// UpdateEvent refuses any change to identity fields.
func (s *MemoryStore) UpdateEvent(_ context.Context, event *audit.Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.events[event.ID]
	if !ok {
		return audit.ErrNotFound
	}

	if field := changedIdentityField(stored, event); field != "" {
		return &audit.ImmutabilityViolation{
			Entity:    "event",
			EntityID:  event.ID,
			Operation: "update",
			Field:     field,
			Actor:     event.Actor,
		}
	}
	return nil
}

// GetMetadata returns a copy of the event's sidecar.
func (s *MemoryStore) GetMetadata(_ context.Context, eventID string) (*audit.EventMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.metadata[eventID]
	if !ok {
		return nil, audit.ErrNotFound
	}
	cp := *meta
	return &cp, nil
}

// SetSignature records hash-chain fields on the sidecar.
func (s *MemoryStore) SetSignature(_ context.Context, eventID, prevHash, signature, keyVersion, timestampToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.metadata[eventID]
	if !ok {
		return audit.ErrNotFound
	}
	meta.PrevHash = prevHash
	meta.Signature = signature
	meta.KeyVersion = keyVersion
	meta.TimestampToken = timestampToken
	meta.UpdatedAt = time.Now()
	return nil
}

// MarkProcessed transitions processed false→true exactly once.
func (s *MemoryStore) MarkProcessed(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.metadata[eventID]
	if !ok {
		return audit.ErrNotFound
	}
	if meta.Processed {
		return &audit.ImmutabilityViolation{
			Entity:    "event_metadata",
			EntityID:  eventID,
			Operation: "mark_processed",
			Field:     "processed",
		}
	}
	meta.Processed = true
	meta.UpdatedAt = time.Now()
	return nil
}

// LinkViolation sets the sidecar's violation link once.
func (s *MemoryStore) LinkViolation(_ context.Context, eventID, violationID string) error {
	if violationID == "" {
		return fmt.Errorf("violation id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, ok := s.metadata[eventID]
	if !ok {
		return audit.ErrNotFound
	}
	if meta.ViolationID != "" {
		if meta.ViolationID == violationID {
			return nil
		}
		return &audit.ImmutabilityViolation{
			Entity:    "event_metadata",
			EntityID:  eventID,
			Operation: "link_violation",
			Field:     "violation_id",
		}
	}
	meta.ViolationID = violationID
	meta.UpdatedAt = time.Now()
	return nil
}

// ListUnprocessed returns up to limit unprocessed events, oldest first.
func (s *MemoryStore) ListUnprocessed(_ context.Context, limit int) ([]*audit.Event, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*audit.Event
	for id, meta := range s.metadata {
		if !meta.Processed {
			events = append(events, copyEvent(s.events[id]))
		}
	}
	sortByChainOrder(events)

	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// LatestSignature returns the signature on the actor's most recent event.
func (s *MemoryStore) LatestSignature(_ context.Context, actor string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *audit.Event
	for _, event := range s.events {
		if event.Actor != actor {
			continue
		}
		if latest == nil || laterInChain(event, latest) {
			latest = event
		}
	}
	if latest == nil {
		return "", nil
	}
	return s.metadata[latest.ID].Signature, nil
}

// ListActorChain returns the actor's events with sidecars in chain order.
func (s *MemoryStore) ListActorChain(_ context.Context, actor string) ([]*audit.ChainEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*audit.Event
	for _, event := range s.events {
		if event.Actor == actor {
			events = append(events, copyEvent(event))
		}
	}
	sortByChainOrder(events)

	entries := make([]*audit.ChainEntry, 0, len(events))
	for _, event := range events {
		cp := *s.metadata[event.ID]
		entries = append(entries, &audit.ChainEntry{Event: event, Metadata: &cp})
	}
	return entries, nil
}

// ListActors returns the distinct actors in the log.
func (s *MemoryStore) ListActors(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, event := range s.events {
		seen[event.Actor] = struct{}{}
	}

	actors := make([]string, 0, len(seen))
	for actor := range seen {
		actors = append(actors, actor)
	}
	sort.Strings(actors)
	return actors, nil
}

// CountActorEvents counts the actor's events since the given instant.
func (s *MemoryStore) CountActorEvents(_ context.Context, actor string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, event := range s.events {
		if event.Actor == actor && !event.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func copyEvent(event *audit.Event) *audit.Event {
	cp := *event
	if event.Details != nil {
		// Deep-copy through JSON so callers cannot mutate stored details.
		raw, _ := json.Marshal(event.Details)
		cp.Details = nil
		_ = json.Unmarshal(raw, &cp.Details)
	}
	return &cp
}

func sortByChainOrder(events []*audit.Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].ID < events[j].ID
	})
}

func laterInChain(a, b *audit.Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}
