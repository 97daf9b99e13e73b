package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"veridian-hq/warden/pkg/audit"
)

// MemoryStore implements Store in memory with the same refusal semantics as
// the SQLite backend.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory evidence store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Create persists a new record.
func (s *MemoryStore) Create(_ context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if record.ID == "" {
		return fmt.Errorf("record id cannot be empty")
	}
	if record.Payload == nil {
		return fmt.Errorf("record payload cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("duplicate evidence id %q", record.ID)
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	s.records[record.ID] = copyRecord(record)
	return nil
}

// Get returns the record with the given ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(record), nil
}

// List returns records matching the query, oldest first.
func (s *MemoryStore) List(_ context.Context, query *Query) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, record := range s.records {
		if query != nil {
			if query.ViolationID != "" && record.ViolationID != query.ViolationID {
				continue
			}
			if query.Policy != "" && record.Payload.Policy != query.Policy {
				continue
			}
			if query.StartTime != nil && record.CreatedAt.Before(*query.StartTime) {
				continue
			}
			if query.EndTime != nil && record.CreatedAt.After(*query.EndTime) {
				continue
			}
		}
		out = append(out, copyRecord(record))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if query != nil && query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

// Update is unconditionally refused.
func (s *MemoryStore) Update(_ context.Context, record *Record) error {
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
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	return &audit.ImmutabilityViolation{
		Entity:    "evidence",
		EntityID:  id,
		Operation: "delete",
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func copyRecord(record *Record) *Record {
	cp := *record
	if record.Payload != nil {
		raw, _ := json.Marshal(record.Payload)
		cp.Payload = &Payload{}
		_ = json.Unmarshal(raw, cp.Payload)
	}
	return &cp
}
