package violation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in memory. The store mutex plays the role of
// the database transaction: lookup and insert happen under one critical
// section, so two racers on the same dedup key serialize exactly as they
// would around a row lock.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]*Violation
	byDedup map[string]*Violation
}

// NewMemoryStore creates an empty in-memory violation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Violation),
		byDedup: make(map[string]*Violation),
	}
}

// CreateIfAbsent persists v unless its dedup key already exists.
func (s *MemoryStore) CreateIfAbsent(_ context.Context, v *Violation) (*Violation, bool, error) {
	if v == nil {
		return nil, false, fmt.Errorf("violation cannot be nil")
	}
	if v.DedupKey == "" {
		return nil, false, fmt.Errorf("dedup key cannot be empty")
	}
	if v.ID == "" {
		return nil, false, fmt.Errorf("violation id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byDedup[v.DedupKey]; ok {
		return copyViolation(existing), false, nil
	}

	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}

	stored := copyViolation(v)
	s.byID[stored.ID] = stored
	s.byDedup[stored.DedupKey] = stored
	return copyViolation(stored), true, nil
}

// Get returns the violation with the given ID.
func (s *MemoryStore) Get(_ context.Context, id string) (*Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyViolation(v), nil
}

// GetByDedupKey returns the violation with the given dedup key.
func (s *MemoryStore) GetByDedupKey(_ context.Context, key string) (*Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byDedup[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyViolation(v), nil
}

// Acknowledge sets the acknowledged flag once.
func (s *MemoryStore) Acknowledge(_ context.Context, id, actor string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if v.Acknowledged {
		return &AlreadySetError{ViolationID: id, Flag: "acknowledged"}
	}
	v.Acknowledged = true
	v.AcknowledgedBy = actor
	v.AcknowledgedAt = &at
	return nil
}

// Resolve sets the resolved flag once.
func (s *MemoryStore) Resolve(_ context.Context, id, actor string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if v.Resolved {
		return &AlreadySetError{ViolationID: id, Flag: "resolved"}
	}
	v.Resolved = true
	v.ResolvedBy = actor
	v.ResolvedAt = &at
	return nil
}

// CountControlViolations counts violations for a control since the given
// instant.
func (s *MemoryStore) CountControlViolations(_ context.Context, controlID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, v := range s.byID {
		if v.ControlID == controlID && !v.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// CountActorViolations counts violations attributed to an actor since the
// given instant.
func (s *MemoryStore) CountActorViolations(_ context.Context, actor string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, v := range s.byID {
		if v.Actor == actor && !v.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// ListByEvent returns the violations recorded for an event, oldest first.
func (s *MemoryStore) ListByEvent(_ context.Context, eventID string) ([]*Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Violation
	for _, v := range s.byID {
		if v.EventID == eventID {
			out = append(out, copyViolation(v))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func copyViolation(v *Violation) *Violation {
	cp := *v
	if v.Evidence != nil {
		raw, _ := json.Marshal(v.Evidence)
		cp.Evidence = nil
		_ = json.Unmarshal(raw, &cp.Evidence)
	}
	if v.AcknowledgedAt != nil {
		t := *v.AcknowledgedAt
		cp.AcknowledgedAt = &t
	}
	if v.ResolvedAt != nil {
		t := *v.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
