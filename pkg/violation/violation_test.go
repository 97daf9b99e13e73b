package violation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"veridian-hq/warden/pkg/policy"
	"veridian-hq/warden/pkg/storage"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			db, err := storage.Open(filepath.Join(t.TempDir(), "violations.db"))
			if err != nil {
				t.Fatalf("open db: %v", err)
			}
			t.Cleanup(func() { db.Close() })

			s, err := NewSQLiteStore(db)
			if err != nil {
				t.Fatalf("new sqlite store: %v", err)
			}
			return s
		},
	}
}

func testViolation(dedupKey string) *Violation {
	return &Violation{
		ID:         uuid.NewString(),
		DedupKey:   dedupKey,
		PolicyID:   "p-1",
		PolicyName: "Auth Policy",
		ControlID:  "c-1",
		RuleID:     "r-1",
		EventID:    "ev-1",
		Severity:   policy.SeverityHigh,
		Evidence: map[string]any{
			"reason": "comparison",
		},
	}
}

func TestDedupKey_Deterministic(t *testing.T) {
	k1 := DedupKey("p-1", "c-1", "r-1", "ev-1", "2026-08-30T10:00:00Z")
	k2 := DedupKey("p-1", "c-1", "r-1", "ev-1", "2026-08-30T10:00:00Z")
	if k1 != k2 {
		t.Errorf("identical inputs produced different keys: %s vs %s", k1, k2)
	}
	if len(k1) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(k1))
	}

	// Any input change changes the key.
	variants := []string{
		DedupKey("p-2", "c-1", "r-1", "ev-1", "2026-08-30T10:00:00Z"),
		DedupKey("p-1", "c-2", "r-1", "ev-1", "2026-08-30T10:00:00Z"),
		DedupKey("p-1", "c-1", RuleRefThreshold, "ev-1", "2026-08-30T10:00:00Z"),
		DedupKey("p-1", "c-1", "", "ev-1", "2026-08-30T10:00:00Z"),
		DedupKey("p-1", "c-1", "r-1", "ev-2", "2026-08-30T10:00:00Z"),
		DedupKey("p-1", "c-1", "r-1", "ev-1", "2026-08-30T10:00:01Z"),
	}
	seen := map[string]bool{k1: true}
	for i, k := range variants {
		if seen[k] {
			t.Errorf("variant %d collided", i)
		}
		seen[k] = true
	}
}

func TestStore_CreateIfAbsent(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			ctx := context.Background()

			key := DedupKey("p-1", "c-1", "r-1", "ev-1", "t0")

			first, created, err := s.CreateIfAbsent(ctx, testViolation(key))
			if err != nil {
				t.Fatalf("CreateIfAbsent() error = %v", err)
			}
			if !created {
				t.Fatal("first create reported not created")
			}

			// A second writer with the same key observes the existing row.
			second, created, err := s.CreateIfAbsent(ctx, testViolation(key))
			if err != nil {
				t.Fatalf("second CreateIfAbsent() error = %v", err)
			}
			if created {
				t.Error("duplicate create reported created")
			}
			if second.ID != first.ID {
				t.Errorf("duplicate returned id %s, want winner %s", second.ID, first.ID)
			}

			got, err := s.GetByDedupKey(ctx, key)
			if err != nil {
				t.Fatalf("GetByDedupKey() error = %v", err)
			}
			if got.Evidence["reason"] != "comparison" {
				t.Errorf("evidence not preserved: %v", got.Evidence)
			}
		})
	}
}

func TestStore_CreateIfAbsent_Concurrent(t *testing.T) {
	// N racing evaluators of the same triggering condition must persist
	// exactly one violation, and none may see an error.
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			ctx := context.Background()

			key := DedupKey("p-1", "c-1", "r-1", "ev-1", "t0")
			const racers = 8

			var wg sync.WaitGroup
			createdCount := make(chan bool, racers)
			errs := make(chan error, racers)

			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, created, err := s.CreateIfAbsent(ctx, testViolation(key))
					if err != nil {
						errs <- err
						return
					}
					createdCount <- created
				}()
			}
			wg.Wait()
			close(createdCount)
			close(errs)

			for err := range errs {
				t.Errorf("racer error: %v", err)
			}

			wins := 0
			for created := range createdCount {
				if created {
					wins++
				}
			}
			if wins != 1 {
				t.Errorf("created reported by %d racers, want exactly 1", wins)
			}

			all, err := s.ListByEvent(ctx, "ev-1")
			if err != nil {
				t.Fatalf("ListByEvent() error = %v", err)
			}
			if len(all) != 1 {
				t.Errorf("persisted violations = %d, want 1", len(all))
			}
		})
	}
}

func TestStore_AcknowledgeResolveOneWay(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			ctx := context.Background()

			v, _, err := s.CreateIfAbsent(ctx, testViolation(DedupKey("p-1", "c-1", "r-1", "ev-1", "t0")))
			if err != nil {
				t.Fatalf("CreateIfAbsent() error = %v", err)
			}

			at := time.Now()
			if err := s.Acknowledge(ctx, v.ID, "carol", at); err != nil {
				t.Fatalf("Acknowledge() error = %v", err)
			}

			var alreadySet *AlreadySetError
			if err := s.Acknowledge(ctx, v.ID, "dave", at); !errors.As(err, &alreadySet) {
				t.Errorf("second Acknowledge() error = %v, want AlreadySetError", err)
			}

			if err := s.Resolve(ctx, v.ID, "carol", at); err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if err := s.Resolve(ctx, v.ID, "dave", at); !errors.As(err, &alreadySet) {
				t.Errorf("second Resolve() error = %v, want AlreadySetError", err)
			}

			got, err := s.Get(ctx, v.ID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !got.Acknowledged || got.AcknowledgedBy != "carol" || got.AcknowledgedAt == nil {
				t.Errorf("acknowledge state = %+v", got)
			}
			if !got.Resolved || got.ResolvedBy != "carol" || got.ResolvedAt == nil {
				t.Errorf("resolve state = %+v", got)
			}

			if err := s.Acknowledge(ctx, "missing", "carol", at); !errors.Is(err, ErrNotFound) {
				t.Errorf("Acknowledge(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_CountControlViolations(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			ctx := context.Background()
			now := time.Now()

			for i := 0; i < 4; i++ {
				v := testViolation(DedupKey("p-1", "c-1", "r-1", "ev-1", time.Duration(i).String()))
				v.CreatedAt = now.Add(-time.Duration(i) * time.Minute)
				if i == 3 {
					v.ControlID = "c-other"
				}
				if _, _, err := s.CreateIfAbsent(ctx, v); err != nil {
					t.Fatalf("CreateIfAbsent() error = %v", err)
				}
			}

			// c-1 violations at now, -1m, -2m; a 90s window catches two.
			count, err := s.CountControlViolations(ctx, "c-1", now.Add(-90*time.Second))
			if err != nil {
				t.Fatalf("CountControlViolations() error = %v", err)
			}
			if count != 2 {
				t.Errorf("count = %d, want 2", count)
			}
		})
	}
}
