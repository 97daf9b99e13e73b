package evidence

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"veridian-hq/warden/pkg/audit"
	"veridian-hq/warden/pkg/storage"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			db, err := storage.Open(filepath.Join(t.TempDir(), "evidence.db"))
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

func testRecord(id, violationID string) *Record {
	return &Record{
		ID:          id,
		ViolationID: violationID,
		Payload: &Payload{
			Timestamp: "2026-08-30T10:00:00Z",
			Policy:    "Auth Policy",
			Control:   "Failed Login Threshold",
			Rule:      "Too Many Attempts",
			Explanation: map[string]any{
				"reason": "threshold_breached",
			},
			EventSnapshot: map[string]any{
				"id":   "ev-1",
				"type": "auth",
			},
			PolicyVersion: "2026.08",
			RiskScore:     42,
		},
	}
}

func TestStore_CreateGetList(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			ctx := context.Background()

			if err := s.Create(ctx, testRecord("e-1", "v-1")); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if err := s.Create(ctx, testRecord("e-2", "v-2")); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			got, err := s.Get(ctx, "e-1")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.Payload.Policy != "Auth Policy" || got.Payload.RiskScore != 42 {
				t.Errorf("payload = %+v", got.Payload)
			}
			if got.Payload.Explanation["reason"] != "threshold_breached" {
				t.Errorf("explanation = %v", got.Payload.Explanation)
			}

			byViolation, err := s.List(ctx, &Query{ViolationID: "v-2"})
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(byViolation) != 1 || byViolation[0].ID != "e-2" {
				t.Errorf("List(v-2) = %v", byViolation)
			}

			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_Immutable(t *testing.T) {
	// Update and delete are refused unconditionally, and the record
	// survives untouched.
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			ctx := context.Background()

			if err := s.Create(ctx, testRecord("e-1", "v-1")); err != nil {
				t.Fatalf("Create() error = %v", err)
			}

			var iv *audit.ImmutabilityViolation

			tampered := testRecord("e-1", "v-1")
			tampered.Payload.RiskScore = 0
			if err := s.Update(ctx, tampered); !errors.As(err, &iv) {
				t.Errorf("Update() error = %v, want ImmutabilityViolation", err)
			}
			if iv.Entity != "evidence" || iv.Operation != "update" {
				t.Errorf("violation = %+v", iv)
			}

			if err := s.Delete(ctx, "e-1"); !errors.As(err, &iv) {
				t.Errorf("Delete() error = %v, want ImmutabilityViolation", err)
			}

			got, err := s.Get(ctx, "e-1")
			if err != nil {
				t.Fatalf("Get() after refusals error = %v", err)
			}
			if got.Payload.RiskScore != 42 {
				t.Errorf("risk score = %d after refused update, want 42", got.Payload.RiskScore)
			}
		})
	}
}

func TestSQLite_ImmutableTriggers(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "evidence.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	s, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}

	ctx := context.Background()
	if err := s.Create(ctx, testRecord("e-1", "v-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := db.Exec(`UPDATE evidence SET payload = '{}' WHERE id = 'e-1'`); err == nil {
		t.Error("raw UPDATE on evidence succeeded, want trigger abort")
	}
	if _, err := db.Exec(`DELETE FROM evidence WHERE id = 'e-1'`); err == nil {
		t.Error("raw DELETE on evidence succeeded, want trigger abort")
	}
}

func TestExporters(t *testing.T) {
	ctx := context.Background()
	records := []*Record{testRecord("e-1", "v-1"), testRecord("e-2", "v-2")}
	records[0].CreatedAt = time.Now()
	records[1].CreatedAt = time.Now()

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := (JSONExporter{}).Export(ctx, records, &buf); err != nil {
			t.Fatalf("Export() error = %v", err)
		}

		var decoded []*Record
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if len(decoded) != 2 || decoded[0].Payload.Policy != "Auth Policy" {
			t.Errorf("decoded = %+v", decoded)
		}
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		if err := (CSVExporter{}).Export(ctx, records, &buf); err != nil {
			t.Fatalf("Export() error = %v", err)
		}

		rows, err := csv.NewReader(&buf).ReadAll()
		if err != nil {
			t.Fatalf("output is not valid CSV: %v", err)
		}
		if len(rows) != 3 {
			t.Fatalf("rows = %d, want header + 2", len(rows))
		}
		if rows[0][0] != "id" || rows[1][0] != "e-1" {
			t.Errorf("rows = %v", rows[:2])
		}
		if !strings.Contains(rows[1][8], "threshold_breached") {
			t.Errorf("explanation cell = %q", rows[1][8])
		}
	})
}

func TestExportService_RecordsAudit(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "evidence.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	s, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	log, err := NewSQLiteExportLog(db)
	if err != nil {
		t.Fatalf("new export log: %v", err)
	}

	ctx := context.Background()
	if err := s.Create(ctx, testRecord("e-1", "v-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	svc := NewExportService(s, log)
	var buf bytes.Buffer
	n, err := svc.Export(ctx, &Query{Policy: "Auth Policy"}, JSONExporter{}, &buf, "carol")
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if n != 1 {
		t.Errorf("exported = %d, want 1", n)
	}

	var (
		actor, format string
		count         int
	)
	err = db.QueryRow(`SELECT actor, format, record_count FROM export_audit`).
		Scan(&actor, &format, &count)
	if err != nil {
		t.Fatalf("query export_audit: %v", err)
	}
	if actor != "carol" || format != "json" || count != 1 {
		t.Errorf("audit row = (%s, %s, %d)", actor, format, count)
	}
}
