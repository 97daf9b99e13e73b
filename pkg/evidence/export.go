package evidence

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"veridian-hq/warden/pkg/storage"
)

// JSONExporter writes records as a JSON array.
type JSONExporter struct{}

// Format identifies the output format.
func (JSONExporter) Format() string { return "json" }

// Export writes the records to w as indented JSON.
func (JSONExporter) Export(_ context.Context, records []*Record, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("json export: %w", err)
	}
	return nil
}

// CSVExporter writes records as CSV with one row per record. Nested
// explanation and snapshot payloads are embedded as JSON cells.
type CSVExporter struct{}

// Format identifies the output format.
func (CSVExporter) Format() string { return "csv" }

// Export writes the records to w as CSV.
func (CSVExporter) Export(_ context.Context, records []*Record, w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{
		"id", "violation_id", "timestamp", "policy", "control", "rule",
		"policy_version", "risk_score", "explanation", "event_snapshot", "created_at",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("csv export: %w", err)
	}

	for _, record := range records {
		p := record.Payload
		explanation, err := json.Marshal(p.Explanation)
		if err != nil {
			return fmt.Errorf("csv export: marshal explanation: %w", err)
		}
		snapshot, err := json.Marshal(p.EventSnapshot)
		if err != nil {
			return fmt.Errorf("csv export: marshal snapshot: %w", err)
		}

		row := []string{
			record.ID,
			record.ViolationID,
			p.Timestamp,
			p.Policy,
			p.Control,
			p.Rule,
			p.PolicyVersion,
			strconv.Itoa(p.RiskScore),
			string(explanation),
			string(snapshot),
			record.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("csv export: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportAudit is one export event in the export audit log: who took which
// records out, when, and in what format.
type ExportAudit struct {
	ID          string    `json:"id"`
	Actor       string    `json:"actor"`
	Format      string    `json:"format"`
	Policy      string    `json:"policy,omitempty"`
	RecordCount int       `json:"record_count"`
	ExportedAt  time.Time `json:"exported_at"`
}

// ExportLog persists export audit entries.
type ExportLog interface {
	Record(ctx context.Context, entry *ExportAudit) error
}

// SQLiteExportLog stores export audits in the shared database.
type SQLiteExportLog struct {
	db *storage.DB
}

const exportLogSchema = `
CREATE TABLE IF NOT EXISTS export_audit (
    id TEXT PRIMARY KEY,
    actor TEXT NOT NULL,
    format TEXT NOT NULL,
    policy TEXT NOT NULL DEFAULT '',
    record_count INTEGER NOT NULL,
    exported_at INTEGER NOT NULL
);
`

// NewSQLiteExportLog initializes the export audit table on db.
func NewSQLiteExportLog(db *storage.DB) (*SQLiteExportLog, error) {
	if _, err := db.Exec(exportLogSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize export audit schema: %w", err)
	}
	return &SQLiteExportLog{db: db}, nil
}

// Record appends one export audit entry.
func (l *SQLiteExportLog) Record(ctx context.Context, entry *ExportAudit) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO export_audit (id, actor, format, policy, record_count, exported_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Actor, entry.Format, entry.Policy, entry.RecordCount,
		entry.ExportedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record export audit: %w", err)
	}
	return nil
}

// ExportService ties a store, an exporter and the export audit log together:
// every export leaves a trace.
type ExportService struct {
	store Store
	log   ExportLog
}

// NewExportService creates an export service.
func NewExportService(store Store, log ExportLog) *ExportService {
	return &ExportService{store: store, log: log}
}

// Export writes the records matching query to w using exporter and records
// the export in the audit log under actor's name.
func (s *ExportService) Export(ctx context.Context, query *Query, exporter Exporter, w io.Writer, actor string) (int, error) {
	records, err := s.store.List(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}

	if err := exporter.Export(ctx, records, w); err != nil {
		return 0, err
	}

	if s.log != nil {
		policy := ""
		if query != nil {
			policy = query.Policy
		}
		err := s.log.Record(ctx, &ExportAudit{
			ID:          uuid.NewString(),
			Actor:       actor,
			Format:      exporter.Format(),
			Policy:      policy,
			RecordCount: len(records),
			ExportedAt:  time.Now(),
		})
		if err != nil {
			return len(records), err
		}
	}

	return len(records), nil
}
