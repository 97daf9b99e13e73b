package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"veridian-hq/warden/pkg/audit"
	"veridian-hq/warden/pkg/storage"
)

// SQLiteStore implements audit.Store on the shared SQLite database.
//
// Append-only semantics are enforced twice: triggers in the schema abort any
// UPDATE or DELETE on the events table, and the repository methods compare
// immutable fields before ever reaching the database so callers get a typed
// *audit.ImmutabilityViolation instead of a driver error.
type SQLiteStore struct {
	db *storage.DB

	insertEventStmt    *sql.Stmt
	insertMetadataStmt *sql.Stmt
	getEventStmt       *sql.Stmt
	getMetadataStmt    *sql.Stmt
	setSignatureStmt   *sql.Stmt
	listUnprocStmt     *sql.Stmt
	latestSigStmt      *sql.Stmt
	listChainStmt      *sql.Stmt
	listActorsStmt     *sql.Stmt
	countActorStmt     *sql.Stmt
}

// NewSQLiteStore initializes the audit schema on db and prepares statements.
// The db handle is shared with the other domain stores and is not closed by
// Close.
func NewSQLiteStore(db *storage.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	if _, err := db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return nil, fmt.Errorf("failed to record schema version: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.prepareStatements(); err != nil {
		s.closeStatements()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertEventStmt, err = s.db.Prepare(`
		INSERT INTO events (id, timestamp, type, source, summary, actor, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	s.insertMetadataStmt, err = s.db.Prepare(`
		INSERT INTO event_metadata (event_id, updated_at) VALUES (?, ?)
	`)
	if err != nil {
		return fmt.Errorf("insert metadata: %w", err)
	}

	s.getEventStmt, err = s.db.Prepare(`
		SELECT id, timestamp, type, source, summary, actor, details, created_at
		FROM events WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("get event: %w", err)
	}

	s.getMetadataStmt, err = s.db.Prepare(`
		SELECT event_id, processed, violation_id, prev_hash, signature, key_version, timestamp_token, updated_at
		FROM event_metadata WHERE event_id = ?
	`)
	if err != nil {
		return fmt.Errorf("get metadata: %w", err)
	}

	s.setSignatureStmt, err = s.db.Prepare(`
		UPDATE event_metadata
		SET prev_hash = ?, signature = ?, key_version = ?, timestamp_token = ?, updated_at = ?
		WHERE event_id = ?
	`)
	if err != nil {
		return fmt.Errorf("set signature: %w", err)
	}

	s.listUnprocStmt, err = s.db.Prepare(`
		SELECT e.id, e.timestamp, e.type, e.source, e.summary, e.actor, e.details, e.created_at
		FROM events e
		JOIN event_metadata m ON m.event_id = e.id
		WHERE m.processed = 0
		ORDER BY e.timestamp ASC, e.id ASC
		LIMIT ?
	`)
	if err != nil {
		return fmt.Errorf("list unprocessed: %w", err)
	}

	s.latestSigStmt, err = s.db.Prepare(`
		SELECT m.signature
		FROM events e
		JOIN event_metadata m ON m.event_id = e.id
		WHERE e.actor = ?
		ORDER BY e.timestamp DESC, e.id DESC
		LIMIT 1
	`)
	if err != nil {
		return fmt.Errorf("latest signature: %w", err)
	}

	s.listChainStmt, err = s.db.Prepare(`
		SELECT e.id, e.timestamp, e.type, e.source, e.summary, e.actor, e.details, e.created_at,
		       m.processed, m.violation_id, m.prev_hash, m.signature, m.key_version, m.timestamp_token, m.updated_at
		FROM events e
		JOIN event_metadata m ON m.event_id = e.id
		WHERE e.actor = ?
		ORDER BY e.timestamp ASC, e.id ASC
	`)
	if err != nil {
		return fmt.Errorf("list chain: %w", err)
	}

	s.listActorsStmt, err = s.db.Prepare(`
		SELECT DISTINCT actor FROM events ORDER BY actor
	`)
	if err != nil {
		return fmt.Errorf("list actors: %w", err)
	}

	s.countActorStmt, err = s.db.Prepare(`
		SELECT COUNT(*) FROM events WHERE actor = ? AND timestamp >= ?
	`)
	if err != nil {
		return fmt.Errorf("count actor events: %w", err)
	}

	return nil
}

// CreateEvent appends an event and its empty sidecar in one transaction.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *audit.Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.ID == "" {
		return fmt.Errorf("event id cannot be empty")
	}
	if event.Timestamp.IsZero() {
		return fmt.Errorf("event timestamp cannot be zero")
	}

	var detailsJSON []byte
	var err error
	if event.Details != nil {
		detailsJSON, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal details: %w", err)
		}
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return audit.NewStorageError("create_event", err)
	}
	defer tx.Rollback()

	_, err = tx.StmtContext(ctx, s.insertEventStmt).ExecContext(ctx,
		event.ID,
		event.Timestamp.UnixNano(),
		event.Type,
		event.Source,
		event.Summary,
		event.Actor,
		string(detailsJSON),
		event.CreatedAt.UnixNano(),
	)
	if err != nil {
		return audit.NewStorageError("create_event", err)
	}

	_, err = tx.StmtContext(ctx, s.insertMetadataStmt).ExecContext(ctx,
		event.ID, time.Now().UnixNano())
	if err != nil {
		return audit.NewStorageError("create_event", err)
	}

	if err := tx.Commit(); err != nil {
		return audit.NewStorageError("create_event", err)
	}
	return nil
}

// GetEvent returns the event with the given ID.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*audit.Event, error) {
	row := s.getEventStmt.QueryRowContext(ctx, id)
	event, err := scanEvent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, audit.ErrNotFound
	}
	if err != nil {
		return nil, audit.NewStorageError("get_event", err)
	}
	return event, nil
}

// UpdateEvent refuses any change to identity fields. An update carrying no
// changes is a no-op; the events table itself is never written.
func (s *SQLiteStore) UpdateEvent(ctx context.Context, event *audit.Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	stored, err := s.GetEvent(ctx, event.ID)
	if err != nil {
		return err
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

// changedIdentityField returns the name of the first immutable field that
// differs between the stored and proposed event, or "".
func changedIdentityField(stored, proposed *audit.Event) string {
	if !stored.Timestamp.Equal(proposed.Timestamp) {
		return "timestamp"
	}
	if stored.Type != proposed.Type {
		return "type"
	}
	if stored.Source != proposed.Source {
		return "source"
	}
	if stored.Summary != proposed.Summary {
		return "summary"
	}
	if stored.Actor != proposed.Actor {
		return "actor"
	}
	// encoding/json sorts map keys, so equal payloads serialize identically.
	storedJSON, _ := json.Marshal(stored.Details)
	proposedJSON, _ := json.Marshal(proposed.Details)
	if string(storedJSON) != string(proposedJSON) {
		return "details"
	}
	return ""
}

// GetMetadata returns the sidecar for an event.
func (s *SQLiteStore) GetMetadata(ctx context.Context, eventID string) (*audit.EventMetadata, error) {
	row := s.getMetadataStmt.QueryRowContext(ctx, eventID)
	meta, err := scanMetadata(row.Scan)
	if err == sql.ErrNoRows {
		return nil, audit.ErrNotFound
	}
	if err != nil {
		return nil, audit.NewStorageError("get_metadata", err)
	}
	return meta, nil
}

// SetSignature records hash-chain fields on the sidecar.
func (s *SQLiteStore) SetSignature(ctx context.Context, eventID, prevHash, signature, keyVersion, timestampToken string) error {
	res, err := s.setSignatureStmt.ExecContext(ctx,
		prevHash, signature, keyVersion, timestampToken, time.Now().UnixNano(), eventID)
	if err != nil {
		return audit.NewStorageError("set_signature", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return audit.NewStorageError("set_signature", err)
	}
	if n == 0 {
		return audit.ErrNotFound
	}
	return nil
}

// MarkProcessed transitions processed false→true. The transition is checked
// and applied inside one transaction so two racers cannot both observe false.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, eventID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return audit.NewStorageError("mark_processed", err)
	}
	defer tx.Rollback()

	var processed int
	err = tx.QueryRowContext(ctx,
		`SELECT processed FROM event_metadata WHERE event_id = ?`, eventID).Scan(&processed)
	if err == sql.ErrNoRows {
		return audit.ErrNotFound
	}
	if err != nil {
		return audit.NewStorageError("mark_processed", err)
	}

	if processed != 0 {
		return &audit.ImmutabilityViolation{
			Entity:    "event_metadata",
			EntityID:  eventID,
			Operation: "mark_processed",
			Field:     "processed",
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE event_metadata SET processed = 1, updated_at = ? WHERE event_id = ?`,
		time.Now().UnixNano(), eventID)
	if err != nil {
		return audit.NewStorageError("mark_processed", err)
	}

	if err := tx.Commit(); err != nil {
		return audit.NewStorageError("mark_processed", err)
	}
	return nil
}

// LinkViolation sets the sidecar's violation link once. Relinking the same
// violation is a no-op; linking a different one is refused.
func (s *SQLiteStore) LinkViolation(ctx context.Context, eventID, violationID string) error {
	if violationID == "" {
		return fmt.Errorf("violation id cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return audit.NewStorageError("link_violation", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT violation_id FROM event_metadata WHERE event_id = ?`, eventID).Scan(&existing)
	if err == sql.ErrNoRows {
		return audit.ErrNotFound
	}
	if err != nil {
		return audit.NewStorageError("link_violation", err)
	}

	if existing != "" {
		if existing == violationID {
			return nil
		}
		return &audit.ImmutabilityViolation{
			Entity:    "event_metadata",
			EntityID:  eventID,
			Operation: "link_violation",
			Field:     "violation_id",
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE event_metadata SET violation_id = ?, updated_at = ? WHERE event_id = ?`,
		violationID, time.Now().UnixNano(), eventID)
	if err != nil {
		return audit.NewStorageError("link_violation", err)
	}

	if err := tx.Commit(); err != nil {
		return audit.NewStorageError("link_violation", err)
	}
	return nil
}

// ListUnprocessed returns up to limit unprocessed events, oldest first.
func (s *SQLiteStore) ListUnprocessed(ctx context.Context, limit int) ([]*audit.Event, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	rows, err := s.listUnprocStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, audit.NewStorageError("list_unprocessed", err)
	}
	defer rows.Close()

	var events []*audit.Event
	for rows.Next() {
		event, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, audit.NewStorageError("list_unprocessed", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, audit.NewStorageError("list_unprocessed", err)
	}
	return events, nil
}

// LatestSignature returns the signature on the actor's most recent event,
// "" when the chain is empty or its head is unsigned.
func (s *SQLiteStore) LatestSignature(ctx context.Context, actor string) (string, error) {
	var sig string
	err := s.latestSigStmt.QueryRowContext(ctx, actor).Scan(&sig)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", audit.NewStorageError("latest_signature", err)
	}
	return sig, nil
}

// ListActorChain returns the actor's events with sidecars in chain order.
func (s *SQLiteStore) ListActorChain(ctx context.Context, actor string) ([]*audit.ChainEntry, error) {
	rows, err := s.listChainStmt.QueryContext(ctx, actor)
	if err != nil {
		return nil, audit.NewStorageError("list_chain", err)
	}
	defer rows.Close()

	var entries []*audit.ChainEntry
	for rows.Next() {
		var (
			id, typ, source, summary, actorCol, detailsJSON string
			ts, createdAt                                   int64
			processed                                       int
			violationID, prevHash, signature                string
			keyVersion, tsToken                             string
			updatedAt                                       int64
		)

		if err := rows.Scan(&id, &ts, &typ, &source, &summary, &actorCol, &detailsJSON, &createdAt,
			&processed, &violationID, &prevHash, &signature, &keyVersion, &tsToken, &updatedAt); err != nil {
			return nil, audit.NewStorageError("list_chain", err)
		}

		event := &audit.Event{
			ID:        id,
			Timestamp: time.Unix(0, ts),
			Type:      typ,
			Source:    source,
			Summary:   summary,
			Actor:     actorCol,
			CreatedAt: time.Unix(0, createdAt),
		}
		if detailsJSON != "" {
			if err := json.Unmarshal([]byte(detailsJSON), &event.Details); err != nil {
				return nil, audit.NewStorageError("list_chain", err)
			}
		}

		entries = append(entries, &audit.ChainEntry{
			Event: event,
			Metadata: &audit.EventMetadata{
				EventID:        id,
				Processed:      processed != 0,
				ViolationID:    violationID,
				PrevHash:       prevHash,
				Signature:      signature,
				KeyVersion:     keyVersion,
				TimestampToken: tsToken,
				UpdatedAt:      time.Unix(0, updatedAt),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, audit.NewStorageError("list_chain", err)
	}
	return entries, nil
}

// ListActors returns the distinct actors in the log.
func (s *SQLiteStore) ListActors(ctx context.Context) ([]string, error) {
	rows, err := s.listActorsStmt.QueryContext(ctx)
	if err != nil {
		return nil, audit.NewStorageError("list_actors", err)
	}
	defer rows.Close()

	var actors []string
	for rows.Next() {
		var actor string
		if err := rows.Scan(&actor); err != nil {
			return nil, audit.NewStorageError("list_actors", err)
		}
		actors = append(actors, actor)
	}
	if err := rows.Err(); err != nil {
		return nil, audit.NewStorageError("list_actors", err)
	}
	return actors, nil
}

// CountActorEvents counts the actor's events since the given instant.
func (s *SQLiteStore) CountActorEvents(ctx context.Context, actor string, since time.Time) (int, error) {
	var count int
	err := s.countActorStmt.QueryRowContext(ctx, actor, since.UnixNano()).Scan(&count)
	if err != nil {
		return 0, audit.NewStorageError("count_actor_events", err)
	}
	return count, nil
}

// Close releases prepared statements. The shared database handle stays open.
func (s *SQLiteStore) Close() error {
	s.closeStatements()
	return nil
}

func (s *SQLiteStore) closeStatements() {
	for _, stmt := range []*sql.Stmt{
		s.insertEventStmt, s.insertMetadataStmt, s.getEventStmt, s.getMetadataStmt,
		s.setSignatureStmt, s.listUnprocStmt, s.latestSigStmt, s.listChainStmt,
		s.listActorsStmt, s.countActorStmt,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
}

// scanEvent reads an event row through the given scan function.
func scanEvent(scan func(dest ...any) error) (*audit.Event, error) {
	var (
		id, typ, source, summary, actor, detailsJSON string
		ts, createdAt                                int64
	)
	if err := scan(&id, &ts, &typ, &source, &summary, &actor, &detailsJSON, &createdAt); err != nil {
		return nil, err
	}

	event := &audit.Event{
		ID:        id,
		Timestamp: time.Unix(0, ts),
		Type:      typ,
		Source:    source,
		Summary:   summary,
		Actor:     actor,
		CreatedAt: time.Unix(0, createdAt),
	}
	if detailsJSON != "" {
		if err := json.Unmarshal([]byte(detailsJSON), &event.Details); err != nil {
			return nil, err
		}
	}
	return event, nil
}

// scanMetadata reads a sidecar row through the given scan function.
func scanMetadata(scan func(dest ...any) error) (*audit.EventMetadata, error) {
	var (
		eventID, violationID, prevHash, signature, keyVersion, tsToken string
		processed                                                     int
		updatedAt                                                     int64
	)
	if err := scan(&eventID, &processed, &violationID, &prevHash, &signature, &keyVersion, &tsToken, &updatedAt); err != nil {
		return nil, err
	}

	return &audit.EventMetadata{
		EventID:        eventID,
		Processed:      processed != 0,
		ViolationID:    violationID,
		PrevHash:       prevHash,
		Signature:      signature,
		KeyVersion:     keyVersion,
		TimestampToken: tsToken,
		UpdatedAt:      time.Unix(0, updatedAt),
	}, nil
}
