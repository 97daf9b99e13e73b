package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// DB wraps the shared SQLite handle. It owns WAL checkpointing; the domain
// stores own their schemas and prepared statements.
//
// The database is opened in write-ahead log (WAL) mode with a busy timeout,
// which gives good behavior under one writer and many readers. The connection
// pool is pinned to a single connection since SQLite serializes writes anyway.
type DB struct {
	*sql.DB

	path               string
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once
}

// Config configures the shared database.
type Config struct {
	// Path is the SQLite database file path.
	Path string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// Open opens the shared database at path with default settings.
func Open(path string) (*DB, error) {
	return OpenWithConfig(Config{Path: path})
}

// OpenWithConfig opens the shared database with custom configuration.
func OpenWithConfig(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.Path, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	d := &DB{
		DB:                 db,
		path:               cfg.Path,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	go d.checkpointLoop()

	return d, nil
}

// Close checkpoints the WAL and closes the database.
// Close is idempotent and safe to call multiple times.
func (d *DB) Close() error {
	var closeErr error

	d.closeOnce.Do(func() {
		close(d.done)

		_, _ = d.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = d.DB.Close()
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (d *DB) checkpointLoop() {
	ticker := time.NewTicker(d.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = d.DB.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-d.done:
			return
		}
	}
}

// IsUniqueConstraint reports whether err is a SQLite unique-constraint
// failure. The modernc driver surfaces these as plain errors carrying the
// engine's message text, so the check is by message.
func IsUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE")
}
