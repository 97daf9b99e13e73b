package main

import (
	"fmt"
	"log/slog"

	"veridian-hq/warden/pkg/audit"
	"veridian-hq/warden/pkg/audit/signer"
	auditstore "veridian-hq/warden/pkg/audit/store"
	"veridian-hq/warden/pkg/config"
	"veridian-hq/warden/pkg/evidence"
	"veridian-hq/warden/pkg/storage"
	"veridian-hq/warden/pkg/telemetry/logging"
	"veridian-hq/warden/pkg/violation"
)

// loadConfig loads configuration from the --config flag, or defaults plus
// environment overrides when no file is given.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.DefaultConfig()
	}
	return config.Load(cfgFile)
}

// buildLogger constructs the process logger from configuration. --verbose
// forces debug level.
func buildLogger(cfg *config.Config) (*slog.Logger, error) {
	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	return logging.New(logging.Config{
		Level:     level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
}

// stores bundles the domain stores sharing one database handle.
type stores struct {
	db         *storage.DB
	events     audit.Store
	violations violation.Store
	evidence   evidence.Store
}

// openStores opens the shared database and installs every domain schema.
func openStores(cfg *config.Config) (*stores, error) {
	db, err := storage.OpenWithConfig(storage.Config{
		Path:               cfg.Storage.Path,
		BusyTimeout:        cfg.Storage.BusyTimeout,
		CheckpointInterval: cfg.Storage.CheckpointInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", cfg.Storage.Path, err)
	}

	events, err := auditstore.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open event store: %w", err)
	}
	violations, err := violation.NewSQLiteStore(db)
	if err != nil {
		events.Close()
		db.Close()
		return nil, fmt.Errorf("open violation store: %w", err)
	}
	evidenceStore, err := evidence.NewSQLiteStore(db)
	if err != nil {
		violations.Close()
		events.Close()
		db.Close()
		return nil, fmt.Errorf("open evidence store: %w", err)
	}

	return &stores{
		db:         db,
		events:     events,
		violations: violations,
		evidence:   evidenceStore,
	}, nil
}

// Close releases the stores and the shared database.
func (s *stores) Close() {
	s.evidence.Close()
	s.violations.Close()
	s.events.Close()
	s.db.Close()
}

// buildProvider constructs the configured signing backend, or nil for the
// "none" provider.
func buildProvider(cfg *config.Config) (signer.Provider, error) {
	switch cfg.Signing.Provider {
	case "none":
		return nil, nil
	case "hmac":
		return signer.NewHMACProvider([]byte(cfg.Signing.HMACKey), cfg.Signing.KeyVersion)
	case "keyfile":
		return signer.NewKeyfileProvider(cfg.Signing.KeyFile, cfg.Signing.KeyVersion)
	case "remote":
		return signer.NewRemoteProvider(signer.RemoteConfig{
			URL:        cfg.Signing.Remote.URL,
			Token:      cfg.Signing.Remote.Token,
			KeyName:    cfg.Signing.Remote.KeyName,
			KeyVersion: cfg.Signing.KeyVersion,
			Timeout:    cfg.Signing.Remote.Timeout,
		})
	default:
		return nil, &signer.ConfigurationError{
			Provider: cfg.Signing.Provider,
			Message:  "unknown signing provider",
		}
	}
}

// buildChain constructs the chain signer, or nil when signing is disabled.
func buildChain(events audit.Store, cfg *config.Config, logger *slog.Logger) (*signer.ChainSigner, error) {
	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, nil
	}

	var tsa *signer.TimestampAuthority
	if cfg.Signing.TSAURL != "" {
		tsa = signer.NewTimestampAuthority(cfg.Signing.TSAURL, cfg.Signing.TSATimeout)
	}

	return signer.NewChainSigner(events, provider, signer.Config{
		Required: cfg.Signing.Required,
		TSA:      tsa,
	}, logger), nil
}
