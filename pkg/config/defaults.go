package config

import "time"

// Default values applied to unset fields.
const (
	DefaultStoragePath        = "warden.db"
	DefaultBusyTimeout        = 5 * time.Second
	DefaultCheckpointInterval = 5 * time.Minute

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsListenAddress = ":9464"
	DefaultMetricsPath          = "/metrics"

	DefaultSigningProvider = "hmac"
	DefaultKeyVersion      = "v1"
	DefaultRemoteTimeout   = 10 * time.Second
	DefaultTSATimeout      = 10 * time.Second

	DefaultPoliciesDir = "policies"

	DefaultBatchLimit = 100
)

// ApplyDefaults fills unset fields with default values.
func ApplyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.BusyTimeout <= 0 {
		cfg.Storage.BusyTimeout = DefaultBusyTimeout
	}
	if cfg.Storage.CheckpointInterval <= 0 {
		cfg.Storage.CheckpointInterval = DefaultCheckpointInterval
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = DefaultMetricsListenAddress
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	if cfg.Signing.Provider == "" {
		cfg.Signing.Provider = DefaultSigningProvider
	}
	if cfg.Signing.KeyVersion == "" {
		cfg.Signing.KeyVersion = DefaultKeyVersion
	}
	if cfg.Signing.Remote.Timeout <= 0 {
		cfg.Signing.Remote.Timeout = DefaultRemoteTimeout
	}
	if cfg.Signing.TSATimeout <= 0 {
		cfg.Signing.TSATimeout = DefaultTSATimeout
	}

	if cfg.Policies.Dir == "" {
		cfg.Policies.Dir = DefaultPoliciesDir
	}

	if cfg.Evaluation.BatchLimit <= 0 {
		cfg.Evaluation.BatchLimit = DefaultBatchLimit
	}
}
