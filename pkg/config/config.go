package config

import "time"

// Config is the root configuration object.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Signing    SigningConfig    `yaml:"signing"`
	Policies   PoliciesConfig   `yaml:"policies"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
}

// StorageConfig configures the SQLite database shared by all stores.
type StorageConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`

	// BusyTimeout is how long writers wait on a locked database.
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// CheckpointInterval is the WAL checkpoint cadence.
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the output format ("json", "text").
	Format string `yaml:"format"`

	// AddSource includes file and line numbers in log records.
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address of the metrics HTTP listener.
	ListenAddress string `yaml:"listen_address"`

	// Path is the exposition endpoint path.
	Path string `yaml:"path"`
}

// SigningConfig selects and configures the event chain signing backend.
type SigningConfig struct {
	// Provider selects the backend: "hmac", "keyfile" or "remote".
	Provider string `yaml:"provider"`

	// Required makes signing failures fatal for event ingestion. Off by
	// default: an unsigned event is logged, not rejected.
	Required bool `yaml:"required"`

	// KeyVersion labels signatures with the active key generation.
	KeyVersion string `yaml:"key_version"`

	// HMACKey is the shared secret for the hmac provider.
	HMACKey string `yaml:"hmac_key"`

	// KeyFile is the PEM private key path for the keyfile provider.
	KeyFile string `yaml:"key_file"`

	// Remote configures the remote key-service provider.
	Remote RemoteSigningConfig `yaml:"remote"`

	// TSAURL optionally enables external trusted-timestamp tokens.
	TSAURL     string        `yaml:"tsa_url"`
	TSATimeout time.Duration `yaml:"tsa_timeout"`
}

// RemoteSigningConfig points at a Vault-style transit HMAC endpoint.
type RemoteSigningConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	KeyName string        `yaml:"key_name"`
	Timeout time.Duration `yaml:"timeout"`
}

// PoliciesConfig configures the policy file source.
type PoliciesConfig struct {
	// Dir is the policy bundle path: a directory of YAML files or a single
	// file.
	Dir string `yaml:"dir"`

	// Watch enables live reload on policy file changes.
	Watch bool `yaml:"watch"`
}

// EvaluationConfig configures batch evaluation.
type EvaluationConfig struct {
	// BatchLimit bounds events evaluated per batch run.
	BatchLimit int `yaml:"batch_limit"`

	// Schedule is a cron expression for periodic evaluation; empty disables
	// the scheduler.
	Schedule string `yaml:"schedule"`
}
