package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file, applies defaults, applies
// WARDEN_* environment variable overrides, and validates the result.
// Environment variables always take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	return finish(&cfg)
}

// DefaultConfig returns a configuration built from defaults and environment
// overrides alone, for running without a config file.
func DefaultConfig() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	ApplyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies WARDEN_SECTION_FIELD environment variables.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("WARDEN_STORAGE_PATH"); val != "" {
		cfg.Storage.Path = val
	}
	if val := os.Getenv("WARDEN_STORAGE_BUSY_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Storage.BusyTimeout = d
		}
	}
	if val := os.Getenv("WARDEN_STORAGE_CHECKPOINT_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Storage.CheckpointInterval = d
		}
	}

	if val := os.Getenv("WARDEN_LOGGING_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("WARDEN_LOGGING_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	if val := os.Getenv("WARDEN_METRICS_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if val := os.Getenv("WARDEN_METRICS_LISTEN_ADDRESS"); val != "" {
		cfg.Metrics.ListenAddress = val
	}

	if val := os.Getenv("WARDEN_SIGNING_PROVIDER"); val != "" {
		cfg.Signing.Provider = val
	}
	if val := os.Getenv("WARDEN_SIGNING_REQUIRED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Signing.Required = b
		}
	}
	if val := os.Getenv("WARDEN_SIGNING_KEY_VERSION"); val != "" {
		cfg.Signing.KeyVersion = val
	}
	if val := os.Getenv("WARDEN_SIGNING_HMAC_KEY"); val != "" {
		cfg.Signing.HMACKey = val
	}
	if val := os.Getenv("WARDEN_SIGNING_KEY_FILE"); val != "" {
		cfg.Signing.KeyFile = val
	}
	if val := os.Getenv("WARDEN_SIGNING_REMOTE_URL"); val != "" {
		cfg.Signing.Remote.URL = val
	}
	if val := os.Getenv("WARDEN_SIGNING_REMOTE_TOKEN"); val != "" {
		cfg.Signing.Remote.Token = val
	}
	if val := os.Getenv("WARDEN_SIGNING_REMOTE_KEY_NAME"); val != "" {
		cfg.Signing.Remote.KeyName = val
	}
	if val := os.Getenv("WARDEN_SIGNING_TSA_URL"); val != "" {
		cfg.Signing.TSAURL = val
	}

	if val := os.Getenv("WARDEN_POLICIES_DIR"); val != "" {
		cfg.Policies.Dir = val
	}
	if val := os.Getenv("WARDEN_POLICIES_WATCH"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Policies.Watch = b
		}
	}

	if val := os.Getenv("WARDEN_EVALUATION_BATCH_LIMIT"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			cfg.Evaluation.BatchLimit = i
		}
	}
	if val := os.Getenv("WARDEN_EVALUATION_SCHEDULE"); val != "" {
		cfg.Evaluation.Schedule = val
	}
}
