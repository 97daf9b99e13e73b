package config

import "fmt"

// Validate checks the configuration for contradictions and missing required
// fields. It assumes defaults have already been applied.
func Validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging: unknown format %q", cfg.Logging.Format)
	}

	if cfg.Storage.Path == "" {
		return fmt.Errorf("storage: path must not be empty")
	}

	// Key material itself is checked by the signing layer, which reports a
	// missing or unreachable key as a configuration error at setup time.
	switch cfg.Signing.Provider {
	case "hmac", "keyfile", "remote":
	case "none":
		if cfg.Signing.Required {
			return fmt.Errorf("signing: required is set but provider is none")
		}
	default:
		return fmt.Errorf("signing: unknown provider %q", cfg.Signing.Provider)
	}

	if cfg.Evaluation.BatchLimit <= 0 {
		return fmt.Errorf("evaluation: batch_limit must be positive")
	}

	return nil
}
