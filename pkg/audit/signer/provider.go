package signer

import "fmt"

// Provider is the pluggable signing backend contract. Implementations must
// be safe for concurrent use.
type Provider interface {
	// Name identifies the backend ("hmac", "keyfile", "remote").
	Name() string

	// KeyVersion identifies the active key, recorded on each sidecar so
	// rotation can tell which signatures are stale.
	KeyVersion() string

	// Sign returns the hex-encoded signature of payload.
	Sign(payload []byte) (string, error)

	// Verify reports whether signature is valid for payload.
	Verify(payload []byte, signature string) (bool, error)
}

// ConfigurationError reports an unusable signing configuration: a missing
// key, an unreadable key file, an unreachable backend. It is fatal for the
// signing step; whether it blocks event creation depends on whether the
// deployment mandates the audit-chain guarantee.
type ConfigurationError struct {
	Provider string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("signing configuration error [provider=%s]: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("signing configuration error [provider=%s]: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}
