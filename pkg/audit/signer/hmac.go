package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// HMACProvider signs payloads with a local HMAC-SHA256 secret. It is the
// development and fallback backend; production deployments should prefer
// asymmetric key files or a remote key service.
type HMACProvider struct {
	key        []byte
	keyVersion string
}

// NewHMACProvider creates an HMAC provider from a shared secret.
func NewHMACProvider(key []byte, keyVersion string) (*HMACProvider, error) {
	if len(key) == 0 {
		return nil, &ConfigurationError{Provider: "hmac", Message: "signing key is empty"}
	}
	if keyVersion == "" {
		keyVersion = "v1"
	}
	return &HMACProvider{key: key, keyVersion: keyVersion}, nil
}

// Name identifies the backend.
func (p *HMACProvider) Name() string { return "hmac" }

// KeyVersion identifies the active key.
func (p *HMACProvider) KeyVersion() string { return p.keyVersion }

// Sign returns the hex-encoded HMAC-SHA256 of payload.
func (p *HMACProvider) Sign(payload []byte) (string, error) {
	mac := hmac.New(sha256.New, p.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the MAC and compares in constant time.
func (p *HMACProvider) Verify(payload []byte, signature string) (bool, error) {
	want, err := p.Sign(payload)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(want), []byte(signature)), nil
}
