package signer

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
)

// KeyfileProvider signs payloads with a private key loaded from a PEM file.
// RSA keys sign with RSA-PSS over SHA-256; Ed25519 keys sign directly. This
// is the production default backend.
type KeyfileProvider struct {
	keyVersion string

	rsaKey     *rsa.PrivateKey
	ed25519Key ed25519.PrivateKey
}

// NewKeyfileProvider loads the private key at path. Supported PEM blocks:
// PKCS#8 "PRIVATE KEY" (RSA or Ed25519) and PKCS#1 "RSA PRIVATE KEY".
func NewKeyfileProvider(path, keyVersion string) (*KeyfileProvider, error) {
	if path == "" {
		return nil, &ConfigurationError{Provider: "keyfile", Message: "key file path is empty"}
	}
	if keyVersion == "" {
		keyVersion = "v1"
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Provider: "keyfile", Message: "cannot read key file", Cause: err}
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, &ConfigurationError{Provider: "keyfile", Message: fmt.Sprintf("no PEM block in %s", path)}
	}

	p := &KeyfileProvider{keyVersion: keyVersion}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, &ConfigurationError{Provider: "keyfile", Message: "cannot parse PKCS#1 key", Cause: err}
		}
		p.rsaKey = key

	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, &ConfigurationError{Provider: "keyfile", Message: "cannot parse PKCS#8 key", Cause: err}
		}
		switch k := key.(type) {
		case *rsa.PrivateKey:
			p.rsaKey = k
		case ed25519.PrivateKey:
			p.ed25519Key = k
		default:
			return nil, &ConfigurationError{Provider: "keyfile", Message: fmt.Sprintf("unsupported key type %T", key)}
		}

	default:
		return nil, &ConfigurationError{Provider: "keyfile", Message: fmt.Sprintf("unsupported PEM block %q", block.Type)}
	}

	return p, nil
}

// Name identifies the backend.
func (p *KeyfileProvider) Name() string { return "keyfile" }

// KeyVersion identifies the active key.
func (p *KeyfileProvider) KeyVersion() string { return p.keyVersion }

// Algorithm reports which signature scheme the loaded key uses.
func (p *KeyfileProvider) Algorithm() string {
	if p.ed25519Key != nil {
		return "ed25519"
	}
	return "rsa-pss"
}

// Sign returns the hex-encoded signature of payload.
func (p *KeyfileProvider) Sign(payload []byte) (string, error) {
	if p.ed25519Key != nil {
		return hex.EncodeToString(ed25519.Sign(p.ed25519Key, payload)), nil
	}

	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPSS(rand.Reader, p.rsaKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return "", fmt.Errorf("rsa-pss sign: %w", err)
	}
	return hex.EncodeToString(sig), nil
}

// Verify reports whether signature is valid for payload under the loaded
// key's public half.
func (p *KeyfileProvider) Verify(payload []byte, signature string) (bool, error) {
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false, nil
	}

	if p.ed25519Key != nil {
		pub := p.ed25519Key.Public().(ed25519.PublicKey)
		return ed25519.Verify(pub, payload, sig), nil
	}

	digest := sha256.Sum256(payload)
	err = rsa.VerifyPSS(&p.rsaKey.PublicKey, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	return err == nil, nil
}
