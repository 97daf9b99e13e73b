package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// GenerateKeyFile creates a new signing key and writes it PEM-encoded to
// path with 0600 permissions. Supported algorithms: "ed25519" and "rsa"
// (4096 bit). The file is loadable by NewKeyfileProvider.
func GenerateKeyFile(path, algorithm string) error {
	var der []byte
	var err error

	switch algorithm {
	case "ed25519":
		_, priv, genErr := ed25519.GenerateKey(rand.Reader)
		if genErr != nil {
			return fmt.Errorf("generate ed25519 key: %w", genErr)
		}
		der, err = x509.MarshalPKCS8PrivateKey(priv)

	case "rsa":
		priv, genErr := rsa.GenerateKey(rand.Reader, 4096)
		if genErr != nil {
			return fmt.Errorf("generate rsa key: %w", genErr)
		}
		der, err = x509.MarshalPKCS8PrivateKey(priv)

	default:
		return fmt.Errorf("unsupported algorithm %q (want ed25519 or rsa)", algorithm)
	}
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}

	out := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}
