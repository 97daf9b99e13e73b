package signer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TimestampAuthority fetches trusted-timestamp tokens from an external TSA
// over HTTP. The token binds a signature to an instant attested by a third
// party and is stored alongside the signature in the event sidecar.
type TimestampAuthority struct {
	url    string
	client *http.Client
}

// NewTimestampAuthority creates a TSA client for the given endpoint.
func NewTimestampAuthority(url string, timeout time.Duration) *TimestampAuthority {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &TimestampAuthority{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Token requests a timestamp token covering the given signature and returns
// it base64-encoded for sidecar storage.
func (t *TimestampAuthority) Token(signature string) (string, error) {
	resp, err := t.client.Post(t.url, "application/timestamp-query",
		bytes.NewReader([]byte(signature)))
	if err != nil {
		return "", fmt.Errorf("tsa request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tsa returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("tsa response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(body), nil
}
