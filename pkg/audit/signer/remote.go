package signer

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RemoteProvider signs payloads through a transit-style HTTP MAC service
// (Vault transit or compatible). The private key never leaves the service;
// this process only holds an access token.
type RemoteProvider struct {
	baseURL    string
	token      string
	keyName    string
	keyVersion string
	client     *http.Client
}

// RemoteConfig configures the remote signing backend.
type RemoteConfig struct {
	// URL is the base URL of the transit service.
	URL string

	// Token authenticates requests.
	Token string

	// KeyName is the named key on the service.
	KeyName string

	// KeyVersion is recorded on sidecars; defaults to "v1".
	KeyVersion string

	// Timeout bounds each HTTP call. Default: 10 seconds.
	Timeout time.Duration
}

// NewRemoteProvider creates a remote signing provider.
func NewRemoteProvider(cfg RemoteConfig) (*RemoteProvider, error) {
	if cfg.URL == "" {
		return nil, &ConfigurationError{Provider: "remote", Message: "service URL is empty"}
	}
	if cfg.KeyName == "" {
		return nil, &ConfigurationError{Provider: "remote", Message: "key name is empty"}
	}
	if cfg.KeyVersion == "" {
		cfg.KeyVersion = "v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &RemoteProvider{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		token:      cfg.Token,
		keyName:    cfg.KeyName,
		keyVersion: cfg.KeyVersion,
		client:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name identifies the backend.
func (p *RemoteProvider) Name() string { return "remote" }

// KeyVersion identifies the active key.
func (p *RemoteProvider) KeyVersion() string { return p.keyVersion }

type remoteRequest struct {
	Input string `json:"input"`
	HMAC  string `json:"hmac,omitempty"`
}

type remoteResponse struct {
	Data struct {
		HMAC  string `json:"hmac"`
		Valid bool   `json:"valid"`
	} `json:"data"`
}

// Sign asks the service to MAC the payload. The returned token (e.g.
// "vault:v1:<base64>") is stored verbatim as the signature.
func (p *RemoteProvider) Sign(payload []byte) (string, error) {
	var resp remoteResponse
	if err := p.post("/v1/transit/hmac/"+p.keyName, remoteRequest{
		Input: base64.StdEncoding.EncodeToString(payload),
	}, &resp); err != nil {
		return "", err
	}
	if resp.Data.HMAC == "" {
		return "", &ConfigurationError{Provider: "remote", Message: "service returned empty hmac"}
	}
	return resp.Data.HMAC, nil
}

// Verify asks the service to check the MAC.
func (p *RemoteProvider) Verify(payload []byte, signature string) (bool, error) {
	var resp remoteResponse
	if err := p.post("/v1/transit/verify/"+p.keyName, remoteRequest{
		Input: base64.StdEncoding.EncodeToString(payload),
		HMAC:  signature,
	}, &resp); err != nil {
		return false, err
	}
	return resp.Data.Valid, nil
}

func (p *RemoteProvider) post(path string, reqBody remoteRequest, out *remoteResponse) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("X-Vault-Token", p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &ConfigurationError{Provider: "remote", Message: "service unreachable", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ConfigurationError{
			Provider: "remote",
			Message:  fmt.Sprintf("service returned status %d", resp.StatusCode),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
