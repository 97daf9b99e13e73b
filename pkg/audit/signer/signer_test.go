package signer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"veridian-hq/warden/pkg/audit"
	"veridian-hq/warden/pkg/audit/store"
)

func TestHMACProvider(t *testing.T) {
	p, err := NewHMACProvider([]byte("test-secret"), "v1")
	if err != nil {
		t.Fatalf("NewHMACProvider() error = %v", err)
	}

	payload := []byte("ev-1|2026-08-30T10:00:00Z|alice|auth||{}")

	sig, err := p.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if sig == "" {
		t.Fatal("Sign() returned empty signature")
	}

	ok, err := p.Verify(payload, sig)
	if err != nil || !ok {
		t.Errorf("Verify(valid) = (%v, %v), want (true, nil)", ok, err)
	}

	ok, _ = p.Verify([]byte("tampered"), sig)
	if ok {
		t.Error("Verify accepted signature for different payload")
	}

	sig2, _ := p.Sign(payload)
	if sig != sig2 {
		t.Error("HMAC signatures for identical payloads differ")
	}
}

func TestHMACProvider_EmptyKey(t *testing.T) {
	_, err := NewHMACProvider(nil, "v1")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want ConfigurationError", err)
	}
}

func TestKeyfileProvider_Ed25519(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.pem")
	if err := GenerateKeyFile(path, "ed25519"); err != nil {
		t.Fatalf("GenerateKeyFile() error = %v", err)
	}

	p, err := NewKeyfileProvider(path, "v2")
	if err != nil {
		t.Fatalf("NewKeyfileProvider() error = %v", err)
	}
	if p.Algorithm() != "ed25519" {
		t.Errorf("algorithm = %q, want ed25519", p.Algorithm())
	}
	if p.KeyVersion() != "v2" {
		t.Errorf("key version = %q, want v2", p.KeyVersion())
	}

	payload := []byte("payload")
	sig, err := p.Sign(payload)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	ok, err := p.Verify(payload, sig)
	if err != nil || !ok {
		t.Errorf("Verify(valid) = (%v, %v), want (true, nil)", ok, err)
	}
	ok, _ = p.Verify([]byte("other"), sig)
	if ok {
		t.Error("Verify accepted signature for different payload")
	}
	ok, _ = p.Verify(payload, "not-hex")
	if ok {
		t.Error("Verify accepted malformed signature")
	}
}

func TestKeyfileProvider_BadPaths(t *testing.T) {
	var cfgErr *ConfigurationError

	if _, err := NewKeyfileProvider("", "v1"); !errors.As(err, &cfgErr) {
		t.Errorf("empty path error = %v, want ConfigurationError", err)
	}
	if _, err := NewKeyfileProvider(filepath.Join(t.TempDir(), "absent.pem"), "v1"); !errors.As(err, &cfgErr) {
		t.Errorf("missing file error = %v, want ConfigurationError", err)
	}
}

func TestRemoteProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "test-token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/v1/transit/hmac/audit":
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"hmac": "vault:v1:deadbeef"},
			})
		case "/v1/transit/verify/audit":
			var req struct {
				HMAC string `json:"hmac"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"valid": req.HMAC == "vault:v1:deadbeef"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p, err := NewRemoteProvider(RemoteConfig{
		URL:     srv.URL,
		Token:   "test-token",
		KeyName: "audit",
	})
	if err != nil {
		t.Fatalf("NewRemoteProvider() error = %v", err)
	}

	sig, err := p.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if sig != "vault:v1:deadbeef" {
		t.Errorf("Sign() = %q", sig)
	}

	ok, err := p.Verify([]byte("payload"), sig)
	if err != nil || !ok {
		t.Errorf("Verify(valid) = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = p.Verify([]byte("payload"), "wrong")
	if err != nil || ok {
		t.Errorf("Verify(wrong) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestRemoteProvider_Unreachable(t *testing.T) {
	p, err := NewRemoteProvider(RemoteConfig{
		URL:     "http://127.0.0.1:1",
		KeyName: "audit",
		Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("NewRemoteProvider() error = %v", err)
	}

	_, err = p.Sign([]byte("payload"))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("Sign() error = %v, want ConfigurationError", err)
	}
}

func TestCanonicalPayload(t *testing.T) {
	event := &audit.Event{
		ID:        "ev-1",
		Timestamp: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
		Type:      "auth",
		Actor:     "alice",
		Details:   map[string]any{"b": 2, "a": 1},
	}

	got := string(CanonicalPayload(event, "prevsig"))
	want := `ev-1|2026-08-30T10:00:00Z|alice|auth|prevsig|{"a":1,"b":2}`
	if got != want {
		t.Errorf("CanonicalPayload() = %q, want %q", got, want)
	}

	// Reproducible regardless of map iteration order.
	if again := string(CanonicalPayload(event, "prevsig")); again != got {
		t.Error("payload not deterministic")
	}
}

func chainEvent(id, actor string, ts time.Time) *audit.Event {
	return &audit.Event{
		ID:        id,
		Timestamp: ts,
		Type:      "auth",
		Source:    "auth.login_failed",
		Actor:     actor,
		Details:   map[string]any{"seq": id},
	}
}

func newTestSigner(t *testing.T, required bool) (*ChainSigner, audit.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	p, err := NewHMACProvider([]byte("chain-secret"), "v1")
	if err != nil {
		t.Fatalf("NewHMACProvider() error = %v", err)
	}
	return NewChainSigner(s, p, Config{Required: required}, nil), s
}

func TestChainSigner_SignAndVerify(t *testing.T) {
	cs, s := newTestSigner(t, true)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"ev-1", "ev-2", "ev-3"} {
		ev := chainEvent(id, "alice", base.Add(time.Duration(i)*time.Second))
		if err := s.CreateEvent(ctx, ev); err != nil {
			t.Fatalf("CreateEvent(%s) error = %v", id, err)
		}
		if err := cs.SignEvent(ctx, ev); err != nil {
			t.Fatalf("SignEvent(%s) error = %v", id, err)
		}
	}

	// Each sidecar links to the previous signature.
	chain, err := s.ListActorChain(ctx, "alice")
	if err != nil {
		t.Fatalf("ListActorChain() error = %v", err)
	}
	if chain[0].Metadata.PrevHash != "" {
		t.Errorf("chain head prev_hash = %q, want empty", chain[0].Metadata.PrevHash)
	}
	for i := 1; i < len(chain); i++ {
		if chain[i].Metadata.PrevHash != chain[i-1].Metadata.Signature {
			t.Errorf("link %d: prev_hash = %q, want %q",
				i, chain[i].Metadata.PrevHash, chain[i-1].Metadata.Signature)
		}
	}

	report, err := cs.VerifyChain(ctx, "alice")
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if !report.Valid() || report.Verified != 3 {
		t.Errorf("report = %+v, want valid with 3 verified", report)
	}
}

func TestChainSigner_AnonymousGlobalChain(t *testing.T) {
	cs, s := newTestSigner(t, true)
	ctx := context.Background()
	base := time.Now()

	// Anonymous events chain among themselves, independent of actor chains.
	for i, tc := range []struct{ id, actor string }{
		{"ev-1", ""},
		{"ev-2", "alice"},
		{"ev-3", ""},
	} {
		ev := chainEvent(tc.id, tc.actor, base.Add(time.Duration(i)*time.Second))
		if err := s.CreateEvent(ctx, ev); err != nil {
			t.Fatalf("CreateEvent(%s) error = %v", tc.id, err)
		}
		if err := cs.SignEvent(ctx, ev); err != nil {
			t.Fatalf("SignEvent(%s) error = %v", tc.id, err)
		}
	}

	global, err := s.ListActorChain(ctx, "")
	if err != nil {
		t.Fatalf("ListActorChain() error = %v", err)
	}
	if len(global) != 2 {
		t.Fatalf("global chain length = %d, want 2", len(global))
	}
	if global[1].Metadata.PrevHash != global[0].Metadata.Signature {
		t.Error("anonymous event did not chain to previous anonymous event")
	}

	reports, err := cs.VerifyAll(ctx)
	if err != nil {
		t.Fatalf("VerifyAll() error = %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	for _, r := range reports {
		if !r.Valid() {
			t.Errorf("chain %q invalid: %+v", r.Actor, r.Breaks)
		}
	}
}

func TestChainSigner_DetectsTamper(t *testing.T) {
	cs, s := newTestSigner(t, true)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"ev-1", "ev-2"} {
		ev := chainEvent(id, "alice", base.Add(time.Duration(i)*time.Second))
		if err := s.CreateEvent(ctx, ev); err != nil {
			t.Fatalf("CreateEvent(%s) error = %v", id, err)
		}
		if err := cs.SignEvent(ctx, ev); err != nil {
			t.Fatalf("SignEvent(%s) error = %v", id, err)
		}
	}

	// Overwrite the first signature: its own verification fails and the
	// second event's prev_hash no longer lines up.
	if err := s.SetSignature(ctx, "ev-1", "", "forged", "v1", ""); err != nil {
		t.Fatalf("SetSignature() error = %v", err)
	}

	report, err := cs.VerifyChain(ctx, "alice")
	if err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
	if report.Valid() {
		t.Fatal("tampered chain reported valid")
	}

	reasons := make(map[string]bool)
	for _, b := range report.Breaks {
		reasons[b.Reason] = true
	}
	if !reasons["bad_signature"] {
		t.Errorf("breaks = %+v, want a bad_signature entry", report.Breaks)
	}
	if !reasons["prev_hash_mismatch"] {
		t.Errorf("breaks = %+v, want a prev_hash_mismatch entry", report.Breaks)
	}
}

func TestChainSigner_TSAToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tsa-response"))
	}))
	defer srv.Close()

	s := store.NewMemoryStore()
	p, _ := NewHMACProvider([]byte("secret"), "v1")
	cs := NewChainSigner(s, p, Config{
		TSA: NewTimestampAuthority(srv.URL, time.Second),
	}, nil)

	ctx := context.Background()
	ev := chainEvent("ev-1", "alice", time.Now())
	if err := s.CreateEvent(ctx, ev); err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	if err := cs.SignEvent(ctx, ev); err != nil {
		t.Fatalf("SignEvent() error = %v", err)
	}

	meta, err := s.GetMetadata(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	if meta.TimestampToken == "" {
		t.Error("timestamp token not stored")
	}
}
