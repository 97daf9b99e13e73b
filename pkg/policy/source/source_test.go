package source

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"veridian-hq/warden/pkg/policy"
)

const validPolicy = `
name: Auth Policy
id: p-auth
version: "2026.08"
lifecycle: active
controls:
  - id: c-1
    name: Failed Login Threshold
    severity: high
    order: 1
    active: true
    threshold:
      type: count
      value: 3
      window_seconds: 60
    rules:
      - id: r-1
        name: Too Many Attempts
        left_operand: detail.attempts
        operator: ">="
        right_value: 3
        order: 1
        enabled: true
`

const draftPolicy = `
name: Draft Policy
id: p-draft
version: "0.1"
lifecycle: draft
controls: []
`

const invalidPolicy = `
name: Broken Policy
id: p-broken
version: "1.0"
lifecycle: active
controls:
  - id: c-1
    name: Bad Expression
    severity: high
    active: true
    rules:
      - id: r-1
        name: A
        left_operand: event.type
        operator: "=="
        right_value: auth
        enabled: true
    expression:
      op: not
      items:
        - rule: A
        - rule: A
`

func writePolicies(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestFileSource_LoadDirectory(t *testing.T) {
	dir := writePolicies(t, map[string]string{
		"auth.yaml":   validPolicy,
		"draft.yml":   draftPolicy,
		"ignored.txt": "not yaml",
	})

	policies, err := NewFileSource(dir, nil).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("loaded %d policies, want 2", len(policies))
	}

	byName := map[string]*policy.Policy{}
	for _, p := range policies {
		byName[p.Name] = p
	}
	auth := byName["Auth Policy"]
	if auth == nil {
		t.Fatal("Auth Policy not loaded")
	}
	if len(auth.Controls) != 1 || auth.Controls[0].Threshold == nil {
		t.Errorf("control parsing: %+v", auth.Controls)
	}
	if auth.Controls[0].Rules[0].Operator != policy.OperatorGreaterEqual {
		t.Errorf("operator = %q", auth.Controls[0].Rules[0].Operator)
	}
}

func TestFileSource_LoadActive(t *testing.T) {
	dir := writePolicies(t, map[string]string{
		"auth.yaml":  validPolicy,
		"draft.yaml": draftPolicy,
	})

	active, err := NewFileSource(dir, nil).LoadActive()
	if err != nil {
		t.Fatalf("LoadActive() error = %v", err)
	}
	if len(active) != 1 || active[0].Name != "Auth Policy" {
		t.Errorf("active = %v", active)
	}
}

func TestFileSource_SkipsInvalid(t *testing.T) {
	// A malformed NOT expression must be caught at load time, keeping the
	// rest of the bundle intact.
	dir := writePolicies(t, map[string]string{
		"auth.yaml":   validPolicy,
		"broken.yaml": invalidPolicy,
	})

	policies, err := NewFileSource(dir, nil).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "Auth Policy" {
		t.Errorf("policies = %v, want only Auth Policy", policies)
	}
}

func TestFileSource_SingleFileInvalid(t *testing.T) {
	dir := writePolicies(t, map[string]string{"broken.yaml": invalidPolicy})

	_, err := NewFileSource(filepath.Join(dir, "broken.yaml"), nil).Load()
	if err == nil {
		t.Fatal("Load() of a single invalid file succeeded")
	}
}

func TestWatcher_TriggersReload(t *testing.T) {
	dir := writePolicies(t, map[string]string{"auth.yaml": validPolicy})

	w, err := NewWatcher(dir, 20*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}

	var reloads atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Watch(ctx, func() error {
			reloads.Add(1)
			return nil
		})
	}()

	// Give the watcher time to register, then touch the file.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "auth.yaml"), []byte(validPolicy), 0o644); err != nil {
		t.Fatalf("rewrite policy: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for reloads.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("reload not triggered within deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
