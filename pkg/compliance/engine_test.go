package compliance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"veridian-hq/warden/pkg/audit"
	"veridian-hq/warden/pkg/audit/store"
	"veridian-hq/warden/pkg/evidence"
	"veridian-hq/warden/pkg/policy"
	"veridian-hq/warden/pkg/violation"
)

type fixture struct {
	events     *store.MemoryStore
	violations *violation.MemoryStore
	evidence   *evidence.MemoryStore
	engine     *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		events:     store.NewMemoryStore(),
		violations: violation.NewMemoryStore(),
		evidence:   evidence.NewMemoryStore(),
	}
	f.engine = NewEngine(f.events, f.violations, f.evidence, EngineConfig{})
	return f
}

func (f *fixture) createEvent(t *testing.T, ev *audit.Event) *audit.Event {
	t.Helper()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if err := f.events.CreateEvent(context.Background(), ev); err != nil {
		t.Fatalf("CreateEvent() error = %v", err)
	}
	return ev
}

func activePolicy(controls ...*policy.Control) *policy.Policy {
	return &policy.Policy{
		ID:        "p-1",
		Name:      "Auth Policy",
		Version:   "2026.08",
		Lifecycle: policy.LifecycleActive,
		Controls:  controls,
	}
}

func TestEvaluateEvent_RuleViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pol := activePolicy(&policy.Control{
		ID: "c-1", Name: "Attempt Limit", Severity: policy.SeverityHigh, Active: true,
		Rules: []*policy.Rule{
			{ID: "r-1", Name: "Few Attempts", LeftOperand: "detail.attempts",
				Operator: policy.OperatorLessThan, RightValue: 3, Enabled: true},
		},
	})

	event := f.createEvent(t, &audit.Event{
		Timestamp: time.Now().UTC(), Type: "auth", Source: "auth.login_failed",
		Actor: "alice", Details: map[string]any{"attempts": float64(5)},
	})

	res, err := f.engine.EvaluateEvent(ctx, event, pol)
	if err != nil {
		t.Fatalf("EvaluateEvent() error = %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("violations = %d, want 1", len(res.Violations))
	}

	v := res.Violations[0]
	if v.RuleID != "r-1" || v.ControlID != "c-1" || v.Actor != "alice" {
		t.Errorf("violation = %+v", v)
	}
	if v.Severity != policy.SeverityHigh {
		t.Errorf("severity = %q", v.Severity)
	}

	// Evidence record persisted and tied to the violation.
	records, err := f.evidence.List(ctx, &evidence.Query{ViolationID: v.ID})
	if err != nil || len(records) != 1 {
		t.Fatalf("evidence records = %d (err %v), want 1", len(records), err)
	}
	if records[0].Payload.Rule != "Few Attempts" || records[0].Payload.Policy != "Auth Policy" {
		t.Errorf("payload = %+v", records[0].Payload)
	}

	// Sidecar flipped and linked.
	meta, err := f.events.GetMetadata(ctx, event.ID)
	if err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	if !meta.Processed || meta.ViolationID != v.ID {
		t.Errorf("sidecar = %+v", meta)
	}
}

func TestEvaluateEvent_SkipsInactivePolicy(t *testing.T) {
	f := newFixture(t)

	pol := activePolicy()
	pol.Lifecycle = policy.LifecycleDraft

	event := f.createEvent(t, &audit.Event{Timestamp: time.Now().UTC(), Type: "auth"})

	res, err := f.engine.EvaluateEvent(context.Background(), event, pol)
	if err != nil {
		t.Fatalf("EvaluateEvent() error = %v", err)
	}
	if !res.Skipped || res.SkipReason != "policy not active" {
		t.Errorf("result = %+v", res)
	}
}

func TestEvaluateEvent_InactiveControlAndDisabledRule(t *testing.T) {
	f := newFixture(t)

	pol := activePolicy(
		&policy.Control{
			ID: "c-off", Name: "Disabled Control", Severity: policy.SeverityLow, Active: false,
			Rules: []*policy.Rule{
				{ID: "r-1", Name: "A", LeftOperand: "event.type",
					Operator: policy.OperatorEqual, RightValue: "never", Enabled: true},
			},
		},
		&policy.Control{
			ID: "c-on", Name: "Active Control", Severity: policy.SeverityLow, Active: true,
			Rules: []*policy.Rule{
				{ID: "r-2", Name: "B", LeftOperand: "event.type",
					Operator: policy.OperatorEqual, RightValue: "never", Enabled: false},
			},
		},
	)

	event := f.createEvent(t, &audit.Event{Timestamp: time.Now().UTC(), Type: "auth"})

	res, err := f.engine.EvaluateEvent(context.Background(), event, pol)
	if err != nil {
		t.Fatalf("EvaluateEvent() error = %v", err)
	}
	if len(res.Violations) != 0 {
		t.Errorf("violations = %d, want 0", len(res.Violations))
	}
}

// Concurrent evaluators of the same event must collide on one dedup key and
// leave exactly one persisted violation between them.
func TestEvaluateEvent_ConcurrentSingleViolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pol := activePolicy(&policy.Control{
		ID: "c-1", Name: "Attempt Limit", Severity: policy.SeverityHigh, Active: true,
		Rules: []*policy.Rule{
			{ID: "r-1", Name: "Few Attempts", LeftOperand: "detail.attempts",
				Operator: policy.OperatorLessThan, RightValue: 3, Enabled: true},
		},
	})

	event := f.createEvent(t, &audit.Event{
		Timestamp: time.Now().UTC(), Type: "auth", Source: "auth.login_failed",
		Actor: "alice", Details: map[string]any{"attempts": float64(9)},
	})

	const racers = 8
	created := make(chan int, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.EvaluateEvent(ctx, event, pol)
			if err != nil {
				t.Errorf("EvaluateEvent() error = %v", err)
				created <- 0
				return
			}
			created <- len(res.Violations)
		}()
	}
	wg.Wait()
	close(created)

	total := 0
	for n := range created {
		total += n
	}
	if total != 1 {
		t.Errorf("violations created across racers = %d, want 1", total)
	}

	persisted, err := f.violations.ListByEvent(ctx, event.ID)
	if err != nil {
		t.Fatalf("ListByEvent() error = %v", err)
	}
	if len(persisted) != 1 {
		t.Errorf("persisted violations = %d, want 1", len(persisted))
	}
}

// Three prior violations for the control within the window plus a new
// qualifying event must breach a count threshold of 3, synthesizing exactly
// one threshold violation; re-evaluating the same event adds nothing.
func TestEvaluateEvent_CountThresholdBreach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pol := activePolicy(&policy.Control{
		ID: "c-1", Name: "Failed Login Threshold", Severity: policy.SeverityHigh, Active: true,
		Rules: []*policy.Rule{
			{ID: "r-1", Name: "Is Auth", LeftOperand: "event.type",
				Operator: policy.OperatorEqual, RightValue: "auth", Enabled: true},
		},
		Threshold: &policy.Threshold{Type: policy.ThresholdCount, Value: 3, WindowSeconds: 60},
	})

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		_, _, err := f.violations.CreateIfAbsent(ctx, &violation.Violation{
			ID:        uuid.NewString(),
			DedupKey:  uuid.NewString(),
			PolicyID:  "p-1",
			ControlID: "c-1",
			EventID:   uuid.NewString(),
			Actor:     "alice",
			Severity:  policy.SeverityHigh,
			CreatedAt: now.Add(-10 * time.Second),
		})
		if err != nil {
			t.Fatalf("seed violation: %v", err)
		}
	}

	event := f.createEvent(t, &audit.Event{
		Timestamp: now, Type: "auth", Source: "auth.login_failed", Actor: "alice",
	})

	res, err := f.engine.EvaluateEvent(ctx, event, pol)
	if err != nil {
		t.Fatalf("EvaluateEvent() error = %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("violations = %d, want exactly 1", len(res.Violations))
	}

	v := res.Violations[0]
	if v.RuleID != violation.RuleRefThreshold {
		t.Errorf("rule ref = %q, want %q", v.RuleID, violation.RuleRefThreshold)
	}

	expl, ok := v.Evidence["explanation"].(map[string]any)
	if !ok {
		t.Fatalf("evidence explanation missing: %v", v.Evidence)
	}
	if expl["reason"] != "threshold_breached" {
		t.Errorf("reason = %v, want threshold_breached", expl["reason"])
	}
	details, ok := expl["details"].(map[string]any)
	if !ok {
		t.Fatalf("explanation details missing: %v", expl)
	}
	if recent, _ := details["recent_count"].(float64); recent < 3 {
		t.Errorf("recent_count = %v, want >= 3", details["recent_count"])
	}

	// A second evaluation of the same event recomputes the same dedup key
	// and creates nothing new.
	res2, err := f.engine.EvaluateEvent(ctx, event, pol)
	if err != nil {
		t.Fatalf("re-evaluation error = %v", err)
	}
	if len(res2.Violations) != 0 {
		t.Errorf("re-evaluation created %d violations, want 0", len(res2.Violations))
	}
}

// AND(Rule A, OR(Rule B, Rule C)) with A failing and B passing is false as a
// whole and yields one composite violation, not three.
func TestEvaluateEvent_CompositeExpression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pol := activePolicy(&policy.Control{
		ID: "c-1", Name: "Composite Control", Severity: policy.SeverityMedium, Active: true,
		Rules: []*policy.Rule{
			{ID: "r-a", Name: "Rule A", LeftOperand: "event.type",
				Operator: policy.OperatorEqual, RightValue: "admin", Enabled: true},
			{ID: "r-b", Name: "Rule B", LeftOperand: "event.source",
				Operator: policy.OperatorEqual, RightValue: "auth.login_failed", Enabled: true},
			{ID: "r-c", Name: "Rule C", LeftOperand: "detail.flag",
				Operator: policy.OperatorEqual, RightValue: true, Enabled: true},
		},
		Expression: &policy.Expression{
			Op: policy.OpAnd,
			Items: []*policy.ExpressionItem{
				{Rule: "Rule A"},
				{Expr: &policy.Expression{
					Op: policy.OpOr,
					Items: []*policy.ExpressionItem{
						{Rule: "Rule B"},
						{Rule: "Rule C"},
					},
				}},
			},
		},
	})

	// Rule A fails (type is auth, not admin); Rule B passes.
	event := f.createEvent(t, &audit.Event{
		Timestamp: time.Now().UTC(), Type: "auth", Source: "auth.login_failed", Actor: "bob",
	})

	res, err := f.engine.EvaluateEvent(ctx, event, pol)
	if err != nil {
		t.Fatalf("EvaluateEvent() error = %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("violations = %d, want exactly 1 composite", len(res.Violations))
	}

	v := res.Violations[0]
	if v.RuleID != "" {
		t.Errorf("composite violation carries rule %q, want none", v.RuleID)
	}

	expl, ok := v.Evidence["explanation"].(map[string]any)
	if !ok {
		t.Fatalf("evidence explanation missing: %v", v.Evidence)
	}
	composite, ok := expl["composite_expression"].(map[string]any)
	if !ok {
		t.Fatalf("composite_expression missing: %v", expl)
	}
	if composite["result"] != false || composite["op"] != "and" {
		t.Errorf("composite = %v", composite)
	}
}

func TestEvaluateUnprocessed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pol := activePolicy(&policy.Control{
		ID: "c-1", Name: "Attempt Limit", Severity: policy.SeverityHigh, Active: true,
		Rules: []*policy.Rule{
			{ID: "r-1", Name: "Few Attempts", LeftOperand: "detail.attempts",
				Operator: policy.OperatorLessThan, RightValue: 3, Enabled: true},
		},
	})

	now := time.Now().UTC()
	f.createEvent(t, &audit.Event{
		ID: "ev-clean-1", Timestamp: now.Add(-3 * time.Minute), Type: "app",
		Actor: "alice", Details: map[string]any{"attempts": float64(1)},
	})
	f.createEvent(t, &audit.Event{
		ID: "ev-bad", Timestamp: now.Add(-2 * time.Minute), Type: "auth",
		Actor: "alice", Details: map[string]any{"attempts": float64(7)},
	})
	f.createEvent(t, &audit.Event{
		ID: "ev-clean-2", Timestamp: now.Add(-1 * time.Minute), Type: "app",
		Actor: "bob", Details: map[string]any{"attempts": float64(0)},
	})

	batch, err := f.engine.EvaluateUnprocessed(ctx, []*policy.Policy{pol}, 10)
	if err != nil {
		t.Fatalf("EvaluateUnprocessed() error = %v", err)
	}
	if len(batch.Errors) != 0 {
		t.Fatalf("batch errors = %v", batch.Errors)
	}
	if len(batch.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(batch.Results))
	}

	violations := 0
	for _, r := range batch.Results {
		violations += len(r.Violations)
	}
	if violations != 1 {
		t.Errorf("violations across batch = %d, want 1", violations)
	}

	// All three events are processed now, clean ones included.
	remaining, err := f.events.ListUnprocessed(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnprocessed() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("unprocessed after batch = %d, want 0", len(remaining))
	}

	// A second run has nothing to do.
	batch2, err := f.engine.EvaluateUnprocessed(ctx, []*policy.Policy{pol}, 10)
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if len(batch2.Results) != 0 {
		t.Errorf("second run results = %d, want 0", len(batch2.Results))
	}
}

func TestEvaluateUnprocessed_Limit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pol := activePolicy()
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		f.createEvent(t, &audit.Event{
			Timestamp: now.Add(time.Duration(i) * time.Second), Type: "app", Actor: "alice",
		})
	}

	batch, err := f.engine.EvaluateUnprocessed(ctx, []*policy.Policy{pol}, 2)
	if err != nil {
		t.Fatalf("EvaluateUnprocessed() error = %v", err)
	}
	if len(batch.Results) != 2 {
		t.Errorf("results = %d, want 2", len(batch.Results))
	}

	remaining, err := f.events.ListUnprocessed(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnprocessed() error = %v", err)
	}
	if len(remaining) != 3 {
		t.Errorf("remaining = %d, want 3", len(remaining))
	}
}
