package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"veridian-hq/warden/pkg/audit"
	"veridian-hq/warden/pkg/evidence"
	"veridian-hq/warden/pkg/policy"
	"veridian-hq/warden/pkg/policy/engine"
	"veridian-hq/warden/pkg/policy/risk"
	"veridian-hq/warden/pkg/telemetry/metrics"
	"veridian-hq/warden/pkg/violation"
)

// Engine evaluates events against policies and records the outcome.
type Engine struct {
	events     audit.Store
	violations violation.Store
	evidence   evidence.Store
	scorer     *risk.Scorer
	metrics    *metrics.Collector
	logger     *slog.Logger
	counter    engine.WindowCounter
	now        func() time.Time
}

// EngineConfig carries the optional collaborators of an Engine.
type EngineConfig struct {
	// Scorer computes per-event risk scores for evidence payloads. When nil,
	// risk scores are recorded as zero.
	Scorer *risk.Scorer

	// Metrics receives pipeline instrumentation. Nil disables it.
	Metrics *metrics.Collector

	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewEngine creates an evaluation engine over the given stores.
func NewEngine(events audit.Store, violations violation.Store, evidenceStore evidence.Store, cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		events:     events,
		violations: violations,
		evidence:   evidenceStore,
		scorer:     cfg.Scorer,
		metrics:    cfg.Metrics,
		logger:     logger.With("component", "compliance_engine"),
		counter:    &windowCounter{violations: violations, events: events},
		now:        now,
	}
}

// windowCounter feeds the threshold evaluator from the violation and event
// stores.
type windowCounter struct {
	violations violation.Store
	events     audit.Store
}

func (w *windowCounter) CountControlViolations(ctx context.Context, controlID string, since time.Time) (int, error) {
	return w.violations.CountControlViolations(ctx, controlID, since)
}

func (w *windowCounter) CountActorEvents(ctx context.Context, actor string, since time.Time) (int, error) {
	return w.events.CountActorEvents(ctx, actor, since)
}

// ControlThreshold pairs a threshold result with the control it belongs to.
type ControlThreshold struct {
	Control string                  `json:"control"`
	Result  *engine.ThresholdResult `json:"result"`
}

// Result is the outcome of evaluating one event against one policy.
type Result struct {
	EventID       string `json:"event_id"`
	Policy        string `json:"policy"`
	PolicyVersion string `json:"policy_version,omitempty"`

	// Skipped is set when the policy was not evaluated at all, with the
	// reason (e.g. a non-active lifecycle state).
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`

	// Risk is the event's risk score, computed once per evaluation and
	// embedded in every evidence payload.
	Risk *risk.Score `json:"risk,omitempty"`

	// Violations are the violations this evaluation created. Duplicates
	// absorbed by the dedup key do not appear here.
	Violations []*violation.Violation `json:"violations,omitempty"`

	// Thresholds are the threshold decisions taken, breached or not.
	Thresholds []*ControlThreshold `json:"thresholds,omitempty"`
}

// EvaluateEvent runs one event through one policy. Non-active policies are
// skipped, not errored. Rule and expression failures degrade to non-matches
// inside the engine; only storage failures surface as errors.
func (e *Engine) EvaluateEvent(ctx context.Context, event *audit.Event, pol *policy.Policy) (*Result, error) {
	start := e.now()

	res := &Result{
		EventID:       event.ID,
		Policy:        pol.Name,
		PolicyVersion: pol.Version,
	}

	if !pol.Active() {
		e.logger.Debug("skipping policy",
			"policy", pol.Name,
			"lifecycle", string(pol.Lifecycle))
		res.Skipped = true
		res.SkipReason = "policy not active"
		return res, nil
	}

	evalCtx := engine.ExtractContext(engine.EventView{
		ID:        event.ID,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Type:      event.Type,
		Source:    event.Source,
		Summary:   event.Summary,
		Actor:     event.Actor,
		Details:   event.Details,
	})

	snapshot := map[string]any(evalCtx)

	// The evidence timestamp is anchored to the event, not the wall clock,
	// so concurrent evaluators compute identical dedup keys.
	evidenceTS := event.Timestamp.UTC().Format(time.RFC3339Nano)

	riskScore := 0
	if e.scorer != nil {
		score, err := e.scorer.ScoreEvent(ctx, event)
		if err != nil {
			e.logger.Warn("risk scoring failed, recording zero",
				"event_id", event.ID, "error", err)
		} else {
			res.Risk = score
			riskScore = score.Score
		}
	}

	for _, control := range sortedControls(pol) {
		if !control.Active {
			continue
		}

		// A composite expression supersedes per-rule evaluation: the whole
		// tree yields at most one violation.
		if control.Expression != nil {
			matched, expl := engine.EvaluateExpression(control.Expression, control, evalCtx)
			if !matched {
				err := e.synthesize(ctx, res, event, pol, control, synthesis{
					ruleRef:     "",
					ruleName:    "",
					explanation: map[string]any{"composite_expression": toMap(expl)},
					snapshot:    snapshot,
					timestamp:   evidenceTS,
					riskScore:   riskScore,
				})
				if err != nil {
					return res, err
				}
			}
			continue
		}

		for _, rule := range sortedRules(control) {
			if !rule.Enabled {
				continue
			}
			matched, expl := engine.EvaluateRule(rule, evalCtx)
			if matched {
				continue
			}
			err := e.synthesize(ctx, res, event, pol, control, synthesis{
				ruleRef:     rule.ID,
				ruleName:    rule.Name,
				explanation: toMap(expl),
				snapshot:    snapshot,
				timestamp:   evidenceTS,
				riskScore:   riskScore,
			})
			if err != nil {
				return res, err
			}
		}

		if control.Threshold != nil {
			thr, err := engine.EvaluateThreshold(ctx, e.counter, control, event.Actor, e.now())
			if err != nil {
				// Threshold failures are isolated per control.
				e.logger.Error("threshold evaluation failed",
					"control", control.Name, "error", err)
				continue
			}
			res.Thresholds = append(res.Thresholds, &ControlThreshold{Control: control.Name, Result: thr})
			if thr.Breached {
				err := e.synthesize(ctx, res, event, pol, control, synthesis{
					ruleRef:  violation.RuleRefThreshold,
					ruleName: "",
					explanation: map[string]any{
						"reason":  engine.ReasonThresholdBreached,
						"details": toMap(thr),
					},
					snapshot:  snapshot,
					timestamp: evidenceTS,
					riskScore: riskScore,
				})
				if err != nil {
					return res, err
				}
			}
		}
	}

	status := "clean"
	if len(res.Violations) > 0 {
		status = "violation"
	}
	e.metrics.RecordEvaluated(status)
	e.metrics.ObserveEvaluation(e.now().Sub(start))

	return res, nil
}

// synthesis bundles the inputs of one violation creation.
type synthesis struct {
	ruleRef     string // rule ID, RuleRefThreshold, or "" for expressions
	ruleName    string
	explanation map[string]any
	snapshot    map[string]any
	timestamp   string
	riskScore   int
}

// synthesize builds the evidence payload, computes the dedup key and runs the
// create-if-absent protocol. A lost race is absorbed silently; a win also
// writes the evidence record and flips the sidecar state.
func (e *Engine) synthesize(ctx context.Context, res *Result, event *audit.Event, pol *policy.Policy, control *policy.Control, s synthesis) error {
	payload := &evidence.Payload{
		Timestamp:     s.timestamp,
		Policy:        pol.Name,
		Control:       control.Name,
		Rule:          s.ruleName,
		Explanation:   s.explanation,
		EventSnapshot: s.snapshot,
		PolicyVersion: pol.Version,
		RiskScore:     s.riskScore,
	}

	key := violation.DedupKey(pol.ID, control.ID, s.ruleRef, event.ID, s.timestamp)

	v := &violation.Violation{
		ID:         uuid.NewString(),
		DedupKey:   key,
		PolicyID:   pol.ID,
		PolicyName: pol.Name,
		ControlID:  control.ID,
		RuleID:     s.ruleRef,
		EventID:    event.ID,
		Actor:      event.Actor,
		Severity:   control.Severity,
		Evidence:   toMap(payload),
		CreatedAt:  e.now().UTC(),
	}

	stored, created, err := e.violations.CreateIfAbsent(ctx, v)
	if err != nil {
		return fmt.Errorf("create violation for control %q: %w", control.Name, err)
	}
	if !created {
		e.metrics.RecordDuplicateSuppressed()
		e.logger.Warn("duplicate violation suppressed", "dedup_key", key)
		return nil
	}

	e.metrics.RecordViolation(string(control.Severity))

	record := &evidence.Record{
		ID:          uuid.NewString(),
		ViolationID: stored.ID,
		Payload:     payload,
		CreatedAt:   e.now().UTC(),
	}
	if err := e.evidence.Create(ctx, record); err != nil {
		return fmt.Errorf("persist evidence for violation %s: %w", stored.ID, err)
	}

	if err := e.markProcessed(ctx, event.ID); err != nil {
		return err
	}
	if err := e.events.LinkViolation(ctx, event.ID, stored.ID); err != nil {
		// An existing link stays in place.
		if !isImmutabilityRefusal(err) {
			return fmt.Errorf("link violation %s to event %s: %w", stored.ID, event.ID, err)
		}
	}

	res.Violations = append(res.Violations, stored)
	return nil
}

// markProcessed flips the sidecar's processed flag, tolerating an earlier
// winner having flipped it already.
func (e *Engine) markProcessed(ctx context.Context, eventID string) error {
	if err := e.events.MarkProcessed(ctx, eventID); err != nil {
		if isImmutabilityRefusal(err) {
			return nil
		}
		return fmt.Errorf("mark event %s processed: %w", eventID, err)
	}
	return nil
}

func isImmutabilityRefusal(err error) bool {
	var iv *audit.ImmutabilityViolation
	return errors.As(err, &iv)
}

// BatchError records one event that failed evaluation inside a batch run.
type BatchError struct {
	EventID string `json:"event_id"`
	Policy  string `json:"policy,omitempty"`
	Err     error  `json:"-"`
	Message string `json:"error"`
}

// BatchResult is the outcome of a batch evaluation run: partial results plus
// a per-item error list. One bad event never aborts the batch.
type BatchResult struct {
	Results []*Result    `json:"results"`
	Errors  []BatchError `json:"errors,omitempty"`
}

// EvaluateUnprocessed evaluates up to limit unprocessed events against every
// given policy, oldest events first. Events evaluated without error are
// marked processed even when clean, so a subsequent run moves on to new work.
func (e *Engine) EvaluateUnprocessed(ctx context.Context, policies []*policy.Policy, limit int) (*BatchResult, error) {
	events, err := e.events.ListUnprocessed(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed events: %w", err)
	}

	batch := &BatchResult{}
	for _, event := range events {
		clean := true
		for _, pol := range policies {
			res, err := e.EvaluateEvent(ctx, event, pol)
			if err != nil {
				clean = false
				e.logger.Error("event evaluation failed",
					"event_id", event.ID, "policy", pol.Name, "error", err)
				batch.Errors = append(batch.Errors, BatchError{
					EventID: event.ID,
					Policy:  pol.Name,
					Err:     err,
					Message: err.Error(),
				})
				continue
			}
			batch.Results = append(batch.Results, res)
		}
		if clean {
			if err := e.markProcessed(ctx, event.ID); err != nil {
				batch.Errors = append(batch.Errors, BatchError{
					EventID: event.ID,
					Err:     err,
					Message: err.Error(),
				})
			}
		}
	}

	e.logger.Info("batch evaluation finished",
		"events", len(events),
		"results", len(batch.Results),
		"errors", len(batch.Errors))
	return batch, nil
}

func sortedControls(pol *policy.Policy) []*policy.Control {
	controls := make([]*policy.Control, len(pol.Controls))
	copy(controls, pol.Controls)
	sort.SliceStable(controls, func(i, j int) bool {
		if controls[i].Order != controls[j].Order {
			return controls[i].Order < controls[j].Order
		}
		return controls[i].ID < controls[j].ID
	})
	return controls
}

func sortedRules(control *policy.Control) []*policy.Rule {
	rules := make([]*policy.Rule, len(control.Rules))
	copy(rules, control.Rules)
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Order != rules[j].Order {
			return rules[i].Order < rules[j].Order
		}
		return rules[i].ID < rules[j].ID
	})
	return rules
}

// toMap converts a struct or map into a generic JSON map for evidence
// payloads. Marshal failures are captured in the map rather than dropped.
func toMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"error": err.Error()}
	}
	return m
}
