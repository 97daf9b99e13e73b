package engine

import (
	"encoding/json"
	"testing"

	"veridian-hq/warden/pkg/policy"
)

// exprControl builds a control with three rules against testContext():
// Rule A fails (attempts > 10), Rule B passes (type == auth),
// Rule C fails (source == admin.action).
func exprControl() *policy.Control {
	return &policy.Control{
		ID:       "c-1",
		Name:     "Composite Control",
		Severity: policy.SeverityHigh,
		Active:   true,
		Rules: []*policy.Rule{
			{ID: "1", Name: "Rule A", LeftOperand: "detail.attempts", Operator: policy.OperatorGreaterThan, RightValue: 10, Enabled: true},
			{ID: "2", Name: "Rule B", LeftOperand: "event.type", Operator: policy.OperatorEqual, RightValue: "auth", Enabled: true},
			{ID: "3", Name: "Rule C", LeftOperand: "event.source", Operator: policy.OperatorEqual, RightValue: "admin.action", Enabled: true},
		},
	}
}

func mustParseExpression(t *testing.T, raw string) *policy.Expression {
	t.Helper()
	var expr policy.Expression
	if err := json.Unmarshal([]byte(raw), &expr); err != nil {
		t.Fatalf("parse expression: %v", err)
	}
	return &expr
}

func TestEvaluateExpression_AndOrNesting(t *testing.T) {
	// AND(false, OR(true, false)) = false. This is the canonical composite
	// case: a single combined decision, not three separate ones.
	expr := mustParseExpression(t, `{
		"op": "and",
		"items": [
			{"rule": "Rule A"},
			{"op": "or", "items": [{"rule": "Rule B"}, {"rule": "Rule C"}]}
		]
	}`)

	matched, expl := EvaluateExpression(expr, exprControl(), testContext())

	if matched {
		t.Error("EvaluateExpression() = true, want false (AND of false and true)")
	}
	if expl.Op != policy.OpAnd || expl.Result {
		t.Errorf("explanation = {op:%s result:%v}, want {op:and result:false}", expl.Op, expl.Result)
	}
	if len(expl.Items) != 2 {
		t.Fatalf("len(items) = %d, want 2 (all children explained)", len(expl.Items))
	}

	nested, ok := expl.Items[1].(*ExpressionExplanation)
	if !ok {
		t.Fatalf("items[1] is %T, want *ExpressionExplanation", expl.Items[1])
	}
	if !nested.Result {
		t.Error("nested OR result = false, want true (Rule B passes)")
	}
	if len(nested.Items) != 2 {
		t.Errorf("nested OR explained %d children, want 2 (no short circuit)", len(nested.Items))
	}
}

func TestEvaluateExpression_Or(t *testing.T) {
	expr := mustParseExpression(t, `{"op":"or","items":[{"rule":"Rule A"},{"rule":"Rule C"}]}`)

	matched, _ := EvaluateExpression(expr, exprControl(), testContext())
	if matched {
		t.Error("OR of two failing rules matched")
	}
}

func TestEvaluateExpression_Not(t *testing.T) {
	expr := mustParseExpression(t, `{"op":"not","items":[{"rule":"Rule A"}]}`)

	matched, expl := EvaluateExpression(expr, exprControl(), testContext())
	if !matched {
		t.Error("NOT of failing rule should match")
	}
	if !expl.Result {
		t.Error("explanation result = false, want true")
	}
}

func TestEvaluateExpression_RuleByID(t *testing.T) {
	expr := mustParseExpression(t, `{"op":"and","items":[{"rule_id":"2"}]}`)

	matched, expl := EvaluateExpression(expr, exprControl(), testContext())
	if !matched {
		t.Error("rule_id reference to passing rule did not match")
	}

	ruleExpl, ok := expl.Items[0].(*RuleExplanation)
	if !ok {
		t.Fatalf("items[0] is %T, want *RuleExplanation", expl.Items[0])
	}
	if ruleExpl.RuleRef != "id:2" {
		t.Errorf("rule_ref = %q, want %q", ruleExpl.RuleRef, "id:2")
	}
}

func TestEvaluateExpression_UnresolvedReference(t *testing.T) {
	// A missing rule contributes false with rule_not_found; the passing
	// sibling is still evaluated.
	expr := mustParseExpression(t, `{"op":"or","items":[{"rule":"No Such Rule"},{"rule":"Rule B"}]}`)

	matched, expl := EvaluateExpression(expr, exprControl(), testContext())
	if !matched {
		t.Error("OR should match via Rule B despite unresolved sibling")
	}

	refErr, ok := expl.Items[0].(*RefError)
	if !ok {
		t.Fatalf("items[0] is %T, want *RefError", expl.Items[0])
	}
	if refErr.Reason != ReasonRuleNotFound {
		t.Errorf("reason = %q, want %q", refErr.Reason, ReasonRuleNotFound)
	}
}

func TestValidateExpression(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"valid and", `{"op":"and","items":[{"rule":"A"}]}`, false},
		{"valid nested", `{"op":"and","items":[{"rule":"A"},{"op":"or","items":[{"rule":"B"}]}]}`, false},
		{"valid not", `{"op":"not","items":[{"rule":"A"}]}`, false},
		{"not with zero items", `{"op":"not","items":[]}`, true},
		{"not with two items", `{"op":"not","items":[{"rule":"A"},{"rule":"B"}]}`, true},
		{"unknown op", `{"op":"xor","items":[{"rule":"A"}]}`, true},
		{"empty items", `{"op":"and","items":[]}`, true},
		{"rule_id as integer", `{"op":"and","items":[{"rule_id":7}]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var expr policy.Expression
			if err := json.Unmarshal([]byte(tt.raw), &expr); err != nil {
				t.Fatalf("parse: %v", err)
			}

			err := policy.ValidateExpression(&expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateExpression() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var verr *policy.ValidationError
				if !asValidationError(err, &verr) {
					t.Errorf("error type = %T, want *policy.ValidationError", err)
				}
			}
		})
	}
}

func asValidationError(err error, target **policy.ValidationError) bool {
	v, ok := err.(*policy.ValidationError)
	if ok {
		*target = v
	}
	return ok
}
