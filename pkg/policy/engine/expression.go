package engine

import (
	"veridian-hq/warden/pkg/policy"
)

// EvaluateExpression recursively evaluates a composite boolean expression
// for the given control. Every child is evaluated first (no short circuit),
// so the combined explanation always covers the full tree; the results are
// then combined per the operator: and = all children true, or = any child
// true, not = inversion of its single child.
//
// An unresolvable rule reference yields false for that child with reason
// rule_not_found without aborting sibling evaluation. Structural problems
// (unknown op, wrong not arity) are expected to have been rejected by
// policy.ValidateExpression before activation; they degrade here to a
// non-match with the problem recorded in the explanation.
func EvaluateExpression(expr *policy.Expression, control *policy.Control, ctx Context) (bool, *ExpressionExplanation) {
	results := make([]bool, 0, len(expr.Items))
	items := make([]any, 0, len(expr.Items))

	for _, item := range expr.Items {
		ok, expl := evaluateItem(item, control, ctx)
		results = append(results, ok)
		items = append(items, expl)
	}

	out := &ExpressionExplanation{Op: expr.Op, Items: items}

	switch expr.Op {
	case policy.OpAnd:
		out.Result = true
		for _, r := range results {
			if !r {
				out.Result = false
				break
			}
		}

	case policy.OpOr:
		for _, r := range results {
			if r {
				out.Result = true
				break
			}
		}

	case policy.OpNot:
		if len(results) != 1 {
			out.Result = false
			out.Items = append(out.Items, &RefError{Result: false, Reason: "not_requires_single_item"})
			return false, out
		}
		out.Result = !results[0]

	default:
		out.Result = false
		out.Items = append(out.Items, &RefError{Result: false, Reason: "unsupported_op"})
		return false, out
	}

	return out.Result, out
}

// evaluateItem evaluates one expression child: a rule reference by name or
// id, or a nested expression.
func evaluateItem(item *policy.ExpressionItem, control *policy.Control, ctx Context) (bool, any) {
	switch {
	case item == nil:
		return false, &RefError{Result: false, Reason: "invalid_item"}

	case item.Expr != nil:
		return EvaluateExpression(item.Expr, control, ctx)

	case item.RuleID != "":
		rule := control.RuleByID(item.RuleID)
		if rule == nil {
			return false, &RefError{RuleID: item.RuleID, Result: false, Reason: ReasonRuleNotFound}
		}
		ok, expl := EvaluateRule(rule, ctx)
		expl.RuleRef = "id:" + item.RuleID
		return ok, expl

	case item.Rule != "":
		rule := control.RuleByName(item.Rule)
		if rule == nil {
			return false, &RefError{Rule: item.Rule, Result: false, Reason: ReasonRuleNotFound}
		}
		ok, expl := EvaluateRule(rule, ctx)
		expl.RuleRef = item.Rule
		return ok, expl

	default:
		return false, &RefError{Result: false, Reason: "unsupported_item"}
	}
}
