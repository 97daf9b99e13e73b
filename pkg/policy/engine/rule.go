package engine

import (
	"fmt"
	"regexp"

	"veridian-hq/warden/pkg/policy"
)

// EvaluateRule evaluates a single rule against the context and returns the
// match decision with an audit-grade explanation. It never returns an error:
// every failure mode degrades to a deterministic non-match with a diagnostic
// reason in the explanation.
func EvaluateRule(rule *policy.Rule, ctx Context) (bool, *RuleExplanation) {
	leftVal, found := ctx.Resolve(rule.LeftOperand)

	expl := &RuleExplanation{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		LeftOperand: rule.LeftOperand,
		LeftFound:   found,
		LeftValue:   leftVal,
		Operator:    string(rule.Operator),
		RightValue:  rule.RightValue,
	}

	if !found {
		expl.Reason = ReasonLeftOperandNotFound
		return false, expl
	}

	if rule.Operator == policy.OperatorRegex {
		matched, reason := evaluateRegex(leftVal, rule.RightValue)
		expl.Result = matched
		expl.Reason = reason
		return matched, expl
	}

	switch rule.Operator {
	case policy.OperatorEqual, policy.OperatorNotEqual,
		policy.OperatorGreaterThan, policy.OperatorLessThan,
		policy.OperatorGreaterEqual, policy.OperatorLessEqual,
		policy.OperatorIn, policy.OperatorNotIn:

		matched, err := compare(rule.Operator, leftVal, rule.RightValue)
		if err != nil {
			expl.Reason = fmt.Sprintf("%s: %v", ReasonOperatorError, err)
			return false, expl
		}
		expl.Result = matched
		expl.Reason = ReasonComparison
		return matched, expl

	default:
		expl.Reason = ReasonUnsupportedOperator
		return false, expl
	}
}

// evaluateRegex compiles the pattern once per call and searches the string
// form of the left value. Compile errors are captured in the reason, never
// surfaced as a failure.
func evaluateRegex(left, right any) (bool, string) {
	pattern, ok := right.(string)
	if !ok {
		return false, fmt.Sprintf("%s: pattern must be a string, got %T", ReasonRegexError, right)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, fmt.Sprintf("%s: %v", ReasonRegexError, err)
	}

	if re.MatchString(stringify(left)) {
		return true, ReasonRegexMatch
	}
	return false, ReasonRegexNoMatch
}

// compare dispatches the six comparison operators plus in/not_in.
func compare(op policy.Operator, left, right any) (bool, error) {
	switch op {
	case policy.OperatorEqual:
		return looseEqual(left, right), nil

	case policy.OperatorNotEqual:
		return !looseEqual(left, right), nil

	case policy.OperatorGreaterThan:
		l, r, err := toNumeric(left, right)
		if err != nil {
			return false, err
		}
		return l > r, nil

	case policy.OperatorLessThan:
		l, r, err := toNumeric(left, right)
		if err != nil {
			return false, err
		}
		return l < r, nil

	case policy.OperatorGreaterEqual:
		l, r, err := toNumeric(left, right)
		if err != nil {
			return false, err
		}
		return l >= r, nil

	case policy.OperatorLessEqual:
		l, r, err := toNumeric(left, right)
		if err != nil {
			return false, err
		}
		return l <= r, nil

	case policy.OperatorIn:
		return containsValue(right, left)

	case policy.OperatorNotIn:
		in, err := containsValue(right, left)
		return !in, err

	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// looseEqual compares numerically when both sides convert to numbers
// (handles int vs float64 from decoded JSON/YAML), otherwise by string form.
func looseEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}

	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		return lf == rf
	}

	return stringify(left) == stringify(right)
}

// containsValue reports whether elem appears in the list. The list must be a
// slice; anything else is a type-mismatch operator error.
func containsValue(list, elem any) (bool, error) {
	items, ok := list.([]any)
	if !ok {
		return false, fmt.Errorf("right operand must be a list, got %T", list)
	}

	for _, it := range items {
		if looseEqual(elem, it) {
			return true, nil
		}
	}
	return false, nil
}

// toNumeric converts both operands for ordered comparison; failure of either
// side is a type-mismatch operator error.
func toNumeric(left, right any) (float64, float64, error) {
	l, ok := toFloat64(left)
	if !ok {
		return 0, 0, fmt.Errorf("cannot compare %T numerically", left)
	}
	r, ok := toFloat64(right)
	if !ok {
		return 0, 0, fmt.Errorf("cannot compare %T numerically", right)
	}
	return l, r, nil
}

// toFloat64 converts numeric types to float64.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
