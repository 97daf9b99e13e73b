package engine

// Diagnostic reasons attached to rule explanations. These are stable audit
// vocabulary: downstream evidence consumers match on them.
const (
	ReasonLeftOperandNotFound = "left_operand_not_found"
	ReasonComparison          = "comparison"
	ReasonRegexMatch          = "regex_match"
	ReasonRegexNoMatch        = "regex_no_match"
	ReasonRegexError          = "regex_error"
	ReasonOperatorError       = "operator_error"
	ReasonUnsupportedOperator = "unsupported_operator"
	ReasonRuleNotFound        = "rule_not_found"
	ReasonThresholdBreached   = "threshold_breached"
)

// RuleExplanation reconstructs why a single rule matched or not: both
// operand values, the operator, the decision, and a diagnostic reason.
type RuleExplanation struct {
	RuleID      string `json:"rule_id"`
	RuleName    string `json:"rule_name"`
	RuleRef     string `json:"rule_ref,omitempty"` // how an expression referenced the rule
	LeftOperand string `json:"left_operand"`
	LeftFound   bool   `json:"left_found"`
	LeftValue   any    `json:"left_value"`
	Operator    string `json:"operator"`
	RightValue  any    `json:"right_value"`
	Result      bool   `json:"result"`
	Reason      string `json:"reason"`
}

// RefError explains an expression child that could not be evaluated, e.g. an
// unresolvable rule reference. It carries Result=false so sibling evaluation
// and boolean combination proceed normally.
type RefError struct {
	Rule   string `json:"rule,omitempty"`
	RuleID string `json:"rule_id,omitempty"`
	Result bool   `json:"result"`
	Reason string `json:"reason"`
}

// ExpressionExplanation is the combined explanation of a composite boolean
// expression: the operator, the final result, and one explanation per child
// (RuleExplanation, RefError, or nested ExpressionExplanation).
type ExpressionExplanation struct {
	Op     string `json:"op"`
	Result bool   `json:"result"`
	Items  []any  `json:"items"`
}
