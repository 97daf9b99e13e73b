package policy

import "fmt"

// Expression operators.
const (
	OpAnd = "and"
	OpOr  = "or"
	OpNot = "not"
)

// Expression is a composite boolean tree over rule references. The wire
// schema is:
//
//	{"op": "and"|"or"|"not",
//	 "items": [ {"rule": <name>} | {"rule_id": <id>} | <nested expression> ]}
//
// Each item must be exactly one of: a rule reference by name, a rule
// reference by id, or a nested expression.
type Expression struct {
	Op    string            `yaml:"op" json:"op"`
	Items []*ExpressionItem `yaml:"items" json:"items"`
}

// ExpressionItem is one child of an expression: a rule reference or a
// nested expression.
type ExpressionItem struct {
	Rule   string      `yaml:"rule,omitempty" json:"rule,omitempty"`
	RuleID string      `yaml:"rule_id,omitempty" json:"rule_id,omitempty"`
	Expr   *Expression `yaml:"expr,omitempty" json:"expr,omitempty"`
}

// ValidationError reports a malformed expression or policy definition.
// It is always raised before activation, never at evaluation time.
type ValidationError struct {
	Path    string // location within the expression tree, e.g. "items[1].expr"
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("invalid expression at %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("invalid expression: %s", e.Message)
}

// ValidateExpression checks an expression tree against the schema before a
// control carrying it may be activated. It verifies:
//
//   - op is one of and/or/not
//   - items is present and non-empty
//   - "not" has exactly one child
//   - every item is exactly one of rule / rule_id / nested expression
//
// Nested expressions are validated recursively.
func ValidateExpression(expr *Expression) error {
	return validateExpressionAt(expr, "")
}

func validateExpressionAt(expr *Expression, path string) error {
	if expr == nil {
		return &ValidationError{Path: path, Message: "expression is nil"}
	}

	switch expr.Op {
	case OpAnd, OpOr, OpNot:
	default:
		return &ValidationError{Path: path, Message: fmt.Sprintf("unsupported op %q", expr.Op)}
	}

	if len(expr.Items) == 0 {
		return &ValidationError{Path: path, Message: "items must not be empty"}
	}

	if expr.Op == OpNot && len(expr.Items) != 1 {
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("not requires exactly one item, got %d", len(expr.Items)),
		}
	}

	for i, item := range expr.Items {
		itemPath := fmt.Sprintf("%sitems[%d]", pathPrefix(path), i)
		if item == nil {
			return &ValidationError{Path: itemPath, Message: "item is nil"}
		}

		refs := 0
		if item.Rule != "" {
			refs++
		}
		if item.RuleID != "" {
			refs++
		}
		if item.Expr != nil {
			refs++
		}
		if refs != 1 {
			return &ValidationError{
				Path:    itemPath,
				Message: "item must be exactly one of rule, rule_id, or a nested expression",
			}
		}

		if item.Expr != nil {
			if err := validateExpressionAt(item.Expr, itemPath+".expr"); err != nil {
				return err
			}
		}
	}

	return nil
}

func pathPrefix(path string) string {
	if path == "" {
		return ""
	}
	return path + "."
}

// ValidatePolicy checks a full policy definition: lifecycle and severity
// values, operator names, and any control expressions. It returns the first
// problem found.
func ValidatePolicy(p *Policy) error {
	if p.Name == "" {
		return &ValidationError{Message: "policy name must not be empty"}
	}
	switch p.Lifecycle {
	case LifecycleDraft, LifecycleReview, LifecycleActive, LifecycleRetired:
	default:
		return &ValidationError{Message: fmt.Sprintf("policy %q: unknown lifecycle %q", p.Name, p.Lifecycle)}
	}

	for _, c := range p.Controls {
		if c.Name == "" {
			return &ValidationError{Message: fmt.Sprintf("policy %q: control name must not be empty", p.Name)}
		}
		switch c.Severity {
		case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		default:
			return &ValidationError{Message: fmt.Sprintf("control %q: unknown severity %q", c.Name, c.Severity)}
		}

		for _, r := range c.Rules {
			switch r.Operator {
			case OperatorEqual, OperatorNotEqual, OperatorGreaterThan, OperatorLessThan,
				OperatorGreaterEqual, OperatorLessEqual, OperatorIn, OperatorNotIn, OperatorRegex:
			default:
				return &ValidationError{Message: fmt.Sprintf("rule %q: unknown operator %q", r.Name, r.Operator)}
			}
			if r.LeftOperand == "" {
				return &ValidationError{Message: fmt.Sprintf("rule %q: left_operand must not be empty", r.Name)}
			}
		}

		if c.Threshold != nil {
			switch c.Threshold.Type {
			case ThresholdCount, ThresholdPercent, ThresholdTimeWindow:
			default:
				return &ValidationError{Message: fmt.Sprintf("control %q: unknown threshold type %q", c.Name, c.Threshold.Type)}
			}
			if c.Threshold.WindowSeconds <= 0 {
				return &ValidationError{Message: fmt.Sprintf("control %q: threshold window_seconds must be positive", c.Name)}
			}
		}

		if c.Expression != nil {
			if err := ValidateExpression(c.Expression); err != nil {
				return fmt.Errorf("control %q: %w", c.Name, err)
			}
		}
	}

	return nil
}
