// Package policy defines the governance object model evaluated by warden:
// policies, controls, rules, thresholds, and composite boolean expressions.
//
// A Policy groups Controls; a Control groups Rules and may carry an optional
// Threshold and an optional composite Expression. When an Expression is
// present it supersedes independent per-rule evaluation for that control.
//
// Only policies in the "active" lifecycle state are evaluated. Lifecycle
// transitions are managed outside the evaluation core; this package only
// reads the state.
//
// Expressions are validated before a control is activated (see
// ValidateExpression); malformed expressions are a ValidationError and are
// never silently coerced at evaluation time.
package policy
