// Package engine implements the deterministic, explainable evaluation core:
// dotted-path context extraction, single-rule comparison, composite boolean
// expression evaluation, and sliding-window threshold checks.
//
// All evaluators are pure read computations over an immutable context and
// require no locking; they may run concurrently from any number of workers.
// Evaluation failures (missing operands, regex errors, type mismatches) are
// caught at the smallest scope and converted into a non-matching result with
// a diagnostic reason; they never abort the enclosing control or policy.
//
// Every result carries an explanation with operand values, the operator, and
// the decision, sufficient to reconstruct offline why a rule passed or
// failed.
package engine
