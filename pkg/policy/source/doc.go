// Package source loads policy bundles from YAML files and watches them for
// changes. Every policy is validated before it is handed to the evaluator;
// a file that fails validation is skipped with a warning and never becomes
// active.
package source
