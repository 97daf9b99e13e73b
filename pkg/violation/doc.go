// Package violation records policy violations exactly once. Each violation
// carries a deterministic dedup key; stores expose a transactional
// create-if-absent operation so concurrent evaluators racing on the same
// triggering condition converge on a single persisted row. A unique
// constraint on the key is the backstop for races that slip past the
// transaction.
package violation
