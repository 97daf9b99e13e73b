// Package evidence persists immutable forensic records. A record is written
// once, when a violation is synthesized or a policy-level export is taken,
// and can never be updated or deleted; stores reject both unconditionally.
// Exporters render records to JSON or CSV, and every export is itself
// recorded in an export audit log.
package evidence
