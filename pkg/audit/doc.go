// Package audit defines the append-only event log at the heart of the audit
// trail: immutable Event records, their mutable EventMetadata sidecars, and
// the storage contract both are persisted through.
//
// An Event never changes after creation. Everything that must change over an
// event's lifetime (the processed flag, the hash-chain signature, the linked
// violation) lives in the sidecar, and even there only one-way transitions
// are permitted. The immutability rules are enforced by the store
// implementations in the audit/store subpackage, at the database layer as
// well as in application code.
package audit
