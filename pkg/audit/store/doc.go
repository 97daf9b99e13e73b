// Package store provides the SQLite and in-memory backends for the audit
// event log. The SQLite backend installs append-only triggers on the events
// table so raw SQL cannot alter or delete events; the repository layer
// enforces the same rules above the database for earlier, better-typed
// refusals.
package store
