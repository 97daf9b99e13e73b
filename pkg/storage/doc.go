// Package storage opens and manages the shared SQLite database used by the
// audit, violation and evidence stores. All stores attach to one database so
// that sliding-window threshold queries can join across domains.
package storage
