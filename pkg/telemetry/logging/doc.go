// Package logging configures the process-wide structured logger. All
// components log through *slog.Logger handles derived from it, tagged with a
// "component" attribute.
package logging
