// Package config defines the warden configuration schema and its loading
// pipeline: YAML file, defaults, environment overrides (WARDEN_*), then
// validation. Configuration is passive data; wiring it into components
// happens in the command layer.
package config
