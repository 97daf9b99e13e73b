package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - telemetry policy evaluation and tamper-evident audit core",
	Long: `Warden evaluates telemetry events against declarative policies and keeps a
tamper-evident audit trail of everything it decides.

It provides:
  - Deterministic rule, expression and threshold evaluation with
    audit-grade explanations
  - Idempotent violation synthesis safe under concurrent evaluators
  - A hash-chained, signed event log with pluggable signing backends
  - Immutable evidence records with JSON/CSV export`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
