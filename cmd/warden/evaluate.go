package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"veridian-hq/warden/pkg/compliance"
	"veridian-hq/warden/pkg/policy/risk"
	"veridian-hq/warden/pkg/policy/source"
)

var evaluateFlags struct {
	limit int
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate the unprocessed event backlog once",
	Long: `Load the active policies and evaluate unprocessed events against them in a
single batch. Events evaluated without error are marked processed.

Examples:
  # Evaluate up to 100 events
  warden evaluate

  # Evaluate a larger batch
  warden evaluate --limit 1000`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().IntVar(&evaluateFlags.limit, "limit", 0, "maximum events per batch (0 = configured default)")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	policies, err := source.NewFileSource(cfg.Policies.Dir, logger).LoadActive()
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}
	if len(policies) == 0 {
		fmt.Println("no active policies; nothing to evaluate")
		return nil
	}

	engine := compliance.NewEngine(st.events, st.violations, st.evidence, compliance.EngineConfig{
		Scorer: risk.NewScorer(st.events, st.violations),
		Logger: logger,
	})

	limit := evaluateFlags.limit
	if limit <= 0 {
		limit = cfg.Evaluation.BatchLimit
	}

	batch, err := engine.EvaluateUnprocessed(context.Background(), policies, limit)
	if err != nil {
		return err
	}

	violations := 0
	for _, res := range batch.Results {
		violations += len(res.Violations)
	}
	fmt.Printf("evaluated %d event/policy pairs: %d violations, %d errors\n",
		len(batch.Results), violations, len(batch.Errors))

	for _, be := range batch.Errors {
		fmt.Printf("  error: event=%s policy=%s: %s\n", be.EventID, be.Policy, be.Message)
	}
	if len(batch.Errors) > 0 {
		return fmt.Errorf("%d evaluation errors", len(batch.Errors))
	}
	return nil
}
