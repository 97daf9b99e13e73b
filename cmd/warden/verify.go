package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"veridian-hq/warden/pkg/audit/signer"
)

var verifyFlags struct {
	actor string
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit log signature chains",
	Long: `Walk the per-actor hash chains and verify every signature against the
configured provider. Exits non-zero when any chain is broken.

Examples:
  # Verify every actor's chain
  warden verify

  # Verify one actor
  warden verify --actor alice@example.com`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVar(&verifyFlags.actor, "actor", "", "verify only this actor's chain")
}

func runVerify(cmd *cobra.Command, args []string) error {
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

	chain, err := buildChain(st.events, cfg, logger)
	if err != nil {
		return err
	}
	if chain == nil {
		return fmt.Errorf("signing provider is %q; nothing to verify", cfg.Signing.Provider)
	}

	ctx := context.Background()
	var reports []*signer.ChainReport
	if verifyFlags.actor != "" {
		report, err := chain.VerifyChain(ctx, verifyFlags.actor)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	} else {
		reports, err = chain.VerifyAll(ctx)
		if err != nil {
			return err
		}
	}

	broken := 0
	for _, report := range reports {
		status := "ok"
		if !report.Valid() {
			status = "BROKEN"
			broken++
		}
		fmt.Printf("actor=%q events=%d verified=%d status=%s\n",
			report.Actor, report.Events, report.Verified, status)
		for _, b := range report.Breaks {
			fmt.Printf("  break: event=%s reason=%s\n", b.EventID, b.Reason)
		}
	}

	if broken > 0 {
		return fmt.Errorf("%d of %d chains broken", broken, len(reports))
	}
	fmt.Printf("%d chains verified\n", len(reports))
	return nil
}
