package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"veridian-hq/warden/pkg/evidence"
)

var exportFlags struct {
	format      string
	out         string
	policy      string
	violationID string
	limit       int
	actor       string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export evidence records",
	Long: `Export evidence records as JSON or CSV. Every export is recorded in the
export audit log.

Examples:
  # Export everything as JSON to stdout
  warden export

  # Export one policy's evidence as CSV to a file
  warden export --format csv --policy "Access Control" --out evidence.csv`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVar(&exportFlags.format, "format", "json", "output format (json or csv)")
	exportCmd.Flags().StringVarP(&exportFlags.out, "out", "o", "-", "output file, - for stdout")
	exportCmd.Flags().StringVar(&exportFlags.policy, "policy", "", "filter by policy name")
	exportCmd.Flags().StringVar(&exportFlags.violationID, "violation", "", "filter by violation id")
	exportCmd.Flags().IntVar(&exportFlags.limit, "limit", 0, "maximum records (0 = all)")
	exportCmd.Flags().StringVar(&exportFlags.actor, "actor", "", "actor recorded in the export audit log")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var exporter evidence.Exporter
	switch exportFlags.format {
	case "json":
		exporter = evidence.JSONExporter{}
	case "csv":
		exporter = evidence.CSVExporter{}
	default:
		return fmt.Errorf("unknown export format %q (want json or csv)", exportFlags.format)
	}

	var w io.Writer = os.Stdout
	if exportFlags.out != "-" {
		f, err := os.Create(exportFlags.out)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	exportLog, err := evidence.NewSQLiteExportLog(st.db)
	if err != nil {
		return err
	}

	actor := exportFlags.actor
	if actor == "" {
		if actor = os.Getenv("USER"); actor == "" {
			actor = "cli"
		}
	}

	query := &evidence.Query{
		ViolationID: exportFlags.violationID,
		Policy:      exportFlags.policy,
		Limit:       exportFlags.limit,
	}

	svc := evidence.NewExportService(st.evidence, exportLog)
	n, err := svc.Export(context.Background(), query, exporter, w, actor)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "exported %d evidence records (%s)\n", n, exportFlags.format)
	return nil
}
