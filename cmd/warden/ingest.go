package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"veridian-hq/warden/pkg/audit"
	"veridian-hq/warden/pkg/compliance"
)

var ingestFlags struct {
	file string
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Append events to the audit log",
	Long: `Read a stream of JSON event objects and append them to the audit log,
signing each one with the configured provider.

Events missing an id are assigned a fresh UUID; events missing a timestamp
are stamped with the current time.

Examples:
  # Ingest from a file
  warden ingest --file events.json

  # Ingest from stdin
  cat events.json | warden ingest`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVarP(&ingestFlags.file, "file", "f", "-", "event stream file, - for stdin")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if ingestFlags.file != "-" {
		f, err := os.Open(ingestFlags.file)
		if err != nil {
			return fmt.Errorf("open event file: %w", err)
		}
		defer f.Close()
		in = f
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

	ingestor := compliance.NewIngestor(st.events, compliance.IngestorConfig{
		Chain:  chain,
		Logger: logger,
	})

	ctx := context.Background()
	dec := json.NewDecoder(in)
	count := 0
	for {
		var event audit.Event
		if err := dec.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("decode event %d: %w", count+1, err)
		}
		if err := ingestor.Ingest(ctx, &event); err != nil {
			return fmt.Errorf("ingest event %q: %w", event.ID, err)
		}
		count++
	}

	fmt.Printf("ingested %d events\n", count)
	return nil
}
