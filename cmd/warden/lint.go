package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"veridian-hq/warden/pkg/policy"
)

var lintCmd = &cobra.Command{
	Use:   "lint [path]",
	Short: "Validate policy files",
	Long: `Parse and validate policy YAML files without loading them into the engine.
With no argument, lints the configured policies directory.

Examples:
  warden lint
  warden lint policies/access-control.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLint,
}

func init() {
	rootCmd.AddCommand(lintCmd)
}

func runLint(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Policies.Dir
	}

	files, err := collectPolicyFiles(path)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no policy files under %q", path)
	}

	failed := 0
	for _, file := range files {
		if err := lintFile(file); err != nil {
			failed++
			fmt.Printf("FAIL %s: %v\n", file, err)
			continue
		}
		fmt.Printf("ok   %s\n", file)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d policy files invalid", failed, len(files))
	}
	return nil
}

func collectPolicyFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if ext := filepath.Ext(p); ext == ".yaml" || ext == ".yml" {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %q: %w", path, err)
	}
	return files, nil
}

func lintFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var p policy.Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	return policy.ValidatePolicy(&p)
}
