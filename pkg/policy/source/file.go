package source

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"veridian-hq/warden/pkg/policy"
)

// FileSource loads policy definitions from YAML files on disk. The path may
// be a single file or a directory; for a directory, all .yaml and .yml files
// are loaded.
type FileSource struct {
	path   string
	logger *slog.Logger
}

// NewFileSource creates a file-based policy source.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:   path,
		logger: logger.With("component", "policy_source"),
	}
}

// Load reads, parses and validates all policies from the configured path.
// A file that fails parsing or validation is skipped with a warning; its
// policy never activates.
func (s *FileSource) Load() ([]*policy.Policy, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path %q: %w", s.path, err)
	}

	var policies []*policy.Policy

	if info.IsDir() {
		policies, err = s.loadDirectory()
		if err != nil {
			return nil, err
		}
	} else {
		p, err := s.loadFile(s.path)
		if err != nil {
			return nil, err
		}
		policies = []*policy.Policy{p}
	}

	s.logger.Info("loaded policies",
		"path", s.path,
		"policy_count", len(policies),
	)
	return policies, nil
}

// LoadActive returns only the policies in the active lifecycle state.
func (s *FileSource) LoadActive() ([]*policy.Policy, error) {
	all, err := s.Load()
	if err != nil {
		return nil, err
	}

	active := make([]*policy.Policy, 0, len(all))
	for _, p := range all {
		if p.Active() {
			active = append(active, p)
		}
	}
	return active, nil
}

func (s *FileSource) loadDirectory() ([]*policy.Policy, error) {
	var policies []*policy.Policy

	err := filepath.Walk(s.path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		p, err := s.loadFile(path)
		if err != nil {
			s.logger.Warn("skipping invalid policy file",
				"path", path,
				"error", err,
			)
			return nil
		}

		policies = append(policies, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %q: %w", s.path, err)
	}

	return policies, nil
}

func (s *FileSource) loadFile(path string) (*policy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", path, err)
	}

	var p policy.Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %q: %w", path, err)
	}

	if err := policy.ValidatePolicy(&p); err != nil {
		return nil, fmt.Errorf("policy file %q: %w", path, err)
	}

	s.logger.Debug("loaded policy file",
		"path", path,
		"policy", p.Name,
		"lifecycle", string(p.Lifecycle),
		"control_count", len(p.Controls),
	)
	return &p, nil
}
