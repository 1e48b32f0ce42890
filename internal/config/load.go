package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Parse reads and strictly decodes the YAML config at path, applies
// defaults for omitted sections, then overlays environment variables.
// The result has NOT been validated; callers decide when to Validate
// (Load validates, the Manager validates before publishing a reload).
func Parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	// Unknown keys are rejected so a typo'd option is caught at startup
	// instead of silently using a default.
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	// Reject trailing documents (e.g. a stray '---' with leftovers).
	if err := dec.Decode(&struct{}{}); err == nil {
		return nil, fmt.Errorf("parse %s: trailing document", path)
	}

	overlayEnv(cfg)
	return cfg, nil
}

// Load parses and validates in one step.
func Load(path string) (*Config, error) {
	cfg, err := Parse(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayEnv applies the environment variables the original deployment
// used, so an existing signal.env keeps working unchanged.
func overlayEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SIGNAL_CLI_USER")); v != "" {
		cfg.Signal.User = v
	}
	if v := strings.TrimSpace(os.Getenv("SIGNAL_GROUP_ID")); v != "" {
		cfg.Signal.Group = v
	}
	if v := strings.TrimSpace(os.Getenv("AUTHORIZED_SENDERS")); v != "" {
		cfg.Signal.AllowedSenders = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("BACKUP_FOLDER")); v != "" {
		cfg.Backup.Dir = v
	}
}

// splitList splits a comma-delimited identity list, dropping empties.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
