package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration. This
// is the entry point every cmd/* main calls.
//
// Steps performed:
//  1. Load a .env overlay from configDir (if present) into the process env.
//  2. Load kenny.yaml, starting from Default() so unspecified sections keep
//     their baseline values.
//  3. Expand ${VAR}/$VAR references in the YAML using the now-overlaid env.
//  4. Validate all configuration.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	if err := loadDotEnv(configDir); err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.configDir = configDir

	path := filepath.Join(configDir, "kenny.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("kenny.yaml not found, using defaults", "path", path)
		} else {
			return nil, NewLoadError("kenny.yaml", err)
		}
	} else {
		data = ExpandEnv(data)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, NewLoadError("kenny.yaml", fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
	}
	cfg.configDir = configDir

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized",
		"egress_allowlist_size", stats.EgressAllowlistSize,
		"cache_l1_capacity", stats.CacheL1Capacity,
		"coord_fanout_max", stats.CoordFanoutMax,
		"gateway_inflight_max", stats.GatewayInflightMax)

	return cfg, nil
}

// loadDotEnv loads <configDir>/.env into the process environment without
// overriding variables already set (operator-provided env wins over the
// file), mirroring the teacher's bootstrap convention for local dev.
func loadDotEnv(configDir string) error {
	path := filepath.Join(configDir, ".env")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}
