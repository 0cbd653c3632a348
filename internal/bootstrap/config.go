package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"leveraged/internal/config"
)

// Config is an alias for the project's main configuration struct
type Config = config.Config

// LoadConfig delegates to the project's config loader
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *Config) error {
	if cfg.App.StateDB != "" {
		dir := filepath.Dir(cfg.App.StateDB)
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("state_db directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("state_db directory %s is not a directory", dir)
		}
	}

	if cfg.Simulation.PricesFile != "" {
		info, err := os.Stat(cfg.Simulation.PricesFile)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("prices_file not found: %s", cfg.Simulation.PricesFile)
			}
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("prices_file %s is a directory", cfg.Simulation.PricesFile)
		}
	}

	return nil
}
