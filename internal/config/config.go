// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"leveraged/internal/trading/leveraged"
	"leveraged/internal/trading/pricing"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	System      SystemConfig      `yaml:"system"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Simulation  SimulationConfig  `yaml:"simulation"`
	Strategies  []StrategyConfig  `yaml:"strategies"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name    string `yaml:"name"`
	StateDB string `yaml:"state_db"` // SQLite path, empty keeps snapshots in memory
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	PoolSize   int `yaml:"pool_size"`
	PoolBuffer int `yaml:"pool_buffer"`
}

// SimulationConfig drives the paper simulation
type SimulationConfig struct {
	PricesFile     string  `yaml:"prices_file"`     // CSV with one price per row, empty for a synthetic walk
	SyntheticSteps int     `yaml:"synthetic_steps"` // length of the synthetic walk
	Volatility     float64 `yaml:"volatility"`      // per-step relative standard deviation
	Seed           int64   `yaml:"seed"`
	IdleRate       float64 `yaml:"idle_rate"` // idle ticks per second, 0 disables throttling
}

// InitialBalance is the paper account a strategy starts with
type InitialBalance struct {
	Assets   float64 `yaml:"assets"`
	Currency float64 `yaml:"currency"`
	Price    float64 `yaml:"price"`
}

// StrategyConfig configures one trader
type StrategyConfig struct {
	Symbol     string               `yaml:"symbol"`
	Broker     string               `yaml:"broker"`
	Wallet     string               `yaml:"wallet"`
	Calculator string               `yaml:"calculator"`
	Market     leveraged.MarketInfo `yaml:"market"`
	Initial    InitialBalance       `yaml:"initial"`
	Params     leveraged.Config     `yaml:"params"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates YAML configuration
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "leveraged"
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.Concurrency.PoolSize == 0 {
		c.Concurrency.PoolSize = 4
	}
	if c.Concurrency.PoolBuffer == 0 {
		c.Concurrency.PoolBuffer = 64
	}
	if c.Simulation.SyntheticSteps == 0 {
		c.Simulation.SyntheticSteps = 500
	}
	if c.Simulation.Volatility == 0 {
		c.Simulation.Volatility = 0.01
	}
	for i := range c.Strategies {
		s := &c.Strategies[i]
		if s.Broker == "" {
			s.Broker = "paper"
		}
		if s.Wallet == "" {
			s.Wallet = "default"
		}
		if s.Calculator == "" {
			s.Calculator = pricing.LinearName
		}
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateTelemetryConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateConcurrencyConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateSimulationConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	errors = append(errors, c.validateStrategies()...)

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateTelemetryConfig() error {
	if c.Telemetry.EnableMetrics && (c.Telemetry.MetricsPort <= 0 || c.Telemetry.MetricsPort > 65535) {
		return ValidationError{
			Field:   "telemetry.metrics_port",
			Value:   c.Telemetry.MetricsPort,
			Message: "must be a valid port when metrics are enabled",
		}
	}
	return nil
}

func (c *Config) validateConcurrencyConfig() error {
	if c.Concurrency.PoolSize < 1 || c.Concurrency.PoolSize > 100 {
		return ValidationError{
			Field:   "concurrency.pool_size",
			Value:   c.Concurrency.PoolSize,
			Message: "must be between 1 and 100",
		}
	}
	if c.Concurrency.PoolBuffer < 1 {
		return ValidationError{
			Field:   "concurrency.pool_buffer",
			Value:   c.Concurrency.PoolBuffer,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateSimulationConfig() error {
	sim := c.Simulation
	if sim.SyntheticSteps < 0 {
		return ValidationError{Field: "simulation.synthetic_steps", Value: sim.SyntheticSteps, Message: "must not be negative"}
	}
	if sim.Volatility < 0 || sim.Volatility >= 1 {
		return ValidationError{Field: "simulation.volatility", Value: sim.Volatility, Message: "must be within [0, 1)"}
	}
	if sim.IdleRate < 0 {
		return ValidationError{Field: "simulation.idle_rate", Value: sim.IdleRate, Message: "must not be negative"}
	}
	return nil
}

func (c *Config) validateStrategies() []string {
	if len(c.Strategies) == 0 {
		return []string{ValidationError{
			Field:   "strategies",
			Message: "at least one strategy must be configured",
		}.Error()}
	}

	var errors []string
	seen := make(map[string]bool)
	for i, s := range c.Strategies {
		prefix := fmt.Sprintf("strategies[%d]", i)
		if s.Symbol == "" {
			errors = append(errors, ValidationError{Field: prefix + ".symbol", Message: "symbol is required"}.Error())
		} else if seen[s.Symbol] {
			errors = append(errors, ValidationError{Field: prefix + ".symbol", Value: s.Symbol, Message: "duplicate symbol"}.Error())
		}
		seen[s.Symbol] = true

		if _, err := pricing.New(s.Calculator); err != nil {
			errors = append(errors, ValidationError{
				Field:   prefix + ".calculator",
				Value:   s.Calculator,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(pricing.Names(), ", ")),
			}.Error())
		}
		if s.Initial.Price <= 0 {
			errors = append(errors, ValidationError{Field: prefix + ".initial.price", Value: s.Initial.Price, Message: "must be positive"}.Error())
		}
		if s.Initial.Assets < 0 && !s.Market.Leveraged {
			errors = append(errors, ValidationError{Field: prefix + ".initial.assets", Value: s.Initial.Assets, Message: "spot assets must not be negative"}.Error())
		}
		if s.Initial.Currency < 0 {
			errors = append(errors, ValidationError{Field: prefix + ".initial.currency", Value: s.Initial.Currency, Message: "must not be negative"}.Error())
		}
		if s.Market.Fees < 0 || s.Market.Fees >= 1 {
			errors = append(errors, ValidationError{Field: prefix + ".market.fees", Value: s.Market.Fees, Message: "must be within [0, 1)"}.Error())
		}
		if err := s.Params.Validate(); err != nil {
			errors = append(errors, ValidationError{Field: prefix + ".params", Message: err.Error()}.Error())
		}
	}
	return errors
}

// String returns a YAML representation of the configuration
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
