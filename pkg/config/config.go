package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fedbroker/fedbroker/pkg/broker"
	"github.com/fedbroker/fedbroker/pkg/telemetry"
)

// Config is the broker's full configuration, loaded from one YAML file.
type Config struct {
	// ProviderID is this broker's federation member id. Every order and
	// federation envelope carries provider ids from this namespace.
	ProviderID string `yaml:"provider_id" validate:"required"`

	// Federation configures the provider-to-provider transport.
	Federation FederationConfig `yaml:"federation"`

	// Store configures order persistence.
	Store StoreConfig `yaml:"store"`

	// Processors configures the background scan intervals.
	Processors ProcessorsConfig `yaml:"processors"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// FederationConfig configures the federation transport.
type FederationConfig struct {
	// NATSURL is the NATS server the federation members share.
	NATSURL string `yaml:"nats_url" validate:"required"`

	// RequestTimeout bounds every outbound federation RPC.
	RequestTimeout telemetry.Duration `yaml:"request_timeout"`
}

// StoreConfig configures order persistence.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" validate:"required"`
}

// ProcessorsConfig configures the per-processor scan intervals.
type ProcessorsConfig struct {
	Open         telemetry.Duration `yaml:"open"`
	Spawning     telemetry.Duration `yaml:"spawning"`
	Fulfilled    telemetry.Duration `yaml:"fulfilled"`
	Deactivation telemetry.Duration `yaml:"deactivation"`
}

// Intervals converts the configured values into processor intervals.
func (p ProcessorsConfig) Intervals() broker.ProcessorIntervals {
	return broker.ProcessorIntervals{
		Open:         time.Duration(p.Open),
		Spawning:     time.Duration(p.Spawning),
		Fulfilled:    time.Duration(p.Fulfilled),
		Deactivation: time.Duration(p.Deactivation),
	}
}

// Default returns a configuration with every optional field at its default.
// ProviderID has no default; a broker must know who it is.
func Default() Config {
	intervals := broker.DefaultProcessorIntervals()
	return Config{
		Federation: FederationConfig{
			NATSURL:        "nats://localhost:4222",
			RequestTimeout: telemetry.Duration(10 * time.Second),
		},
		Store: StoreConfig{
			Path: "fedbroker.db",
		},
		Processors: ProcessorsConfig{
			Open:         telemetry.Duration(intervals.Open),
			Spawning:     telemetry.Duration(intervals.Spawning),
			Fulfilled:    telemetry.Duration(intervals.Fulfilled),
			Deactivation: telemetry.Duration(intervals.Deactivation),
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads and validates the configuration file, filling unset fields
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Federation.RequestTimeout <= 0 {
		return fmt.Errorf("invalid configuration: federation request_timeout must be positive")
	}
	for name, interval := range map[string]telemetry.Duration{
		"open":         c.Processors.Open,
		"spawning":     c.Processors.Spawning,
		"fulfilled":    c.Processors.Fulfilled,
		"deactivation": c.Processors.Deactivation,
	} {
		if interval <= 0 {
			return fmt.Errorf("invalid configuration: processor interval %s must be positive", name)
		}
	}
	return c.Telemetry.Validate()
}
