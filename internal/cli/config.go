package cli

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration file for the quizstore CLI.
type Config struct {
	// Database is the path to the structured SQLite store.
	Database string `yaml:"database"`
	// Flat is the path to the legacy flat key-value store.
	Flat string `yaml:"flat"`
	// Relay is the endpoint outbox items are pushed to.
	Relay RelayConfig `yaml:"relay"`
}

// RelayConfig configures the sync consumer.
type RelayConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultSyncInterval is used when the config omits relay.interval.
const DefaultSyncInterval = 30 * time.Second

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Relay.Interval <= 0 {
		cfg.Relay.Interval = DefaultSyncInterval
	}
	return &cfg, nil
}
