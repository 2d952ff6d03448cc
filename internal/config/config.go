// Package config loads the YAML configuration of the ability server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	// Enabled turns snapshot persistence on.
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Server holds all configuration for the ability server.
type Server struct {
	LogLevel string `yaml:"log_level"` // debug|info|warn|error

	// Simulation
	TickInterval    time.Duration `yaml:"tick_interval"`
	DefinitionsPath string        `yaml:"definitions_path"`

	// Prometheus listener, empty disables
	MetricsAddr string `yaml:"metrics_addr"`

	// Persistence
	Database         DatabaseConfig `yaml:"database"`
	SnapshotInterval time.Duration  `yaml:"snapshot_interval"`
}

// DefaultServer returns Server config with sensible defaults.
func DefaultServer() Server {
	return Server{
		LogLevel:         "info",
		TickInterval:     50 * time.Millisecond, // 20 Hz
		DefinitionsPath:  "definitions.yaml",
		MetricsAddr:      ":9090",
		SnapshotInterval: 30 * time.Second,
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "abilitycore",
			Password: "abilitycore",
			DBName:   "abilitycore",
			SSLMode:  "disable",
		},
	}
}

// LoadServer loads server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (s Server) Validate() error {
	if s.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", s.TickInterval)
	}
	if s.DefinitionsPath == "" {
		return fmt.Errorf("definitions_path is required")
	}
	if s.Database.Enabled && s.SnapshotInterval <= 0 {
		return fmt.Errorf("snapshot_interval must be positive when the database is enabled")
	}
	switch s.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", s.LogLevel)
	}
	return nil
}
