// Package config provides configuration file support for the motion control plane.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/fsutil"
)

// Config represents the motion configuration.
type Config struct {
	PrimaryStorageDownloadWait time.Duration `yaml:"primary_storage_download_wait"`
	StoragePoolMaxWait         time.Duration `yaml:"storage_pool_max_wait"`
	KVMOfflineMigrationWait    time.Duration `yaml:"kvm_offline_migration_wait"`
	KVMOnlineMigrationWait     time.Duration `yaml:"kvm_online_migration_wait"`
	KVMAutoConvergence         bool          `yaml:"kvm_auto_convergence"`
	ExecuteInSequence          bool          `yaml:"execute_in_sequence"`
	LockWait                   time.Duration `yaml:"lock_wait"`

	Agent   AgentConfig   `yaml:"agent"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Audit   AuditConfig   `yaml:"audit"`
	Store   StoreConfig   `yaml:"store"`
}

// AgentConfig configures the HTTP agent gateway.
type AgentConfig struct {
	Secret string `yaml:"secret,omitempty"`
	// TimeoutGrace is added to each command's own wait to bound the round trip.
	TimeoutGrace time.Duration `yaml:"timeout_grace"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Path string `yaml:"path,omitempty"`
}

// StoreConfig configures the record store. ":memory:" keeps it in process.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		PrimaryStorageDownloadWait: 10800 * time.Second,
		StoragePoolMaxWait:         3600 * time.Second,
		KVMOfflineMigrationWait:    10800 * time.Second,
		KVMOnlineMigrationWait:     10800 * time.Second,
		LockWait:                   300 * time.Second,
		Agent: AgentConfig{
			TimeoutGrace: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "motion",
		},
		Store: StoreConfig{
			Path: ":memory:",
		},
	}
}

// Validate checks that every wait is positive and enumerations are known.
func (c *Config) Validate() error {
	waits := map[string]time.Duration{
		"primary_storage_download_wait": c.PrimaryStorageDownloadWait,
		"storage_pool_max_wait":         c.StoragePoolMaxWait,
		"kvm_offline_migration_wait":    c.KVMOfflineMigrationWait,
		"kvm_online_migration_wait":     c.KVMOnlineMigrationWait,
		"lock_wait":                     c.LockWait,
	}
	for name, d := range waits {
		if d <= 0 {
			return errclass.ErrConfigInvalid.WithMessagef("%s must be positive, got %s", name, d)
		}
	}
	if c.Agent.TimeoutGrace < 0 {
		return errclass.ErrConfigInvalid.WithMessage("agent.timeout_grace must not be negative")
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return errclass.ErrConfigInvalid.WithMessagef("logging.format %q is not json or text", c.Logging.Format)
	}
	return nil
}

// Load loads configuration from path.
// Returns default config if file doesn't exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil // No config file is OK, use defaults
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to path.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := fsutil.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}
