// Package config loads and validates orchestrator configuration.
//
// Configuration comes from a YAML file plus OCRBATCH_-prefixed environment
// variables. Secrets (the remote-service API key) are never read from the
// file; they arrive via environment only.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration errors that are fatal at startup.
var ErrInvalid = errors.New("invalid configuration")

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("filters", defaults.Filters)
	viper.SetDefault("execution", defaults.Execution)
	viper.SetDefault("model", defaults.Model)
	viper.SetDefault("batch", defaults.Batch)
	viper.SetDefault("files", defaults.Files)
	viper.SetDefault("prompt", defaults.Prompt)
	viper.SetDefault("database", defaults.Database)
	viper.SetDefault("sink", defaults.Sink)

	// Environment variables with OCRBATCH_ prefix
	viper.SetEnvPrefix("OCRBATCH")
	viper.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.ocrbatch")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("%w: reading config file: %v", ErrInvalid, err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrInvalid, err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// Validate checks that required fields are set and bounds are sane.
// A non-nil error wraps ErrInvalid.
func (c *Config) Validate() error {
	if c.Paths.LabelSourceDir == "" {
		return fmt.Errorf("%w: paths.label_source_dir is required", ErrInvalid)
	}
	if c.Paths.ImageSourceDir == "" {
		return fmt.Errorf("%w: paths.image_source_dir is required", ErrInvalid)
	}
	if c.Paths.OutputDir == "" {
		return fmt.Errorf("%w: paths.output_dir is required", ErrInvalid)
	}
	if c.Execution.MaxRetries < 0 {
		return fmt.Errorf("%w: execution.max_retries must be >= 0", ErrInvalid)
	}
	if c.Execution.BatchSizeLimit <= 0 {
		return fmt.Errorf("%w: execution.batch_size_limit must be > 0", ErrInvalid)
	}
	if c.Execution.MaxConcurrentBatches <= 0 {
		return fmt.Errorf("%w: execution.max_concurrent_batches must be > 0", ErrInvalid)
	}
	if c.Filters.TargetYears.Start != 0 && c.Filters.TargetYears.End != 0 &&
		c.Filters.TargetYears.Start > c.Filters.TargetYears.End {
		return fmt.Errorf("%w: filters.target_years start > end", ErrInvalid)
	}
	if c.Batch.PollIntervalSeconds <= 0 {
		return fmt.Errorf("%w: batch.poll_interval_seconds must be > 0", ErrInvalid)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("%w: model.name is required", ErrInvalid)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrInvalid)
	}
	return nil
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# OCR batch orchestrator configuration
# The Gemini API key is read from the GEMINI_API_KEY environment variable,
# never from this file.

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
