package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file kept in the state root.
const FileName = "nxc.yaml"

const (
	DefaultWorkspace = "default"
	DefaultLogLevel  = "warn"
	DefaultLogFormat = "console"
	DefaultThreads   = 64
	DefaultTimeout   = 3 // seconds
)

// Config holds the user settings stored in <state root>/nxc.yaml
type Config struct {
	Workspace string `yaml:"workspace"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // console or json
	Threads   int    `yaml:"threads"`
	Timeout   int    `yaml:"timeout"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Workspace: DefaultWorkspace,
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		Threads:   DefaultThreads,
		Timeout:   DefaultTimeout,
	}
}

// Load reads and parses config from the given path. Unset fields take their
// defaults. If the file doesn't exist, returns an error matching
// fs.ErrNotExist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func (c *Config) applyDefaults() {
	d := Default()
	if strings.TrimSpace(c.Workspace) == "" {
		c.Workspace = d.Workspace
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.Threads <= 0 {
		c.Threads = d.Threads
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
}

// Validate rejects values the tool cannot act on.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level %q: %w", c.LogLevel, err)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format %q: want console or json", c.LogFormat)
	}
	if strings.ContainsAny(c.Workspace, `/\`) || c.Workspace == "." || c.Workspace == ".." {
		return fmt.Errorf("workspace %q: must be a plain name", c.Workspace)
	}
	return nil
}

// Save writes the config to path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
