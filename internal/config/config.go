// Package config handles configuration parsing for helmsman.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marislab/helmsman/internal/pattern"
)

// DefaultConfigPath returns $XDG_CONFIG_HOME/helmsman/config.yaml or
// ~/.config/helmsman/config.yaml.
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "helmsman", "config.yaml")
}

// Config is the top-level configuration.
type Config struct {
	Session  SessionConfig  `yaml:"session"`
	Patterns PatternsConfig `yaml:"patterns"`
	Timing   TimingConfig   `yaml:"timing"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SessionConfig describes the shell to drive. An empty host selects a local
// PTY instead of SSH.
type SessionConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	KeyPath        string        `yaml:"key_path"`
	PassphraseEnv  string        `yaml:"passphrase_env"` // env var holding the key passphrase
	PasswordEnv    string        `yaml:"password_env"`   // env var holding the login/sudo password
	UseKeyring     bool          `yaml:"use_keyring"`    // fetch the password from the OS keyring
	UseAgent       bool          `yaml:"use_agent"`
	KnownHosts     string        `yaml:"known_hosts"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Debug          bool          `yaml:"debug"` // keep prompts in returned output
	// KnownPrompts are literal fragments recognized as shell prompts, for
	// containers with PS1 values the default patterns miss.
	KnownPrompts []string `yaml:"known_prompts"`
	// PreExecute commands run after every connect or reset.
	PreExecute []string `yaml:"pre_execute"`
}

// PatternsConfig overrides the built-in detection pattern lists. An empty
// list keeps the defaults for that category.
type PatternsConfig struct {
	Prompt      []string `yaml:"prompt"`
	Password    []string `yaml:"password"`
	Pager       []string `yaml:"pager"`
	Interactive []string `yaml:"interactive"`
	Progress    []string `yaml:"progress"`
}

// TimingConfig overrides detection loop delays; zero values keep defaults.
type TimingConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	Poll           time.Duration `yaml:"poll"`
	QuietProbe     time.Duration `yaml:"quiet_probe"`
	StreamWait     time.Duration `yaml:"stream_wait"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Sanitize bool   `yaml:"sanitize"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			Port:           22,
			ConnectTimeout: 10 * time.Second,
		},
		Timing: TimingConfig{
			DefaultTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
	}
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults so first runs work without setup.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate normalizes the configuration and rejects unusable values.
func (c *Config) Validate() error {
	if c.Session.Port == 0 {
		c.Session.Port = 22
	}
	if c.Session.ConnectTimeout == 0 {
		c.Session.ConnectTimeout = 10 * time.Second
	}
	if c.Session.Host != "" && c.Session.User == "" {
		return fmt.Errorf("session.user is required when session.host is set")
	}
	return nil
}

// Remote reports whether the session targets an SSH host.
func (c *Config) Remote() bool {
	return c.Session.Host != ""
}

// ApplyPatterns installs the configured overrides into a pattern set.
// Categories are replaced as a unit; a bad pattern leaves the previous list
// in place and fails the whole apply.
func (c *Config) ApplyPatterns(set *pattern.Set) error {
	overrides := map[pattern.Category][]string{
		pattern.CategoryPrompt:      c.Patterns.Prompt,
		pattern.CategoryPassword:    c.Patterns.Password,
		pattern.CategoryPager:       c.Patterns.Pager,
		pattern.CategoryInteractive: c.Patterns.Interactive,
		pattern.CategoryProgress:    c.Patterns.Progress,
	}
	for cat, patterns := range overrides {
		if len(patterns) == 0 {
			continue
		}
		if err := set.Set(cat, patterns); err != nil {
			return fmt.Errorf("patterns.%s: %w", cat, err)
		}
	}
	return nil
}

// Save writes the configuration to a YAML file, creating the directory.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
