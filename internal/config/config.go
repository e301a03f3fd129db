// Package config loads the supervisor configuration. Defaults are
// filled first and the yaml file, when present, overrides them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	State     StateConfig     `yaml:"state"`
	Actions   ActionsConfig   `yaml:"actions"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

type DiscoveryConfig struct {
	ClaudeRoot     string        `yaml:"claude_root"`
	OpenClawRoot   string        `yaml:"openclaw_root"`
	ClaudeWindow   time.Duration `yaml:"claude_window"`
	OpenClawWindow time.Duration `yaml:"openclaw_window"`
}

type ReconcileConfig struct {
	FullInterval    time.Duration `yaml:"full_interval"`
	FastInterval    time.Duration `yaml:"fast_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type StateConfig struct {
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	StaleProjectTTL   time.Duration `yaml:"stale_project_ttl"`
	StaleBlockedTTL   time.Duration `yaml:"stale_blocked_ttl"`
	CompletedCapacity int           `yaml:"completed_capacity"`
	CompletedTTL      time.Duration `yaml:"completed_ttl"`
}

type ActionsConfig struct {
	// Opener launches a terminal or editor at a project path. The
	// project path is appended as the final argument.
	Opener []string `yaml:"opener"`
}

func defaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Port: 4242,
			Host: "127.0.0.1",
		},
		Discovery: DiscoveryConfig{
			ClaudeRoot:     filepath.Join(home, ".claude", "projects"),
			OpenClawRoot:   filepath.Join(home, ".openclaw", "agents"),
			ClaudeWindow:   5 * time.Minute,
			OpenClawWindow: 30 * time.Minute,
		},
		Reconcile: ReconcileConfig{
			FullInterval:    5 * time.Second,
			FastInterval:    3 * time.Second,
			CleanupInterval: 5 * time.Minute,
		},
		State: StateConfig{
			IdleTimeout:       2 * time.Minute,
			StaleProjectTTL:   30 * time.Minute,
			StaleBlockedTTL:   5 * time.Minute,
			CompletedCapacity: 20,
			CompletedTTL:      5 * time.Minute,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads the config at path, falling back to the defaults
// when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return cfg, err
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Reconcile.FullInterval <= 0 || c.Reconcile.FastInterval <= 0 {
		return fmt.Errorf("reconcile intervals must be positive")
	}
	if c.Discovery.ClaudeWindow <= 0 || c.Discovery.OpenClawWindow <= 0 {
		return fmt.Errorf("discovery windows must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
