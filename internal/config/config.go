// Package config handles chanmux configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// searchPathsFunc is indirected so tests can override the search order
// without touching the real filesystem outside a temp dir.
var searchPathsFunc = DefaultSearchPaths

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/chanmux/config.yaml, /config/config.yaml,
// /etc/chanmux/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "chanmux", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/chanmux/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches the configured search path and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all chanmux configuration.
type Config struct {
	Listen   ListenConfig  `yaml:"listen"`
	PeerID   string        `yaml:"peer_id"`
	Peers    []PeerConfig  `yaml:"peers"`
	Stdio    StdioConfig   `yaml:"stdio"`
	LogLevel string        `yaml:"log_level"`
	LogFmt   string        `yaml:"log_format"`
}

// ListenConfig defines the server's accept address. Transport is
// validated as "ws" or "tcp", but cmd/chanmuxd does not read it and
// serves WebSocket only; there is no raw TCP listener.
type ListenConfig struct {
	Address   string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port      int    `yaml:"port"`
	Transport string `yaml:"transport"` // "ws" or "tcp" (default: "ws")
}

// PeerConfig describes one outbound peer connection to dial and keep
// alive via connwatch.
type PeerConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// StdioConfig describes a child process to speak the protocol with
// over stdin/stdout instead of a network transport.
type StdioConfig struct {
	Enabled bool     `yaml:"enabled"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults (see applyDefaults), and validates the
// result. Fields without a default, such as PeerID, LogLevel and
// Listen.Address, may still be empty after Load returns.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}, ${CHANMUX_PEER_TOKEN}).
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value Listen.Port, Listen.Transport and
// LogFmt with defaults. Called automatically by Load. Other fields are
// left as they were.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 7890
	}
	if c.Listen.Transport == "" {
		c.Listen.Transport = "ws"
	}
	if c.LogFmt == "" {
		c.LogFmt = "text"
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Listen.Transport != "ws" && c.Listen.Transport != "tcp" {
		return fmt.Errorf("listen.transport %q must be \"ws\" or \"tcp\"", c.Listen.Transport)
	}
	for i, p := range c.Peers {
		if p.Name == "" {
			return fmt.Errorf("peers[%d].name must not be empty", i)
		}
		if p.URL == "" {
			return fmt.Errorf("peers[%d].url must not be empty", i)
		}
	}
	if c.Stdio.Enabled && c.Stdio.Command == "" {
		return fmt.Errorf("stdio.command must be set when stdio.enabled is true")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local
// development: listen on the default port, no peers configured.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
