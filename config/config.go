// Package config holds runtime configuration for the badge session and
// mount, with documented defaults and optional file-based overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/badgeteam/badgefs/internal/util"
	"gopkg.in/yaml.v3"
)

// Default configuration constants. See [Config] for field descriptions.
const (
	// DefaultRequestTimeout matches the device firmware's worst observed
	// response latency with comfortable margin.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultHeartbeatInterval is how often the keepalive is sent. The
	// badge drops the session when it hears nothing for about a second.
	DefaultHeartbeatInterval = 250 * time.Millisecond

	// DefaultConsoleBacklog is the number of console output chunks
	// buffered before the oldest are dropped.
	DefaultConsoleBacklog = 1024

	// DefaultConsolePollInterval is how often the filesystem adapter
	// re-checks the console for output while a read waits.
	DefaultConsolePollInterval = 20 * time.Millisecond

	// DefaultAttrTimeout is the kernel attribute cache timeout in seconds
	DefaultAttrTimeout = 1.0

	// DefaultEntryTimeout is the kernel directory entry cache timeout in seconds
	DefaultEntryTimeout = 1.0

	DefaultFsName = "badgefs"
	DefaultName   = "badge"
)

// MountOptions holds high-level settings for mounting.
// No go-fuse types are exposed here.
type MountOptions struct {
	Debug  bool   // fuse debug logs
	FsName string // mount's FsName
	Name   string // mount's Name
}

// Config contains runtime configuration values for the badge filesystem.
type Config struct {
	MountOptions MountOptions

	LogLvl util.LogLevel // Global log level

	RequestTimeout      time.Duration // How long to wait for a device response (Default 10s)
	HeartbeatInterval   time.Duration // Keepalive period; 0 disables the keepalive (Default 250ms)
	ConsoleBacklog      int           // Console output chunks buffered before dropping (Default 1024)
	ConsolePollInterval time.Duration // Adapter console read poll period (Default 20ms)

	// NOTE: Low-level FUSE config (defaults are fine unless you really
	// know what you're doing):

	AttrTimeout  float64 // Attribute cache timeout in seconds (Default 1.0)
	EntryTimeout float64 // Directory entry cache timeout in seconds (Default 1.0)
}

// Override uses pointer fields to distinguish between unset and zero values
// when loading partial configuration. See [Config] for field descriptions.
// Durations are expressed in milliseconds in override files.
type Override struct {
	Debug  *bool   `yaml:"debug,omitempty" json:"debug,omitempty"`
	FsName *string `yaml:"fs_name,omitempty" json:"fs_name,omitempty"`
	Name   *string `yaml:"name,omitempty" json:"name,omitempty"`

	LogLvl *util.LogLevel `yaml:"log_level,omitempty" json:"log_level,omitempty"`

	RequestTimeoutMs      *int `yaml:"request_timeout_ms,omitempty" json:"request_timeout_ms,omitempty"`
	HeartbeatIntervalMs   *int `yaml:"heartbeat_interval_ms,omitempty" json:"heartbeat_interval_ms,omitempty"`
	ConsoleBacklog        *int `yaml:"console_backlog,omitempty" json:"console_backlog,omitempty"`
	ConsolePollIntervalMs *int `yaml:"console_poll_interval_ms,omitempty" json:"console_poll_interval_ms,omitempty"`

	AttrTimeout  *float64 `yaml:"attr_timeout,omitempty" json:"attr_timeout,omitempty"`
	EntryTimeout *float64 `yaml:"entry_timeout,omitempty" json:"entry_timeout,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		MountOptions: MountOptions{
			FsName: DefaultFsName,
			Name:   DefaultName,
		},
		LogLvl:              util.InfoLevel,
		RequestTimeout:      DefaultRequestTimeout,
		HeartbeatInterval:   DefaultHeartbeatInterval,
		ConsoleBacklog:      DefaultConsoleBacklog,
		ConsolePollInterval: DefaultConsolePollInterval,
		AttrTimeout:         DefaultAttrTimeout,
		EntryTimeout:        DefaultEntryTimeout,
	}
}

// NewConfig creates a Config from defaults with the (possibly nil)
// override applied on top.
func NewConfig(override *Override) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *Override) {
	if override.Debug != nil {
		c.MountOptions.Debug = *override.Debug
	}
	if override.FsName != nil {
		c.MountOptions.FsName = *override.FsName
	}
	if override.Name != nil {
		c.MountOptions.Name = *override.Name
	}
	if override.LogLvl != nil {
		c.LogLvl = *override.LogLvl
	}
	if override.RequestTimeoutMs != nil {
		c.RequestTimeout = time.Duration(*override.RequestTimeoutMs) * time.Millisecond
	}
	if override.HeartbeatIntervalMs != nil {
		c.HeartbeatInterval = time.Duration(*override.HeartbeatIntervalMs) * time.Millisecond
	}
	if override.ConsoleBacklog != nil {
		c.ConsoleBacklog = *override.ConsoleBacklog
	}
	if override.ConsolePollIntervalMs != nil {
		c.ConsolePollInterval = time.Duration(*override.ConsolePollIntervalMs) * time.Millisecond
	}
	if override.AttrTimeout != nil {
		c.AttrTimeout = *override.AttrTimeout
	}
	if override.EntryTimeout != nil {
		c.EntryTimeout = *override.EntryTimeout
	}
}

// LoadOverrideFile loads configuration overrides from a file without merging.
// Supports both YAML (.yaml, .yml) and JSON (.json) formats.
func LoadOverrideFile(path string) (*Override, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override Override

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
func NewConfigFromFile(path string) (*Config, error) {
	override, err := LoadOverrideFile(path)
	if err != nil {
		return nil, err
	}
	return NewConfig(override), nil
}
