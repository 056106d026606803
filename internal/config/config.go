// Package config provides configuration loading and defaults for the tallybot
// Discord bot.
//
// Configuration is loaded from a TOML file in the bot's data directory and
// covers the command surface, the session store, logging and the update
// check. Secrets never live in the TOML file; see [LoadCredentials].
package config

//go:generate go run ../../cmd/genconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/tallybot/internal/atomicfile"
	"tools.zach/dev/tallybot/internal/paths"
)

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level bot configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version int `toml:"version"`
	// Discord holds gateway connection settings.
	Discord DiscordConfig `toml:"discord"`
	// Commands holds the chat command surface settings.
	Commands CommandsConfig `toml:"commands"`
	// Store holds session store settings.
	Store StoreConfig `toml:"store"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
	// Update holds release check settings.
	Update UpdateConfig `toml:"update"`
}

// DiscordConfig holds gateway connection settings.
type DiscordConfig struct {
	// Status is the "playing" line shown under the bot's name; empty disables it.
	Status string `toml:"status"`
	// ConnectAttempts is how many times the gateway connection is tried at startup.
	ConnectAttempts int `toml:"connect_attempts"`
	// ReconnectIntervalSeconds is the pause between connection attempts.
	ReconnectIntervalSeconds int `toml:"reconnect_interval_seconds"`
	// RESTRetryMax is the retry budget for Discord REST calls.
	RESTRetryMax int `toml:"rest_retry_max"`
}

// CommandsConfig holds the chat command surface settings.
type CommandsConfig struct {
	// Prefix starts every command, e.g. "!!" in "!!op>1+1".
	Prefix string `toml:"prefix"`
	// AllowedChannels lists glob patterns of channel names where commands are
	// accepted. Empty accepts every channel.
	AllowedChannels []string `toml:"allowed_channels"`
	// IgnoredChannels lists glob patterns of channel names that are never served.
	IgnoredChannels []string `toml:"ignored_channels"`
	// AllowDirectMessages enables commands sent in DMs.
	AllowDirectMessages bool `toml:"allow_direct_messages"`
}

// StoreConfig holds session store settings.
type StoreConfig struct {
	// Backend selects the store: "mongo" or "memory".
	Backend string `toml:"backend"`
	// Database is the MongoDB database name (MONGODB_DATABASE overrides it).
	Database string `toml:"database"`
	// Collection is the MongoDB collection holding session documents.
	Collection string `toml:"collection"`
	// TimeoutSeconds bounds each command's store calls.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// EnsureIndexes creates the query indexes at startup.
	EnsureIndexes bool `toml:"ensure_indexes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
	// Console mirrors log lines to stderr.
	Console bool `toml:"console"`
}

// UpdateConfig holds release check settings.
type UpdateConfig struct {
	// Check enables the startup release check.
	Check bool `toml:"check"`
	// ManifestURL is the release manifest location; empty skips the check.
	ManifestURL string `toml:"manifest_url,omitempty"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Migrations.CurrentVersion,
		Discord: DiscordConfig{
			Status:                   "!!help>",
			ConnectAttempts:          10,
			ReconnectIntervalSeconds: 15,
			RESTRetryMax:             3,
		},
		Commands: CommandsConfig{
			Prefix:              "!!",
			AllowedChannels:     []string{},
			IgnoredChannels:     []string{},
			AllowDirectMessages: true,
		},
		Store: StoreConfig{
			Backend:        "mongo",
			Database:       "tallybot",
			Collection:     "sessions",
			TimeoutSeconds: 10,
			EnsureIndexes:  true,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
			Console:   false,
		},
		Update: UpdateConfig{
			Check: true,
		},
	}
}

// ExampleConfig returns a Config suitable for generating config.default.toml.
func ExampleConfig() *Config {
	return DefaultConfig()
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil || v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses dataDir/config.toml, migrating older files in
// place (the original is kept as config.toml.bak). A missing file yields
// DefaultConfig.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	migrated := false
	if version := PeekVersion(data); Migrations.NeedsMigration(version) {
		if backupErr := os.WriteFile(path+".bak", data, 0o644); backupErr != nil {
			slog.Warn("failed to write config backup", "error", backupErr)
		}
		data, _, err = Migrations.Run(data, version)
		if err != nil {
			return nil, fmt.Errorf("migrate config: %w", err)
		}
		migrated = true
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if migrated {
		if err := cfg.Save(path); err != nil {
			slog.Warn("failed to save migrated config", "error", err)
		}
	}
	return cfg, nil
}

// Parse decodes data over DefaultConfig and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Version = Migrations.CurrentVersion
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	prefix := c.Commands.Prefix
	if prefix == "" || strings.ContainsAny(prefix, " \t\n>") {
		return fmt.Errorf("invalid commands.prefix %q: must be non-empty without spaces or '>'", prefix)
	}

	for _, p := range append(append([]string{}, c.Commands.AllowedChannels...), c.Commands.IgnoredChannels...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid channel pattern %q", p)
		}
	}

	switch c.Store.Backend {
	case "mongo", "memory":
	default:
		return fmt.Errorf("invalid store.backend %q: must be mongo or memory", c.Store.Backend)
	}

	if c.Store.Backend == "mongo" && c.Store.Collection == "" {
		return errors.New("store.collection must not be empty")
	}

	if c.Store.TimeoutSeconds <= 0 {
		return fmt.Errorf("store.timeout_seconds must be > 0, got %d", c.Store.TimeoutSeconds)
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}

	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}

	if c.Discord.ConnectAttempts <= 0 {
		return fmt.Errorf("discord.connect_attempts must be > 0, got %d", c.Discord.ConnectAttempts)
	}

	if c.Discord.ReconnectIntervalSeconds <= 0 {
		return fmt.Errorf("discord.reconnect_interval_seconds must be > 0, got %d", c.Discord.ReconnectIntervalSeconds)
	}

	if c.Discord.RESTRetryMax < 0 {
		return fmt.Errorf("discord.rest_retry_max must be >= 0, got %d", c.Discord.RESTRetryMax)
	}

	return nil
}

// ///////////////////////////////////////////////
// Accessors
// ///////////////////////////////////////////////

// StoreTimeout returns the per-command store deadline.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Store.TimeoutSeconds) * time.Second
}

// ReconnectInterval returns the pause between gateway connection attempts.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Discord.ReconnectIntervalSeconds) * time.Second
}

// ///////////////////////////////////////////////
// Channel Filters
// ///////////////////////////////////////////////

// ChannelAllowed reports whether commands are served in the named channel.
// Ignore patterns win over allow patterns; an empty allow list admits all.
func (c *CommandsConfig) ChannelAllowed(channel string) bool {
	if matchAny(c.IgnoredChannels, channel) {
		return false
	}
	if len(c.AllowedChannels) == 0 {
		return true
	}
	return matchAny(c.AllowedChannels, channel)
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		matched, err := doublestar.Match(pattern, name)
		if err != nil {
			slog.Warn("invalid glob pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
