// Package config loads pai-deps' runtime configuration from an optional
// TOML file layered under environment variables, which always win.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration for the registry process.
// Precedence: environment variables > config file > defaults.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Verify    VerifyConfig    `toml:"verify"`
	Log       LogConfig       `toml:"log"`
}

// StoreConfig controls where the SQLite registry file lives.
type StoreConfig struct {
	// Path to the registry database file, or ":memory:". Empty defers to
	// store.DefaultPath (PAI_DEPS_STORE_PATH env var, else XDG config dir).
	Path string `toml:"path"`
}

// DiscoveryConfig controls the default recursive manifest walk.
type DiscoveryConfig struct {
	Roots            []string `toml:"roots"`
	MaxDepth         int      `toml:"max_depth"`
	MaxEntriesPerDir int      `toml:"max_entries_per_dir"`
	RespectGitignore bool     `toml:"respect_gitignore"`
}

// VerifyConfig controls CLI/MCP verification deadlines and strictness.
type VerifyConfig struct {
	CLITimeoutSeconds int `toml:"cli_timeout_seconds"`
	MCPTimeoutSeconds int `toml:"mcp_timeout_seconds"`
	// StrictExtraMCPTools, when true, treats an MCP server reporting tools
	// beyond those declared in provides.mcp as a verification failure
	// rather than a reported warning.
	StrictExtraMCPTools bool `toml:"strict_extra_mcp_tools"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

const (
	defaultMaxDepth          = 10
	defaultMaxEntriesPerDir  = 1000
	defaultCLITimeoutSeconds = 10
	defaultMCPTimeoutSeconds = 10
)

// Load creates a Config by reading from a TOML config file and environment
// variables. Precedence: environment variables > config file > defaults.
//
// Config file search order (first found wins):
//  1. Path passed via configPath parameter (from --config flag)
//  2. PAI_DEPS_CONFIG environment variable
//  3. ./pai-deps.toml (current directory)
//  4. ~/.config/pai-deps/pai-deps.toml (XDG-style)
//
// All fields are optional in the config file. Environment variables always
// override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Discovery: DiscoveryConfig{
			MaxDepth:         defaultMaxDepth,
			MaxEntriesPerDir: defaultMaxEntriesPerDir,
			RespectGitignore: true,
		},
		Verify: VerifyConfig{
			CLITimeoutSeconds:   defaultCLITimeoutSeconds,
			MCPTimeoutSeconds:   defaultMCPTimeoutSeconds,
			StrictExtraMCPTools: false,
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	if err := cfg.loadFile(configPath); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile finds and parses the TOML config file. If no file is found,
// this is a no-op (config file is optional).
func (c *Config) loadFile(configPath string) error {
	path := resolveConfigPath(configPath)
	if path == "" {
		return nil
	}

	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	return nil
}

// resolveConfigPath determines which config file to use. Returns empty
// string if no config file is found (config file is optional).
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	if p := os.Getenv("PAI_DEPS_CONFIG"); p != "" {
		return p
	}

	if _, err := os.Stat("pai-deps.toml"); err == nil {
		return "pai-deps.toml"
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := home + "/.config/pai-deps/pai-deps.toml"
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// applyEnv overlays environment variables on top of existing config
// values. An env var only takes effect if it is non-empty.
func (c *Config) applyEnv() {
	envOverride("PAI_DEPS_STORE_PATH", &c.Store.Path)
	envOverride("PAI_DEPS_LOG_LEVEL", &c.Log.Level)

	if v := os.Getenv("PAI_DEPS_MAX_DEPTH"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Discovery.MaxDepth = n
		}
	}
	if v := os.Getenv("PAI_DEPS_MAX_ENTRIES_PER_DIR"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Discovery.MaxEntriesPerDir = n
		}
	}
	if v := os.Getenv("PAI_DEPS_RESPECT_GITIGNORE"); v != "" {
		c.Discovery.RespectGitignore = v == "true" || v == "1"
	}

	if v := os.Getenv("PAI_DEPS_CLI_TIMEOUT_SECONDS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Verify.CLITimeoutSeconds = n
		}
	}
	if v := os.Getenv("PAI_DEPS_MCP_TIMEOUT_SECONDS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Verify.MCPTimeoutSeconds = n
		}
	}
	if v := os.Getenv("PAI_DEPS_STRICT_EXTRA_MCP_TOOLS"); v != "" {
		c.Verify.StrictExtraMCPTools = v == "true" || v == "1"
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Discovery.MaxDepth <= 0 {
		return fmt.Errorf("discovery.max_depth must be positive, got %d", c.Discovery.MaxDepth)
	}
	if c.Discovery.MaxEntriesPerDir <= 0 {
		return fmt.Errorf("discovery.max_entries_per_dir must be positive, got %d", c.Discovery.MaxEntriesPerDir)
	}
	if c.Verify.CLITimeoutSeconds <= 0 {
		return fmt.Errorf("verify.cli_timeout_seconds must be positive, got %d", c.Verify.CLITimeoutSeconds)
	}
	if c.Verify.MCPTimeoutSeconds <= 0 {
		return fmt.Errorf("verify.mcp_timeout_seconds must be positive, got %d", c.Verify.MCPTimeoutSeconds)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q (must be debug, info, warn, or error)", c.Log.Level)
	}
	return nil
}

// envOverride sets *dst to the value of the named env var, if non-empty.
func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
