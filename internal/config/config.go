// ABOUTME: Configuration loading and parsing for dockhand
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete dockhand configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Vault    VaultConfig    `yaml:"vault"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Probe    ProbeConfig    `yaml:"probe"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration. BaseURL is the externally
// reachable URL OAuth providers redirect back to; it defaults to
// http://<http_addr> for local setups.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	BaseURL  string `yaml:"base_url"`
}

// DatabaseConfig holds database configuration. The path can be overridden
// with the DOCKHAND_DB environment variable at load time.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds API token configuration. The same secret signs API
// bearer tokens and OAuth state parameters.
type AuthConfig struct {
	APISecret string `yaml:"api_secret"`

	TokenTTL    time.Duration `yaml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl"`
}

// VaultConfig holds the token vault key (base64, 32 bytes decoded)
type VaultConfig struct {
	Key string `yaml:"key"`
}

// CatalogConfig optionally points at a server definition file. When the
// path is empty the embedded default set is used.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// ProbeConfig holds capability probe timing
type ProbeConfig struct {
	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded
// before parsing, and duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills derivable fields. DOCKHAND_DB overrides the database
// path so the migrate command can target a deployment store without a
// config edit.
func (c *Config) applyDefaults() {
	if envPath := os.Getenv("DOCKHAND_DB"); envPath != "" {
		c.Database.Path = envPath
	}
	if c.Server.BaseURL == "" && c.Server.HTTPAddr != "" {
		c.Server.BaseURL = "http://" + c.Server.HTTPAddr
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 30 * 24 * time.Hour
	}
	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = 10 * time.Second
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.APISecret == "" {
		return fmt.Errorf("auth.api_secret is required")
	}
	if c.Vault.Key == "" {
		return fmt.Errorf("vault.key is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	if cfg.Probe.TimeoutRaw != "" {
		cfg.Probe.Timeout, err = time.ParseDuration(cfg.Probe.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing probe timeout %q: %w", cfg.Probe.TimeoutRaw, err)
		}
	}

	return nil
}
