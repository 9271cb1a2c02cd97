// ABOUTME: Configuration loading and parsing for aura
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete aura configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Requester RequesterConfig `yaml:"requester"`
	Provider  ProviderConfig  `yaml:"provider"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
	Database  DatabaseConfig  `yaml:"database"`
	Policy    PolicyConfig    `yaml:"policy"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// RequesterConfig identifies this agent to the provider
type RequesterConfig struct {
	NSAID      string `yaml:"nsa_id"`
	ReplyToURL string `yaml:"reply_to_url"`
}

// ProviderConfig holds the provider NSA endpoint configuration.
// Either SOAPURL is set directly or DiscoveryURL points at the
// provider's discovery document from which the SOAP endpoint is
// resolved at startup.
type ProviderConfig struct {
	NSAID        string `yaml:"nsa_id"`
	SOAPURL      string `yaml:"soap_url"`
	DiscoveryURL string `yaml:"discovery_url"`
}

// TimeoutsConfig holds protocol timing configuration
type TimeoutsConfig struct {
	Operation     time.Duration `yaml:"-"`
	Query         time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	OperationRaw     string `yaml:"operation"`
	QueryRaw         string `yaml:"query"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PolicyConfig points at the fault policy file
type PolicyConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":9080"
	}
	if c.Timeouts.Operation == 0 {
		c.Timeouts.Operation = 120 * time.Second
	}
	if c.Timeouts.Query == 0 {
		c.Timeouts.Query = 30 * time.Second
	}
	if c.Timeouts.SweepInterval == 0 {
		c.Timeouts.SweepInterval = time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Requester.NSAID == "" {
		return fmt.Errorf("requester.nsa_id is required")
	}

	if c.Requester.ReplyToURL == "" {
		return fmt.Errorf("requester.reply_to_url is required")
	}
	if _, err := url.ParseRequestURI(c.Requester.ReplyToURL); err != nil {
		return fmt.Errorf("requester.reply_to_url is not a valid URL: %w", err)
	}

	if c.Provider.NSAID == "" {
		return fmt.Errorf("provider.nsa_id is required")
	}

	// One of the two endpoint settings must be present
	if c.Provider.SOAPURL == "" && c.Provider.DiscoveryURL == "" {
		return fmt.Errorf("one of provider.soap_url or provider.discovery_url is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Timeouts.OperationRaw != "" {
		cfg.Timeouts.Operation, err = time.ParseDuration(cfg.Timeouts.OperationRaw)
		if err != nil {
			return fmt.Errorf("parsing timeouts.operation %q: %w", cfg.Timeouts.OperationRaw, err)
		}
	}

	if cfg.Timeouts.QueryRaw != "" {
		cfg.Timeouts.Query, err = time.ParseDuration(cfg.Timeouts.QueryRaw)
		if err != nil {
			return fmt.Errorf("parsing timeouts.query %q: %w", cfg.Timeouts.QueryRaw, err)
		}
	}

	if cfg.Timeouts.SweepIntervalRaw != "" {
		cfg.Timeouts.SweepInterval, err = time.ParseDuration(cfg.Timeouts.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing timeouts.sweep_interval %q: %w", cfg.Timeouts.SweepIntervalRaw, err)
		}
	}

	return nil
}
