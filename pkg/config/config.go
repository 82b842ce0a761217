// Package config provides configuration structures and loading logic for the
// depscope sidecar host.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the sidecar host.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Observer  ObserverConfig  `yaml:"observer"`
	Routes    RoutesConfig    `yaml:"routes"`
	Policy    PolicyConfig    `yaml:"policy"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP listeners.
type ServerConfig struct {
	AdminAddress string     `yaml:"admin_address"`
	DataAddress  string     `yaml:"data_address"`
	TLS          *TLSConfig `yaml:"tls,omitempty"`
}

// TLSConfig describes the mTLS termination settings of the data listener.
type TLSConfig struct {
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
	MinVersion        string `yaml:"min_version"`
}

// ObserverConfig points at the observer's own opaque configuration payload.
// The payload bytes are handed to the observer holder verbatim; a parse
// failure there is fatal at startup.
type ObserverConfig struct {
	ConfigFile string `yaml:"config_file"`
}

// RoutesConfig holds configuration for route table loading.
type RoutesConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

// PolicyConfig points at an optional Rego module gating edge publication.
type PolicyConfig struct {
	File string `yaml:"file"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		// Defaults
		Server: ServerConfig{
			AdminAddress: ":19090",
			DataAddress:  ":8443",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("DEPSCOPE_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}
	if val := os.Getenv("DEPSCOPE_DATA_ADDR"); val != "" {
		cfg.Server.DataAddress = val
	}

	if val := os.Getenv("DEPSCOPE_OBSERVER_CONFIG"); val != "" {
		cfg.Observer.ConfigFile = val
	}
	if val := os.Getenv("DEPSCOPE_ROUTES_FILE"); val != "" {
		cfg.Routes.File = val
	}
	if val := os.Getenv("DEPSCOPE_ROUTES_WATCH"); val == "true" {
		cfg.Routes.Watch = true
	}
	if val := os.Getenv("DEPSCOPE_POLICY_FILE"); val != "" {
		cfg.Policy.File = val
	}

	if val := os.Getenv("DEPSCOPE_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("DEPSCOPE_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("DEPSCOPE_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}

	// TLS environment overrides
	if val := os.Getenv("DEPSCOPE_TLS_CERT_FILE"); val != "" {
		ensureTLS(cfg).CertFile = val
	}
	if val := os.Getenv("DEPSCOPE_TLS_KEY_FILE"); val != "" {
		ensureTLS(cfg).KeyFile = val
	}
	if val := os.Getenv("DEPSCOPE_TLS_CLIENT_CA"); val != "" {
		ensureTLS(cfg).ClientCAFile = val
	}
	if val := os.Getenv("DEPSCOPE_TLS_REQUIRE_CLIENT_CERT"); val == "true" {
		ensureTLS(cfg).RequireClientCert = true
	}
}

func ensureTLS(cfg *Config) *TLSConfig {
	if cfg.Server.TLS == nil {
		cfg.Server.TLS = &TLSConfig{}
	}
	return cfg.Server.TLS
}

// Validate performs validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := c.Routes.Validate(); err != nil {
		return fmt.Errorf("routes configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	return nil
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.AdminAddress) == "" {
		c.AdminAddress = ":19090"
	}
	if strings.TrimSpace(c.DataAddress) == "" {
		c.DataAddress = ":8443"
	}
	if c.AdminAddress == c.DataAddress {
		return fmt.Errorf("admin_address and data_address must differ, both are %q", c.AdminAddress)
	}

	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("TLS configuration: %w", err)
		}
	}
	return nil
}

// Validate performs validation of TLS configuration.
func (c *TLSConfig) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("cert_file and key_file must be set together")
	}
	if c.RequireClientCert && c.ClientCAFile == "" {
		return fmt.Errorf("require_client_cert needs a client_ca_file")
	}
	switch c.MinVersion {
	case "", "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("unsupported TLS min_version %q, supported: 1.2, 1.3", c.MinVersion)
	}
}

// Validate performs validation of routes configuration.
func (c *RoutesConfig) Validate() error {
	if c.Watch && strings.TrimSpace(c.File) == "" {
		return fmt.Errorf("routes.watch requires routes.file")
	}
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "trace", "debug", "info", "warn", "error":
		c.Level = level // Normalize to lowercase
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: trace, debug, info, warn, error", c.Level)
	}
}
