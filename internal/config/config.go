// Package config provides configuration parsing and validation for pppoat-udp.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/postalsys/pppoat-udp/internal/logging"
	"github.com/postalsys/pppoat-udp/internal/udp"
)

// Config represents the complete node configuration.
type Config struct {
	Node   NodeConfig   `yaml:"node"`
	UDP    UDPConfig    `yaml:"udp"`
	Health HealthConfig `yaml:"health"`
}

// NodeConfig contains process-wide settings.
type NodeConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// UDPConfig configures the UDP transport.
type UDPConfig struct {
	// Server selects the initiator role when truthy.
	Server          Flag           `yaml:"server"`
	MaxDatagramSize int            `yaml:"max_datagram_size"`
	ValidateSender  bool           `yaml:"validate_sender"`
	Initiator       EndpointConfig `yaml:"initiator"`
	Responder       EndpointConfig `yaml:"responder"`
}

// EndpointConfig is the endpoint triple of one role.
type EndpointConfig struct {
	LocalPort  uint16 `yaml:"local_port"`
	RemoteHost string `yaml:"remote_host"`
	RemotePort uint16 `yaml:"remote_port"`
}

// HealthConfig defines health check server settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Flag is a boolean-like option kept in its written form. Both `server: true`
// and `server: "yes"` decode to the scalar's text.
type Flag string

// UnmarshalYAML keeps the raw scalar value.
func (f *Flag) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", node.Line)
	}
	*f = Flag(node.Value)
	return nil
}

// Bool reports whether the flag is truthy.
func (f Flag) Bool() bool {
	return udp.IsTrue(string(f))
}

// Default returns a Config with default values.
func Default() *Config {
	def := udp.DefaultConfig()
	return &Config{
		Node: NodeConfig{
			LogLevel:  "info",
			LogFormat: logging.FormatText,
		},
		UDP: UDPConfig{
			Server:          "false",
			MaxDatagramSize: def.MaxDatagramSize,
			ValidateSender:  def.ValidateSender,
			Initiator:       endpointConfig(def.Initiator),
			Responder:       endpointConfig(def.Responder),
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      "127.0.0.1:9101",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func endpointConfig(e udp.Endpoints) EndpointConfig {
	return EndpointConfig{LocalPort: e.LocalPort, RemoteHost: e.RemoteHost, RemotePort: e.RemotePort}
}

func (e EndpointConfig) endpoints() udp.Endpoints {
	return udp.Endpoints{LocalPort: e.LocalPort, RemoteHost: e.RemoteHost, RemotePort: e.RemotePort}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes. Keys not present keep their
// default values.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
// ${VAR:-default} falls back to default when VAR is unset; unknown plain
// references are left as written.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors and reports all of them.
func (c *Config) Validate() error {
	var errs []string

	if _, err := logging.ParseLevel(c.Node.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.Node.LogLevel))
	}
	if !logging.ValidFormat(c.Node.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log_format: %s (must be text or json)", c.Node.LogFormat))
	}

	if !udp.IsBoolLike(string(c.UDP.Server)) {
		errs = append(errs, fmt.Sprintf("udp.server: %q is not a boolean", c.UDP.Server))
	}
	if c.UDP.MaxDatagramSize < 1 || c.UDP.MaxDatagramSize > udp.MaxUDPPayload {
		errs = append(errs, fmt.Sprintf("udp.max_datagram_size must be between 1 and %d", udp.MaxUDPPayload))
	}
	errs = append(errs, validateEndpoint("udp.initiator", c.UDP.Initiator)...)
	errs = append(errs, validateEndpoint("udp.responder", c.UDP.Responder)...)

	if c.Health.Enabled {
		if c.Health.Address == "" {
			errs = append(errs, "health.address is required when enabled")
		} else if _, _, err := net.SplitHostPort(c.Health.Address); err != nil {
			errs = append(errs, fmt.Sprintf("health.address: %v", err))
		}
	}
	if c.Health.ReadTimeout < 0 || c.Health.WriteTimeout < 0 {
		errs = append(errs, "health timeouts must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func validateEndpoint(prefix string, e EndpointConfig) []string {
	var errs []string
	if strings.TrimSpace(e.RemoteHost) == "" {
		errs = append(errs, prefix+".remote_host is required")
	}
	if e.RemotePort == 0 {
		errs = append(errs, prefix+".remote_port is required")
	}
	return errs
}

// Get implements udp.Options. Only "server" is defined; it is absent when
// left empty.
func (c *Config) Get(key string) (string, bool) {
	if key == udp.OptionServer && c.UDP.Server != "" {
		return string(c.UDP.Server), true
	}
	return "", false
}

// Role returns the role the "server" option selects.
func (c *Config) Role() udp.Role {
	return udp.SelectRole(c)
}

// UDPSettings converts the udp section to a transport config. Resolver,
// Waiter, Metrics and Logger are left for the caller to set.
func (c *Config) UDPSettings() udp.Config {
	return udp.Config{
		Initiator:       c.UDP.Initiator.endpoints(),
		Responder:       c.UDP.Responder.endpoints(),
		MaxDatagramSize: c.UDP.MaxDatagramSize,
		ValidateSender:  c.UDP.ValidateSender,
	}
}

// String returns the configuration as YAML.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
