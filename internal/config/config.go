// Package config provides configuration parsing and validation for slotline.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Health  HealthConfig  `yaml:"health"`
	Control ControlConfig `yaml:"control"`
}

// ServerConfig contains the UDP transport and session settings.
type ServerConfig struct {
	Listen          []string      `yaml:"listen"`
	MaxClients      int           `yaml:"max_clients"`
	QueueCapacity   int           `yaml:"queue_capacity"`
	MaxDatagramSize int           `yaml:"max_datagram_size"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`    // 0 = slots are never released
	AdmissionRate   float64       `yaml:"admission_rate"`  // new admissions per second, 0 = unlimited
	AdmissionBurst  int           `yaml:"admission_burst"` // token bucket size
	Echo            bool          `yaml:"echo"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string        `yaml:"level"`
	Format string        `yaml:"format"`
	File   LogFileConfig `yaml:"file"`
}

// LogFileConfig configures the rotating log file. An empty path disables it.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// HealthConfig defines health check server settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ControlConfig defines control socket settings.
type ControlConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
}

// Limits
const (
	MaxDatagramSizeLimit = 65507 // largest UDP payload over IPv4
	minDatagramSize      = 2     // room for a connection reply
)

// MinIdleTimeout is the shortest non-zero server.idle_timeout.
const MinIdleTimeout = time.Second

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          []string{"0.0.0.0:1053", "0.0.0.0:5353"},
			MaxClients:      128,
			QueueCapacity:   1024,
			MaxDatagramSize: 1472,
			IdleTimeout:     0,
			AdmissionRate:   0,
			AdmissionBurst:  16,
			Echo:            false,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File: LogFileConfig{
				MaxSizeMB:  100,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Control: ControlConfig{
			Enabled:    false,
			SocketPath: "./slotline.sock",
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	// Start with defaults
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
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// Handle default values: ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // Keep original if not found
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Validate server
	if len(c.Server.Listen) == 0 {
		errs = append(errs, "server.listen requires at least one address")
	}
	seen := make(map[string]bool, len(c.Server.Listen))
	for i, addr := range c.Server.Listen {
		if err := validateListenAddress(addr); err != nil {
			errs = append(errs, fmt.Sprintf("server.listen[%d]: %v", i, err))
		}
		if seen[addr] {
			errs = append(errs, fmt.Sprintf("server.listen[%d]: duplicate address %s", i, addr))
		}
		seen[addr] = true
	}
	if c.Server.MaxClients < 1 {
		errs = append(errs, "server.max_clients must be positive")
	}
	if c.Server.QueueCapacity < 1 {
		errs = append(errs, "server.queue_capacity must be positive")
	}
	if c.Server.MaxDatagramSize < minDatagramSize || c.Server.MaxDatagramSize > MaxDatagramSizeLimit {
		errs = append(errs, fmt.Sprintf("server.max_datagram_size must be between %d and %d", minDatagramSize, MaxDatagramSizeLimit))
	}
	if c.Server.IdleTimeout < 0 {
		errs = append(errs, "server.idle_timeout must not be negative")
	} else if c.Server.IdleTimeout > 0 && c.Server.IdleTimeout < MinIdleTimeout {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be 0 or at least %s", MinIdleTimeout))
	}
	if c.Server.AdmissionRate < 0 {
		errs = append(errs, "server.admission_rate must not be negative")
	}
	if c.Server.AdmissionRate > 0 && c.Server.AdmissionBurst < 1 {
		errs = append(errs, "server.admission_burst must be positive when admission_rate is set")
	}

	// Validate logging
	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}
	if c.Log.File.Path != "" {
		if c.Log.File.MaxSizeMB < 1 {
			errs = append(errs, "log.file.max_size_mb must be positive")
		}
		if c.Log.File.MaxBackups < 0 || c.Log.File.MaxAgeDays < 0 {
			errs = append(errs, "log.file.max_backups and max_age_days must not be negative")
		}
	}

	// Validate health
	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}

	// Validate control
	if c.Control.Enabled && c.Control.SocketPath == "" {
		errs = append(errs, "control.socket_path is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

func validateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return nil
}

// String returns the configuration as YAML.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
