// Package config loads the gateway configuration from an optional YAML
// file, environment variables and command-line overrides, in that
// order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// globalConfig stores the configuration loaded with command-line overrides
// so other packages can access the same configuration the server loaded.
var (
	globalConfig *Config
	configMutex  sync.Mutex
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	VNC      VNCConfig      `yaml:"vnc"`
	Security SecurityConfig `yaml:"security"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoadOptions holds command-line override options
type LoadOptions struct {
	Host       string
	Port       string
	LogLevel   string
	ConfigFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// VNCConfig holds settings for outbound RFB connections
type VNCConfig struct {
	// UpdateTimeout bounds the read of one whole server message.
	UpdateTimeout time.Duration `yaml:"updateTimeout"`
	MaxWidth      int           `yaml:"maxWidth"`
	MaxHeight     int           `yaml:"maxHeight"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
	MaxConnections int      `yaml:"maxConnections"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	return LoadWithOverrides(LoadOptions{})
}

// LoadWithOverrides loads configuration with command-line overrides
func LoadWithOverrides(opts LoadOptions) (*Config, error) {
	config := &Config{}

	if opts.ConfigFile != "" {
		if err := loadFile(config, opts.ConfigFile); err != nil {
			return nil, err
		}
	}

	// Server config
	config.Server.Host = getOverrideOrEnv(opts.Host, "SERVER_HOST", defaultString(config.Server.Host, "0.0.0.0"))
	config.Server.Port = getOverrideOrEnv(opts.Port, "SERVER_PORT", defaultString(config.Server.Port, "8080"))
	config.Server.ReadTimeout = getDurationWithDefault("SERVER_READ_TIMEOUT", defaultDuration(config.Server.ReadTimeout, 30*time.Second))
	config.Server.WriteTimeout = getDurationWithDefault("SERVER_WRITE_TIMEOUT", defaultDuration(config.Server.WriteTimeout, 30*time.Second))
	config.Server.IdleTimeout = getDurationWithDefault("SERVER_IDLE_TIMEOUT", defaultDuration(config.Server.IdleTimeout, 120*time.Second))

	// VNC config
	config.VNC.UpdateTimeout = getDurationWithDefault("VNC_UPDATE_TIMEOUT", defaultDuration(config.VNC.UpdateTimeout, 0))
	config.VNC.MaxWidth = getIntWithDefault("VNC_MAX_WIDTH", defaultInt(config.VNC.MaxWidth, 3840))
	config.VNC.MaxHeight = getIntWithDefault("VNC_MAX_HEIGHT", defaultInt(config.VNC.MaxHeight, 2160))

	// Security config
	if envOrigins := getStringSliceWithDefault("ALLOWED_ORIGINS", nil); envOrigins != nil {
		config.Security.AllowedOrigins = envOrigins
	}
	config.Security.MaxConnections = getIntWithDefault("MAX_CONNECTIONS", defaultInt(config.Security.MaxConnections, 100))

	// Logging config
	config.Logging.Level = getOverrideOrEnv(opts.LogLevel, "LOG_LEVEL", defaultString(config.Logging.Level, "info"))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	configMutex.Lock()
	globalConfig = config
	configMutex.Unlock()

	return config, nil
}

func loadFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	return nil
}

// GetGlobalConfig returns the globally stored configuration, or nil if
// none has been loaded yet.
func GetGlobalConfig() *Config {
	configMutex.Lock()
	defer configMutex.Unlock()
	return globalConfig
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", c.Server.Port)
	}

	if c.VNC.MaxWidth <= 0 || c.VNC.MaxHeight <= 0 {
		return fmt.Errorf("max dimensions must be positive")
	}

	if c.VNC.UpdateTimeout < 0 {
		return fmt.Errorf("update timeout cannot be negative")
	}

	if c.Security.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceWithDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return splitString(value, ",")
	}
	return defaultValue
}

// getOverrideOrEnv returns command-line override value, env value, or default
func getOverrideOrEnv(override, envKey, defaultValue string) string {
	if override != "" {
		return override
	}
	return getEnvWithDefault(envKey, defaultValue)
}

func defaultString(current, fallback string) string {
	if current != "" {
		return current
	}
	return fallback
}

func defaultInt(current, fallback int) int {
	if current != 0 {
		return current
	}
	return fallback
}

func defaultDuration(current, fallback time.Duration) time.Duration {
	if current != 0 {
		return current
	}
	return fallback
}

func splitString(s, sep string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
