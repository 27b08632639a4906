package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Defaults applied when a field is absent from the config file.
const (
	DefaultPort            = 3000
	DefaultRefreshRateHz   = 50
	DefaultShutdownTimeout = time.Second
	DefaultWriteTimeout    = 10 * time.Second
)

// ServerConfig is the optional JSON configuration for the point cloud
// server. Every field is a pointer so that a partial file only overrides
// what it names; the Get* methods supply defaults for the rest.
type ServerConfig struct {
	Port          *int `json:"port,omitempty"`
	RefreshRateHz *int `json:"refresh_rate_hz,omitempty"`

	// ShutdownTimeout bounds graceful shutdown on Stop, e.g. "1s".
	ShutdownTimeout *string `json:"shutdown_timeout,omitempty"`
	// WriteTimeout bounds a single websocket frame write, e.g. "10s".
	WriteTimeout *string `json:"write_timeout,omitempty"`

	// HealthListen is the gRPC health service address; empty disables it.
	HealthListen *string `json:"health_listen,omitempty"`

	// Synthetic replaces the sensing subsystem with generated frames.
	Synthetic *bool `json:"synthetic,omitempty"`
	Debug     *bool `json:"debug,omitempty"`
}

// Helper functions to create pointers
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }

// EmptyServerConfig returns a ServerConfig with all fields set to nil.
func EmptyServerConfig() *ServerConfig {
	return &ServerConfig{}
}

// LoadServerConfig loads a ServerConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 64 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyServerConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *ServerConfig) Validate() error {
	if c.Port != nil && (*c.Port < 1 || *c.Port > 65535) {
		return fmt.Errorf("port must be between 1 and 65535, got %d", *c.Port)
	}
	if c.RefreshRateHz != nil && *c.RefreshRateHz <= 0 {
		return fmt.Errorf("refresh_rate_hz must be positive, got %d", *c.RefreshRateHz)
	}
	if c.ShutdownTimeout != nil && *c.ShutdownTimeout != "" {
		if _, err := time.ParseDuration(*c.ShutdownTimeout); err != nil {
			return fmt.Errorf("invalid shutdown_timeout '%s': %w", *c.ShutdownTimeout, err)
		}
	}
	if c.WriteTimeout != nil && *c.WriteTimeout != "" {
		if _, err := time.ParseDuration(*c.WriteTimeout); err != nil {
			return fmt.Errorf("invalid write_timeout '%s': %w", *c.WriteTimeout, err)
		}
	}
	return nil
}

// GetPort returns the port or the default.
func (c *ServerConfig) GetPort() int {
	if c.Port == nil {
		return DefaultPort
	}
	return *c.Port
}

// GetRefreshRateHz returns the stream rate or the default.
func (c *ServerConfig) GetRefreshRateHz() int {
	if c.RefreshRateHz == nil {
		return DefaultRefreshRateHz
	}
	return *c.RefreshRateHz
}

// GetShutdownTimeout parses and returns the ShutdownTimeout as a time.Duration.
func (c *ServerConfig) GetShutdownTimeout() time.Duration {
	return parseDurationOr(c.ShutdownTimeout, DefaultShutdownTimeout)
}

// GetWriteTimeout parses and returns the WriteTimeout as a time.Duration.
func (c *ServerConfig) GetWriteTimeout() time.Duration {
	return parseDurationOr(c.WriteTimeout, DefaultWriteTimeout)
}

// GetHealthListen returns the gRPC health address, empty when disabled.
func (c *ServerConfig) GetHealthListen() string {
	if c.HealthListen == nil {
		return ""
	}
	return *c.HealthListen
}

// GetSynthetic returns whether synthetic frames are enabled.
func (c *ServerConfig) GetSynthetic() bool {
	return c.Synthetic != nil && *c.Synthetic
}

// GetDebug returns whether debug logging is enabled.
func (c *ServerConfig) GetDebug() bool {
	return c.Debug != nil && *c.Debug
}

// SetPort overrides the port, typically from a command-line flag.
func (c *ServerConfig) SetPort(v int) { c.Port = ptrInt(v) }

// SetRefreshRateHz overrides the stream rate.
func (c *ServerConfig) SetRefreshRateHz(v int) { c.RefreshRateHz = ptrInt(v) }

// SetHealthListen overrides the gRPC health address.
func (c *ServerConfig) SetHealthListen(v string) { c.HealthListen = ptrString(v) }

// SetSynthetic overrides synthetic mode.
func (c *ServerConfig) SetSynthetic(v bool) { c.Synthetic = ptrBool(v) }

// SetDebug overrides debug logging.
func (c *ServerConfig) SetDebug(v bool) { c.Debug = ptrBool(v) }

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}
