package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Report    ReportConfig    `yaml:"report"`
	HTTP      HTTPConfig      `yaml:"http"`
	NATS      NATSConfig      `yaml:"nats"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains the shared TCP/UDP listener configuration
type ServerConfig struct {
	Port        int    `yaml:"port"`
	BindAddress string `yaml:"bind_address"`
	IdleTimeout int    `yaml:"idle_timeout"` // seconds, 0 disables idle reaping
}

// DiscoveryConfig contains UDP discovery responder configuration
type DiscoveryConfig struct {
	BufferSize int `yaml:"buffer_size"` // bytes
}

// ReportConfig contains statistics reporter configuration
type ReportConfig struct {
	Interval int `yaml:"interval"` // seconds
}

// HTTPConfig contains monitoring API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// NATSConfig contains the NATS report sink configuration
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Enabled bool   `yaml:"enabled"`
}

// WebhookConfig contains the HTTP report sink configuration
type WebhookConfig struct {
	URL        string `yaml:"url"`
	Token      string `yaml:"token"`       // sent as a bearer token when set
	Timeout    int    `yaml:"timeout"`     // seconds per attempt
	MaxRetries int    `yaml:"max_retries"` // retries after the first attempt
	Enabled    bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given.
// The port still has to be supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress: "0.0.0.0",
		},
		Discovery: DiscoveryConfig{
			BufferSize: 64,
		},
		Report: ReportConfig{
			Interval: 10,
		},
		HTTP: HTTPConfig{
			Port:    9090,
			Address: "127.0.0.1",
		},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "ccs.stats",
		},
		Webhook: WebhookConfig{
			Timeout:    5,
			MaxRetries: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file on top of the defaults. It does not validate,
// since the port usually comes from the command line afterwards.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return config, nil
}

// ParsePort validates the port argument given on the command line
func ParsePort(arg string) (int, error) {
	port, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("port must be a valid integer, got %q", arg)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return port, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery config: %w", err)
	}

	if err := c.Report.Validate(); err != nil {
		return fmt.Errorf("report config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.NATS.Validate(); err != nil {
		return fmt.Errorf("nats config: %w", err)
	}

	if err := c.Webhook.Validate(); err != nil {
		return fmt.Errorf("webhook config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if c.HTTP.Enabled && c.HTTP.Port == c.Server.Port {
		return fmt.Errorf("http port %d collides with the service port", c.HTTP.Port)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout cannot be negative, got %d", s.IdleTimeout)
	}

	return nil
}

// Validate validates discovery configuration
func (d *DiscoveryConfig) Validate() error {
	// The probe itself is 12 bytes; anything longer must not be truncated into a match.
	if d.BufferSize < 16 || d.BufferSize > 65507 {
		return fmt.Errorf("buffer_size must be between 16 and 65507 bytes, got %d", d.BufferSize)
	}
	return nil
}

// Validate validates report configuration
func (r *ReportConfig) Validate() error {
	if r.Interval < 1 {
		return fmt.Errorf("interval must be at least 1 second, got %d", r.Interval)
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates NATS configuration
func (n *NATSConfig) Validate() error {
	if n.Enabled {
		if n.URL == "" {
			return fmt.Errorf("url cannot be empty when NATS is enabled")
		}
		if n.Subject == "" {
			return fmt.Errorf("subject cannot be empty when NATS is enabled")
		}
	}
	return nil
}

// Validate validates webhook configuration
func (w *WebhookConfig) Validate() error {
	if !w.Enabled {
		return nil
	}

	u, err := url.Parse(w.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL, got '%s'", w.URL)
	}

	if w.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", w.Timeout)
	}

	if w.MaxRetries < 0 || w.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 0 and 10, got %d", w.MaxRetries)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// ListenAddress returns the host:port the TCP and UDP listeners bind to
func (s *ServerConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.Port)
}

// GetIdleTimeoutDuration returns the idle timeout as a time.Duration
func (s *ServerConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetIntervalDuration returns the report interval as a time.Duration
func (r *ReportConfig) GetIntervalDuration() time.Duration {
	return time.Duration(r.Interval) * time.Second
}

// GetTimeoutDuration returns the per-attempt webhook timeout as a time.Duration
func (w *WebhookConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(w.Timeout) * time.Second
}

// ListenAddress returns the host:port of the monitoring API
func (h *HTTPConfig) ListenAddress() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}
