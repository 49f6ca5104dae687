// Package config loads and validates the ruuvi-bridge configuration.
//
// Configuration is optional: with no file, Default() reproduces the
// behaviour of the deployed bridge (sysfs TTY discovery, 300 s TTL,
// 10 s sweep and retry backoff, no NATS publishing).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/vandry/ruuvi-bridge/errors"
)

// Source type constants
const (
	SourceTTY       = "tty"       // discover a USB serial bridge via sysfs
	SourceWebSocket = "websocket" // dial a WebSocket relay of the byte stream
)

// SourceConfig selects and parameterizes the byte-stream source.
type SourceConfig struct {
	Type string `json:"type"` // "tty" or "websocket"

	// TTY source
	DeviceRoot string `json:"device_root,omitempty"` // tty class directory to scan
	DevDir     string `json:"dev_dir,omitempty"`     // directory holding device nodes
	VendorID   string `json:"vendor_id,omitempty"`   // USB vendor id to match
	ProductID  string `json:"product_id,omitempty"`  // USB product id to match

	// WebSocket source
	URL string `json:"url,omitempty"`
}

// NATSConfig configures optional publishing of decoded readings.
// An empty URL disables publishing.
type NATSConfig struct {
	URL     string `json:"url,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// MetricsConfig configures the exposition endpoint. The listen address
// itself comes from the command line.
type MetricsConfig struct {
	Path string `json:"path,omitempty"`
}

// Config represents the complete application configuration.
type Config struct {
	Source  SourceConfig  `json:"source"`
	NATS    NATSConfig    `json:"nats,omitempty"`
	Metrics MetricsConfig `json:"metrics,omitempty"`

	TTLSeconds          int `json:"ttl_seconds,omitempty"`
	SweepSeconds        int `json:"sweep_interval_seconds,omitempty"`
	RetryBackoffSeconds int `json:"retry_backoff_seconds,omitempty"`

	ReadChunkBytes int `json:"read_chunk_bytes,omitempty"`
}

// Default returns the configuration matching the deployed bridge setup.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Type:       SourceTTY,
			DeviceRoot: "/sys/class/tty",
			DevDir:     "/dev",
			VendorID:   "2341",
			ProductID:  "8054",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		TTLSeconds:          300,
		SweepSeconds:        10,
		RetryBackoffSeconds: 10,
		ReadChunkBytes:      1024,
	}
}

// LoadFile reads a JSON config file and merges it over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config", "LoadFile", "read config file")
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "LoadFile", "parse config file")
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Source.Type {
	case SourceTTY:
		if c.Source.DeviceRoot == "" || c.Source.DevDir == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig,
				"config", "Validate", "tty source directory validation")
		}
		if c.Source.VendorID == "" || c.Source.ProductID == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig,
				"config", "Validate", "tty source identity validation")
		}
	case SourceWebSocket:
		if c.Source.URL == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig,
				"config", "Validate", "websocket source URL validation")
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: unknown source type %q", errors.ErrInvalidConfig, c.Source.Type),
			"config", "Validate", "source type validation")
	}

	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"config", "Validate", "NATS subject validation")
	}

	if c.TTLSeconds <= 0 || c.SweepSeconds <= 0 || c.RetryBackoffSeconds <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: intervals must be positive", errors.ErrInvalidConfig),
			"config", "Validate", "interval validation")
	}
	if c.ReadChunkBytes <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: read_chunk_bytes must be positive", errors.ErrInvalidConfig),
			"config", "Validate", "read chunk validation")
	}

	return nil
}

// TTL returns the sensor time-to-live.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// SweepInterval returns the expiry sweep cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepSeconds) * time.Second
}

// RetryBackoff returns the fixed delay between stream reopen attempts.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}
