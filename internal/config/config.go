// Package config provides configuration management for the mail bridge.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// FileConfig is the top-level wrapper for the configuration file, keeping
// all bridge settings under one [bridgemail] table.
type FileConfig struct {
	Bridgemail Config `toml:"bridgemail"`
}

// Config holds the complete mail bridge configuration.
type Config struct {
	Hostname string         `toml:"hostname"`
	LogLevel string         `toml:"log_level"`
	Bind     string         `toml:"bind"`
	SMTP     ProtocolConfig `toml:"smtp"`
	POP3     ProtocolConfig `toml:"pop3"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// ProtocolConfig defines settings for one protocol listener.
type ProtocolConfig struct {
	Port        int    `toml:"port"`
	IdleTimeout string `toml:"idle_timeout"`
}

// MetricsConfig holds configuration for Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// Default returns a Config with sensible default values. The bind address
// defaults to loopback: the SMTP side carries no authentication, so exposure
// beyond the host is an explicit decision.
func Default() Config {
	return Config{
		LogLevel: "info",
		Bind:     "127.0.0.1",
		SMTP: ProtocolConfig{
			Port:        25,
			IdleTimeout: "5m", // RFC 5321 §4.5.3.2
		},
		POP3: ProtocolConfig{
			Port:        110,
			IdleTimeout: "10m", // RFC 1939 §3
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9091",
			Path:    "/metrics",
		},
	}
}

// EffectiveHostname resolves the hostname used in protocol banners:
// configured value, then $HOSTNAME, then the system hostname, then the
// literal "localhost". It never fails.
func (c *Config) EffectiveHostname() string {
	if c.Hostname != "" {
		return c.Hostname
	}
	if v := os.Getenv("HOSTNAME"); v != "" {
		return v
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "localhost"
}

// Validate checks that the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if c.Bind == "" {
		return errors.New("bind address is required")
	}

	if err := c.SMTP.validate("smtp"); err != nil {
		return err
	}
	if err := c.POP3.validate("pop3"); err != nil {
		return err
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.New("metrics address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" {
			return errors.New("metrics path is required when metrics are enabled")
		}
	}

	return nil
}

func (p *ProtocolConfig) validate(name string) error {
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("%s: invalid port %d", name, p.Port)
	}
	if p.IdleTimeout != "" {
		if _, err := time.ParseDuration(p.IdleTimeout); err != nil {
			return fmt.Errorf("%s: invalid idle_timeout: %w", name, err)
		}
	}
	return nil
}

// IdleTimeoutDuration returns the idle timeout as a time.Duration, falling
// back to def when unset or unparseable.
func (p *ProtocolConfig) IdleTimeoutDuration(def time.Duration) time.Duration {
	if p.IdleTimeout == "" {
		return def
	}
	d, err := time.ParseDuration(p.IdleTimeout)
	if err != nil {
		return def
	}
	return d
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}
