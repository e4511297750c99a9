package config

import (
	"os"
	"strconv"
)

// ApplyEnv applies environment variable overrides to the configuration.
// Environment variables take precedence over the TOML config but are
// overridden by command-line flags.
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("BRIDGEMAIL_HOSTNAME"); v != "" {
		cfg.Hostname = v
	}
	if v := os.Getenv("BRIDGEMAIL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BRIDGEMAIL_BIND"); v != "" {
		cfg.Bind = v
	}
	if v := os.Getenv("BRIDGEMAIL_SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.SMTP.Port = port
		}
	}
	if v := os.Getenv("BRIDGEMAIL_POP3_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.POP3.Port = port
		}
	}

	return cfg
}
