package config

import (
	"flag"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Flags holds command-line flag values plus the positional store path.
type Flags struct {
	ConfigPath string
	SMTPPort   int
	POP3Port   int
	Hostname   string
	LogLevel   string
	Bind       string
	StorePath  string
}

// ParseFlags parses the command line into a Flags struct. Exactly one
// positional argument, the store path, is required.
func ParseFlags(name string, args []string) (*Flags, error) {
	f := &Flags{}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", "", "Path to configuration file")
	fs.IntVar(&f.SMTPPort, "s", 0, "SMTP listen port")
	fs.IntVar(&f.POP3Port, "p", 0, "POP3 listen port")
	fs.StringVar(&f.Hostname, "hostname", "", "Hostname used in protocol banners")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.Bind, "bind", "", "Listen host for both protocols")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [flags] <path-to-store>\n", name)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, fmt.Errorf("expected exactly one store path argument, got %d", fs.NArg())
	}
	f.StorePath = fs.Arg(0)

	return f, nil
}

// Load parses a TOML configuration file and returns the Config.
// If the file does not exist, returns the default configuration.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig FileConfig
	if err := toml.Unmarshal(data, &fileConfig); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	// Merge file config into defaults
	cfg = mergeConfig(cfg, fileConfig.Bridgemail)

	return cfg, nil
}

// ApplyFlags merges command-line flag values into the config.
// Non-zero/non-empty flag values override config file and environment values.
func ApplyFlags(cfg Config, f *Flags) Config {
	if f.SMTPPort > 0 {
		cfg.SMTP.Port = f.SMTPPort
	}

	if f.POP3Port > 0 {
		cfg.POP3.Port = f.POP3Port
	}

	if f.Hostname != "" {
		cfg.Hostname = f.Hostname
	}

	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}

	if f.Bind != "" {
		cfg.Bind = f.Bind
	}

	return cfg
}

// LoadWithFlags loads configuration from the path specified in flags, then
// applies environment and flag overrides in that precedence order.
func LoadWithFlags(f *Flags) (Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return cfg, err
	}
	cfg = ApplyEnv(cfg)
	return ApplyFlags(cfg, f), nil
}

// mergeConfig merges non-zero values from src into dst.
func mergeConfig(dst, src Config) Config {
	if src.Hostname != "" {
		dst.Hostname = src.Hostname
	}

	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}

	if src.Bind != "" {
		dst.Bind = src.Bind
	}

	if src.SMTP.Port > 0 {
		dst.SMTP.Port = src.SMTP.Port
	}

	if src.SMTP.IdleTimeout != "" {
		dst.SMTP.IdleTimeout = src.SMTP.IdleTimeout
	}

	if src.POP3.Port > 0 {
		dst.POP3.Port = src.POP3.Port
	}

	if src.POP3.IdleTimeout != "" {
		dst.POP3.IdleTimeout = src.POP3.IdleTimeout
	}

	// Metrics: enabled is explicitly set (boolean), so we merge only when true
	if src.Metrics.Enabled {
		dst.Metrics.Enabled = src.Metrics.Enabled
	}

	if src.Metrics.Address != "" {
		dst.Metrics.Address = src.Metrics.Address
	}

	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}

	return dst
}
