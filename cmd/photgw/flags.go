package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/c360/photgw/logging"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	EnvFile         string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

type lookupFunc func(string) (string, bool)

// parseFlags reads args with PHOTGW_* environment variables as defaults.
// It returns pflag.ErrHelp when help was requested.
func parseFlags(args []string, lookup lookupFunc, out io.Writer) (*CLIConfig, error) {
	env := envDefaults{lookup}
	cfg := &CLIConfig{}

	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVarP(&cfg.ConfigPath, "config", "c",
		env.str("PHOTGW_CONFIG", "photgw.yaml"),
		"Path to the YAML configuration file (env: PHOTGW_CONFIG)")
	fs.StringVar(&cfg.EnvFile, "env-file",
		env.str("PHOTGW_ENV_FILE", ".env"),
		"Dotenv file with broker credentials, ignored if missing (env: PHOTGW_ENV_FILE)")
	fs.StringVar(&cfg.LogLevel, "log-level",
		env.str("PHOTGW_LOG_LEVEL", "info"),
		"Default log level: debug, info, warn, error (env: PHOTGW_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format",
		env.str("PHOTGW_LOG_FORMAT", "text"),
		"Log format: json, text (env: PHOTGW_LOG_FORMAT)")
	fs.BoolVarP(&cfg.Debug, "debug", "d",
		env.boolean("PHOTGW_DEBUG", false),
		"Shorthand for --log-level=debug (env: PHOTGW_DEBUG)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		env.duration("PHOTGW_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Give up on a graceful shutdown after this long (env: PHOTGW_SHUTDOWN_TIMEOUT)")
	fs.BoolVarP(&cfg.ShowVersion, "version", "v", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(out, `%s - photometer to broker gateway

Usage: %s [options]

Options:
`, appName, appName)
		fs.PrintDefaults()
		_, _ = fmt.Fprintf(out, `
Signals:
  SIGHUP   reload log levels from the configuration file
  SIGUSR1  pause publishing
  SIGUSR2  resume publishing

Version: %s
`, Version)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}
	if cfg.ConfigPath == "" {
		return fmt.Errorf("a configuration file is required")
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}
	return nil
}

// envDefaults turns environment variables into flag defaults. Unparseable
// values fall back to the built-in default.
type envDefaults struct {
	lookup lookupFunc
}

func (e envDefaults) str(key, def string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (e envDefaults) boolean(key string, def bool) bool {
	if v, ok := e.lookup(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func (e envDefaults) duration(key string, def time.Duration) time.Duration {
	if v, ok := e.lookup(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
