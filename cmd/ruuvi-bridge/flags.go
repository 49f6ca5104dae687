package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ListenAddr  string // positional: metrics listen address
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	ShowVersion bool
	ShowHelp    bool
}

func parseFlags() (*CLIConfig, error) {
	cfg := &CLIConfig{}

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(io.Discard) // usage printed by the caller on error

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("RUUVI_BRIDGE_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: RUUVI_BRIDGE_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("RUUVI_BRIDGE_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: RUUVI_BRIDGE_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("RUUVI_BRIDGE_LOG_FORMAT", "text"),
		"Log format: json, text (env: RUUVI_BRIDGE_LOG_FORMAT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			cfg.ShowHelp = true
			return cfg, nil
		}
		return nil, err
	}

	if cfg.ShowVersion || cfg.ShowHelp {
		return cfg, nil
	}

	// Exactly one positional argument: the metrics listen address.
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one argument (metrics listen address), got %d", fs.NArg())
	}
	cfg.ListenAddr = fs.Arg(0)

	if err := validateFlags(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	return nil
}

func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage: %s [flags] <listen-address>\n\n", appName)
	_, _ = fmt.Fprintf(os.Stderr,
		"Serves Prometheus metrics for Ruuvi sensors relayed by the bridge\n"+
			"device on <listen-address> (e.g. 127.0.0.1:9100).\n\nFlags:\n"+
			"  -config string\n"+
			"        Path to configuration file, empty for defaults (env: RUUVI_BRIDGE_CONFIG)\n"+
			"  -log-level string\n"+
			"        Log level: debug, info, warn, error (env: RUUVI_BRIDGE_LOG_LEVEL) (default \"info\")\n"+
			"  -log-format string\n"+
			"        Log format: json, text (env: RUUVI_BRIDGE_LOG_FORMAT) (default \"text\")\n"+
			"  -version\n"+
			"        Show version information\n"+
			"  -help\n"+
			"        Show help information\n")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
