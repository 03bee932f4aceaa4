package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	NodeID          string
	WorkerID        string
	NATSURL         string
	ConfigPath      string
	WorkDir         string
	LogLevel        string
	LogFormat       string
	MetricsPort     int
	ShutdownTimeout time.Duration
	TLSCert         string
	TLSKey          string
	TLSCA           string
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "node1"
	}

	// Define flags with environment variable fallback
	flag.StringVar(&cfg.NodeID, "node-id",
		getEnv("CROSSBAR_NODE_ID", hostname),
		"Node identifier within the management realm (env: CROSSBAR_NODE_ID)")

	flag.StringVar(&cfg.WorkerID, "worker-id",
		getEnv("CROSSBAR_WORKER_ID", "router1"),
		"Worker identifier within the node (env: CROSSBAR_WORKER_ID)")

	flag.StringVar(&cfg.NATSURL, "nats-url",
		getEnv("CROSSBAR_NATS_URL", nats.DefaultURL),
		"NATS server URL (env: CROSSBAR_NATS_URL)")

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("CROSSBAR_CONFIG", ""),
		"Optional boot configuration file; entities in it are started before the RPC surface comes up (env: CROSSBAR_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("CROSSBAR_CONFIG", ""),
		"Optional boot configuration file (env: CROSSBAR_CONFIG)")

	flag.StringVar(&cfg.WorkDir, "workdir",
		getEnv("CROSSBAR_WORKDIR", "."),
		"Base directory for relative paths in transport configuration (env: CROSSBAR_WORKDIR)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("CROSSBAR_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: CROSSBAR_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("CROSSBAR_LOG_FORMAT", "json"),
		"Log format: json, text (env: CROSSBAR_LOG_FORMAT)")

	flag.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("CROSSBAR_METRICS_PORT", 0),
		"Prometheus metrics port, 0 to disable (env: CROSSBAR_METRICS_PORT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("CROSSBAR_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: CROSSBAR_SHUTDOWN_TIMEOUT)")

	flag.StringVar(&cfg.TLSCert, "tls-cert",
		getEnv("CROSSBAR_TLS_CERT", ""),
		"Client certificate for the NATS connection (env: CROSSBAR_TLS_CERT)")

	flag.StringVar(&cfg.TLSKey, "tls-key",
		getEnv("CROSSBAR_TLS_KEY", ""),
		"Client key for the NATS connection (env: CROSSBAR_TLS_KEY)")

	flag.StringVar(&cfg.TLSCA, "tls-ca",
		getEnv("CROSSBAR_TLS_CA", ""),
		"CA bundle for the NATS connection (env: CROSSBAR_TLS_CA)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate boot configuration and exit")

	// Custom usage
	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.NodeID == "" {
		return fmt.Errorf("node id must not be empty")
	}
	if cfg.WorkerID == "" {
		return fmt.Errorf("worker id must not be empty")
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if cfg.Validate && cfg.ConfigPath == "" {
		return fmt.Errorf("--validate requires a config file")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Message-Routing Worker

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run against a local NATS server
  %s --node-id=node1 --worker-id=router1

  # Start realms and transports from a boot configuration
  %s --config=/etc/crossbar/router.json

  # Run with environment variables
  export CROSSBAR_NATS_URL=nats://broker:4222
  export CROSSBAR_LOG_LEVEL=debug
  %s

  # Validate a boot configuration only
  %s --config=/etc/crossbar/router.json --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
