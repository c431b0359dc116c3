package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the full configuration document.
//
// The bridge section is read once at startup and never changes for the
// lifetime of the process. Only the logging section is applied live on
// config reload.
type Config struct {
	Bridge  BridgeConfig  `json:"bridge"`
	Logging LoggingConfig `json:"logging"`
	Stats   StatsConfig   `json:"stats"`
}

// BridgeConfig holds the forwarding target and the local service port.
type BridgeConfig struct {
	// CentralContextURL is the base URL of the remote content API.
	CentralContextURL string `json:"central_context_url"`
	// BucketName is the target bucket for forwarded notifications.
	BucketName string `json:"bucket_name"`
	// Port is the local status server port.
	Port int `json:"port"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StatsConfig controls the periodic forward-summary log line.
type StatsConfig struct {
	// Schedule accepts a cron spec or a "@every <duration>" descriptor.
	Schedule string `json:"schedule"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			CentralContextURL: "http://localhost:9000",
			BucketName:        "notifications",
			Port:              9001,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Stats: StatsConfig{
			Schedule: "@every 5m",
		},
	}
}

// Environment variable overrides. These win over both defaults and file values.
const (
	EnvCentralContextURL = "BRIDGE_CENTRAL_CONTEXT_URL"
	EnvBucketName        = "BRIDGE_BUCKET_NAME"
	EnvPort              = "BRIDGE_PORT"
	EnvLogLevel          = "BRIDGE_LOG_LEVEL"
)

// ApplyEnv overlays environment variable overrides onto cfg.
func ApplyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvCentralContextURL)); v != "" {
		cfg.Bridge.CentralContextURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBucketName)); v != "" {
		cfg.Bridge.BucketName = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPort)); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q: %w", EnvPort, v, err)
		}
		cfg.Bridge.Port = p
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate rejects configurations the bridge cannot run with.
func (c *Config) Validate() error {
	u := strings.TrimSpace(c.Bridge.CentralContextURL)
	if u == "" {
		return fmt.Errorf("bridge.central_context_url must not be empty")
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("bridge.central_context_url: unsupported scheme in %q", u)
	}
	if strings.TrimSpace(c.Bridge.BucketName) == "" {
		return fmt.Errorf("bridge.bucket_name must not be empty")
	}
	if c.Bridge.Port <= 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port: %d out of range", c.Bridge.Port)
	}
	return nil
}
