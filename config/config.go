// Package config loads player configuration from an optional YAML file with
// environment overrides. Unknown YAML keys are rejected.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the complete player configuration.
type Config struct {
	StreamURL     string `yaml:"stream_url"`     // RTMP URL to play on startup
	AutoReconnect bool   `yaml:"auto_reconnect"` // Retry transport failures
	LogLevel      string `yaml:"log_level"`      // debug, info, warn, error
	APIAddr       string `yaml:"api_addr"`       // Debug API listen address
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() Config {
	return Config{
		AutoReconnect: true,
		LogLevel:      "info",
		APIAddr:       ":4444",
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty), then environment variables. Returns an
// error if the file cannot be read or contains unknown keys.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("STREAM_URL"); v != "" {
		c.StreamURL = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		c.APIAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("AUTO_RECONNECT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AutoReconnect = b
		}
	}
}

// SlogLevel maps the configured log level to a slog level. Unrecognized
// values fall back to info.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
