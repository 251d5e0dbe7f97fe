// Package config loads dectpair settings from a JSON5 file with
// environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration.
type Config struct {
	Log       LogConfig       `json:"log"`
	Session   SessionConfig   `json:"session"`
	Pairing   PairingConfig   `json:"pairing"`
	Probe     ProbeConfig     `json:"probe"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// SessionConfig locates the device-session daemon.
type SessionConfig struct {
	URL              string  `json:"url"`
	Token            string  `json:"token,omitempty"`
	RPCPerSecond     float64 `json:"rpcPerSecond"`
	Burst            int     `json:"burst"`
	RequestTimeoutMs int     `json:"requestTimeoutMs"`

	// Discover finds the daemon over mDNS instead of using URL.
	Discover          bool `json:"discover,omitempty"`
	DiscoverTimeoutMs int  `json:"discoverTimeoutMs,omitempty"`
}

type PairingConfig struct {
	ConfirmationTimeoutMs int `json:"confirmationTimeoutMs"`

	// ConfirmProbe asks before writing the probe key to headset candidates.
	ConfirmProbe bool `json:"confirmProbe"`
}

type ProbeConfig struct {
	CacheSize   int `json:"cacheSize"`
	Concurrency int `json:"concurrency"`
}

// TelemetryConfig enables OTLP export of pairing spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // grpc (default) or http
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"serviceName,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Session: SessionConfig{
			URL:               "ws://127.0.0.1:18790/ws",
			RPCPerSecond:      20,
			Burst:             5,
			RequestTimeoutMs:  10000,
			DiscoverTimeoutMs: 3000,
		},
		Pairing: PairingConfig{
			ConfirmationTimeoutMs: 30000,
			ConfirmProbe:          true,
		},
		Probe: ProbeConfig{CacheSize: 64, Concurrency: 4},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "dectpair",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error. Without a configured token, the one in
// the OS keyring is used.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Debug("config file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := json5.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyKeyring()
	return cfg, nil
}

// Save writes cfg to path as indented JSON, which is valid JSON5.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DECTPAIR_SESSION_URL"); v != "" {
		c.Session.URL = v
	}
	if v := os.Getenv("DECTPAIR_SESSION_DISCOVER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DECTPAIR_SESSION_DISCOVER: invalid value %q", v)
		}
		c.Session.Discover = b
	}
	if v := os.Getenv("DECTPAIR_SESSION_TOKEN"); v != "" {
		c.Session.Token = v
	}
	if v := os.Getenv("DECTPAIR_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("DECTPAIR_CONFIRM_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return fmt.Errorf("DECTPAIR_CONFIRM_TIMEOUT_MS: invalid value %q", v)
		}
		c.Pairing.ConfirmationTimeoutMs = ms
	}
	return nil
}

// ConfirmationTimeout returns the pairing confirmation wait.
func (c *Config) ConfirmationTimeout() time.Duration {
	return time.Duration(c.Pairing.ConfirmationTimeoutMs) * time.Millisecond
}

// RequestTimeout returns the per-call deadline for daemon RPCs.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Session.RequestTimeoutMs) * time.Millisecond
}

// DiscoverTimeout bounds the mDNS search for the daemon.
func (c *Config) DiscoverTimeout() time.Duration {
	return time.Duration(c.Session.DiscoverTimeoutMs) * time.Millisecond
}

// SlogLevel parses Log.Level, falling back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ResolvePath picks the config file: the flag value, then
// DECTPAIR_CONFIG, then ~/.dectpair/config.json5.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("DECTPAIR_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json5"
	}
	return filepath.Join(home, ".dectpair", "config.json5")
}
