// Package config loads service configuration with the precedence
// defaults -> optional YAML file -> environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"linkdesk/internal/logging"
)

// EnvPrefix namespaces all environment overrides. Nested keys use a double
// underscore, e.g. LINKDESK_HTTP__PORT -> http.port.
const EnvPrefix = "LINKDESK_"

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "LINKDESK_CONFIG"

// Config is the full service configuration.
type Config struct {
	HTTP      HTTPConfig      `koanf:"http"`
	WebSocket WebSocketConfig `koanf:"websocket"`
	Auth      AuthConfig      `koanf:"auth"`
	Journal   JournalConfig   `koanf:"journal"`
	Log       logging.Config  `koanf:"log"`
}

type HTTPConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns the listen address.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type WebSocketConfig struct {
	// Path is the upgrade endpoint. It is dedicated to the notification
	// protocol and must not collide with other upgrade endpoints on the
	// same host.
	Path         string        `koanf:"path"`
	PingInterval time.Duration `koanf:"ping_interval"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	// SendBuffer caps the per-connection outbound queue; a full buffer
	// drops the frame rather than blocking fan-out on a slow client.
	SendBuffer int `koanf:"send_buffer"`
}

type AuthConfig struct {
	// SessionSecret is the HMAC key shared with the dashboard session
	// layer that mints upgrade tokens.
	SessionSecret string        `koanf:"session_secret"`
	TokenTTL      time.Duration `koanf:"token_ttl"`
	// InternalToken, when set, is required as a bearer token on the
	// /internal API. Empty disables the check (trusted network).
	InternalToken string `koanf:"internal_token"`
}

type JournalConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			Path:         "/ws/notifications",
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			SendBuffer:   100,
		},
		Auth: AuthConfig{
			TokenTTL: 12 * time.Hour,
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    "./linkdesk.db",
		},
		Log: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration. path may be empty; then LINKDESK_CONFIG
// is consulted and finally ./config.yaml if it exists. A missing explicit
// file is an error, a missing implicit one is not.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	explicit := path != ""
	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
		explicit = path != ""
	}
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}
	if c.WebSocket.Path == "" || !strings.HasPrefix(c.WebSocket.Path, "/") {
		return fmt.Errorf("websocket path must start with /, got %q", c.WebSocket.Path)
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket write timeout must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket send buffer must be positive")
	}
	if c.Auth.SessionSecret == "" {
		return fmt.Errorf("auth session secret is required")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal path cannot be empty when the journal is enabled")
	}
	return nil
}
