package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"copilot-gateway/internal/authgate"
)

// Duration wraps time.Duration with YAML support for the usual "30m"
// notation.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root gateway configuration, loaded from YAML.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Backend BackendConfig `yaml:"backend"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type AuthConfig struct {
	// Mode is "passthrough" (caller supplies the upstream token) or
	// "managed" (gateway owns an OAuth credential on disk).
	Mode            string        `yaml:"mode"`
	Header          string        `yaml:"header"`
	Prefix          string        `yaml:"prefix"`
	CredentialsPath string   `yaml:"credentials_path"`
	SessionMaxAge   Duration `yaml:"session_max_age"`
}

type BackendConfig struct {
	BaseURL string           `yaml:"base_url"`
	Device  DeviceAuthConfig `yaml:"device_auth"`
}

type DeviceAuthConfig struct {
	ClientID      string `yaml:"client_id"`
	DeviceCodeURL string `yaml:"device_code_url"`
	TokenURL      string `yaml:"token_url"`
	Scope         string `yaml:"scope"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8069,
		},
		Auth: AuthConfig{
			Mode:            authgate.ModePassthrough,
			Header:          "Authorization",
			Prefix:          "Bearer ",
			CredentialsPath: defaultCredentialsPath(),
			SessionMaxAge:   Duration(time.Hour),
		},
		Backend: BackendConfig{
			BaseURL: "http://127.0.0.1:8008",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "credentials.json"
	}
	return filepath.Join(home, ".copilot-gateway", "credentials.json")
}

// Load reads the YAML file at path, layered over Default. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the server cannot safely start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Auth.Mode {
	case authgate.ModePassthrough, authgate.ModeManaged:
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q",
			authgate.ModePassthrough, authgate.ModeManaged, c.Auth.Mode)
	}
	if c.Auth.Mode == authgate.ModeManaged && c.Auth.CredentialsPath == "" {
		return fmt.Errorf("auth.credentials_path is required in managed mode")
	}
	if c.Auth.SessionMaxAge <= 0 {
		return fmt.Errorf("auth.session_max_age must be positive, got %s", c.Auth.SessionMaxAge.Std())
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	return nil
}
