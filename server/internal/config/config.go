package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stuckorders/stuckorders/pkg/churn"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold condition over analysis metrics.
type AlertRule struct {
	// Name identifies the alert and is the deduplication key per session.
	Name string `yaml:"name"`

	// Condition is "<metric> <op> <value>", e.g. "churn_rate > 40" or
	// "long_stuck_pct >= 25".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration. Defaults to 15 minutes.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultHTTPPort          = 8080
	DefaultSessionTTL        = 30 * time.Minute
	DefaultMaxUploadBytes    = 64 << 20
	DefaultBroadcastInterval = 30 * time.Second
	DefaultAuthHeader        = "x-api-key"
)

// Config holds the server configuration parsed from the `server:` section.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`

	Auth AuthConfig `yaml:"auth"`

	Session SessionConfig `yaml:"session"`

	Analysis AnalysisConfig `yaml:"analysis"`

	// MaxUploadBytes caps the body of a dataset upload.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// BroadcastInterval is how often WebSocket clients receive a recomputed
	// analysis. The evaluation instant advances with every tick.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	Alerts AlertsConfig `yaml:"alerts"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: apikey | bearer | none.
	Mode string `yaml:"mode"`

	// KeyEnv names the environment variable with the expected API key (apikey mode).
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header carrying the API key. Defaults to "x-api-key".
	Header string `yaml:"header"`

	// SecretEnv names the environment variable with the HS256 signing secret
	// (bearer mode).
	SecretEnv string `yaml:"secret_env"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Secret returns the JWT signing secret resolved from the environment.
func (a AuthConfig) Secret() []byte {
	if a.SecretEnv == "" {
		return nil
	}
	return []byte(os.Getenv(a.SecretEnv))
}

// EffectiveHeader returns the configured header name, or DefaultAuthHeader.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultAuthHeader
}

// SessionConfig controls in-memory session retention.
type SessionConfig struct {
	// TTL is how long a session lives after its last access.
	TTL time.Duration `yaml:"ttl"`
}

// AnalysisConfig holds analysis defaults applied to new sessions.
type AnalysisConfig struct {
	DefaultChurnThreshold int `yaml:"default_churn_threshold"`
}

// Load reads and parses the config file at path.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:          DefaultHTTPPort,
			Session:           SessionConfig{TTL: DefaultSessionTTL},
			Analysis:          AnalysisConfig{DefaultChurnThreshold: churn.DefaultThreshold},
			MaxUploadBytes:    DefaultMaxUploadBytes,
			BroadcastInterval: DefaultBroadcastInterval,
		},
	}
}

func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey":
		if s.Auth.KeyEnv == "" {
			return fmt.Errorf("server.auth.key_env is required for apikey mode")
		}
	case "bearer":
		if s.Auth.SecretEnv == "" {
			return fmt.Errorf("server.auth.secret_env is required for bearer mode")
		}
	case "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|bearer|none", s.Auth.Mode)
	}
	if s.Session.TTL <= 0 {
		return fmt.Errorf("server.session.ttl must be positive")
	}
	th := s.Analysis.DefaultChurnThreshold
	if th < churn.MinThreshold || th > churn.MaxThreshold {
		return fmt.Errorf("server.analysis.default_churn_threshold %d is out of range [%d, %d]",
			th, churn.MinThreshold, churn.MaxThreshold)
	}
	if s.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	if s.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be positive")
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" || r.Condition == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name and condition are required", i)
		}
		switch r.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("server.alerts.rules[%d]: severity %q unknown", i, r.Severity)
		}
	}
	for i, w := range s.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: type %q unknown: want slack|teams|http", i, w.Type)
		}
	}
	return nil
}
