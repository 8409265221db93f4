package config

import (
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/stuckorders/stuckorders/pkg/churn"
	"github.com/stuckorders/stuckorders/pkg/compute"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultOutputDir     = "exports"
	DefaultDelimiter     = ","
	DefaultFetchTimeout  = 60 * time.Second
	DefaultBufferSize    = 10000
	DefaultProfilesTopic = "stuck-orders.user-profiles"
	DefaultCohortsTopic  = "stuck-orders.monthly-cohorts"
)

// Config is the top-level analyzer configuration file.
type Config struct {
	Analyzer AnalyzerConfig `yaml:"analyzer"`
}

// AnalyzerConfig holds one batch analysis run.
type AnalyzerConfig struct {
	// Input is where the stuck-orders table is read from.
	Input Input `yaml:"input"`

	// OutputDir receives the exported tables.
	OutputDir string `yaml:"output_dir"`

	// Delimiter is the single-character field separator of input and exports.
	Delimiter string `yaml:"delimiter"`

	// ChurnThreshold is the days since the last order from which an account
	// counts as churned. Must be within [7, 90].
	ChurnThreshold int `yaml:"churn_threshold"`

	// EvaluationTime pins the evaluation instant (RFC3339). Empty means now.
	EvaluationTime string `yaml:"evaluation_time"`

	// Filter narrows the analysed rows. Absent fields select every observed value.
	Filter FilterConfig `yaml:"filter"`

	// Publish configures the optional Kafka sink.
	Publish PublishConfig `yaml:"publish"`
}

// Input locates the table: either a local Path or an HTTP(S) URL.
type Input struct {
	Path string `yaml:"path"`
	URL  string `yaml:"url"`

	// Auth and TLS apply to URL inputs only.
	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`

	// Timeout bounds an HTTP fetch.
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig specifies how the analyzer authenticates to an HTTP input.
type AuthConfig struct {
	// Mode is one of: apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// Header and KeyEnv are used when Mode == "apikey".
	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`

	// TokenEnv is used when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// Username and PasswordEnv are used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string { return lookup(a.KeyEnv) }

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string { return lookup(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string { return lookup(a.PasswordEnv) }

func lookup(env string) string {
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

// TLSConfig holds HTTP input TLS options.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// FilterConfig is the user filter. Empty lists and nil bounds fall back to
// the observed values of the table.
type FilterConfig struct {
	Verticals    []string `yaml:"verticals"`
	Statuses     []string `yaml:"statuses"`
	DaysStuckMin *int     `yaml:"days_stuck_min"`
	DaysStuckMax *int     `yaml:"days_stuck_max"`
}

// IsZero reports whether no filter field is set.
func (f FilterConfig) IsZero() bool {
	return len(f.Verticals) == 0 && len(f.Statuses) == 0 && f.DaysStuckMin == nil && f.DaysStuckMax == nil
}

// Apply overlays the set fields of f on observed.
func (f FilterConfig) Apply(observed compute.Predicate) compute.Predicate {
	p := observed.Clone()
	if len(f.Verticals) > 0 {
		p.Verticals = append([]string(nil), f.Verticals...)
	}
	if len(f.Statuses) > 0 {
		p.Statuses = append([]string(nil), f.Statuses...)
	}
	if f.DaysStuckMin != nil {
		p.DaysStuckMin = *f.DaysStuckMin
	}
	if f.DaysStuckMax != nil {
		p.DaysStuckMax = *f.DaysStuckMax
	}
	return p
}

// PublishConfig configures the Kafka publisher.
type PublishConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	ProfilesTopic string   `yaml:"profiles_topic"`
	CohortsTopic  string   `yaml:"cohorts_topic"`

	// BufferSize is the number of messages held while the brokers are
	// unreachable. The oldest message is dropped when it is full.
	BufferSize int `yaml:"buffer_size"`
}

// DelimiterRune returns the configured delimiter as a rune.
func (a AnalyzerConfig) DelimiterRune() rune {
	r, _ := utf8.DecodeRuneInString(a.Delimiter)
	return r
}

// EvalTime returns the pinned evaluation instant, or the zero time when the
// current time should be used.
func (a AnalyzerConfig) EvalTime() time.Time {
	if a.EvaluationTime == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, a.EvaluationTime) // checked by validate
	return t.UTC()
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Analyzer: AnalyzerConfig{
			Input:          Input{Timeout: DefaultFetchTimeout},
			OutputDir:      DefaultOutputDir,
			Delimiter:      DefaultDelimiter,
			ChurnThreshold: churn.DefaultThreshold,
			Publish: PublishConfig{
				ProfilesTopic: DefaultProfilesTopic,
				CohortsTopic:  DefaultCohortsTopic,
				BufferSize:    DefaultBufferSize,
			},
		},
	}
}

// validate checks structural constraints. The input location may be left
// empty here and supplied on the command line.
func validate(cfg *Config) error {
	a := cfg.Analyzer
	if a.Input.Path != "" && a.Input.URL != "" {
		return fmt.Errorf("analyzer.input: path and url are mutually exclusive")
	}
	switch a.Input.Auth.Mode {
	case "apikey":
		if a.Input.Auth.Header == "" {
			return fmt.Errorf("analyzer.input.auth: header is required for apikey mode")
		}
	case "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("analyzer.input.auth: unknown mode %q", a.Input.Auth.Mode)
	}
	if a.Input.Timeout <= 0 {
		return fmt.Errorf("analyzer.input.timeout must be positive")
	}
	if utf8.RuneCountInString(a.Delimiter) != 1 {
		return fmt.Errorf("analyzer.delimiter must be a single character, got %q", a.Delimiter)
	}
	if d := a.DelimiterRune(); d == '"' || d == '\r' || d == '\n' {
		return fmt.Errorf("analyzer.delimiter %q is not allowed", a.Delimiter)
	}
	if a.ChurnThreshold < churn.MinThreshold || a.ChurnThreshold > churn.MaxThreshold {
		return fmt.Errorf("analyzer.churn_threshold must be within [%d, %d], got %d",
			churn.MinThreshold, churn.MaxThreshold, a.ChurnThreshold)
	}
	if a.EvaluationTime != "" {
		if _, err := time.Parse(time.RFC3339, a.EvaluationTime); err != nil {
			return fmt.Errorf("analyzer.evaluation_time: %w", err)
		}
	}
	if f := a.Filter; f.DaysStuckMin != nil && f.DaysStuckMax != nil && *f.DaysStuckMin > *f.DaysStuckMax {
		return fmt.Errorf("analyzer.filter: days_stuck_min %d exceeds days_stuck_max %d",
			*f.DaysStuckMin, *f.DaysStuckMax)
	}
	if p := a.Publish; p.Enabled {
		if len(p.Brokers) == 0 {
			return fmt.Errorf("analyzer.publish.brokers is required when publishing is enabled")
		}
		if p.ProfilesTopic == "" || p.CohortsTopic == "" {
			return fmt.Errorf("analyzer.publish: topics must not be empty")
		}
		if p.BufferSize <= 0 {
			return fmt.Errorf("analyzer.publish.buffer_size must be positive")
		}
	}
	return nil
}
