package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/casefile/internal/generation"
	"github.com/starford/casefile/internal/workflow"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration. Secrets and endpoints
// can be overridden from the environment.
type Config struct {
	App        ApplicationConfig `yaml:"app"`
	Vault      VaultConfig       `yaml:"vault"`
	Cache      SQLiteConfig      `yaml:"cache"`
	Sessions   SQLiteConfig      `yaml:"sessions"`
	Generation GenerationConfig  `yaml:"generation"`
	Validation ValidationConfig  `yaml:"validation"`
	Narrative  NarrativeConfig   `yaml:"narrative"`
	Workflow   WorkflowConfig    `yaml:"workflow"`
	Events     EventsConfig      `yaml:"events"`
	Telemetry  TelemetryConfig   `yaml:"telemetry"`
	Auth       AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    validation.Validatable
	}{
		{"app", &c.App},
		{"vault", &c.Vault},
		{"cache", &c.Cache},
		{"sessions", &c.Sessions},
		{"generation", &c.Generation},
		{"narrative", &c.Narrative},
		{"workflow", &c.Workflow},
		{"events", &c.Events},
		{"auth", &c.Auth},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" env:"CASEFILE_HTTP_PORT"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig points at the records vault the source client reads.
type VaultConfig struct {
	Path     string        `yaml:"path" env:"CASEFILE_VAULT_PATH"`
	Debounce time.Duration `yaml:"debounce"`
	Watch    bool          `yaml:"watch"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// Providers accepted by GenerationConfig.
var Providers = []interface{}{"openai", "anthropic", "claude", "gemini", "ollama"}

// GenerationConfig selects the model provider and the model per tier.
type GenerationConfig struct {
	Provider  string      `yaml:"provider" env:"CASEFILE_PROVIDER"`
	APIKey    string      `yaml:"api_key" env:"CASEFILE_API_KEY"`
	BaseURL   string      `yaml:"base_url" env:"CASEFILE_BASE_URL"`
	MaxTokens int         `yaml:"max_tokens"`
	Prompts   string      `yaml:"prompts"`
	Fast      ModelConfig `yaml:"fast"`
	Standard  ModelConfig `yaml:"standard"`
	Deep      ModelConfig `yaml:"deep"`
}

// ModelConfig binds one tier to a model.
type ModelConfig struct {
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the generation configuration.
func (c *GenerationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(Providers...)),
		validation.Field(&c.MaxTokens, validation.Min(0)),
	); err != nil {
		return err
	}
	for tier, m := range c.Tiers() {
		if m.Model == "" {
			return fmt.Errorf("tier %s: model is required", tier)
		}
		if m.Timeout < 0 {
			return fmt.Errorf("tier %s: negative timeout", tier)
		}
	}
	return nil
}

// Tiers returns the per-tier model bindings. A zero timeout falls back to
// the tier default.
func (c *GenerationConfig) Tiers() map[generation.Tier]generation.TierConfig {
	tiers := map[generation.Tier]generation.TierConfig{
		generation.TierFast:     {Model: c.Fast.Model, Timeout: c.Fast.Timeout},
		generation.TierStandard: {Model: c.Standard.Model, Timeout: c.Standard.Timeout},
		generation.TierDeep:     {Model: c.Deep.Model, Timeout: c.Deep.Timeout},
	}
	for tier, tc := range tiers {
		if tc.Timeout == 0 {
			tc.Timeout = generation.DefaultTimeouts[tier]
			tiers[tier] = tc
		}
	}
	return tiers
}

// Backend returns the provider settings.
func (c *GenerationConfig) Backend() generation.BackendConfig {
	return generation.BackendConfig{Provider: c.Provider, APIKey: c.APIKey, BaseURL: c.BaseURL}
}

// ValidationConfig points at the content rules applied to generated artifacts.
type ValidationConfig struct {
	Rules string `yaml:"rules"`
}

// NarrativeConfig tunes article generation.
type NarrativeConfig struct {
	Sections    []string `yaml:"sections"`
	MaxAttempts int      `yaml:"max_attempts"`
	Byline      string   `yaml:"byline"`
}

// Validate validates the narrative configuration.
func (c *NarrativeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxAttempts, validation.Min(0), validation.Max(10)),
		validation.Field(&c.Sections, validation.Each(validation.Required)),
	)
}

// WorkflowConfig tunes the session engine.
type WorkflowConfig struct {
	DefaultCap   int            `yaml:"default_revision_cap"`
	RevisionCaps map[string]int `yaml:"revision_caps"`
	Background   bool           `yaml:"background"`
}

// Validate validates the workflow configuration.
func (c *WorkflowConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.DefaultCap, validation.Min(0)),
	); err != nil {
		return err
	}
	for name, n := range c.RevisionCaps {
		if _, err := workflow.ParseCheckpointType(name); err != nil {
			return fmt.Errorf("revision_caps: unknown phase %q", name)
		}
		if n < 0 {
			return fmt.Errorf("revision_caps: %s: negative cap", name)
		}
	}
	return nil
}

// Engine returns the engine settings.
func (c *WorkflowConfig) Engine() workflow.Config {
	caps := make(map[workflow.Phase]int, len(c.RevisionCaps))
	for name, n := range c.RevisionCaps {
		caps[workflow.CheckpointType(name).Phase()] = n
	}
	return workflow.Config{RevisionCaps: caps, DefaultCap: c.DefaultCap, Background: c.Background}
}

// EventsConfig tunes the progress stream and its SSE fan-out.
type EventsConfig struct {
	Buffer           int           `yaml:"buffer"`
	ProgressThrottle time.Duration `yaml:"progress_throttle"`
}

// Validate validates the events configuration.
func (c *EventsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Buffer, validation.Min(0)),
		validation.Field(&c.ProgressThrottle, validation.Min(time.Duration(0))),
	)
}

// TelemetryConfig configures trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint" env:"CASEFILE_OTEL_ENDPOINT"`
	ServiceName string `yaml:"service_name"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" env:"CASEFILE_AUTH_MODE"`
	Token string `yaml:"token" env:"CASEFILE_AUTH_TOKEN"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path:     "./vault",
			Debounce: 200 * time.Millisecond,
			Watch:    true,
		},
		Cache: SQLiteConfig{
			Path: "./data/cache.db",
		},
		Sessions: SQLiteConfig{
			Path: "./data/sessions.db",
		},
		Generation: GenerationConfig{
			Provider:  "ollama",
			MaxTokens: 4096,
			Fast:      ModelConfig{Model: "llama3.1:8b"},
			Standard:  ModelConfig{Model: "llama3.1:8b"},
			Deep:      ModelConfig{Model: "llama3.1:70b"},
		},
		Narrative: NarrativeConfig{
			MaxAttempts: 3,
		},
		Workflow: WorkflowConfig{
			DefaultCap: workflow.DefaultRevisionCap,
			Background: true,
		},
		Events: EventsConfig{
			Buffer:           256,
			ProgressThrottle: 500 * time.Millisecond,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "casefile",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
