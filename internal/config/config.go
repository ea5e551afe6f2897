// Package config loads and validates Relay configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relayagent/relay/pkg/models"
)

// Config is the root configuration structure for Relay.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	MultiModel MultiModelConfig `yaml:"multi_model"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Artifacts  ArtifactsConfig  `yaml:"artifacts"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
}

// RuntimeConfig locates the persisted runtime-settings database. When Path is
// empty the persisted tier is disabled and the file config serves every read.
type RuntimeConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`

	// JWTSecret verifies bearer tokens in the authentication stage.
	JWTSecret string `yaml:"jwt_secret"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// PipelineConfig is the per-request effective configuration snapshot source.
// The runner resolves it once per request; stages never re-read it.
type PipelineConfig struct {
	// MaxRounds bounds the tool-call loop. Values above HardMaxRounds are
	// clamped at resolution time.
	MaxRounds int `yaml:"max_rounds"`

	// StageTimeout bounds each external call made by a stage.
	StageTimeout time.Duration `yaml:"stage_timeout"`

	// EventBuffer sizes the bounded event channel handed to callers.
	EventBuffer int `yaml:"event_buffer"`

	// MaxInputChars rejects oversized request text at validation.
	MaxInputChars int `yaml:"max_input_chars"`

	// ReasoningTools are tool names the loop executes at most once per
	// request; later requests for them are dropped. Distinct from the
	// discovery blocklist, which hides tools from the model entirely.
	ReasoningTools []string `yaml:"reasoning_tools"`
}

// HardMaxRounds is the ceiling on tool-call rounds regardless of configuration.
const HardMaxRounds = 10

// DefaultMaxRounds is the authoritative default for the tool-call round cap.
const DefaultMaxRounds = 5

// EffectiveMaxRounds returns the round cap with the default applied and
// the hard ceiling enforced, regardless of where the snapshot came from.
func (p PipelineConfig) EffectiveMaxRounds() int {
	if p.MaxRounds <= 0 {
		return DefaultMaxRounds
	}
	if p.MaxRounds > HardMaxRounds {
		return HardMaxRounds
	}
	return p.MaxRounds
}

type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`

	// TopK is the semantic retrieval cutoff.
	TopK int `yaml:"top_k"`

	// Blocklist removes reasoning/meta tools from every result set.
	Blocklist []string `yaml:"blocklist"`
}

// MultiModelConfig is the runtime multi-model routing configuration.
type MultiModelConfig struct {
	// Enabled is tri-state: nil defers to the slider threshold.
	Enabled *bool `yaml:"enabled"`

	// SliderThreshold is the minimum slider position for multi-model
	// execution when Enabled is unset.
	SliderThreshold int `yaml:"slider_threshold"`

	// DefaultModel serves the single-model path.
	DefaultModel string `yaml:"default_model"`

	// Roles maps role names to model assignments.
	Roles map[models.ModelRole]models.RoleAssignment `yaml:"roles"`
}

type ProvidersConfig struct {
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`

	// Embeddings selects the embedding backend for semantic tool discovery.
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
}

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type EmbeddingsConfig struct {
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
}

type ArtifactsConfig struct {
	// Path is the sqlite database file for the large-result store.
	Path string `yaml:"path"`

	// MaxInlineBytes is the threshold above which tool results are stored
	// out of band and replaced with a reference summary.
	MaxInlineBytes int `yaml:"max_inline_bytes"`
}

// Default returns the compiled-in configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			HTTPPort:    8420,
			MetricsPort: 9420,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Pipeline: PipelineConfig{
			MaxRounds:      DefaultMaxRounds,
			StageTimeout:   60 * time.Second,
			EventBuffer:    256,
			MaxInputChars:  32_000,
			ReasoningTools: []string{"think", "sequential_thinking", "reflect"},
		},
		Discovery: DiscoveryConfig{
			Enabled:   true,
			TopK:      10,
			Blocklist: []string{"think", "sequential_thinking", "reflect"},
		},
		MultiModel: MultiModelConfig{
			SliderThreshold: 7,
			DefaultModel:    "claude-sonnet-4-20250514",
		},
		Artifacts: ArtifactsConfig{
			Path:           "relay-artifacts.db",
			MaxInlineBytes: 32 << 10,
		},
	}
}

// Load reads a YAML configuration file, expands ${ENV} references, applies
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Pipeline.MaxRounds <= 0 {
		c.Pipeline.MaxRounds = def.Pipeline.MaxRounds
	}
	if c.Pipeline.StageTimeout <= 0 {
		c.Pipeline.StageTimeout = def.Pipeline.StageTimeout
	}
	if c.Pipeline.EventBuffer <= 0 {
		c.Pipeline.EventBuffer = def.Pipeline.EventBuffer
	}
	if c.Pipeline.MaxInputChars <= 0 {
		c.Pipeline.MaxInputChars = def.Pipeline.MaxInputChars
	}
	if len(c.Pipeline.ReasoningTools) == 0 {
		c.Pipeline.ReasoningTools = def.Pipeline.ReasoningTools
	}
	if c.Discovery.TopK <= 0 {
		c.Discovery.TopK = def.Discovery.TopK
	}
	if len(c.Discovery.Blocklist) == 0 {
		c.Discovery.Blocklist = def.Discovery.Blocklist
	}
	if c.MultiModel.SliderThreshold <= 0 {
		c.MultiModel.SliderThreshold = def.MultiModel.SliderThreshold
	}
	if c.MultiModel.DefaultModel == "" {
		c.MultiModel.DefaultModel = def.MultiModel.DefaultModel
	}
	if c.Artifacts.MaxInlineBytes <= 0 {
		c.Artifacts.MaxInlineBytes = def.Artifacts.MaxInlineBytes
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Pipeline.MaxRounds > HardMaxRounds {
		c.Pipeline.MaxRounds = HardMaxRounds
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug|info|warn|error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not one of json|text", c.Logging.Format)
	}
	if c.MultiModel.Enabled != nil && *c.MultiModel.Enabled && len(c.MultiModel.Roles) == 0 {
		return fmt.Errorf("multi_model.enabled is true but no roles are configured")
	}
	for role, assignment := range c.MultiModel.Roles {
		if assignment.Model == "" {
			return fmt.Errorf("multi_model.roles.%s has no model", role)
		}
	}
	return nil
}
