// Package config loads and validates the ragbudget configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix marks environment overrides. A double underscore separates
// nesting levels: RAGBUDGET_CACHE__CONTEXT_TTL sets cache.context_ttl.
const EnvPrefix = "RAGBUDGET_"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (RAGBUDGET_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// envKey maps RAGBUDGET_BUDGET__MIN_CONTEXT to budget.min_context.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var validProviders = map[ProviderType]bool{
	ProviderAnthropic:  true,
	ProviderOpenAI:     true,
	ProviderOpenRouter: true,
	ProviderOllama:     true,
}

var validEmbeddingProviders = map[EmbeddingProviderType]bool{
	EmbeddingOpenAI: true,
	EmbeddingOllama: true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return invalid("provider is required")
	}
	if !validProviders[c.Provider] {
		return invalid("invalid provider %q: must be one of anthropic, openai, openrouter, ollama", c.Provider)
	}
	if c.Model == "" {
		return invalid("model is required")
	}

	if !validEmbeddingProviders[c.EmbeddingProvider] {
		return invalid("invalid embedding_provider %q: must be one of openai, ollama", c.EmbeddingProvider)
	}
	if c.EmbeddingModel == "" {
		return invalid("embedding_model is required")
	}
	if c.EmbeddingProvider == EmbeddingOllama && c.EmbeddingDimensions <= 0 {
		return invalid("embedding_dimensions must be positive for ollama embeddings")
	}

	if c.DataDir == "" {
		return invalid("data_dir is required")
	}
	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		return invalid("invalid log_level %q: must be one of debug, info, warn, error", c.LogLevel)
	}
	if c.RateLimit < 0 {
		return invalid("rate_limit must be non-negative")
	}

	if c.Index.Concurrency < 0 {
		return invalid("index.concurrency must be non-negative")
	}
	if c.Index.ChunkWords > 0 && c.Index.OverlapWords >= c.Index.ChunkWords {
		return invalid("index.overlap_words must be smaller than index.chunk_words")
	}

	for kw, w := range c.Classifier.Keywords {
		if w < 1 {
			return invalid("classifier keyword %q has weight %.2f: weights start at 1", kw, w)
		}
	}

	if r := c.Budget.Response; r.Min > 0 && r.Max > 0 && r.Min > r.Max {
		return invalid("budget.response.min %d exceeds budget.response.max %d", r.Min, r.Max)
	}
	if c.Budget.Window < 0 {
		return invalid("budget.window must be non-negative")
	}

	if c.Compression.FillRatio < 0 || c.Compression.FillRatio > 1 {
		return invalid("compression.fill_ratio must be within [0,1]")
	}
	if t := c.Cache.FuzzyThreshold; t < 0 || t > 1 {
		return invalid("cache.fuzzy_threshold must be within [0,1]")
	}
	if t := c.Retrieval.DedupThreshold; t < 0 || t > 1 {
		return invalid("retrieval.dedup_threshold must be within [0,1]")
	}
	if c.Cache.JanitorSchedule != "" {
		if _, err := cron.ParseStandard(c.Cache.JanitorSchedule); err != nil {
			return invalid("cache.janitor_schedule %q: %v", c.Cache.JanitorSchedule, err)
		}
	}

	for mode, mc := range c.Modes.Table() {
		if mc.MaxTokens < 0 || mc.MinTokens < 0 {
			return invalid("modes.%s token limits must be non-negative", mode)
		}
		if mc.MaxTokens > 0 && mc.MinTokens > mc.MaxTokens {
			return invalid("modes.%s.min_tokens exceeds max_tokens", mode)
		}
	}

	if r := c.Telemetry.SampleRate; r < 0 || r > 1 {
		return invalid("telemetry.sample_rate must be within [0,1]")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	default:
		return ""
	}
}
