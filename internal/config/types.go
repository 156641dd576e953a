package config

import (
	"github.com/ziadkadry99/ragbudget/internal/budget"
	"github.com/ziadkadry99/ragbudget/internal/cache"
	"github.com/ziadkadry99/ragbudget/internal/compress"
	"github.com/ziadkadry99/ragbudget/internal/retrieval"
	"github.com/ziadkadry99/ragbudget/internal/strategy"
	"github.com/ziadkadry99/ragbudget/internal/telemetry"
)

// ProviderType identifies a chat completion backend.
type ProviderType string

const (
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderOpenAI     ProviderType = "openai"
	ProviderOpenRouter ProviderType = "openrouter"
	ProviderOllama     ProviderType = "ollama"
)

// EmbeddingProviderType identifies an embedding backend.
type EmbeddingProviderType string

const (
	EmbeddingOpenAI EmbeddingProviderType = "openai"
	EmbeddingOllama EmbeddingProviderType = "ollama"
)

// Config is the top-level ragbudget configuration, corresponding to .ragbudget.yml.
type Config struct {
	Provider            ProviderType          `yaml:"provider" koanf:"provider"`
	Model               string                `yaml:"model" koanf:"model"`
	BaseURL             string                `yaml:"base_url,omitempty" koanf:"base_url"`
	RateLimit           int                   `yaml:"rate_limit" koanf:"rate_limit"`
	EmbeddingProvider   EmbeddingProviderType `yaml:"embedding_provider" koanf:"embedding_provider"`
	EmbeddingModel      string                `yaml:"embedding_model" koanf:"embedding_model"`
	EmbeddingBaseURL    string                `yaml:"embedding_base_url,omitempty" koanf:"embedding_base_url"`
	EmbeddingDimensions int                   `yaml:"embedding_dimensions" koanf:"embedding_dimensions"`
	DataDir             string                `yaml:"data_dir" koanf:"data_dir"`
	LogLevel            string                `yaml:"log_level" koanf:"log_level"`
	ProfileFile         string                `yaml:"profile_file" koanf:"profile_file"`
	Include             []string              `yaml:"include" koanf:"include"`
	Exclude             []string              `yaml:"exclude" koanf:"exclude"`

	Index       IndexConfig       `yaml:"index" koanf:"index"`
	Classifier  ClassifierConfig  `yaml:"classifier" koanf:"classifier"`
	Budget      budget.Options    `yaml:"budget" koanf:"budget"`
	Retrieval   retrieval.Options `yaml:"retrieval" koanf:"retrieval"`
	Compression compress.Options  `yaml:"compression" koanf:"compression"`
	Cache       CacheConfig       `yaml:"cache" koanf:"cache"`
	Modes       ModesConfig       `yaml:"modes" koanf:"modes"`
	Pipeline    PipelineConfig    `yaml:"pipeline" koanf:"pipeline"`
	Telemetry   telemetry.Options `yaml:"telemetry" koanf:"telemetry"`
	Metrics     MetricsConfig     `yaml:"metrics" koanf:"metrics"`
}

// IndexConfig tunes document chunking and indexing.
type IndexConfig struct {
	ChunkWords   int `yaml:"chunk_words" koanf:"chunk_words"`
	OverlapWords int `yaml:"overlap_words" koanf:"overlap_words"`
	Concurrency  int `yaml:"concurrency" koanf:"concurrency"`
}

// ClassifierConfig holds the complexity keyword table.
type ClassifierConfig struct {
	Keywords        map[string]float64 `yaml:"keywords" koanf:"keywords"`
	KeywordBonusCap float64            `yaml:"keyword_bonus_cap" koanf:"keyword_bonus_cap"`
}

// CacheConfig holds the in-process cache settings and the optional Redis tier.
type CacheConfig struct {
	cache.Options   `yaml:",inline" koanf:",squash"`
	Redis           cache.RedisOptions `yaml:"redis" koanf:"redis"`
	JanitorSchedule string             `yaml:"janitor_schedule" koanf:"janitor_schedule"`
}

// ModesConfig holds one generation profile per response mode.
type ModesConfig struct {
	Quick    strategy.ModeConfig `yaml:"quick" koanf:"quick"`
	Medium   strategy.ModeConfig `yaml:"medium" koanf:"medium"`
	Advanced strategy.ModeConfig `yaml:"advanced" koanf:"advanced"`
}

// PipelineConfig tunes request orchestration.
type PipelineConfig struct {
	HistoryLimit int `yaml:"history_limit" koanf:"history_limit"`
	// Instructions replaces the stock system prompt preamble when set.
	Instructions string `yaml:"instructions,omitempty" koanf:"instructions"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `yaml:"addr,omitempty" koanf:"addr"`
}
