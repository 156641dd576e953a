package config

import (
	"maps"
	"slices"

	"github.com/ziadkadry99/ragbudget/internal/budget"
	"github.com/ziadkadry99/ragbudget/internal/cache"
	"github.com/ziadkadry99/ragbudget/internal/complexity"
	"github.com/ziadkadry99/ragbudget/internal/compress"
	"github.com/ziadkadry99/ragbudget/internal/indexer"
	"github.com/ziadkadry99/ragbudget/internal/pipeline"
	"github.com/ziadkadry99/ragbudget/internal/retrieval"
	"github.com/ziadkadry99/ragbudget/internal/strategy"
	"github.com/ziadkadry99/ragbudget/internal/telemetry"
)

// DefaultFile is the configuration file looked up in the working directory.
const DefaultFile = ".ragbudget.yml"

// Preset is the model pair suggested for a provider.
type Preset struct {
	Model          string
	EmbeddingModel string
	Embedding      EmbeddingProviderType
}

// presets maps each provider to its suggested chat and embedding models.
var presets = map[ProviderType]Preset{
	ProviderAnthropic:  {Model: "claude-sonnet-4-5-20250929", EmbeddingModel: "text-embedding-3-small", Embedding: EmbeddingOpenAI},
	ProviderOpenAI:     {Model: "gpt-4o", EmbeddingModel: "text-embedding-3-small", Embedding: EmbeddingOpenAI},
	ProviderOpenRouter: {Model: "openai/gpt-4o", EmbeddingModel: "text-embedding-3-small", Embedding: EmbeddingOpenAI},
	ProviderOllama:     {Model: "llama3", EmbeddingModel: "nomic-embed-text", Embedding: EmbeddingOllama},
}

// GetPreset returns the suggested models for a provider, falling back to
// the Anthropic preset.
func GetPreset(provider ProviderType) Preset {
	if p, ok := presets[provider]; ok {
		return p
	}
	return presets[ProviderAnthropic]
}

// embeddingDimensions lists the vector size of known embedding models.
var embeddingDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
}

// DimensionsFor returns the vector size of an embedding model, or 0 if unknown.
func DimensionsFor(model string) int {
	return embeddingDimensions[model]
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	preset := presets[ProviderAnthropic]
	compression := compress.DefaultOptions()
	compression.ImportanceKeywords = slices.Clone(compression.ImportanceKeywords)
	return &Config{
		Provider:            ProviderAnthropic,
		Model:               preset.Model,
		RateLimit:           60,
		EmbeddingProvider:   preset.Embedding,
		EmbeddingModel:      preset.EmbeddingModel,
		EmbeddingDimensions: DimensionsFor(preset.EmbeddingModel),
		DataDir:             ".ragbudget",
		LogLevel:            "info",
		ProfileFile:         ".ragbudget/profile.json",
		Include:             []string{"**/*"},
		Index: IndexConfig{
			ChunkWords:   indexer.DefaultChunkWords,
			OverlapWords: indexer.DefaultOverlapWords,
			Concurrency:  indexer.DefaultConcurrency,
		},
		Classifier: ClassifierConfig{
			Keywords:        maps.Clone(complexity.DefaultKeywords),
			KeywordBonusCap: complexity.DefaultKeywordBonusCap,
		},
		Budget:      budget.DefaultOptions(),
		Retrieval:   retrieval.DefaultOptions(),
		Compression: compression,
		Cache: CacheConfig{
			Options:         cache.DefaultOptions(),
			Redis:           cache.RedisOptions{Prefix: cache.DefaultRedisPrefix},
			JanitorSchedule: cache.DefaultJanitorSchedule,
		},
		Modes: modesFromMap(strategy.DefaultModes()),
		Pipeline: PipelineConfig{
			HistoryLimit: pipeline.DefaultHistoryLimit,
		},
		Telemetry: telemetry.Options{
			ServiceName: "ragbudget",
			SampleRate:  1,
		},
	}
}

func modesFromMap(m map[strategy.Mode]strategy.ModeConfig) ModesConfig {
	return ModesConfig{
		Quick:    m[strategy.ModeQuick],
		Medium:   m[strategy.ModeMedium],
		Advanced: m[strategy.ModeAdvanced],
	}
}

// Table returns the modes keyed by name.
func (m ModesConfig) Table() map[strategy.Mode]strategy.ModeConfig {
	return map[strategy.Mode]strategy.ModeConfig{
		strategy.ModeQuick:    m.Quick,
		strategy.ModeMedium:   m.Medium,
		strategy.ModeAdvanced: m.Advanced,
	}
}

// Options converts the keyword table into classifier options.
func (c ClassifierConfig) Options() complexity.Options {
	return complexity.Options{Keywords: c.Keywords, KeywordBonusCap: c.KeywordBonusCap}
}
