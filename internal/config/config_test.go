package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ziadkadry99/ragbudget/internal/strategy"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Provider != ProviderAnthropic {
		t.Errorf("expected default provider %q, got %q", ProviderAnthropic, cfg.Provider)
	}
	if cfg.DataDir != ".ragbudget" {
		t.Errorf("expected default data_dir %q, got %q", ".ragbudget", cfg.DataDir)
	}
	if cfg.EmbeddingDimensions != 1536 {
		t.Errorf("expected 1536 embedding dimensions, got %d", cfg.EmbeddingDimensions)
	}
	if cfg.Budget.Window != 120000 {
		t.Errorf("expected window 120000, got %d", cfg.Budget.Window)
	}
	if cfg.Modes.Advanced.MinTokens != 1100 {
		t.Errorf("expected advanced min_tokens 1100, got %d", cfg.Modes.Advanced.MinTokens)
	}
	if len(cfg.Classifier.Keywords) == 0 {
		t.Error("expected default classifier keywords")
	}
}

func TestDefaultConfigCopiesKeywords(t *testing.T) {
	a := DefaultConfig()
	a.Classifier.Keywords["zzz-test"] = 2
	b := DefaultConfig()
	if _, ok := b.Classifier.Keywords["zzz-test"]; ok {
		t.Error("keyword table is shared between configs")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.ragbudget.yml")

	original := DefaultConfig()
	original.Provider = ProviderOpenAI
	original.Model = "gpt-4o-mini"
	original.Include = []string{"docs/**/*.md", "**/*.txt"}
	original.Cache.ContextTTL = 90 * time.Minute
	original.Cache.Redis.Addr = "localhost:6379"
	original.Budget.Window = 64000
	original.Modes.Medium.MinTokens = 500

	if err := original.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Provider != original.Provider {
		t.Errorf("provider: got %q, want %q", loaded.Provider, original.Provider)
	}
	if loaded.Model != original.Model {
		t.Errorf("model: got %q, want %q", loaded.Model, original.Model)
	}
	if loaded.Cache.ContextTTL != original.Cache.ContextTTL {
		t.Errorf("cache.context_ttl: got %v, want %v", loaded.Cache.ContextTTL, original.Cache.ContextTTL)
	}
	if loaded.Cache.Redis.Addr != "localhost:6379" {
		t.Errorf("cache.redis.addr: got %q", loaded.Cache.Redis.Addr)
	}
	if loaded.Budget.Window != 64000 {
		t.Errorf("budget.window: got %d, want 64000", loaded.Budget.Window)
	}
	if loaded.Modes.Medium.MinTokens != 500 {
		t.Errorf("modes.medium.min_tokens: got %d, want 500", loaded.Modes.Medium.MinTokens)
	}
	if loaded.Modes.Medium.Separator != original.Modes.Medium.Separator {
		t.Errorf("modes.medium.separator: got %q, want %q", loaded.Modes.Medium.Separator, original.Modes.Medium.Separator)
	}
	if len(loaded.Include) != len(original.Include) {
		t.Fatalf("include length: got %d, want %d", len(loaded.Include), len(original.Include))
	}
	for i, v := range loaded.Include {
		if v != original.Include[i] {
			t.Errorf("include[%d]: got %q, want %q", i, v, original.Include[i])
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonexistent.yml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load should not fail for missing file: %v", err)
	}
	if cfg.Provider != ProviderAnthropic {
		t.Errorf("expected default provider, got %q", cfg.Provider)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.yml")
	data := "model: gpt-4o\nmodes:\n  advanced:\n    min_tokens: 900\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Model != "gpt-4o" {
		t.Errorf("model: got %q", cfg.Model)
	}
	if cfg.Modes.Advanced.MinTokens != 900 {
		t.Errorf("advanced min_tokens: got %d, want 900", cfg.Modes.Advanced.MinTokens)
	}
	if cfg.Modes.Advanced.MaxTokens != 8000 {
		t.Errorf("advanced max_tokens should keep its default, got %d", cfg.Modes.Advanced.MaxTokens)
	}
	if cfg.Retrieval.TopK != 10 {
		t.Errorf("retrieval.top_k should keep its default, got %d", cfg.Retrieval.TopK)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yml")

	if err := DefaultConfig().Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	t.Setenv("RAGBUDGET_PROVIDER", "openai")
	t.Setenv("RAGBUDGET_DATA_DIR", "/tmp/rb")
	t.Setenv("RAGBUDGET_CACHE__CONTEXT_TTL", "30m")
	t.Setenv("RAGBUDGET_BUDGET__MIN_CONTEXT", "5000")

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Provider != ProviderOpenAI {
		t.Errorf("provider: got %q, want %q", loaded.Provider, ProviderOpenAI)
	}
	if loaded.DataDir != "/tmp/rb" {
		t.Errorf("data_dir: got %q", loaded.DataDir)
	}
	if loaded.Cache.ContextTTL != 30*time.Minute {
		t.Errorf("cache.context_ttl: got %v", loaded.Cache.ContextTTL)
	}
	if loaded.Budget.MinContext != 5000 {
		t.Errorf("budget.min_context: got %d", loaded.Budget.MinContext)
	}
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"RAGBUDGET_MODEL", "model"},
		{"RAGBUDGET_LOG_LEVEL", "log_level"},
		{"RAGBUDGET_CACHE__REDIS__ADDR", "cache.redis.addr"},
		{"RAGBUDGET_MODES__QUICK__MAX_TOKENS", "modes.quick.max_tokens"},
	}
	for _, tt := range tests {
		if got := envKey(tt.in); got != tt.want {
			t.Errorf("envKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty provider", func(c *Config) { c.Provider = "" }},
		{"unknown provider", func(c *Config) { c.Provider = "invalid" }},
		{"empty model", func(c *Config) { c.Model = "" }},
		{"unknown embedding provider", func(c *Config) { c.EmbeddingProvider = "cohere" }},
		{"ollama without dimensions", func(c *Config) {
			c.EmbeddingProvider = EmbeddingOllama
			c.EmbeddingDimensions = 0
		}},
		{"empty data dir", func(c *Config) { c.DataDir = "" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "chatty" }},
		{"negative rate limit", func(c *Config) { c.RateLimit = -1 }},
		{"overlap not below chunk", func(c *Config) { c.Index.OverlapWords = c.Index.ChunkWords }},
		{"keyword weight below one", func(c *Config) { c.Classifier.Keywords["x"] = 0.5 }},
		{"response range inverted", func(c *Config) { c.Budget.Response.Min = c.Budget.Response.Max + 1 }},
		{"fill ratio above one", func(c *Config) { c.Compression.FillRatio = 1.5 }},
		{"fuzzy threshold negative", func(c *Config) { c.Cache.FuzzyThreshold = -0.1 }},
		{"bad janitor schedule", func(c *Config) { c.Cache.JanitorSchedule = "every now and then" }},
		{"mode min above max", func(c *Config) { c.Modes.Quick.MinTokens = c.Modes.Quick.MaxTokens + 1 }},
		{"sample rate above one", func(c *Config) { c.Telemetry.SampleRate = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig should be valid, got: %v", err)
	}
}

func TestGetPreset(t *testing.T) {
	if p := GetPreset(ProviderOllama); p.Embedding != EmbeddingOllama {
		t.Errorf("ollama preset embedding: got %q", p.Embedding)
	}
	if p := GetPreset(ProviderOpenAI); p.Model != "gpt-4o" {
		t.Errorf("openai preset model: got %q", p.Model)
	}
	if p := GetPreset("unknown"); p.Model != GetPreset(ProviderAnthropic).Model {
		t.Errorf("expected fallback to anthropic preset, got %q", p.Model)
	}
}

func TestModesTable(t *testing.T) {
	table := DefaultConfig().Modes.Table()
	want := strategy.DefaultModes()
	for _, m := range []strategy.Mode{strategy.ModeQuick, strategy.ModeMedium, strategy.ModeAdvanced} {
		if table[m] != want[m] {
			t.Errorf("mode %s: got %+v, want %+v", m, table[m], want[m])
		}
	}
}

func TestAPIKeyEnvVar(t *testing.T) {
	tests := []struct {
		provider ProviderType
		want     string
	}{
		{ProviderAnthropic, "ANTHROPIC_API_KEY"},
		{ProviderOpenAI, "OPENAI_API_KEY"},
		{ProviderOpenRouter, "OPENROUTER_API_KEY"},
		{ProviderOllama, ""},
	}
	for _, tt := range tests {
		if got := APIKeyEnvVar(tt.provider); got != tt.want {
			t.Errorf("APIKeyEnvVar(%q) = %q, want %q", tt.provider, got, tt.want)
		}
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" a/**, ,b.md ,")
	if len(got) != 2 || got[0] != "a/**" || got[1] != "b.md" {
		t.Errorf("splitAndTrim = %q", got)
	}
}
