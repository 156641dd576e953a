// Package strategy generates answers in one of three length modes and
// extends answers that come back shorter than the mode requires.
package strategy

import (
	"fmt"

	"github.com/ziadkadry99/ragbudget/internal/complexity"
)

// Mode is a generation length profile.
type Mode string

const (
	ModeQuick    Mode = "quick"
	ModeMedium   Mode = "medium"
	ModeAdvanced Mode = "advanced"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeQuick, ModeMedium, ModeAdvanced:
		return true
	}
	return false
}

// ParseMode converts a string into a Mode. Empty means no preference.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if s == "" || m.Valid() {
		return m, nil
	}
	return "", fmt.Errorf("strategy: unknown mode %q (want quick, medium or advanced)", s)
}

// ModeConfig holds the limits and prompts of one mode.
type ModeConfig struct {
	MaxTokens   int     `yaml:"max_tokens" koanf:"max_tokens"`
	MinTokens   int     `yaml:"min_tokens" koanf:"min_tokens"`
	Temperature float64 `yaml:"temperature" koanf:"temperature"`
	// Directive is appended to the system prompt.
	Directive       string `yaml:"directive" koanf:"directive"`
	ExtensionPrompt string `yaml:"extension_prompt" koanf:"extension_prompt"`
	// Separator is emitted between the answer and its extension.
	Separator      string `yaml:"separator" koanf:"separator"`
	AllowExtension bool   `yaml:"allow_extension" koanf:"allow_extension"`
}

// DefaultModes returns the stock mode table.
func DefaultModes() map[Mode]ModeConfig {
	return map[Mode]ModeConfig{
		ModeAdvanced: {
			MaxTokens:   8000,
			MinTokens:   1100,
			Temperature: 1,
			Directive: "ADVANCED MODE: your answer must be long, detailed and deep. " +
				"Develop every point with examples, context and thorough analysis. " +
				"The user expects at least 1200 tokens in a single message. Do not be brief.",
			ExtensionPrompt: "Go deeper into the previous points. Add more examples, nuances " +
				"and operational detail. The answer needs to be truly exhaustive.",
			Separator:      "\n\n",
			AllowExtension: true,
		},
		ModeMedium: {
			MaxTokens:   4000,
			MinTokens:   0,
			Temperature: 1,
			Directive:   "Give a balanced answer: complete, structured and to the point.",
			ExtensionPrompt: "Continue the previous answer with more relevant detail and explanation. " +
				"Make sure the topic is covered in enough depth.",
			Separator:      "\n\n_...continuing for more detail..._\n\n",
			AllowExtension: true,
		},
		ModeQuick: {
			MaxTokens:   2000,
			Temperature: 1,
			Directive:   "Answer concisely and directly.",
		},
	}
}

// Select picks the mode for a request. An explicit mode wins; deep requests
// and complex queries get advanced, medium queries get medium, and the rest
// get quick.
func Select(explicit Mode, level complexity.Level, deep bool) Mode {
	if explicit.Valid() {
		return explicit
	}
	switch {
	case deep || level.AtLeast(complexity.Complex):
		return ModeAdvanced
	case level == complexity.Medium:
		return ModeMedium
	default:
		return ModeQuick
	}
}
