// Package tokens counts and truncates text in model tokens.
package tokens

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// FallbackEncoding is used when the model has no registered encoding.
const FallbackEncoding = "cl100k_base"

// wordsPerToken is the ratio used when no tokenizer is available.
const wordsPerToken = 1.3

// Counter measures and truncates text in tokens. Implementations never fail;
// they degrade to an estimate instead.
type Counter interface {
	Count(text string) int
	Truncate(text string, max int) string
}

// TiktokenCounter counts tokens with a BPE encoding resolved from a model name.
type TiktokenCounter struct {
	model string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTiktoken returns a counter for the given model. The encoding is loaded
// lazily on first use so construction never blocks on I/O.
func NewTiktoken(model string) *TiktokenCounter {
	return &TiktokenCounter{model: model}
}

// Model returns the model identifier the counter was built for.
func (c *TiktokenCounter) Model() string {
	return c.model
}

func (c *TiktokenCounter) encoding() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(c.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding(FallbackEncoding)
		}
		if err != nil {
			slog.Warn("tokens: no encoding available, using word estimate", "model", c.model, "error", err)
			c.err = err
			return
		}
		c.enc = enc
	})
	return c.enc
}

// Count returns the number of tokens in text.
func (c *TiktokenCounter) Count(text string) (n int) {
	if text == "" {
		return 0
	}
	enc := c.encoding()
	if enc == nil {
		return Estimate(text)
	}
	defer func() {
		if r := recover(); r != nil {
			n = Estimate(text)
		}
	}()
	return len(enc.Encode(text, nil, nil))
}

// Truncate returns the longest prefix of text that fits in max tokens.
func (c *TiktokenCounter) Truncate(text string, max int) (out string) {
	if max <= 0 {
		return ""
	}
	enc := c.encoding()
	if enc == nil {
		return TruncateWords(text, max)
	}
	defer func() {
		if r := recover(); r != nil {
			out = TruncateWords(text, max)
		}
	}()
	toks := enc.Encode(text, nil, nil)
	if len(toks) <= max {
		return text
	}
	return enc.Decode(toks[:max])
}

// Estimate approximates the token count of text from its word count.
func Estimate(text string) int {
	return int(float64(len(strings.Fields(text))) * wordsPerToken)
}

// TruncateWords keeps as many leading words as fit in max estimated tokens.
func TruncateWords(text string, max int) string {
	if max <= 0 {
		return ""
	}
	words := strings.Fields(text)
	keep := int(float64(max) / wordsPerToken)
	if keep >= len(words) {
		return text
	}
	return strings.Join(words[:keep], " ")
}

// EstimateChars approximates tokens as one per four characters.
func EstimateChars(text string) int {
	return len(text) / 4
}

// Estimator is a Counter that never loads an encoding. It is deterministic
// and cheap, which makes it the counter of choice in tests and offline runs.
type Estimator struct{}

func (Estimator) Count(text string) int                { return Estimate(text) }
func (Estimator) Truncate(text string, max int) string { return TruncateWords(text, max) }
