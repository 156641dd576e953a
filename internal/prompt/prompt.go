// Package prompt assembles system prompts and chat messages from retrieved
// context, the business profile and the generation mode.
package prompt

import (
	"fmt"
	"strings"

	"github.com/ziadkadry99/ragbudget/internal/complexity"
	"github.com/ziadkadry99/ragbudget/internal/history"
	"github.com/ziadkadry99/ragbudget/internal/knowledge"
	"github.com/ziadkadry99/ragbudget/internal/llm"
	"github.com/ziadkadry99/ragbudget/internal/profile"
	"github.com/ziadkadry99/ragbudget/internal/tokens"
)

// DefaultInstructions opens every system prompt.
const DefaultInstructions = `You are an expert assistant working with the knowledge base of the user's organization.

Response rules:
1. Follow the custom instructions exactly when they are present.
2. Prefer the provided context over general knowledge, and project context over company context.
3. Keep answers clear, structured and actionable.
4. Cite the sources you used by their name in brackets.
5. Do not make assumptions the context does not support; say so when information is missing.`

const chainOfThought = `Think through this step by step:
1. Break the question into its main parts.
2. Identify what the context above already tells you.
3. Determine what information is missing.
4. Reason through each part.
5. Combine the analysis into one coherent answer.
6. Check the answer for completeness and accuracy.`

// categoryHeadings lists context groups in the order they are rendered.
var categoryHeadings = []struct {
	category knowledge.Category
	heading  string
}{
	{knowledge.CategoryProject, "Project knowledge (primary reference)"},
	{knowledge.CategoryCompany, "Company knowledge"},
	{knowledge.CategoryGeneral, "Additional context (use only if needed)"},
}

// Input is everything that goes into a system prompt.
type Input struct {
	Profile *profile.Profile
	Items   []knowledge.Item
	Level   complexity.Level
	// Directive is the generation mode's instruction.
	Directive string
	// MaxTokens is the system reservation for the fixed sections. Zero
	// disables truncation.
	MaxTokens int
	// ContextTokens is the context reservation added on top of MaxTokens.
	ContextTokens int
}

// Builder renders prompts.
type Builder struct {
	counter      tokens.Counter
	instructions string
}

// NewBuilder creates a Builder. Empty instructions use DefaultInstructions.
func NewBuilder(counter tokens.Counter, instructions string) *Builder {
	if counter == nil {
		counter = tokens.Estimator{}
	}
	if strings.TrimSpace(instructions) == "" {
		instructions = DefaultInstructions
	}
	return &Builder{counter: counter, instructions: instructions}
}

// Assembly is a rendered system prompt.
type Assembly struct {
	System string
	// ContextTokens counts the context section that made it into System.
	ContextTokens int
}

// System renders the system prompt: instructions, profile, grouped
// context, mode directive and, for complex queries, a reasoning scaffold.
func (b *Builder) System(in Input) string {
	return b.Assemble(in).System
}

// Assemble renders the system prompt capped at MaxTokens plus
// ContextTokens. The fixed sections never take more than MaxTokens and the
// context section is cut first.
func (b *Builder) Assemble(in Input) Assembly {
	head := []string{b.instructions}
	if s := strings.TrimSpace(in.Profile.ToPromptSection()); s != "" {
		head = append(head, s)
	}
	var tail []string
	if d := strings.TrimSpace(in.Directive); d != "" {
		tail = append(tail, d)
	}
	if in.Level.AtLeast(complexity.Complex) {
		tail = append(tail, chainOfThought)
	}
	ctx := Context(in.Items)

	limit := in.MaxTokens + max(in.ContextTokens, 0)
	out := join(head, ctx, tail)
	if in.MaxTokens <= 0 || b.counter.Count(out) <= limit {
		return Assembly{System: out, ContextTokens: b.counter.Count(ctx)}
	}

	fixed := join(head, "", tail)
	if b.counter.Count(fixed) > in.MaxTokens {
		fixed = b.counter.Truncate(fixed, in.MaxTokens)
		head, tail = []string{fixed}, nil
	}
	if ctx != "" {
		if room := limit - b.counter.Count(fixed) - 2; room > 0 {
			if cut := b.counter.Truncate(ctx, room); cut != "" {
				if out = join(head, cut, tail); b.counter.Count(out) <= limit {
					return Assembly{System: out, ContextTokens: b.counter.Count(cut)}
				}
			}
		}
	}
	return Assembly{System: fixed}
}

func join(head []string, ctx string, tail []string) string {
	parts := append([]string(nil), head...)
	if ctx != "" {
		parts = append(parts, ctx)
	}
	parts = append(parts, tail...)
	return strings.Join(parts, "\n\n")
}

// Context renders items grouped by category, project first. Items keep
// their relative order within a group.
func Context(items []knowledge.Item) string {
	if len(items) == 0 {
		return ""
	}
	groups := make(map[knowledge.Category][]knowledge.Item)
	for _, it := range items {
		c := it.Category
		if !c.Valid() {
			c = knowledge.CategoryGeneral
		}
		groups[c] = append(groups[c], it)
	}

	var sb strings.Builder
	sb.WriteString("Context:")
	n := 0
	for _, g := range categoryHeadings {
		list := groups[g.category]
		if len(list) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n\n## %s\n", g.heading)
		for _, it := range list {
			n++
			fmt.Fprintf(&sb, "\n[%d] %s (relevance %.2f)\n%s\n", n, it.Title(), it.Score, strings.TrimSpace(it.Content))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Sources returns the distinct source ids of items in order.
func Sources(items []knowledge.Item) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		if it.SourceID == "" || seen[it.SourceID] {
			continue
		}
		seen[it.SourceID] = true
		out = append(out, it.SourceID)
	}
	return out
}

// Messages builds the chat transcript: system prompt, prior turns and the
// new query. Stored system messages are dropped.
func (b *Builder) Messages(system string, hist []history.Entry, query string) []llm.Message {
	msgs := make([]llm.Message, 0, len(hist)+2)
	if system != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	for _, e := range hist {
		switch e.Role {
		case history.RoleUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: e.Content})
		case history.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: e.Content})
		}
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: query})
}

// Tokens counts text with the builder's counter.
func (b *Builder) Tokens(text string) int {
	return b.counter.Count(text)
}
