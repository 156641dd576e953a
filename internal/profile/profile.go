// Package profile holds the company and project background injected into
// system prompts, plus the custom instructions that ride along with it.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Company describes the organization the assistant works for.
type Company struct {
	Name     string `json:"name,omitempty"`
	Industry string `json:"industry,omitempty"`
	Sector   string `json:"sector,omitempty"`
	WorkArea string `json:"work_area,omitempty"`
}

// Project describes the project a conversation is scoped to.
type Project struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Instruction is a custom rule the assistant must follow. Lower priority
// values are more important.
type Instruction struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	Priority int    `json:"priority,omitempty"`
}

// Profile is the full background loaded from the profile file.
type Profile struct {
	Company      Company       `json:"company"`
	Project      Project       `json:"project"`
	Instructions []Instruction `json:"instructions,omitempty"`
}

// Load reads a Profile from a JSON file. Returns nil and no error if the
// file does not exist or holds nothing.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("profile: reading %s: %w", path, err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile: parsing %s: %w", path, err)
	}
	if p.IsEmpty() {
		return nil, nil
	}
	return &p, nil
}

// Save writes the Profile as indented JSON, creating parent directories.
func (p *Profile) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("profile: creating directory: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("profile: marshaling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("profile: writing %s: %w", path, err)
	}
	return nil
}

// IsEmpty returns true if no fields are populated.
func (p *Profile) IsEmpty() bool {
	return p == nil || (p.Company == Company{} && p.Project == Project{} && len(p.Instructions) == 0)
}

// priorityLabel buckets an instruction priority for display.
func priorityLabel(priority int) string {
	switch {
	case priority <= 2:
		return "CRITICAL"
	case priority <= 4:
		return "HIGH"
	default:
		return "NORMAL"
	}
}

// ToPromptSection formats the profile as a text block for a system prompt.
func (p *Profile) ToPromptSection() string {
	if p.IsEmpty() {
		return ""
	}

	var b strings.Builder
	if c := p.Company; c != (Company{}) {
		b.WriteString("Business context:\n")
		if c.Name != "" {
			fmt.Fprintf(&b, "- Company: %s\n", c.Name)
		}
		if c.Industry != "" {
			fmt.Fprintf(&b, "- Industry: %s\n", c.Industry)
		}
		if c.Sector != "" {
			fmt.Fprintf(&b, "- Sector: %s\n", c.Sector)
		}
		if c.WorkArea != "" {
			fmt.Fprintf(&b, "- Work area: %s\n", c.WorkArea)
		}
	}

	if pr := p.Project; pr != (Project{}) {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		name := pr.Name
		if name == "" {
			name = pr.ID
		}
		fmt.Fprintf(&b, "Active project: %s\n", name)
		if pr.Description != "" {
			fmt.Fprintf(&b, "- Description: %s\n", pr.Description)
		}
		if pr.Status != "" {
			fmt.Fprintf(&b, "- Status: %s\n", pr.Status)
		}
		b.WriteString("Project documents are the primary reference; prefer them over general knowledge.\n")
	}

	if len(p.Instructions) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		ins := append([]Instruction(nil), p.Instructions...)
		sort.SliceStable(ins, func(i, j int) bool { return effectivePriority(ins[i]) < effectivePriority(ins[j]) })

		b.WriteString("Custom instructions (follow exactly):\n")
		for i, in := range ins {
			name := in.Name
			if name == "" {
				name = fmt.Sprintf("instruction %d", i+1)
			}
			fmt.Fprintf(&b, "[%s] %s: %s\n", priorityLabel(effectivePriority(in)), name, strings.TrimSpace(in.Content))
		}
	}
	return b.String()
}

func effectivePriority(in Instruction) int {
	if in.Priority <= 0 {
		return 5
	}
	return in.Priority
}
