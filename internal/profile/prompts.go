package profile

import (
	"fmt"
	"strconv"

	"github.com/manifoldco/promptui"
)

// CollectInteractive asks for the company and project background. Every
// question is optional; pressing Enter keeps the current value. The
// existing profile may be nil.
func CollectInteractive(existing *Profile) (*Profile, error) {
	fmt.Println("Describe the company and project the assistant works for.")
	fmt.Println("Press Enter to skip any question.")
	fmt.Println()

	p := &Profile{}
	if existing != nil {
		*p = *existing
	}

	fields := []struct {
		label string
		dst   *string
	}{
		{"Company name", &p.Company.Name},
		{"Industry", &p.Company.Industry},
		{"Sector", &p.Company.Sector},
		{"Work area", &p.Company.WorkArea},
		{"Project name", &p.Project.Name},
		{"Project description", &p.Project.Description},
		{"Project status", &p.Project.Status},
	}
	for _, f := range fields {
		v, err := askOptional(f.label, *f.dst)
		if err != nil {
			return nil, fmt.Errorf("profile: %s prompt: %w", f.label, err)
		}
		*f.dst = v
	}

	for {
		content, err := askOptional("Add a custom instruction (Enter to finish)", "")
		if err != nil {
			return nil, fmt.Errorf("profile: instruction prompt: %w", err)
		}
		if content == "" {
			break
		}
		prio, err := askPriority()
		if err != nil {
			return nil, fmt.Errorf("profile: priority prompt: %w", err)
		}
		p.Instructions = append(p.Instructions, Instruction{
			Name:     fmt.Sprintf("instruction %d", len(p.Instructions)+1),
			Content:  content,
			Priority: prio,
		})
	}
	return p, nil
}

// askOptional displays a prompt and returns the user's input, or def when
// the user just presses Enter.
func askOptional(label, def string) (string, error) {
	p := promptui.Prompt{
		Label:     label,
		Default:   def,
		AllowEdit: true,
	}
	return p.Run()
}

func askPriority() (int, error) {
	p := promptui.Prompt{
		Label:   "Priority (1 = critical, 5 = normal)",
		Default: "5",
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 || n > 9 {
				return fmt.Errorf("enter a number from 1 to 9")
			}
			return nil
		},
	}
	s, err := p.Run()
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}
