package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/ragbudget/internal/profile"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Describe the company and project the assistant works for",
	Long: `Asks for company and project background plus custom instructions and
saves them to profile_file. The profile is added to every system prompt.`,
	Args: cobra.NoArgs,
	RunE: runProfile,
}

func init() {
	profileCmd.Flags().Bool("show", false, "print the prompt section of the current profile and exit")
	rootCmd.AddCommand(profileCmd)
}

func runProfile(cmd *cobra.Command, args []string) error {
	show, _ := cmd.Flags().GetBool("show")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	existing, err := profile.Load(cfg.ProfileFile)
	if err != nil {
		return err
	}

	if show {
		if existing.IsEmpty() {
			fmt.Println("No profile set. Run `ragbudget profile` to create one.")
			return nil
		}
		fmt.Println(existing.ToPromptSection())
		return nil
	}

	collected, err := profile.CollectInteractive(existing)
	if err != nil {
		return err
	}
	if collected.IsEmpty() {
		fmt.Println("Profile is empty; nothing saved.")
		return nil
	}
	if err := collected.Save(cfg.ProfileFile); err != nil {
		return err
	}
	fmt.Printf("Profile saved to %s\n", cfg.ProfileFile)
	return nil
}
