package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/ragbudget/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List, show and clear conversation sessions",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [session]",
	Short: "Print the messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear [session]",
	Short: "Delete a session and its cached answers",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryClear,
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of sessions")
	historyShowCmd.Flags().Int("limit", 0, "show only the last N messages")
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, levelStorage)
	defer a.Close(context.Background())
	if err != nil {
		return err
	}

	sessions, err := a.history.Sessions(ctx, limit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions yet.")
		return nil
	}
	for _, s := range sessions {
		label := s.Label
		if label == "" {
			label = "-"
		}
		fmt.Printf("%s  %s  %s\n",
			titleStyle.Render(s.ID),
			valueStyle.Render(fmt.Sprintf("%3d messages", s.Messages)),
			sourceStyle.Render(label+" · "+s.UpdatedAt.Local().Format("2006-01-02 15:04")),
		)
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, levelStorage)
	defer a.Close(context.Background())
	if err != nil {
		return err
	}

	entries, err := a.history.GetHistory(ctx, args[0], limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("session %s: %w", args[0], history.ErrSessionNotFound)
	}
	for _, e := range entries {
		fmt.Printf("%s %s\n%s\n\n",
			titleStyle.Render(string(e.Role)),
			sourceStyle.Render(e.Timestamp.Local().Format("2006-01-02 15:04:05")),
			e.Content,
		)
	}
	return nil
}

func runHistoryClear(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, levelCache)
	defer a.Close(context.Background())
	if err != nil {
		return err
	}

	if err := a.history.Clear(ctx, args[0]); err != nil {
		if errors.Is(err, history.ErrSessionNotFound) {
			fmt.Fprintf(os.Stderr, "Session %s not found.\n", args[0])
			return nil
		}
		return err
	}
	n := a.cache.InvalidateSession(ctx, args[0])
	fmt.Printf("Deleted session %s (%d cached answers dropped)\n", args[0], n)
	return nil
}
