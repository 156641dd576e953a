package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/ragbudget/internal/pipeline"
)

var planCmd = &cobra.Command{
	Use:   "plan [question]",
	Short: "Show the budget, mode and context a question would get",
	Long: `Runs classification, budget allocation, retrieval, compression and
prompt assembly without calling the model, then prints every decision.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func init() {
	addQueryFlags(planCmd)
	planCmd.Flags().Bool("json", false, "print the plan as JSON")
	planCmd.Flags().Bool("show-prompt", false, "print the assembled system prompt")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	q, err := queryFromFlags(cmd, strings.Join(args, " "))
	if err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")
	showPrompt, _ := cmd.Flags().GetBool("show-prompt")

	a, err := openApp(ctx, cfg, levelPipeline)
	defer a.Close(context.Background())
	if err != nil {
		return err
	}

	plan, err := a.pipeline.Plan(ctx, q)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}
	printPlan(plan)
	if showPrompt {
		fmt.Println()
		fmt.Println(plan.System)
	}
	return nil
}

func printPlan(p *pipeline.Plan) {
	b := p.Budget
	fmt.Println(box("Budget",
		row("Complexity", fmt.Sprintf("%s (factor %.2f)", b.Level, b.Factor)),
		row("System", b.System),
		row("Context", b.Context),
		row("History", b.History),
		row("Response", b.Response),
		row("Buffer", b.Buffer),
		row("Total", b.TotalAllocated),
	))
	fmt.Println(box("Strategy",
		row("Mode", p.Mode),
		row("Stream", p.Stream),
		row("Cached answer", p.Cached),
		row("Quality", fmt.Sprintf("%s (%.2f)", p.Quality.Level, p.Quality.Score)),
		row("Latency", p.Quality.EstimatedLatency),
	))
	fmt.Println(box("Prompt",
		row("System tokens", p.SystemTokens),
		row("Context tokens", p.ContextTokens),
		row("History tokens", p.HistoryTokens),
		row("History messages", p.History),
		row("Context items", len(p.Items)),
		row("Coverage", fmt.Sprintf("%.0f%%", p.Coverage.Percent)),
	))

	for i, it := range p.Items {
		fmt.Printf("  %d. [%.2f] %s %s\n", i+1, it.Score, it.Title(), sourceStyle.Render(it.SourceID+" ("+string(it.Category)+")"))
	}
	if len(p.Coverage.Missing) > 0 {
		fmt.Println(sourceStyle.Render("  Missing from context: " + strings.Join(p.Coverage.Missing, ", ")))
	}
	for _, r := range append(p.Quality.Recommendations, p.Coverage.Recommendation) {
		fmt.Println(sourceStyle.Render("  - " + r))
	}
}
