package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/ragbudget/internal/knowledge"
	"github.com/ziadkadry99/ragbudget/internal/retrieval"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run hybrid retrieval and show the reranked results",
	Long:  `Searches the vector store and the keyword index, merges and reranks the hits, and prints them without calling the model.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().Int("limit", 0, "maximum number of results (default retrieval.top_k)")
	searchCmd.Flags().String("category", "", "filter by category: project, company, general")
	searchCmd.Flags().String("company", "", "restrict to a company id")
	searchCmd.Flags().String("project", "", "restrict to a project id")
	searchCmd.Flags().Bool("recent", false, "only documents indexed within retrieval.recent_age")
	searchCmd.Flags().Bool("json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	queryText := strings.Join(args, " ")

	limit, _ := cmd.Flags().GetInt("limit")
	categoryStr, _ := cmd.Flags().GetString("category")
	company, _ := cmd.Flags().GetString("company")
	project, _ := cmd.Flags().GetString("project")
	recent, _ := cmd.Flags().GetBool("recent")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	filters := retrieval.Filters{
		Scope:      knowledge.Scope{CompanyID: company, ProjectID: project},
		RecentOnly: recent,
	}
	if categoryStr != "" {
		c, err := knowledge.ParseCategory(categoryStr)
		if err != nil {
			return err
		}
		filters.Category = c
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, cfg, levelIndex)
	defer a.Close(context.Background())
	if err != nil {
		return err
	}

	if a.vectors.Count() == 0 {
		fmt.Println("Knowledge index is empty. Run `ragbudget index <dir>` first.")
		return nil
	}

	items := a.retriever.Search(ctx, queryText, limit, filters)
	if len(items) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	if jsonOutput {
		return printSearchResultsJSON(items)
	}
	printSearchResultsTable(items)
	return nil
}

type searchResultJSON struct {
	Rank     int     `json:"rank"`
	Score    float64 `json:"score"`
	SourceID string  `json:"source_id"`
	Title    string  `json:"title"`
	Category string  `json:"category"`
	Summary  string  `json:"summary"`
}

func printSearchResultsJSON(items []knowledge.Item) error {
	out := make([]searchResultJSON, 0, len(items))
	for i, it := range items {
		out = append(out, searchResultJSON{
			Rank:     i + 1,
			Score:    it.Score,
			SourceID: it.SourceID,
			Title:    it.Title(),
			Category: string(it.Category),
			Summary:  truncate(it.Content, 200),
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printSearchResultsTable(items []knowledge.Item) {
	fmt.Printf("Found %d results:\n\n", len(items))
	for i, it := range items {
		fmt.Printf("  %d. [%.1f%%] %s\n", i+1, it.Score*100, titleStyle.Render(it.Title()))
		fmt.Printf("     %s\n", sourceStyle.Render(it.SourceID+" · "+string(it.Category)))
		fmt.Printf("     %s\n\n", truncate(it.Content, 120))
	}
}
