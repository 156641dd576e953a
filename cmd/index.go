package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/ragbudget/internal/indexer"
	"github.com/ziadkadry99/ragbudget/internal/knowledge"
	"github.com/ziadkadry99/ragbudget/internal/progress"
	"github.com/ziadkadry99/ragbudget/internal/walker"
)

var indexCmd = &cobra.Command{
	Use:   "index [dir]",
	Short: "Index a directory of documents",
	Long: `Walks the directory, splits every text document into chunks and writes
them to the vector store and the keyword index. Files whose content has
not changed since the last run are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringSlice("include", nil, "glob patterns to include (overrides config)")
	indexCmd.Flags().StringSlice("exclude", nil, "extra glob patterns to exclude")
	indexCmd.Flags().String("category", string(knowledge.CategoryGeneral), "knowledge category: project, company or general")
	indexCmd.Flags().String("company", "", "company id the documents belong to")
	indexCmd.Flags().String("project", "", "project id the documents belong to")
	indexCmd.Flags().Bool("force", false, "reindex files even if unchanged")
	indexCmd.Flags().Int("concurrency", 0, "files indexed in parallel (overrides config)")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	include, _ := cmd.Flags().GetStringSlice("include")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	categoryStr, _ := cmd.Flags().GetString("category")
	company, _ := cmd.Flags().GetString("company")
	project, _ := cmd.Flags().GetString("project")
	force, _ := cmd.Flags().GetBool("force")
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	category, err := knowledge.ParseCategory(categoryStr)
	if err != nil {
		return err
	}
	if len(include) == 0 {
		include = cfg.Include
	}
	exclude = append(append([]string(nil), cfg.Exclude...), exclude...)
	if concurrency <= 0 {
		concurrency = cfg.Index.Concurrency
	}

	a, err := openApp(ctx, cfg, levelIndex)
	defer a.Close(context.Background())
	if err != nil {
		return err
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "Scanning files in %s...\n", args[0])
	}
	files, err := walker.Walk(walker.Config{
		RootDir: args[0],
		Include: include,
		Exclude: exclude,
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", args[0], err)
	}
	if len(files) == 0 {
		fmt.Println("No documents found to index.")
		return nil
	}

	ix := indexer.New(a.vectors, a.docs, a.vectorPath(), indexer.Options{
		Category:     category,
		CompanyID:    company,
		ProjectID:    project,
		ChunkWords:   cfg.Index.ChunkWords,
		OverlapWords: cfg.Index.OverlapWords,
		Concurrency:  concurrency,
		Force:        force,
	}, a.logger)

	reporter := progress.NewReporter(os.Stderr, "Indexing")
	reporter.Start(len(files))
	ix.SetProgressFunc(func(done, total int, relPath string) {
		reporter.Update(done, relPath)
	})
	res, err := ix.Run(ctx, files)
	reporter.Finish()
	if err != nil {
		return err
	}

	fmt.Println(box("Index",
		row("Files indexed", res.FilesIndexed),
		row("Files unchanged", res.FilesSkipped),
		row("Files failed", res.FilesFailed),
		row("Chunks written", res.Chunks),
		row("Vector documents", a.vectors.Count()),
		row("Duration", res.Duration.Round(time.Millisecond)),
	))
	for _, e := range res.Errors {
		fmt.Fprintln(os.Stderr, errorStyle.Render(e.Error()))
	}
	return nil
}
