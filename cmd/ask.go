package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/ragbudget/internal/knowledge"
	"github.com/ziadkadry99/ragbudget/internal/pipeline"
	"github.com/ziadkadry99/ragbudget/internal/strategy"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the indexed knowledge",
	Long: `Classifies the question, allocates a token budget, retrieves and
compresses context, and streams an answer. Answers are cached per session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	addQueryFlags(askCmd)
	askCmd.Flags().Bool("json", false, "print the answer and its metadata as JSON")
	rootCmd.AddCommand(askCmd)
}

// addQueryFlags registers the flags shared by ask, chat and plan.
func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().String("session", "", "conversation id; history and cached answers are kept per session")
	cmd.Flags().Bool("deep", false, "request a deep answer (larger budget, advanced mode)")
	cmd.Flags().String("mode", "", "force a mode: quick, medium or advanced")
	cmd.Flags().Bool("no-stream", false, "wait for the full answer instead of streaming")
	cmd.Flags().String("company", "", "restrict knowledge to a company id")
	cmd.Flags().String("project", "", "restrict knowledge to a project id")
}

// queryFromFlags builds a pipeline query from the shared flags.
func queryFromFlags(cmd *cobra.Command, text string) (pipeline.Query, error) {
	session, _ := cmd.Flags().GetString("session")
	deep, _ := cmd.Flags().GetBool("deep")
	modeStr, _ := cmd.Flags().GetString("mode")
	noStream, _ := cmd.Flags().GetBool("no-stream")
	company, _ := cmd.Flags().GetString("company")
	project, _ := cmd.Flags().GetString("project")

	q := pipeline.Query{
		Text:      text,
		SessionID: session,
		Deep:      deep,
		Scope:     knowledge.Scope{CompanyID: company, ProjectID: project},
	}
	if modeStr != "" {
		m, err := strategy.ParseMode(modeStr)
		if err != nil {
			return q, err
		}
		q.Mode = m
	}
	if noStream {
		stream := false
		q.Stream = &stream
	}
	return q, nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	q, err := queryFromFlags(cmd, strings.Join(args, " "))
	if err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")

	a, err := openApp(ctx, cfg, levelPipeline)
	defer a.Close(context.Background())
	if err != nil {
		return err
	}
	if a.vectors.Count() == 0 {
		fmt.Fprintln(os.Stderr, "Knowledge index is empty. Run `ragbudget index <dir>` to add documents.")
	}

	out := io.Writer(os.Stdout)
	if jsonOutput {
		out = io.Discard
	}
	ans, err := a.pipeline.Ask(ctx, q, func(delta string) error {
		_, err := io.WriteString(out, delta)
		return err
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	}
	fmt.Println()
	printAnswerFooter(ans)
	return nil
}

// printAnswerFooter writes sources and mode details to stderr.
func printAnswerFooter(ans *pipeline.Answer) {
	if len(ans.Sources) > 0 {
		fmt.Fprintln(os.Stderr, sourceStyle.Render("Sources: "+strings.Join(ans.Sources, ", ")))
	}
	if !verbose {
		return
	}
	detail := fmt.Sprintf("mode=%s level=%s tokens=%d", ans.Mode, ans.Level, ans.Tokens)
	if ans.Cached {
		detail += fmt.Sprintf(" cached (similarity %.2f)", ans.Similarity)
	}
	if ans.Extended {
		detail += " extended"
	}
	if c := ans.Coverage; c != nil {
		detail += fmt.Sprintf(" coverage=%.0f%%", c.Percent)
	}
	fmt.Fprintln(os.Stderr, sourceStyle.Render(detail))
	if c := ans.Coverage; c != nil && c.HasGaps {
		fmt.Fprintln(os.Stderr, sourceStyle.Render(c.Recommendation))
	}
}
