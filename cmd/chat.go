package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/ragbudget/internal/history"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Opens a read-eval-print loop bound to one session. Type a question to
get an answer; /stats shows cache and token usage, /forget clears the
session, /exit quits.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	addQueryFlags(chatCmd)
	chatCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	base, err := queryFromFlags(cmd, "")
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cfg, levelPipeline)
	defer a.Close(context.Background())
	if err != nil {
		return err
	}

	if base.SessionID == "" {
		sess, err := a.history.CreateSession(ctx, "chat")
		if err != nil {
			return err
		}
		base.SessionID = sess.ID
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(a), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		fmt.Fprintf(os.Stderr, "Metrics on http://%s/metrics\n", cfg.Metrics.Addr)
	}

	fmt.Fprintln(os.Stderr, titleStyle.Render("ragbudget chat")+sourceStyle.Render("  session "+base.SessionID))
	fmt.Fprintln(os.Stderr, sourceStyle.Render("/stats  /forget  /exit"))

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(os.Stderr, "\n> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/stats":
			printChatStats(a, base.SessionID)
			continue
		case "/forget":
			n := a.pipeline.ForgetSession(ctx, base.SessionID)
			if err := a.history.Clear(ctx, base.SessionID); err != nil && !errors.Is(err, history.ErrSessionNotFound) {
				fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
			}
			fmt.Fprintf(os.Stderr, "Forgot session (%d cached answers dropped)\n", n)
			continue
		}

		q := base
		q.Text = line
		ans, err := a.pipeline.Ask(ctx, q, func(delta string) error {
			_, err := os.Stdout.WriteString(delta)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
			continue
		}
		fmt.Println()
		printAnswerFooter(ans)
	}
	return scanner.Err()
}

func metricsMux(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	return mux
}

func printChatStats(a *app, sessionID string) {
	u := a.pipeline.Usage(sessionID)
	s := a.cache.Stats()
	fmt.Fprintln(os.Stderr, box("Session",
		row("Requests", u.Requests),
		row("Cache hits", u.CacheHits),
		row("Extensions", u.Extensions),
		row("Input tokens", u.InputTokens),
		row("Output tokens", u.OutputTokens),
		row("Estimated cost", fmt.Sprintf("$%.4f", u.EstimatedCost)),
	))
	fmt.Fprintln(os.Stderr, cacheStatsBox(s))
}
