package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/ragbudget/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ragbudget",
	Short: "Token-budgeted retrieval and answering over your own documents",
	Long: `ragbudget indexes local documents into a vector store and a keyword
index, then answers questions with an LLM. Each request is classified by
complexity, given a token budget, filled with reranked and compressed
context, and answered in a quick, medium or advanced mode.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultFile, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
