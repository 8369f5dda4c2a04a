package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "clipsage",
	Short: "Analyse audio and video files with a multimodal model",
	Long: `clipsage turns local audio and video files into a summary, topics,
chapters and a transcript, and answers questions about them.

Examples:
  clipsage submit talk.mp4 podcast.mp3
  clipsage submit --url https://example.com/clip.webm --detach
  clipsage list
  clipsage chat 3f2a "what is said about channels?"
  clipsage shell`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if _, ok := os.LookupEnv("NO_COLOR"); ok {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(submitCmd, listCmd, showCmd, retryCmd, deleteCmd, chatCmd)
	rootCmd.AddCommand(shellCmd, mcpCmd, statusCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			printError("%v", err)
		}
		os.Exit(1)
	}
}
