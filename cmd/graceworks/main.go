package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/talmage/graceworks/internal/config"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "graceworks",
	Short: "Score conference talks on the grace-works spectrum",
	Long: `graceworks classifies conference talk transcripts on a seven-point
scale from salvation by divine grace (-3) to salvation by personal works (+3),
using a chat model as the judge. Results accumulate in a CSV file; re-running
picks up where the last run stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the graceworks version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("graceworks version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(configCmd)
}

// initLogging wires the default slog logger to stderr at the configured
// level.
func initLogging(cfg config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

// requireAPIKey guards commands that talk to the model provider.
func requireAPIKey(cfg config.Config) error {
	if cfg.Oracle.APIKey == "" {
		return fmt.Errorf("missing API key: set GRACEWORKS_API_KEY")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
