package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/talmage/graceworks/internal/cache"
	"github.com/talmage/graceworks/internal/config"
	"github.com/talmage/graceworks/internal/oracle"
	"github.com/talmage/graceworks/internal/pipeline"
	"github.com/talmage/graceworks/internal/report"
	"github.com/talmage/graceworks/internal/results"
	"github.com/talmage/graceworks/internal/storage"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify unprocessed talks with the configured model",
	Long: `Classify every talk in the talks directory that is not yet in the
results file. Safe to interrupt and re-run: completed talks are never
re-scored, and results flush to disk incrementally.

Examples:
  graceworks classify
  graceworks classify --talks-dir ./talks --limit 20
  graceworks classify --file 2021-04-grace.html
  graceworks classify --workers 4 --rate-limit 500ms
  graceworks classify --batch-output ./requests.jsonl`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		applyClassifyFlags(cmd, &cfg)
		logger := initLogging(cfg)

		if batchOutput, _ := cmd.Flags().GetString("batch-output"); batchOutput != "" {
			return writeBatchInput(cfg, logger, batchOutput)
		}
		if err := requireAPIKey(cfg); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		file, _ := cmd.Flags().GetString("file")
		flushEvery, _ := cmd.Flags().GetInt("flush-every")
		rateLimit, _ := cmd.Flags().GetDuration("rate-limit")
		workers, _ := cmd.Flags().GetInt("workers")
		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
		noCacheDB, _ := cmd.Flags().GetBool("no-cache-db")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var persist pipeline.CacheStore
		if !noCacheDB {
			store, err := storage.Open(cfg.Storage.DataDir, logger)
			if err != nil {
				return fmt.Errorf("opening storage: %w", err)
			}
			defer func() {
				if err := store.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
				}
			}()
			persist = store
		}

		client := oracle.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.APIKey, cfg.Oracle.RequestTimeout)
		classifier := oracle.NewClassifier(client, cfg.Oracle.Model, cfg.Oracle.MaxContentTokens)
		resultStore := results.NewStore(cfg.Output.ResultsFile)

		runner := pipeline.NewRunner(classifier, resultStore, cache.New(logger), persist, logger, pipeline.Options{
			FlushEvery:  flushEvery,
			MaxAttempts: maxAttempts,
			RateLimit:   rateLimit,
			Workers:     workers,
			Limit:       limit,
			SingleFile:  file,
		})

		printStep("Classifying talks in %s with %s", cfg.Talks.Dir, cfg.Oracle.Model)
		summary, err := runner.Run(ctx, cfg.Talks.Dir)
		printSummary(summary)
		if err != nil {
			return err
		}
		printSuccess("Results in %s", cfg.Output.ResultsFile)

		if records, err := resultStore.ReadAll(); err == nil && len(records) > 0 {
			fmt.Println()
			printReport(report.Build(records))
		}
		return nil
	},
}

func applyClassifyFlags(cmd *cobra.Command, cfg *config.Config) {
	if dir, _ := cmd.Flags().GetString("talks-dir"); dir != "" {
		cfg.Talks.Dir = dir
	}
	if out, _ := cmd.Flags().GetString("output"); out != "" {
		cfg.Output.ResultsFile = out
	}
	if resumeFrom, _ := cmd.Flags().GetString("resume-from"); resumeFrom != "" {
		cfg.Output.ResultsFile = resumeFrom
	}
	if model, _ := cmd.Flags().GetString("model"); model != "" {
		cfg.Oracle.Model = model
	}
}

func printSummary(s pipeline.Summary) {
	printStatus("Discovered", "%d", s.Discovered)
	printStatus("Already done", "%d", s.AlreadyDone)
	printStatus("Processed", "%d", s.Processed)
	printStatus("Cache hits", "%d", s.CacheHits)
	if s.Skipped > 0 {
		printStatus("Skipped", "%d", s.Skipped)
	}
	if s.Failed > 0 {
		printStatus("Failed", "%d", s.Failed)
	}
	for reason, count := range s.SkipReasons {
		printWarning("%d talk(s): %s", count, reason)
	}
}

func init() {
	classifyCmd.Flags().String("talks-dir", "", "directory of talk HTML files")
	classifyCmd.Flags().String("output", "", "results CSV file")
	classifyCmd.Flags().String("resume-from", "", "resume from an existing results CSV file")
	classifyCmd.Flags().String("model", "", "model to classify with")
	classifyCmd.Flags().String("batch-output", "", "write batch API requests to this file instead of classifying")
	classifyCmd.Flags().Int("limit", 0, "stop after this many newly classified talks")
	classifyCmd.Flags().String("file", "", "classify a single file")
	classifyCmd.Flags().Int("flush-every", 10, "flush results to disk every N talks")
	classifyCmd.Flags().Duration("rate-limit", 0, "minimum spacing between model calls")
	classifyCmd.Flags().Int("workers", 1, "talks classified concurrently")
	classifyCmd.Flags().Int("max-attempts", 3, "attempts per talk for transient failures")
	classifyCmd.Flags().Bool("no-cache-db", false, "skip the persistent classification cache")
}
