package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/talmage/graceworks/internal/batch"
	"github.com/talmage/graceworks/internal/config"
	"github.com/talmage/graceworks/internal/results"
	"github.com/talmage/graceworks/internal/storage"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Classify talks through the provider's batch API",
	Long: `Run classification through the provider's asynchronous batch API:
create a batch from unprocessed talks, poll its status, then merge the
output into the results file.

Examples:
  graceworks batch create
  graceworks batch status <job-id>
  graceworks batch list
  graceworks batch merge <job-id>
  graceworks batch merge --file ./output.jsonl`,
}

// writeBatchInput builds requests for every unprocessed talk and writes
// them as JSONL to path. Also backs classify --batch-output.
func writeBatchInput(cfg config.Config, logger *slog.Logger, path string) error {
	resultStore := results.NewStore(cfg.Output.ResultsFile)
	processed, err := resultStore.LoadProcessedKeys()
	if err != nil {
		return err
	}

	gen := &batch.Generator{
		Model:            cfg.Oracle.Model,
		MaxContentTokens: cfg.Oracle.MaxContentTokens,
		Logger:           logger,
	}
	requests, err := gen.BuildRequests(cfg.Talks.Dir, processed)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		printWarning("No unprocessed talks to submit")
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating batch input file: %w", err)
	}
	if err := batch.WriteJSONL(f, requests); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	printSuccess("Wrote %d requests to %s", len(requests), path)
	return nil
}

var batchGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write batch API requests for unprocessed talks to a JSONL file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		applyClassifyFlags(cmd, &cfg)
		logger := initLogging(cfg)

		path, _ := cmd.Flags().GetString("input-file")
		if path == "" {
			if err := os.MkdirAll(cfg.Batch.Dir, 0o755); err != nil {
				return fmt.Errorf("creating batch directory: %w", err)
			}
			path = filepath.Join(cfg.Batch.Dir, "requests.jsonl")
		}
		return writeBatchInput(cfg, logger, path)
	},
}

var batchUploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a batch input file and print its file id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := requireAPIKey(cfg); err != nil {
			return err
		}
		initLogging(cfg)

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		client := batch.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.APIKey, cfg.Oracle.RequestTimeout)
		fileID, err := client.UploadFile(cmd.Context(), filepath.Base(args[0]), f)
		if err != nil {
			return fmt.Errorf("uploading batch input: %w", err)
		}
		printSuccess("Uploaded %s", args[0])
		printStatus("File", "%s", fileID)
		return nil
	},
}

var batchFetchCmd = &cobra.Command{
	Use:   "fetch <job-id>",
	Short: "Download a completed batch's output file without merging",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := requireAPIKey(cfg); err != nil {
			return err
		}
		logger := initLogging(cfg)

		store, err := storage.Open(cfg.Storage.DataDir, logger)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		job, err := store.GetBatchJob(args[0])
		if err != nil {
			return fmt.Errorf("looking up job %s: %w", args[0], err)
		}
		if job.ProviderID == "" {
			return fmt.Errorf("job %s was never submitted", job.ID)
		}

		client := batch.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.APIKey, cfg.Oracle.RequestTimeout)
		remote, err := client.GetBatch(cmd.Context(), job.ProviderID)
		if err != nil {
			return err
		}
		if remote.Status != "completed" {
			return fmt.Errorf("batch %s is %s, not completed", remote.ID, remote.Status)
		}
		if remote.OutputFileID == "" {
			return fmt.Errorf("batch %s has no output file", remote.ID)
		}

		data, err := client.FileContent(cmd.Context(), remote.OutputFileID)
		if err != nil {
			return err
		}

		path, _ := cmd.Flags().GetString("output-file")
		if path == "" {
			if err := os.MkdirAll(cfg.Batch.Dir, 0o755); err != nil {
				return fmt.Errorf("creating batch directory: %w", err)
			}
			path = filepath.Join(cfg.Batch.Dir, job.ID+"-output.jsonl")
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing batch output: %w", err)
		}
		printSuccess("Saved output to %s", path)
		return nil
	},
}

var batchCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Build and submit a batch of unprocessed talks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		applyClassifyFlags(cmd, &cfg)
		if err := requireAPIKey(cfg); err != nil {
			return err
		}
		logger := initLogging(cfg)
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		ctx := cmd.Context()

		resultStore := results.NewStore(cfg.Output.ResultsFile)
		processed, err := resultStore.LoadProcessedKeys()
		if err != nil {
			return err
		}

		gen := &batch.Generator{
			Model:            cfg.Oracle.Model,
			MaxContentTokens: cfg.Oracle.MaxContentTokens,
			Logger:           logger,
		}
		requests, err := gen.BuildRequests(cfg.Talks.Dir, processed)
		if err != nil {
			return err
		}
		if len(requests) == 0 {
			printWarning("No unprocessed talks to submit")
			return nil
		}

		jobID := uuid.NewString()
		if err := os.MkdirAll(cfg.Batch.Dir, 0o755); err != nil {
			return fmt.Errorf("creating batch directory: %w", err)
		}
		inputPath := filepath.Join(cfg.Batch.Dir, jobID+".jsonl")
		f, err := os.Create(inputPath)
		if err != nil {
			return fmt.Errorf("creating batch input file: %w", err)
		}
		if err := batch.WriteJSONL(f, requests); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		printStep("Wrote %d requests to %s", len(requests), inputPath)

		if dryRun {
			printSuccess("Dry run: batch input generated, nothing submitted")
			return nil
		}

		store, err := storage.Open(cfg.Storage.DataDir, logger)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		if err := store.SaveBatchJob(storage.BatchJob{
			ID:           jobID,
			Status:       "created",
			RequestCount: len(requests),
		}); err != nil {
			return fmt.Errorf("recording batch job: %w", err)
		}

		client := batch.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.APIKey, cfg.Oracle.RequestTimeout)

		input, err := os.Open(inputPath)
		if err != nil {
			return err
		}
		defer input.Close()
		fileID, err := client.UploadFile(ctx, filepath.Base(inputPath), input)
		if err != nil {
			store.UpdateBatchJob(jobID, "failed", "", err.Error())
			return fmt.Errorf("uploading batch input: %w", err)
		}
		printStep("Uploaded input file %s", fileID)

		created, err := client.CreateBatch(ctx, fileID)
		if err != nil {
			store.UpdateBatchJob(jobID, "failed", "", err.Error())
			return fmt.Errorf("creating batch: %w", err)
		}
		if err := store.UpdateBatchJob(jobID, "submitted", created.ID, ""); err != nil {
			return fmt.Errorf("recording batch submission: %w", err)
		}

		printSuccess("Submitted batch %s (%d requests)", created.ID, len(requests))
		printStatus("Job", "%s", jobID)
		printStatus("Provider batch", "%s", created.ID)
		printStatus("Status", "%s", created.Status)
		return nil
	},
}

var batchStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the current status of a batch job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := requireAPIKey(cfg); err != nil {
			return err
		}
		logger := initLogging(cfg)

		store, err := storage.Open(cfg.Storage.DataDir, logger)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		job, err := store.GetBatchJob(args[0])
		if err != nil {
			return fmt.Errorf("looking up job %s: %w", args[0], err)
		}
		if job.ProviderID == "" {
			printStatus("Job", "%s", job.ID)
			printStatus("Status", "%s (never submitted)", job.Status)
			return nil
		}

		client := batch.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.APIKey, cfg.Oracle.RequestTimeout)
		remote, err := client.GetBatch(cmd.Context(), job.ProviderID)
		if err != nil {
			return err
		}
		if remote.Status != job.Status {
			if err := store.UpdateBatchJob(job.ID, remote.Status, "", ""); err != nil {
				return fmt.Errorf("recording status: %w", err)
			}
		}

		printStatus("Job", "%s", job.ID)
		printStatus("Provider batch", "%s", remote.ID)
		printStatus("Status", "%s", remote.Status)
		printStatus("Requests", "%d total, %d completed, %d failed",
			remote.RequestCounts.Total, remote.RequestCounts.Completed, remote.RequestCounts.Failed)
		if remote.OutputFileID != "" {
			printStatus("Output file", "%s", remote.OutputFileID)
		}
		return nil
	},
}

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known batch jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := initLogging(cfg)

		store, err := storage.Open(cfg.Storage.DataDir, logger)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		jobs, err := store.ListBatchJobs()
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No batch jobs.")
			return nil
		}
		for _, job := range jobs {
			provider := job.ProviderID
			if provider == "" {
				provider = "-"
			}
			fmt.Printf("%s  %-11s  %-20s  %d requests  %s\n",
				colorize(colorCyan, job.ID[:8]),
				job.Status,
				provider,
				job.RequestCount,
				job.UpdatedAt.Format("2006-01-02 15:04"),
			)
		}
		return nil
	},
}

var batchMergeCmd = &cobra.Command{
	Use:   "merge [job-id]",
	Short: "Merge a completed batch's output into the results file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		applyClassifyFlags(cmd, &cfg)
		logger := initLogging(cfg)
		fromFile, _ := cmd.Flags().GetString("file")

		if fromFile == "" && len(args) == 0 {
			return fmt.Errorf("either a job id or --file is required")
		}

		var data []byte
		var jobID string
		var store *storage.Store
		if fromFile != "" {
			data, err = os.ReadFile(fromFile)
			if err != nil {
				return fmt.Errorf("reading batch output: %w", err)
			}
		} else {
			if err := requireAPIKey(cfg); err != nil {
				return err
			}
			store, err = storage.Open(cfg.Storage.DataDir, logger)
			if err != nil {
				return fmt.Errorf("opening storage: %w", err)
			}
			defer store.Close()

			job, err := store.GetBatchJob(args[0])
			if err != nil {
				return fmt.Errorf("looking up job %s: %w", args[0], err)
			}
			jobID = job.ID
			if job.ProviderID == "" {
				return fmt.Errorf("job %s was never submitted", job.ID)
			}

			client := batch.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.APIKey, cfg.Oracle.RequestTimeout)
			remote, err := client.GetBatch(cmd.Context(), job.ProviderID)
			if err != nil {
				return err
			}
			if remote.Status != "completed" {
				return fmt.Errorf("batch %s is %s, not completed", remote.ID, remote.Status)
			}
			if remote.OutputFileID == "" {
				return fmt.Errorf("batch %s has no output file", remote.ID)
			}
			printStep("Downloading output file %s", remote.OutputFileID)
			data, err = client.FileContent(cmd.Context(), remote.OutputFileID)
			if err != nil {
				return err
			}
		}

		merger := &batch.Merger{
			TalksDir: cfg.Talks.Dir,
			Store:    results.NewStore(cfg.Output.ResultsFile),
			Model:    cfg.Oracle.Model,
			Logger:   logger,
		}
		summary, err := merger.Merge(data)
		if err != nil {
			return err
		}
		if jobID != "" && store != nil {
			if err := store.UpdateBatchJob(jobID, "merged", "", ""); err != nil {
				printWarning("could not record merge: %v", err)
			}
		}

		printStatus("Merged", "%d", summary.Merged)
		printStatus("Duplicates", "%d", summary.Duplicates)
		if summary.Failed > 0 {
			printStatus("Failed", "%d", summary.Failed)
		}
		if summary.Invalid > 0 {
			printStatus("Invalid", "%d", summary.Invalid)
		}
		printSuccess("Results in %s", cfg.Output.ResultsFile)
		return nil
	},
}

func init() {
	batchGenerateCmd.Flags().String("talks-dir", "", "directory of talk HTML files")
	batchGenerateCmd.Flags().String("output", "", "results CSV file")
	batchGenerateCmd.Flags().String("model", "", "model to classify with")
	batchGenerateCmd.Flags().String("input-file", "", "path for the generated JSONL file")
	batchCreateCmd.Flags().String("talks-dir", "", "directory of talk HTML files")
	batchCreateCmd.Flags().String("output", "", "results CSV file")
	batchCreateCmd.Flags().String("model", "", "model to classify with")
	batchCreateCmd.Flags().Bool("dry-run", false, "generate the input file without submitting")
	batchFetchCmd.Flags().String("output-file", "", "path to save the downloaded output")
	batchMergeCmd.Flags().String("talks-dir", "", "directory of talk HTML files")
	batchMergeCmd.Flags().String("output", "", "results CSV file")
	batchMergeCmd.Flags().String("model", "", "model recorded for merged rows")
	batchMergeCmd.Flags().String("file", "", "merge from a local output file instead of downloading")

	batchCmd.AddCommand(batchGenerateCmd)
	batchCmd.AddCommand(batchUploadCmd)
	batchCmd.AddCommand(batchCreateCmd)
	batchCmd.AddCommand(batchStatusCmd)
	batchCmd.AddCommand(batchListCmd)
	batchCmd.AddCommand(batchFetchCmd)
	batchCmd.AddCommand(batchMergeCmd)
}
