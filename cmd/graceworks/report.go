package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/talmage/graceworks/internal/config"
	"github.com/talmage/graceworks/internal/report"
	"github.com/talmage/graceworks/internal/results"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize classified talks by conference session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if out, _ := cmd.Flags().GetString("output"); out != "" {
			cfg.Output.ResultsFile = out
		}

		records, err := results.NewStore(cfg.Output.ResultsFile).ReadAll()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No classified talks yet.")
			return nil
		}

		printReport(report.Build(records))
		return nil
	},
}

func printReport(r report.Report) {
	fmt.Printf("%s\n\n", colorize(colorBold, "Grace-works balance by session"))
	fmt.Printf("  %-10s  %6s  %8s  %5s  %5s  %s\n", "session", "talks", "average", "min", "max", "lean")
	for _, s := range r.Sessions {
		fmt.Printf("  %-10s  %6d  %8s  %5d  %5d  %s\n",
			s.SessionID, s.Talks, report.FormatAverage(s.Average), s.Min, s.Max, report.Lean(s.Average))
	}
	fmt.Printf("\n  %d talks overall, average %s (%s)\n",
		r.Talks, report.FormatAverage(r.Average), report.Lean(r.Average))
}

func init() {
	reportCmd.Flags().String("output", "", "results CSV file to summarize")
}
