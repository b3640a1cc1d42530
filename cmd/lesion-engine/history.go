// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/lesion-engine/internal/checkpoint"
	"github.com/pdiddy/lesion-engine/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history [model]",
	Short: "List past batch runs",
	Long: `History lists recorded batch runs, most recent first, optionally limited
to one model.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", history.DefaultLimit, "maximum number of runs to list")
	historyCmd.Flags().Bool("json", false, "output runs as JSON")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	path := v.GetString("history.db")
	if path == "" {
		return fmt.Errorf("run history is disabled (history.db is empty)")
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	var jobID string
	if len(args) == 1 {
		jobID = checkpoint.JobID(args[0])
	}
	limit, _ := cmd.Flags().GetInt("limit")

	runs, err := store.List(cmd.Context(), jobID, limit)
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-19s  %-24s  %-10s  %-11s  %-6s  %-8s  %s\n",
		"Started", "Job", "State", "Processed", "Failed", "Avg", "Run ID")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 110))
	for _, r := range runs {
		job := r.JobID
		if len(job) > 24 {
			job = job[:21] + "..."
		}
		fmt.Fprintf(os.Stdout, "%-19s  %-24s  %-10s  %-11s  %-6d  %-8s  %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			job, r.State,
			fmt.Sprintf("%d/%d", r.Processed, r.Total),
			r.Failed,
			fmt.Sprintf("%.3fs", r.AvgLatency.Seconds()),
			r.ID)
	}
	fmt.Fprintf(os.Stdout, "\n%d runs\n", len(runs))
	return nil
}
