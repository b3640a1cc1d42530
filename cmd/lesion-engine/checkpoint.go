// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/lesion-engine/internal/checkpoint"
	"github.com/pdiddy/lesion-engine/pkg/types"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or clear saved batch progress",
	Long: `Checkpoint inspects or removes the saved progress of a model's batch run.
Rows that failed are recorded as processed and are not retried on resume;
clearing the checkpoint is the way to attempt every row again.`,
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <model>",
	Short: "Show the checkpoint for a model",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointShow,
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear <model>",
	Short: "Delete the checkpoint for a model",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointClear,
}

func init() {
	checkpointCmd.PersistentFlags().String("checkpoint-dir", "", "directory for checkpoints")
	checkpointCmd.PersistentFlags().String("checkpoint-backend", "", "checkpoint backend: file or bolt")

	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointClearCmd)
	rootCmd.AddCommand(checkpointCmd)
}

func checkpointStore(cmd *cobra.Command) (checkpoint.Store, error) {
	cfg := types.CheckpointConfig{
		Dir:     v.GetString("checkpoint.dir"),
		Backend: types.CheckpointBackend(v.GetString("checkpoint.backend")),
	}
	if dir, _ := cmd.Flags().GetString("checkpoint-dir"); dir != "" {
		cfg.Dir = dir
	}
	if backend, _ := cmd.Flags().GetString("checkpoint-backend"); backend != "" {
		cfg.Backend = types.CheckpointBackend(backend)
	}
	return checkpoint.New(cfg, nil)
}

func runCheckpointShow(cmd *cobra.Command, args []string) error {
	store, err := checkpointStore(cmd)
	if err != nil {
		return err
	}
	jobID := checkpoint.JobID(args[0])
	cp, ok := store.Load(jobID)
	if !ok {
		fmt.Fprintf(os.Stdout, "%s: no checkpoint\n", jobID)
		return nil
	}

	none := 0
	for i := range cp.Processed {
		if cp.Predictions[i].State == types.SlotNone {
			none++
		}
	}
	total := len(cp.Predictions)
	fmt.Fprintf(os.Stdout, "job:             %s\n", jobID)
	fmt.Fprintf(os.Stdout, "saved:           %s\n", cp.Timestamp.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(os.Stdout, "processed:       %d/%d\n", len(cp.Processed), total)
	fmt.Fprintf(os.Stdout, "no measurement:  %d\n", none)
	fmt.Fprintf(os.Stdout, "remaining:       %d\n", total-len(cp.Processed))
	fmt.Fprintf(os.Stdout, "inference time:  %s\n", cp.CumulativeTime)
	if cp.ConfigHash != "" {
		fmt.Fprintf(os.Stdout, "config hash:     %s\n", cp.ConfigHash)
	}
	return nil
}

func runCheckpointClear(cmd *cobra.Command, args []string) error {
	store, err := checkpointStore(cmd)
	if err != nil {
		return err
	}
	jobID := checkpoint.JobID(args[0])
	if err := store.Clear(jobID); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s: checkpoint cleared\n", jobID)
	return nil
}
