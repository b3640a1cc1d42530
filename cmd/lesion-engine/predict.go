// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/lesion-engine/internal/checkpoint"
	"github.com/pdiddy/lesion-engine/internal/dataset"
	"github.com/pdiddy/lesion-engine/internal/history"
	"github.com/pdiddy/lesion-engine/internal/infer"
	"github.com/pdiddy/lesion-engine/internal/measure"
	"github.com/pdiddy/lesion-engine/internal/predict"
	"github.com/pdiddy/lesion-engine/internal/progress"
	"github.com/pdiddy/lesion-engine/internal/prompt"
	"github.com/pdiddy/lesion-engine/pkg/types"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict lesion sizes for every configured model",
	Long: `Predict runs each configured model over the text column of the input
table and writes a pred_<model> column of millimeter values to the output
table. Rows without a measurement are left empty.

Progress is checkpointed per model. Interrupting with Ctrl-C finishes the
rows in flight, saves the checkpoint and exits with status 130; the next
run resumes with the remaining rows. The checkpoint is removed once the
output table has been written.`,
	RunE: runPredict,
}

func init() {
	f := predictCmd.Flags()
	f.String("input", "", "input table (.xlsx or .csv)")
	f.String("output", "", "output table (.xlsx or .csv)")
	f.String("text-column", "", "column holding the findings text")
	f.StringSlice("model", nil, "model path or glob (repeatable)")
	f.String("backend", "", "inference backend: llamacpp or passthrough")
	f.String("server-mode", "", "llama.cpp server mode: process, container or endpoint")
	f.String("endpoint", "", "llama.cpp server URL for endpoint mode")
	f.Int("gpu-layers", 0, "layers offloaded to the GPU")
	f.Int("threads", 0, "CPU threads per engine")
	f.Int("concurrency", 0, "number of workers; 1 runs sequentially")
	f.Int("checkpoint-interval", 0, "rows between checkpoint saves")
	f.Duration("item-timeout", 0, "timeout for a single inference call")
	f.String("checkpoint-dir", "", "directory for checkpoints")
	f.String("checkpoint-backend", "", "checkpoint backend: file or bolt")

	for key, flag := range map[string]string{
		"dataset.input":             "input",
		"dataset.output":            "output",
		"dataset.text_column":       "text-column",
		"models":                    "model",
		"inference.backend":         "backend",
		"inference.server.mode":     "server-mode",
		"inference.server.endpoint": "endpoint",
		"inference.gpu_layers":      "gpu-layers",
		"inference.threads":         "threads",
		"run.concurrency":           "concurrency",
		"run.checkpoint_interval":   "checkpoint-interval",
		"run.item_timeout":          "item-timeout",
		"checkpoint.dir":            "checkpoint-dir",
		"checkpoint.backend":        "checkpoint-backend",
	} {
		v.BindPFlag(key, f.Lookup(flag))
	}

	rootCmd.AddCommand(predictCmd)
}

func runPredict(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := resolveConfig(v)
	if err != nil {
		return err
	}
	logger, cleanup, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	tbl, err := dataset.Load(cfg.Dataset.Input)
	if err != nil {
		return err
	}
	defer tbl.Close()

	texts, err := tbl.Column(cfg.Dataset.TextColumn)
	if err != nil {
		return err
	}
	logger.Info("dataset loaded", zap.String("path", cfg.Dataset.Input), zap.Int("rows", len(texts)))

	store, err := checkpoint.New(cfg.Checkpoint, logger)
	if err != nil {
		return err
	}
	factory, err := infer.NewFactory(cfg.Inference, logger)
	if err != nil {
		return err
	}
	tmpl, err := prompt.New(cfg.Generation.PromptTemplate)
	if err != nil {
		return err
	}

	var ledger *history.Store
	if cfg.History.DB != "" {
		if ledger, err = history.Open(cfg.History.DB); err != nil {
			logger.Warn("run history disabled", zap.Error(err))
		} else {
			defer ledger.Close()
		}
	}

	for _, model := range cfg.Models {
		jobID := checkpoint.JobID(model)
		column := dataset.OutputColumn(cfg.Dataset.ColumnPrefix, jobID)

		runner := &predict.Runner{
			Config:     cfg.Run,
			Generation: cfg.Generation,
			Params:     cfg.ModelParams(model),
			Factory:    factory,
			Store:      store,
			Prompt:     tmpl,
			Extractor:  measure.Extractor{AmbiguousUpperBound: cfg.Extraction.AmbiguousUpperBound},
			ConfigHash: cfg.Hash(),
			Logger:     logger.With(zap.String("model", model)),
			Progress:   progress.New(os.Stderr),
			OnComplete: func(res predict.Result) error {
				if err := tbl.SetColumn(column, formatColumn(res.Predictions)); err != nil {
					return err
				}
				return tbl.Save(cfg.Dataset.Output)
			},
		}

		res, runErr := runner.Run(ctx, jobID, texts)
		recordRun(ledger, logger, model, cfg, res, runErr)

		if runErr != nil {
			if errors.Is(runErr, predict.ErrCancelled) {
				fmt.Fprintf(os.Stderr, "%s: interrupted after %d/%d rows; checkpoint kept, rerun to resume\n",
					jobID, res.Processed, res.Total)
			}
			return runErr
		}
		fmt.Fprintf(os.Stdout, "%s: %d rows, %d without measurement, avg %.3fs/row -> %s (%s)\n",
			jobID, res.Total, res.Failed, res.AvgLatency.Seconds(), cfg.Dataset.Output, column)
	}
	return nil
}

// formatColumn renders predictions as cells; rows without a measurement
// become empty cells.
func formatColumn(preds types.Predictions) []string {
	out := make([]string, len(preds))
	for i, slot := range preds {
		if v, ok := slot.Float(); ok {
			out[i] = measure.Format(v)
		}
	}
	return out
}

func recordRun(ledger *history.Store, logger *zap.Logger, model string, cfg types.Config, res predict.Result, runErr error) {
	if ledger == nil {
		return
	}
	rec := types.RunRecord{
		JobID:          res.JobID,
		Model:          model,
		Dataset:        cfg.Dataset.Input,
		State:          res.State,
		Total:          res.Total,
		Processed:      res.Processed,
		Dispatched:     res.Dispatched,
		Failed:         res.Failed,
		CumulativeTime: res.CumulativeTime,
		AvgLatency:     res.AvgLatency,
		ConfigHash:     cfg.Hash(),
		StartedAt:      res.StartedAt,
		FinishedAt:     res.FinishedAt,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	// The run context may already be cancelled; the ledger write must still land.
	if _, err := ledger.Record(context.Background(), rec); err != nil {
		logger.Warn("recording run history", zap.Error(err))
	}
}
