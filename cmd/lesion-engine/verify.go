// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pdiddy/lesion-engine/internal/container"
	"github.com/pdiddy/lesion-engine/internal/dataset"
	"github.com/pdiddy/lesion-engine/internal/infer/llamacpp"
	"github.com/pdiddy/lesion-engine/pkg/types"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that a predict run has everything it needs",
	Long: `Verify checks the configuration, the input table and its text column,
every model file, and the llama.cpp server binary or container runtime,
without starting any model.`,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

type check struct {
	name string
	err  error
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(v)
	checks := []check{{name: "configuration", err: err}}
	if err == nil {
		checks = append(checks, verifyDataset(cfg.Dataset)...)
		if cfg.Inference.Backend == types.BackendLlamaCPP {
			checks = append(checks, verifyModels(cfg)...)
			checks = append(checks, verifyServer(cmd.Context(), cfg.Inference.Server))
		}
	}

	ok := color.New(color.FgGreen).Sprint("✔")
	bad := color.New(color.FgRed).Sprint("✘")
	failed := 0
	for _, c := range checks {
		if c.err != nil {
			failed++
			fmt.Fprintf(os.Stdout, "%s %-40s %v\n", bad, c.name, c.err)
			continue
		}
		fmt.Fprintf(os.Stdout, "%s %s\n", ok, c.name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(checks))
	}
	return nil
}

func verifyDataset(cfg types.DatasetConfig) []check {
	tbl, err := dataset.Load(cfg.Input)
	if err != nil {
		return []check{{name: "input " + cfg.Input, err: err}}
	}
	defer tbl.Close()

	out := []check{{name: fmt.Sprintf("input %s (%d rows)", cfg.Input, tbl.Len())}}
	_, err = tbl.Column(cfg.TextColumn)
	return append(out, check{name: "text column " + cfg.TextColumn, err: err})
}

func verifyModels(cfg types.Config) []check {
	out := make([]check, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		c := check{name: "model " + m}
		if cfg.Inference.Server.Mode != types.ServerEndpoint {
			if fi, err := os.Stat(m); err != nil {
				c.err = err
			} else if fi.IsDir() {
				c.err = fmt.Errorf("is a directory")
			}
		}
		out = append(out, c)
	}
	return out
}

func verifyServer(ctx context.Context, cfg types.ServerConfig) check {
	switch cfg.Mode {
	case types.ServerContainer:
		rt, err := container.DetectRuntime()
		if err != nil {
			return check{name: "container runtime", err: err}
		}
		return check{name: "container runtime " + rt.Name()}
	case types.ServerEndpoint:
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := llamacpp.NewClient(cfg.Endpoint, cfg.APIKey, nil).Health(ctx)
		return check{name: "endpoint " + cfg.Endpoint, err: err}
	default:
		path, err := exec.LookPath(cfg.Binary)
		if err != nil {
			return check{name: "llama-server binary", err: err}
		}
		return check{name: "llama-server binary " + path}
	}
}
