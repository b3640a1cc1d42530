// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the lesion-engine CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/lesion-engine/internal/config"
	"github.com/pdiddy/lesion-engine/internal/logging"
	"github.com/pdiddy/lesion-engine/internal/predict"
	"github.com/pdiddy/lesion-engine/internal/secrets"
	"github.com/pdiddy/lesion-engine/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// exitCancelled is the conventional status for a run stopped by SIGINT.
const exitCancelled = 130

// secretsDir holds key files such as llama-api-key.
const secretsDir = ".secrets/"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// v is the layered configuration shared by all commands.
var v = config.New()

// rootCmd is the base command for the lesion-engine CLI.
var rootCmd = &cobra.Command{
	Use:   "lesion-engine",
	Short: "Extract lung lesion sizes from imaging reports",
	Long: `lesion-engine reads free-text imaging findings from a spreadsheet, asks a
fine-tuned language model for the largest lung lesion diameter, corrects the
answer against the units in the original text, and writes one millimeter
column per model.

Batch runs checkpoint their progress and resume where they stopped.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(secretsDir)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: lesion-engine.yaml in . or ~/.config/lesion-engine)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-file", "", "also write JSON logs to this file")

	v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("lesion-engine")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "lesion-engine"))
		}
	}

	if err := v.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "warning: could not read config %s: %v\n", cfgFile, err)
	}
}

// resolveConfig resolves the layered config and fills in the API key from
// .secrets/ when the config does not carry one.
func resolveConfig(vp *viper.Viper) (types.Config, error) {
	cfg, err := config.Resolve(vp)
	if err != nil {
		return types.Config{}, err
	}
	if cfg.Inference.Server.APIKey == "" {
		cfg.Inference.Server.APIKey = loadedSecrets[secrets.KeyLlamaAPI]
	}
	return cfg, nil
}

// newLogger builds the logger for cfg.
func newLogger(cfg types.Config) (*zap.Logger, func(), error) {
	return logging.New(logging.Options{
		Level:       cfg.Log.Level,
		File:        cfg.Log.File,
		Development: cfg.Log.Level == "debug",
	})
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if errors.Is(err, predict.ErrCancelled) {
			os.Exit(exitCancelled)
		}
		os.Exit(1)
	}
}
