// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package config resolves the layered application configuration: built-in
// defaults, then the config file, then LESION_ENGINE_* environment
// variables, then command-line flags bound into the same viper instance.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"

	"github.com/pdiddy/lesion-engine/pkg/types"
)

// EnvPrefix prefixes environment overrides; dots in keys become underscores
// (LESION_ENGINE_RUN_CONCURRENCY).
const EnvPrefix = "LESION_ENGINE"

//go:embed schema.json
var schemaJSON []byte

var defaults = map[string]any{
	"dataset.input":         "test.xlsx",
	"dataset.output":        "test_results.xlsx",
	"dataset.text_column":   "yxbx",
	"dataset.column_prefix": "pred_",

	"models": []string{"models/qwen-medical-q4km.gguf"},

	"inference.backend":                string(types.BackendLlamaCPP),
	"inference.context_length":         2048,
	"inference.threads":                8,
	"inference.gpu_layers":             0,
	"inference.verbose":                false,
	"inference.server.mode":            string(types.ServerProcess),
	"inference.server.binary":          "llama-server",
	"inference.server.image":           "ghcr.io/ggml-org/llama.cpp:server",
	"inference.server.endpoint":        "",
	"inference.server.host":            "127.0.0.1",
	"inference.server.base_port":       8090,
	"inference.server.startup_timeout": 2 * time.Minute,

	"generation.max_tokens":      10,
	"generation.temperature":     0.1,
	"generation.top_p":           0.9,
	"generation.stop":            []string{"<|im_end|>", "\n", "cm", "。"},
	"generation.prompt_template": "",

	"run.concurrency":         6,
	"run.checkpoint_interval": 10,
	"run.item_timeout":        60 * time.Second,

	"checkpoint.dir":     "checkpoints",
	"checkpoint.backend": string(types.CheckpointFile),

	"extraction.ambiguous_upper_bound": 7.0,

	"history.db": ".lesion-engine/history.db",

	"log.level": "info",
	"log.file":  "",
}

// New returns a viper instance with defaults and environment overrides
// installed. Callers add a config file and bind flags before Resolve.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults installs the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Resolve reads every key from v, expands model globs, and validates the
// result. The returned value is not modified afterwards.
func Resolve(v *viper.Viper) (types.Config, error) {
	cfg := types.Config{
		Dataset: types.DatasetConfig{
			Input:        v.GetString("dataset.input"),
			Output:       v.GetString("dataset.output"),
			TextColumn:   v.GetString("dataset.text_column"),
			ColumnPrefix: v.GetString("dataset.column_prefix"),
		},
		Models: v.GetStringSlice("models"),
		Inference: types.InferenceConfig{
			Backend:       types.InferenceBackend(v.GetString("inference.backend")),
			ContextLength: v.GetInt("inference.context_length"),
			Threads:       v.GetInt("inference.threads"),
			GPULayers:     v.GetInt("inference.gpu_layers"),
			Verbose:       v.GetBool("inference.verbose"),
			Server: types.ServerConfig{
				Mode:           types.ServerMode(v.GetString("inference.server.mode")),
				Binary:         v.GetString("inference.server.binary"),
				Image:          v.GetString("inference.server.image"),
				Endpoint:       v.GetString("inference.server.endpoint"),
				Host:           v.GetString("inference.server.host"),
				BasePort:       v.GetInt("inference.server.base_port"),
				StartupTimeout: v.GetDuration("inference.server.startup_timeout"),
			},
		},
		Generation: types.GenerationConfig{
			MaxTokens:      v.GetInt("generation.max_tokens"),
			Temperature:    v.GetFloat64("generation.temperature"),
			TopP:           v.GetFloat64("generation.top_p"),
			Stop:           v.GetStringSlice("generation.stop"),
			PromptTemplate: v.GetString("generation.prompt_template"),
		},
		Run: types.RunConfig{
			Concurrency:        v.GetInt("run.concurrency"),
			CheckpointInterval: v.GetInt("run.checkpoint_interval"),
			ItemTimeout:        v.GetDuration("run.item_timeout"),
		},
		Checkpoint: types.CheckpointConfig{
			Dir:     v.GetString("checkpoint.dir"),
			Backend: types.CheckpointBackend(v.GetString("checkpoint.backend")),
		},
		Extraction: types.ExtractionConfig{
			AmbiguousUpperBound: v.GetFloat64("extraction.ambiguous_upper_bound"),
		},
		History: types.HistoryConfig{DB: v.GetString("history.db")},
		Log: types.LogConfig{
			Level: v.GetString("log.level"),
			File:  v.GetString("log.file"),
		},
	}

	if cfg.Inference.Backend == types.BackendPassthrough && cfg.Generation.PromptTemplate == "" {
		cfg.Generation.PromptTemplate = "{{.Input}}"
	}

	models, err := ExpandModels(cfg.Models)
	if err != nil {
		return types.Config{}, err
	}
	cfg.Models = models

	if err := Validate(cfg); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

// ExpandModels replaces glob patterns with their sorted matches. Plain
// paths pass through unchanged; a pattern without matches is an error.
func ExpandModels(models []string) ([]string, error) {
	var out []string
	for _, m := range models {
		if !strings.ContainsAny(m, "*?[") {
			out = append(out, m)
			continue
		}
		matches, err := filepath.Glob(m)
		if err != nil {
			return nil, fmt.Errorf("invalid model pattern %q: %w", m, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("model pattern %q matches no files", m)
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out, nil
}

// Validate checks cfg against the embedded JSON schema.
func Validate(cfg types.Config) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
}
