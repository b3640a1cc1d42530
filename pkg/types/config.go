// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// DatasetConfig locates the input table and names the columns the run
// reads and writes.
type DatasetConfig struct {
	// Input is the path of the table to predict (.xlsx or .csv).
	Input string `json:"input" yaml:"input"`

	// Output is the path the annotated table is written to.
	Output string `json:"output" yaml:"output"`

	// TextColumn is the header of the free-text findings column (default "yxbx").
	TextColumn string `json:"text_column" yaml:"text_column"`

	// ColumnPrefix is prepended to the model identity to name the output
	// column (default "pred_").
	ColumnPrefix string `json:"column_prefix" yaml:"column_prefix"`
}

// ServerMode selects how a llama.cpp server is obtained for an engine.
type ServerMode string

const (
	ServerProcess   ServerMode = "process"
	ServerContainer ServerMode = "container"
	ServerEndpoint  ServerMode = "endpoint"
)

// InferenceBackend names an inference capability implementation.
type InferenceBackend string

const (
	BackendLlamaCPP    InferenceBackend = "llamacpp"
	BackendPassthrough InferenceBackend = "passthrough"
)

// ServerConfig holds the llama.cpp server launch and connection settings.
type ServerConfig struct {
	// Mode is process, container, or endpoint.
	Mode ServerMode `json:"mode" yaml:"mode"`

	// Binary is the llama-server executable used in process mode.
	Binary string `json:"binary" yaml:"binary"`

	// Image is the container image used in container mode.
	Image string `json:"image" yaml:"image"`

	// Endpoint is the base URL of an already running server (endpoint mode).
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Host is the interface spawned servers listen on.
	Host string `json:"host" yaml:"host"`

	// BasePort is the port of worker 0; worker i listens on BasePort+i.
	BasePort int `json:"base_port" yaml:"base_port"`

	// StartupTimeout bounds how long an engine waits for /health to report ready.
	StartupTimeout time.Duration `json:"startup_timeout" yaml:"startup_timeout"`

	// APIKey is sent as a bearer token when set. Loaded from .secrets/ by default.
	APIKey string `json:"-" yaml:"-"`
}

// InferenceConfig holds the per-worker construction parameters of the
// inference capability.
type InferenceConfig struct {
	// Backend is llamacpp or passthrough.
	Backend InferenceBackend `json:"backend" yaml:"backend"`

	// ContextLength is the model context window in tokens (n_ctx).
	ContextLength int `json:"context_length" yaml:"context_length"`

	// Threads is the CPU thread count per engine.
	Threads int `json:"threads" yaml:"threads"`

	// GPULayers is the number of layers offloaded to the GPU; 0 means CPU only.
	GPULayers int `json:"gpu_layers" yaml:"gpu_layers"`

	// Verbose enables llama.cpp debug output.
	Verbose bool `json:"verbose" yaml:"verbose"`

	Server ServerConfig `json:"server" yaml:"server"`
}

// ModelParams are the construction parameters handed to an engine factory.
// Every worker builds its own engine from the same value.
type ModelParams struct {
	ModelPath     string
	ContextLength int
	Threads       int
	GPULayers     int
	Verbose       bool

	// Worker is the zero-based worker slot; launchers derive ports from it.
	Worker int
}

// GenerationConfig controls a single inference call.
type GenerationConfig struct {
	// MaxTokens caps the generated length (n_predict).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// Temperature is the sampling temperature.
	Temperature float64 `json:"temperature" yaml:"temperature"`

	// TopP is the nucleus-sampling threshold.
	TopP float64 `json:"top_p" yaml:"top_p"`

	// Stop lists the markers that end generation.
	Stop []string `json:"stop" yaml:"stop"`

	// PromptTemplate receives the preprocessed text as {{.Input}}.
	PromptTemplate string `json:"prompt_template" yaml:"prompt_template"`
}

// RunConfig controls batch execution. It is resolved once and never mutated.
type RunConfig struct {
	// Concurrency is the number of workers; 1 selects sequential mode.
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// CheckpointInterval is the number of processed items between saves.
	CheckpointInterval int `json:"checkpoint_interval" yaml:"checkpoint_interval"`

	// ItemTimeout bounds one inference call.
	ItemTimeout time.Duration `json:"item_timeout" yaml:"item_timeout"`
}

// CheckpointBackend names a checkpoint store implementation.
type CheckpointBackend string

const (
	CheckpointFile CheckpointBackend = "file"
	CheckpointBolt CheckpointBackend = "bolt"
)

// CheckpointConfig locates snapshots.
type CheckpointConfig struct {
	// Dir holds one snapshot per job.
	Dir string `json:"dir" yaml:"dir"`

	// Backend is file (YAML) or bolt.
	Backend CheckpointBackend `json:"backend" yaml:"backend"`
}

// ExtractionConfig tunes the measurement heuristics.
type ExtractionConfig struct {
	// AmbiguousUpperBound is the exclusive upper edge of the band [3, bound)
	// in which a bare value is read as centimeters (default 7).
	AmbiguousUpperBound float64 `json:"ambiguous_upper_bound" yaml:"ambiguous_upper_bound"`
}

// HistoryConfig locates the run ledger.
type HistoryConfig struct {
	// DB is the SQLite file; empty disables the ledger.
	DB string `json:"db" yaml:"db"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file,omitempty" yaml:"file,omitempty"`
}

// Config is the fully resolved application configuration.
type Config struct {
	Dataset    DatasetConfig    `json:"dataset" yaml:"dataset"`
	Models     []string         `json:"models" yaml:"models"`
	Inference  InferenceConfig  `json:"inference" yaml:"inference"`
	Generation GenerationConfig `json:"generation" yaml:"generation"`
	Run        RunConfig        `json:"run" yaml:"run"`
	Checkpoint CheckpointConfig `json:"checkpoint" yaml:"checkpoint"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction"`
	History    HistoryConfig    `json:"history" yaml:"history"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// ModelParams returns the engine construction parameters for modelPath.
func (c Config) ModelParams(modelPath string) ModelParams {
	return ModelParams{
		ModelPath:     modelPath,
		ContextLength: c.Inference.ContextLength,
		Threads:       c.Inference.Threads,
		GPULayers:     c.Inference.GPULayers,
		Verbose:       c.Inference.Verbose,
	}
}

// Hash fingerprints the settings that change predictions. A checkpoint
// written under a different hash is still resumable but mixes results.
func (c Config) Hash() string {
	data, _ := json.Marshal(struct {
		Generation GenerationConfig `json:"generation"`
		Extraction ExtractionConfig `json:"extraction"`
		Backend    InferenceBackend `json:"backend"`
	}{c.Generation, c.Extraction, c.Inference.Backend})
	return fmt.Sprintf("%x", sha256.Sum256(data))[:16]
}
