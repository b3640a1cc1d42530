// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigModelParams(t *testing.T) {
	cfg := Config{Inference: InferenceConfig{ContextLength: 2048, Threads: 8, GPULayers: 20, Verbose: true}}
	assert.Equal(t, ModelParams{
		ModelPath:     "models/a.gguf",
		ContextLength: 2048,
		Threads:       8,
		GPULayers:     20,
		Verbose:       true,
	}, cfg.ModelParams("models/a.gguf"))
}

func TestConfigHash(t *testing.T) {
	base := Config{Generation: GenerationConfig{MaxTokens: 10, Temperature: 0.1}}

	other := base
	other.Run.Concurrency = 12
	other.Dataset.Input = "elsewhere.xlsx"
	assert.Equal(t, base.Hash(), other.Hash(), "run and dataset settings do not change predictions")

	other = base
	other.Generation.Temperature = 0.7
	assert.NotEqual(t, base.Hash(), other.Hash())

	other = base
	other.Extraction.AmbiguousUpperBound = 10
	assert.NotEqual(t, base.Hash(), other.Hash())

	assert.Len(t, base.Hash(), 16)
}
