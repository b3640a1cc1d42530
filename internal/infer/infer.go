// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package infer defines the inference capability the batch runner drives
// and selects a backend for it.
package infer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/lesion-engine/internal/infer/llamacpp"
	"github.com/pdiddy/lesion-engine/pkg/types"
)

// Engine generates text from a prompt. An engine is used by one worker at
// a time.
type Engine interface {
	Infer(ctx context.Context, prompt string, gen types.GenerationConfig) (string, error)
	Close() error
}

// Factory constructs an engine from model parameters. Each worker calls it
// once at startup.
type Factory func(ctx context.Context, params types.ModelParams) (Engine, error)

// NewFactory returns the factory for cfg.Backend.
func NewFactory(cfg types.InferenceConfig, logger *zap.Logger) (Factory, error) {
	switch cfg.Backend {
	case types.BackendLlamaCPP, "":
		f := llamacpp.NewFactory(cfg.Server, cfg.Verbose, logger)
		return func(ctx context.Context, params types.ModelParams) (Engine, error) {
			e, err := f.New(ctx, params)
			if err != nil {
				return nil, err
			}
			return e, nil
		}, nil
	case types.BackendPassthrough:
		return func(context.Context, types.ModelParams) (Engine, error) {
			return Passthrough{}, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown inference backend %q", cfg.Backend)
	}
}

// Passthrough echoes the prompt back. With a bare {{.Input}} template the
// extractor sees the preprocessed findings, giving rule-based predictions
// without a model.
type Passthrough struct{}

// Infer returns prompt unchanged.
func (Passthrough) Infer(ctx context.Context, prompt string, _ types.GenerationConfig) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return prompt, nil
}

// Close is a no-op.
func (Passthrough) Close() error { return nil }
