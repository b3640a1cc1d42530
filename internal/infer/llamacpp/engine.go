// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llamacpp runs inference against llama.cpp servers. Each engine
// owns one server: a spawned llama-server process, a llama.cpp container,
// or an existing endpoint.
package llamacpp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/lesion-engine/internal/container"
	"github.com/pdiddy/lesion-engine/pkg/types"
)

// DefaultStartupTimeout applies when the configuration leaves it unset.
const DefaultStartupTimeout = 2 * time.Minute

// Factory builds engines for one server configuration.
type Factory struct {
	cfg    types.ServerConfig
	logger *zap.Logger

	spawner spawner

	rtOnce  sync.Once
	runtime container.Runtime
	rtErr   error
}

// NewFactory returns a factory for cfg.
func NewFactory(cfg types.ServerConfig, verbose bool, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		cfg:     cfg,
		logger:  logger,
		spawner: osSpawner{verbose: verbose},
	}
}

func (f *Factory) containerRuntime() (container.Runtime, error) {
	f.rtOnce.Do(func() {
		if f.runtime == nil {
			f.runtime, f.rtErr = container.DetectRuntime()
		}
	})
	return f.runtime, f.rtErr
}

// New starts or attaches a server for params and blocks until it reports
// ready. On failure any started server is stopped.
func (f *Factory) New(ctx context.Context, params types.ModelParams) (*Engine, error) {
	var (
		srv *server
		err error
	)
	switch f.cfg.Mode {
	case types.ServerProcess, "":
		srv, err = f.launchProcess(params)
	case types.ServerContainer:
		srv, err = f.launchContainer(params)
	case types.ServerEndpoint:
		srv, err = f.attachEndpoint(params)
	default:
		return nil, fmt.Errorf("unknown server mode %q", f.cfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	timeout := f.cfg.StartupTimeout
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}
	client := NewClient(srv.baseURL, f.cfg.APIKey, f.logger)
	if err := client.WaitReady(ctx, timeout, srv.exited); err != nil {
		if stopErr := srv.stop(); stopErr != nil {
			f.logger.Warn("stopping server after failed startup", zap.Error(stopErr))
		}
		return nil, fmt.Errorf("worker %d: %w", params.Worker, err)
	}
	f.logger.Debug("llama.cpp server ready", zap.String("url", client.BaseURL()), zap.Int("worker", params.Worker))

	return &Engine{client: client, stop: srv.stop}, nil
}

// Engine runs completions on its own server.
type Engine struct {
	client *Client

	stopOnce sync.Once
	stop     func() error
	stopErr  error
}

// Infer generates text for prompt.
func (e *Engine) Infer(ctx context.Context, prompt string, gen types.GenerationConfig) (string, error) {
	return e.client.Complete(ctx, prompt, gen)
}

// Close stops the server the engine owns. It is safe to call more than once.
func (e *Engine) Close() error {
	e.stopOnce.Do(func() { e.stopErr = e.stop() })
	return e.stopErr
}
