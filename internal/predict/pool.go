// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package predict

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/lesion-engine/pkg/types"
)

// runSequential processes items in ascending index order on one engine.
func (r *Runner) runSequential(ctx context.Context, b *batch, items []types.WorkItem, logger *zap.Logger) error {
	engine, err := r.Factory(ctx, r.paramsFor(0))
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	w := &worker{id: 0, engine: engine}
	defer r.closeWorkers(logger, w)

	for _, item := range items {
		if ctx.Err() != nil {
			return nil
		}
		r.record(b, r.process(ctx, w, item, logger), logger)
	}
	return nil
}

// runPooled starts min(concurrency, len(items)) workers, waits until every
// engine is ready, then feeds items through an unbuffered channel. Outcomes
// arrive in completion order and are recorded by this goroutine only.
func (r *Runner) runPooled(ctx context.Context, b *batch, items []types.WorkItem, logger *zap.Logger) error {
	workers, err := r.startWorkers(ctx, min(r.Config.Concurrency, len(items)))
	if err != nil {
		return err
	}
	defer r.closeWorkers(logger, workers...)
	logger.Info("workers ready", zap.Int("workers", len(workers)))

	jobs := make(chan types.WorkItem)
	results := make(chan outcome)

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			for item := range jobs {
				// A send can win the dispatcher's select after cancellation;
				// such items stay unprocessed for the next run.
				if ctx.Err() != nil {
					continue
				}
				results <- r.process(ctx, w, item, logger)
			}
		}(w)
	}

	go func() {
		defer close(jobs)
		for _, item := range items {
			select {
			case <-ctx.Done():
				return
			default:
			}
			select {
			case <-ctx.Done():
				return
			case jobs <- item:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for o := range results {
		r.record(b, o, logger)
	}
	return nil
}

// startWorkers builds n engines concurrently. If any construction fails the
// engines already built are closed.
func (r *Runner) startWorkers(ctx context.Context, n int) ([]*worker, error) {
	workers := make([]*worker, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			engine, err := r.Factory(gctx, r.paramsFor(i))
			if err != nil {
				return fmt.Errorf("starting worker %d: %w", i, err)
			}
			workers[i] = &worker{id: i, engine: engine}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var started []*worker
		for _, w := range workers {
			if w != nil {
				started = append(started, w)
			}
		}
		r.closeWorkers(r.logger(), started...)
		return nil, err
	}
	return workers, nil
}

func (r *Runner) closeWorkers(logger *zap.Logger, workers ...*worker) {
	for _, w := range workers {
		if err := w.engine.Close(); err != nil {
			logger.Warn("closing engine", zap.Int("worker", w.id), zap.Error(err))
		}
	}
}

func (r *Runner) paramsFor(worker int) types.ModelParams {
	p := r.Params
	p.Worker = worker
	return p
}
