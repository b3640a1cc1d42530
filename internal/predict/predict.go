// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package predict runs one model over a dataset. A run resumes from the
// job's checkpoint, dispatches only unprocessed rows to one or more
// inference workers, saves progress periodically and on every exit, and
// clears the checkpoint once the output has been persisted.
package predict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/lesion-engine/internal/checkpoint"
	"github.com/pdiddy/lesion-engine/internal/infer"
	"github.com/pdiddy/lesion-engine/internal/measure"
	"github.com/pdiddy/lesion-engine/internal/preprocess"
	"github.com/pdiddy/lesion-engine/internal/prompt"
	"github.com/pdiddy/lesion-engine/pkg/types"
)

var (
	// ErrCancelled is returned when the context is cancelled mid-run. The
	// checkpoint is kept so the next run resumes.
	ErrCancelled = fmt.Errorf("run cancelled: %w", context.Canceled)

	// ErrOrchestration wraps faults of the run itself, such as an engine
	// that cannot be constructed.
	ErrOrchestration = errors.New("orchestration failure")
)

// Reporter receives progress updates. Implementations must be safe for
// calls from the coordinating goroutine.
type Reporter interface {
	Start(label string, total, done int)
	Step(ok bool)
	Finish(state types.RunState, avg time.Duration)
}

// Result summarizes a run. Predictions is always dataset-ordered.
type Result struct {
	JobID       string
	State       types.RunState
	Predictions types.Predictions

	// Total is the dataset size.
	Total int

	// Resumed is the number of rows restored from the checkpoint.
	Resumed int

	// Dispatched is the number of rows sent to workers in this run.
	Dispatched int

	// Processed is the number of attempted rows, resumed ones included.
	Processed int

	// Failed is the number of attempted rows without a measurement.
	Failed int

	CumulativeTime time.Duration
	AvgLatency     time.Duration

	StartedAt  time.Time
	FinishedAt time.Time
}

// Runner executes batch runs. Its fields are read-only during Run.
type Runner struct {
	Config     types.RunConfig
	Generation types.GenerationConfig
	Params     types.ModelParams

	Factory   infer.Factory
	Store     checkpoint.Store
	Prompt    *prompt.Template
	Extractor measure.Extractor

	// ConfigHash is stored with each snapshot; a mismatch on resume is
	// logged but does not prevent resuming.
	ConfigHash string

	Logger   *zap.Logger
	Progress Reporter

	// OnComplete persists the results before the checkpoint is cleared. An
	// error keeps the checkpoint and fails the run.
	OnComplete func(Result) error
}

// batch is the mutable state of one run. Only the coordinating goroutine
// touches it.
type batch struct {
	jobID      string
	preds      types.Predictions
	processed  types.IndexSet
	cumulative time.Duration
	counter    int
	resumed    int
	restored   bool
}

// outcome is what a worker reports for one item.
type outcome struct {
	index   int
	value   float64
	ok      bool
	elapsed time.Duration
}

// worker owns one engine for the duration of a run.
type worker struct {
	id     int
	engine infer.Engine
}

// Run predicts every row of texts for jobID. It returns ErrCancelled when
// ctx is cancelled and an error wrapping ErrOrchestration on run-level
// faults; the Result is populated in every case.
func (r *Runner) Run(ctx context.Context, jobID string, texts []string) (res Result, err error) {
	logger := r.logger().With(zap.String("job", jobID))
	n := len(texts)
	res = Result{JobID: jobID, State: types.RunInit, Total: n, StartedAt: time.Now()}

	if r.Factory == nil || r.Store == nil || r.Prompt == nil {
		res.State = types.RunFailed
		return res, fmt.Errorf("%w: runner needs a factory, a store and a prompt", ErrOrchestration)
	}

	b := r.restore(jobID, n, logger)
	if b.restored {
		res.State = types.RunResuming
	} else {
		res.State = types.RunStarting
	}
	logger.Info("run initialized",
		zap.String("state", string(res.State)),
		zap.Int("total", n),
		zap.Int("done", b.resumed),
	)

	remaining := make([]types.WorkItem, 0, n-b.resumed)
	for i, text := range texts {
		if !b.processed.Has(i) {
			remaining = append(remaining, types.WorkItem{Index: i, Text: text})
		}
	}

	defer func() {
		if p := recover(); p != nil {
			res.State = types.RunFailed
			err = fmt.Errorf("%w: panic: %v", ErrOrchestration, p)
		}
		err = r.finalize(b, &res, err, logger)
	}()

	res.State = types.RunRunning
	r.progress().Start(jobID, n, b.resumed)

	var runErr error
	if len(remaining) > 0 {
		if r.Config.Concurrency <= 1 {
			runErr = r.runSequential(ctx, b, remaining, logger)
		} else {
			runErr = r.runPooled(ctx, b, remaining, logger)
		}
	}

	switch {
	case runErr != nil && ctx.Err() != nil:
		res.State = types.RunCancelled
	case runErr != nil:
		res.State = types.RunFailed
		return res, fmt.Errorf("%w: %w", ErrOrchestration, runErr)
	case len(b.processed) == n:
		res.State = types.RunCompleted
	case ctx.Err() != nil:
		res.State = types.RunCancelled
	default:
		res.State = types.RunFailed
		return res, fmt.Errorf("%w: %d of %d rows processed", ErrOrchestration, len(b.processed), n)
	}
	return res, nil
}

// restore rehydrates the batch from the job's snapshot, or starts fresh.
func (r *Runner) restore(jobID string, n int, logger *zap.Logger) *batch {
	b := &batch{
		jobID:     jobID,
		preds:     types.NewPredictions(n),
		processed: types.NewIndexSet(),
	}
	cp, ok := r.Store.Load(jobID)
	if !ok {
		return b
	}
	if len(cp.Predictions) != n {
		logger.Warn("checkpoint does not match dataset size, starting over",
			zap.Int("checkpoint_size", len(cp.Predictions)),
			zap.Int("dataset_size", n),
		)
		return b
	}
	if cp.ConfigHash != "" && r.ConfigHash != "" && cp.ConfigHash != r.ConfigHash {
		logger.Warn("checkpoint was written with different settings; results will mix",
			zap.String("checkpoint_hash", cp.ConfigHash),
			zap.String("config_hash", r.ConfigHash),
		)
	}
	b.preds = cp.Predictions
	b.processed = cp.Processed
	b.cumulative = cp.CumulativeTime
	b.resumed = len(cp.Processed)
	b.restored = true
	return b
}

// process handles one item on w. Inference runs detached from ctx so an
// in-flight call completes after cancellation, bounded by the item timeout.
func (r *Runner) process(ctx context.Context, w *worker, item types.WorkItem, logger *zap.Logger) outcome {
	input := preprocess.Normalize(item.Text)
	text, err := r.Prompt.Render(input)
	if err != nil {
		logger.Warn("rendering prompt", zap.Int("index", item.Index), zap.Error(err))
		return outcome{index: item.Index}
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.itemTimeout())
	defer cancel()

	start := time.Now()
	generated, err := r.callEngine(callCtx, w, text)
	elapsed := time.Since(start)
	if err != nil {
		logger.Warn("inference failed",
			zap.Int("index", item.Index),
			zap.Int("worker", w.id),
			zap.Error(err),
		)
		return outcome{index: item.Index}
	}

	v, ok := r.Extractor.Extract(generated, item.Text)
	if !ok {
		logger.Debug("no measurement", zap.Int("index", item.Index), zap.String("generated", generated))
	}
	return outcome{index: item.Index, value: v, ok: ok, elapsed: elapsed}
}

// callEngine calls the worker's engine and turns a panic into an item error, so
// a faulty engine fails one row instead of the whole run.
func (r *Runner) callEngine(ctx context.Context, w *worker, text string) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("engine panic: %v", p)
		}
	}()
	return w.engine.Infer(ctx, text, r.Generation)
}

// record applies an outcome and saves on the checkpoint interval.
func (r *Runner) record(b *batch, o outcome, logger *zap.Logger) {
	if o.ok {
		b.preds[o.index] = types.ValueSlot(o.value)
	} else {
		b.preds[o.index] = types.NoneSlot()
	}
	b.processed.Add(o.index)
	b.cumulative += o.elapsed
	b.counter++
	r.progress().Step(o.ok)

	if b.counter%r.interval() == 0 {
		r.save(b, logger)
	}
}

func (r *Runner) save(b *batch, logger *zap.Logger) {
	cp := &types.Checkpoint{
		Predictions:    b.preds,
		Processed:      b.processed,
		CumulativeTime: b.cumulative,
		Timestamp:      time.Now(),
		ConfigHash:     r.ConfigHash,
	}
	if err := r.Store.Save(b.jobID, cp); err != nil {
		logger.Error("saving checkpoint", zap.Error(err))
		return
	}
	logger.Debug("checkpoint saved", zap.Int("processed", len(b.processed)))
}

// finalize runs on every exit path: it flushes the checkpoint, fills in the
// result, and on completion hands the result to OnComplete before clearing
// the snapshot.
func (r *Runner) finalize(b *batch, res *Result, err error, logger *zap.Logger) error {
	r.save(b, logger)

	res.Predictions = b.preds
	res.Resumed = b.resumed
	res.Dispatched = b.counter
	res.Processed = len(b.processed)
	res.CumulativeTime = b.cumulative
	res.Failed = 0
	for i := range b.processed {
		if b.preds[i].State == types.SlotNone {
			res.Failed++
		}
	}
	if res.Total > 0 {
		res.AvgLatency = b.cumulative / time.Duration(res.Total)
	}

	switch res.State {
	case types.RunCompleted:
		if r.OnComplete != nil {
			if hookErr := r.OnComplete(*res); hookErr != nil {
				res.State = types.RunFailed
				err = fmt.Errorf("persisting results, checkpoint kept: %w", hookErr)
				break
			}
		}
		if clearErr := r.Store.Clear(b.jobID); clearErr != nil {
			logger.Warn("clearing checkpoint", zap.Error(clearErr))
		}
	case types.RunCancelled:
		err = ErrCancelled
	}
	res.FinishedAt = time.Now()

	logger.Info("run finished",
		zap.String("state", string(res.State)),
		zap.Int("processed", res.Processed),
		zap.Int("dispatched", res.Dispatched),
		zap.Int("failed", res.Failed),
		zap.Duration("cumulative", res.CumulativeTime),
		zap.Duration("avg_latency", res.AvgLatency),
	)
	r.progress().Finish(res.State, res.AvgLatency)
	return err
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Runner) progress() Reporter {
	if r.Progress == nil {
		return nopReporter{}
	}
	return r.Progress
}

func (r *Runner) interval() int {
	if r.Config.CheckpointInterval < 1 {
		return 1
	}
	return r.Config.CheckpointInterval
}

func (r *Runner) itemTimeout() time.Duration {
	if r.Config.ItemTimeout <= 0 {
		return DefaultItemTimeout
	}
	return r.Config.ItemTimeout
}

// DefaultItemTimeout bounds an inference call when none is configured.
const DefaultItemTimeout = 60 * time.Second

type nopReporter struct{}

func (nopReporter) Start(string, int, int) {}

func (nopReporter) Step(bool) {}

func (nopReporter) Finish(types.RunState, time.Duration) {}
