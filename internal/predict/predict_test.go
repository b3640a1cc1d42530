// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package predict

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/lesion-engine/internal/checkpoint"
	"github.com/pdiddy/lesion-engine/internal/infer"
	"github.com/pdiddy/lesion-engine/internal/prompt"
	"github.com/pdiddy/lesion-engine/pkg/types"
)

// memStore is an in-memory checkpoint store that records every save.
type memStore struct {
	mu      sync.Mutex
	snaps   map[string]*types.Checkpoint
	saves   []int
	cleared int
}

func newMemStore() *memStore {
	return &memStore{snaps: map[string]*types.Checkpoint{}}
}

func clone(cp *types.Checkpoint) *types.Checkpoint {
	out := *cp
	out.Predictions = slices.Clone(cp.Predictions)
	out.Processed = types.NewIndexSet(cp.Processed.Sorted()...)
	return &out
}

func (m *memStore) Save(jobID string, cp *types.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[jobID] = clone(cp)
	m.saves = append(m.saves, len(cp.Processed))
	return nil
}

func (m *memStore) Load(jobID string) (*types.Checkpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.snaps[jobID]
	if !ok {
		return nil, false
	}
	return clone(cp), true
}

func (m *memStore) Clear(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, jobID)
	m.cleared++
	return nil
}

func (m *memStore) snapshot(jobID string) *types.Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps[jobID]
}

var _ checkpoint.Store = (*memStore)(nil)

// fakeEngine answers with its prompt, so the extractor reads the
// measurement straight from the row text.
type fakeEngine struct {
	infer  func(ctx context.Context, prompt string) (string, error)
	closed *int32
}

func (e *fakeEngine) Infer(ctx context.Context, p string, _ types.GenerationConfig) (string, error) {
	if e.infer != nil {
		return e.infer(ctx, p)
	}
	return p, ctx.Err()
}

func (e *fakeEngine) Close() error {
	atomic.AddInt32(e.closed, 1)
	return nil
}

// fakeFactory builds fake engines and records which prompts were sent.
type fakeFactory struct {
	mu      sync.Mutex
	prompts []string
	workers []int
	closed  int32
	fail    func(worker int) error
	infer   func(ctx context.Context, prompt string) (string, error)
}

func (f *fakeFactory) factory() infer.Factory {
	return func(_ context.Context, params types.ModelParams) (infer.Engine, error) {
		f.mu.Lock()
		f.workers = append(f.workers, params.Worker)
		f.mu.Unlock()
		if f.fail != nil {
			if err := f.fail(params.Worker); err != nil {
				return nil, err
			}
		}
		return &fakeEngine{
			closed: &f.closed,
			infer: func(ctx context.Context, p string) (string, error) {
				f.mu.Lock()
				f.prompts = append(f.prompts, p)
				f.mu.Unlock()
				if f.infer != nil {
					return f.infer(ctx, p)
				}
				return p, ctx.Err()
			},
		}, nil
	}
}

func (f *fakeFactory) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.prompts)
}

// rows returns n findings whose row i measures 10+i mm.
func rows(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("右肺结节%dmm。", 10+i)
	}
	return out
}

func newRunner(t *testing.T, f *fakeFactory, store checkpoint.Store, concurrency int) *Runner {
	t.Helper()
	tmpl, err := prompt.New("{{.Input}}")
	require.NoError(t, err)
	return &Runner{
		Config: types.RunConfig{
			Concurrency:        concurrency,
			CheckpointInterval: 10,
			ItemTimeout:        time.Second,
		},
		Params:     types.ModelParams{ModelPath: "models/test.gguf"},
		Factory:    f.factory(),
		Store:      store,
		Prompt:     tmpl,
		ConfigHash: "h1",
	}
}

func values(t *testing.T, preds types.Predictions) []float64 {
	t.Helper()
	out := make([]float64, len(preds))
	for i, s := range preds {
		v, ok := s.Float()
		require.True(t, ok, "slot %d has no value", i)
		out[i] = v
	}
	return out
}

func TestRun_FreshCompletes(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			f := &fakeFactory{}
			store := newMemStore()
			r := newRunner(t, f, store, concurrency)

			var hooked *Result
			r.OnComplete = func(res Result) error {
				hooked = &res
				return nil
			}

			res, err := r.Run(context.Background(), "test", rows(5))
			require.NoError(t, err)

			assert.Equal(t, types.RunCompleted, res.State)
			assert.Equal(t, []float64{10, 11, 12, 13, 14}, values(t, res.Predictions))
			assert.Equal(t, 5, res.Processed)
			assert.Equal(t, 5, res.Dispatched)
			assert.Equal(t, 0, res.Resumed)
			assert.Equal(t, 0, res.Failed)

			require.NotNil(t, hooked)
			assert.Equal(t, res.Predictions, hooked.Predictions)
			assert.Nil(t, store.snapshot("test"), "checkpoint should be cleared")
			assert.Equal(t, 1, store.cleared)
			assert.Equal(t, int32(len(f.workers)), atomic.LoadInt32(&f.closed))
		})
	}
}

func TestRun_ResumeDispatchesOnlyRemaining(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			store := newMemStore()
			preds := types.NewPredictions(5)
			preds[0] = types.ValueSlot(1)
			preds[1] = types.ValueSlot(2)
			preds[2] = types.ValueSlot(3)
			preds[4] = types.NoneSlot()
			require.NoError(t, store.Save("test", &types.Checkpoint{
				Predictions:    preds,
				Processed:      types.NewIndexSet(0, 1, 2, 4),
				CumulativeTime: 4 * time.Second,
				ConfigHash:     "h1",
			}))

			f := &fakeFactory{}
			texts := rows(5)
			res, err := newRunner(t, f, store, concurrency).Run(context.Background(), "test", texts)
			require.NoError(t, err)

			assert.Equal(t, []string{texts[3]}, f.sent())
			assert.Len(t, f.workers, 1, "a single remaining item needs a single worker")

			assert.Equal(t, 4, res.Resumed)
			assert.Equal(t, 1, res.Dispatched)
			assert.Equal(t, 5, res.Processed)
			assert.Equal(t, 1, res.Failed)

			want := types.Predictions{
				types.ValueSlot(1), types.ValueSlot(2), types.ValueSlot(3),
				types.ValueSlot(13), types.NoneSlot(),
			}
			assert.Equal(t, want, res.Predictions)
			assert.GreaterOrEqual(t, res.CumulativeTime, 4*time.Second)
			assert.Nil(t, store.snapshot("test"))
		})
	}
}

func TestRun_PooledKeepsDatasetOrder(t *testing.T) {
	const n = 12
	texts := rows(n)
	f := &fakeFactory{infer: func(_ context.Context, p string) (string, error) {
		// Earlier rows take longer so completions arrive out of order.
		time.Sleep(time.Duration(n-slices.Index(texts, p)) * time.Millisecond)
		return p, nil
	}}
	r := newRunner(t, f, newMemStore(), 4)

	res, err := r.Run(context.Background(), "test", texts)
	require.NoError(t, err)

	want := make([]float64, n)
	for i := range want {
		want[i] = float64(10 + i)
	}
	assert.Equal(t, want, values(t, res.Predictions))

	workers := slices.Clone(f.workers)
	slices.Sort(workers)
	assert.Equal(t, []int{0, 1, 2, 3}, workers)
	assert.Equal(t, int32(4), atomic.LoadInt32(&f.closed))
}

func TestRun_ItemFailureIsNone(t *testing.T) {
	texts := rows(5)
	for _, concurrency := range []int{1, 2} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			f := &fakeFactory{infer: func(_ context.Context, p string) (string, error) {
				switch p {
				case texts[1]:
					return "", errors.New("decode failed")
				case texts[3]:
					return "无", nil
				}
				return p, nil
			}}
			r := newRunner(t, f, newMemStore(), concurrency)

			res, err := r.Run(context.Background(), "test", texts)
			require.NoError(t, err)

			assert.Equal(t, types.RunCompleted, res.State)
			assert.Equal(t, types.NoneSlot(), res.Predictions[1])
			assert.Equal(t, types.NoneSlot(), res.Predictions[3])
			assert.Equal(t, types.ValueSlot(14), res.Predictions[4])
			assert.Equal(t, 5, res.Processed)
			assert.Equal(t, 2, res.Failed)
			assert.Len(t, f.sent(), 5, "failed items are not retried")
		})
	}
}

func TestRun_EnginePanicIsNone(t *testing.T) {
	texts := rows(4)
	for _, concurrency := range []int{1, 2} {
		t.Run(fmt.Sprintf("concurrency=%d", concurrency), func(t *testing.T) {
			f := &fakeFactory{infer: func(_ context.Context, p string) (string, error) {
				if p == texts[1] {
					panic("engine bug")
				}
				return p, nil
			}}
			store := newMemStore()
			r := newRunner(t, f, store, concurrency)

			res, err := r.Run(context.Background(), "test", texts)
			require.NoError(t, err)

			assert.Equal(t, types.RunCompleted, res.State)
			assert.Equal(t, types.NoneSlot(), res.Predictions[1])
			assert.Equal(t, types.ValueSlot(13), res.Predictions[3])
			assert.Equal(t, 4, res.Processed)
			assert.Equal(t, 1, res.Failed)
			assert.Equal(t, 1, store.cleared)
		})
	}
}

func TestRun_ItemTimeoutIsNone(t *testing.T) {
	texts := rows(3)
	f := &fakeFactory{infer: func(ctx context.Context, p string) (string, error) {
		if p == texts[1] {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return p, nil
	}}
	r := newRunner(t, f, newMemStore(), 1)
	r.Config.ItemTimeout = 20 * time.Millisecond

	res, err := r.Run(context.Background(), "test", texts)
	require.NoError(t, err)
	assert.Equal(t, types.NoneSlot(), res.Predictions[1])
	assert.Equal(t, types.ValueSlot(12), res.Predictions[2])
}

func TestRun_CheckpointInterval(t *testing.T) {
	store := newMemStore()
	r := newRunner(t, &fakeFactory{}, store, 1)
	r.Config.CheckpointInterval = 2

	_, err := r.Run(context.Background(), "test", rows(5))
	require.NoError(t, err)

	// Saves after items 2 and 4, then the final flush.
	assert.Equal(t, []int{2, 4, 5}, store.saves)
	assert.Nil(t, store.snapshot("test"))
}

func TestRun_CancelKeepsCheckpoint(t *testing.T) {
	texts := rows(5)
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeFactory{infer: func(ctx context.Context, p string) (string, error) {
		if p == texts[2] {
			cancel()
		}
		// In-flight calls run detached from the run context.
		return p, ctx.Err()
	}}
	r := newRunner(t, f, store, 1)
	hooked := false
	r.OnComplete = func(Result) error {
		hooked = true
		return nil
	}

	res, err := r.Run(ctx, "test", texts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, types.RunCancelled, res.State)
	assert.False(t, hooked)

	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, types.ValueSlot(12), res.Predictions[2], "in-flight item completes")

	snap := store.snapshot("test")
	require.NotNil(t, snap)
	assert.Equal(t, []int{0, 1, 2}, snap.Processed.Sorted())
	assert.True(t, snap.Consistent())
	assert.Equal(t, "h1", snap.ConfigHash)

	// The next run resumes with only the remaining rows.
	f2 := &fakeFactory{}
	res, err = newRunner(t, f2, store, 1).Run(context.Background(), "test", texts)
	require.NoError(t, err)
	assert.Equal(t, []string{texts[3], texts[4]}, f2.sent())
	assert.Equal(t, []float64{10, 11, 12, 13, 14}, values(t, res.Predictions))
	assert.Nil(t, store.snapshot("test"))
}

func TestRun_PooledCancelKeepsConsistentCheckpoint(t *testing.T) {
	const n = 8
	texts := rows(n)
	store := newMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cancelled := make(chan struct{})
	var once sync.Once
	f := &fakeFactory{infer: func(_ context.Context, p string) (string, error) {
		idx := slices.Index(texts, p)
		switch {
		case idx == 2:
			once.Do(func() {
				cancel()
				close(cancelled)
			})
		case idx > 2:
			<-cancelled
		}
		return p, nil
	}}
	r := newRunner(t, f, store, 2)

	res, err := r.Run(ctx, "test", texts)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, types.RunCancelled, res.State)
	assert.Less(t, res.Processed, n)
	assert.Equal(t, types.ValueSlot(12), res.Predictions[2])

	snap := store.snapshot("test")
	require.NotNil(t, snap)
	assert.True(t, snap.Consistent())
	assert.Len(t, snap.Processed, res.Processed)
	assert.Equal(t, res.Processed, len(f.sent()))
}

func TestRun_PooledDispatchesNothingAfterCancel(t *testing.T) {
	texts := rows(6)
	for attempt := 0; attempt < 20; attempt++ {
		ctx, cancel := context.WithCancel(context.Background())
		started := make(chan struct{})
		cancelled := make(chan struct{})
		f := &fakeFactory{infer: func(_ context.Context, p string) (string, error) {
			switch slices.Index(texts, p) {
			case 0:
				<-started
				cancel()
				close(cancelled)
			case 1:
				close(started)
				<-cancelled
			}
			return p, nil
		}}
		store := newMemStore()

		res, err := newRunner(t, f, store, 2).Run(ctx, "test", texts)
		cancel()
		require.ErrorIs(t, err, ErrCancelled)
		assert.ElementsMatch(t, []string{texts[0], texts[1]}, f.sent())
		assert.Equal(t, 2, res.Processed)
		assert.Equal(t, []int{0, 1}, store.snapshot("test").Processed.Sorted())
	}
}

func TestRun_StartupFailure(t *testing.T) {
	t.Run("sequential", func(t *testing.T) {
		store := newMemStore()
		f := &fakeFactory{fail: func(int) error { return errors.New("model file missing") }}

		res, err := newRunner(t, f, store, 1).Run(context.Background(), "test", rows(3))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrOrchestration)
		assert.Contains(t, err.Error(), "model file missing")
		assert.Equal(t, types.RunFailed, res.State)
		assert.NotNil(t, store.snapshot("test"), "best-effort save on failure")
	})

	t.Run("pooled closes started engines", func(t *testing.T) {
		f := &fakeFactory{fail: func(w int) error {
			if w == 1 {
				return errors.New("port in use")
			}
			return nil
		}}

		res, err := newRunner(t, f, newMemStore(), 3).Run(context.Background(), "test", rows(6))
		assert.ErrorIs(t, err, ErrOrchestration)
		assert.Equal(t, types.RunFailed, res.State)
		assert.Empty(t, f.sent(), "nothing is dispatched before every worker is ready")
		assert.Equal(t, int32(2), atomic.LoadInt32(&f.closed))
	})
}

func TestRun_OnCompleteFailureKeepsSnapshot(t *testing.T) {
	store := newMemStore()
	r := newRunner(t, &fakeFactory{}, store, 1)
	r.OnComplete = func(Result) error { return errors.New("disk full") }

	res, err := r.Run(context.Background(), "test", rows(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, types.RunFailed, res.State)

	snap := store.snapshot("test")
	require.NotNil(t, snap)
	assert.Len(t, snap.Processed, 3)
	assert.Equal(t, 0, store.cleared)
}

func TestRun_SizeMismatchStartsOver(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Save("test", &types.Checkpoint{
		Predictions: types.Predictions{types.ValueSlot(1), types.ValueSlot(2)},
		Processed:   types.NewIndexSet(0, 1),
	}))
	f := &fakeFactory{}

	res, err := newRunner(t, f, store, 1).Run(context.Background(), "test", rows(3))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Resumed)
	assert.Len(t, f.sent(), 3)
	assert.Equal(t, []float64{10, 11, 12}, values(t, res.Predictions))
}

func TestRun_EmptyDataset(t *testing.T) {
	f := &fakeFactory{}
	res, err := newRunner(t, f, newMemStore(), 2).Run(context.Background(), "test", nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, res.State)
	assert.Empty(t, f.workers, "no engine is built when nothing remains")
	assert.Zero(t, res.AvgLatency)
}

func TestRun_AllProcessedSkipsEngines(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Save("test", &types.Checkpoint{
		Predictions: types.Predictions{types.ValueSlot(5), types.NoneSlot()},
		Processed:   types.NewIndexSet(0, 1),
	}))
	f := &fakeFactory{}

	res, err := newRunner(t, f, store, 1).Run(context.Background(), "test", rows(2))
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, res.State)
	assert.Empty(t, f.workers)
	assert.Equal(t, 2, res.Resumed)
	assert.Nil(t, store.snapshot("test"))
}

func TestRun_RequiresCollaborators(t *testing.T) {
	_, err := (&Runner{}).Run(context.Background(), "test", rows(1))
	assert.ErrorIs(t, err, ErrOrchestration)
}

func TestRun_AverageLatencyOverDataset(t *testing.T) {
	f := &fakeFactory{infer: func(_ context.Context, p string) (string, error) {
		time.Sleep(5 * time.Millisecond)
		return p, nil
	}}
	res, err := newRunner(t, f, newMemStore(), 1).Run(context.Background(), "test", rows(4))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.CumulativeTime, 20*time.Millisecond)
	assert.Equal(t, res.CumulativeTime/4, res.AvgLatency)
}
