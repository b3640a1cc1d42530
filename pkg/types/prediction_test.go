// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlot(t *testing.T) {
	v, ok := ValueSlot(12.5).Float()
	assert.True(t, ok)
	assert.Equal(t, 12.5, v)

	_, ok = NoneSlot().Float()
	assert.False(t, ok)
	assert.True(t, NoneSlot().IsSet())
	assert.False(t, Slot{}.IsSet())
}

func TestIndexSet(t *testing.T) {
	s := NewIndexSet(4, 0, 2)
	s.Add(1)
	s.Add(2)
	assert.True(t, s.Has(1))
	assert.False(t, s.Has(3))
	assert.Equal(t, []int{0, 1, 2, 4}, s.Sorted())
}

func TestCheckpointConsistent(t *testing.T) {
	tests := []struct {
		name string
		cp   Checkpoint
		want bool
	}{
		{
			name: "processed rows are set",
			cp:   Checkpoint{Predictions: Predictions{ValueSlot(1), NoneSlot(), {}}, Processed: NewIndexSet(0, 1)},
			want: true,
		},
		{
			name: "processed row left unset",
			cp:   Checkpoint{Predictions: Predictions{ValueSlot(1), {}}, Processed: NewIndexSet(0, 1)},
		},
		{
			name: "value at unprocessed row",
			cp:   Checkpoint{Predictions: Predictions{ValueSlot(1), ValueSlot(2)}, Processed: NewIndexSet(0)},
		},
		{
			name: "index out of range",
			cp:   Checkpoint{Predictions: Predictions{ValueSlot(1)}, Processed: NewIndexSet(0, 5)},
		},
		{
			name: "empty",
			cp:   Checkpoint{Processed: NewIndexSet()},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cp.Consistent())
		})
	}
}

func TestRunStateTerminal(t *testing.T) {
	for _, s := range []RunState{RunCompleted, RunCancelled, RunFailed} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []RunState{RunInit, RunResuming, RunStarting, RunRunning} {
		assert.False(t, s.Terminal(), s)
	}
}
