// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"sort"
	"time"
)

// WorkItem is the unit of work dispatched to a worker. Index is the row's
// zero-based position in the dataset and its identity across resumes.
type WorkItem struct {
	Index int
	Text  string
}

// SlotState distinguishes a never-attempted row from an attempted one.
type SlotState uint8

const (
	// SlotUnset marks a row that has not been attempted.
	SlotUnset SlotState = iota
	// SlotValue marks a row with an extracted measurement.
	SlotValue
	// SlotNone marks a row that was attempted but yielded no measurement.
	SlotNone
)

// Slot is one position of the prediction vector.
type Slot struct {
	State SlotState
	Value float64
}

// ValueSlot returns a slot holding v millimeters.
func ValueSlot(v float64) Slot { return Slot{State: SlotValue, Value: v} }

// NoneSlot returns an attempted slot without a measurement.
func NoneSlot() Slot { return Slot{State: SlotNone} }

// IsSet reports whether the row has been attempted.
func (s Slot) IsSet() bool { return s.State != SlotUnset }

// Float returns the measurement and whether one exists.
func (s Slot) Float() (float64, bool) {
	if s.State != SlotValue {
		return 0, false
	}
	return s.Value, true
}

// Predictions is the dense, dataset-ordered prediction vector.
type Predictions []Slot

// NewPredictions allocates n unset slots.
func NewPredictions(n int) Predictions {
	return make(Predictions, n)
}

// IndexSet is the set of processed row indices.
type IndexSet map[int]struct{}

// NewIndexSet returns a set holding the given indices.
func NewIndexSet(indices ...int) IndexSet {
	s := make(IndexSet, len(indices))
	for _, i := range indices {
		s[i] = struct{}{}
	}
	return s
}

// Add inserts i.
func (s IndexSet) Add(i int) { s[i] = struct{}{} }

// Has reports whether i is in the set.
func (s IndexSet) Has(i int) bool {
	_, ok := s[i]
	return ok
}

// Sorted returns the members in ascending order.
func (s IndexSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Checkpoint is a snapshot of batch progress for one job.
type Checkpoint struct {
	// Predictions is the full prediction vector at save time.
	Predictions Predictions

	// Processed holds every attempted index.
	Processed IndexSet

	// CumulativeTime is the summed inference time of all processed items.
	CumulativeTime time.Duration

	// Timestamp is when the snapshot was written.
	Timestamp time.Time

	// ConfigHash fingerprints the prediction-relevant config of the writer.
	ConfigHash string
}

// Consistent reports whether every processed index has a set slot and no
// unprocessed index has one.
func (c *Checkpoint) Consistent() bool {
	n := len(c.Predictions)
	for i := range c.Processed {
		if i < 0 || i >= n {
			return false
		}
	}
	for i, slot := range c.Predictions {
		if slot.IsSet() != c.Processed.Has(i) {
			return false
		}
	}
	return true
}
