// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package checkpoint persists batch progress so an interrupted run can
// resume without reprocessing finished rows. One snapshot exists per job;
// every Save replaces it completely.
package checkpoint

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/lesion-engine/pkg/types"
)

// snapshotVersion is bumped when the wire layout changes.
const snapshotVersion = 1

// Store saves, loads and clears job snapshots.
type Store interface {
	// Save overwrites the snapshot for jobID.
	Save(jobID string, cp *types.Checkpoint) error

	// Load returns the snapshot for jobID. It reports false when no
	// snapshot exists or the stored data is unreadable or inconsistent.
	Load(jobID string) (*types.Checkpoint, bool)

	// Clear deletes the snapshot. A missing snapshot is not an error.
	Clear(jobID string) error
}

// New returns the store selected by cfg.Backend.
func New(cfg types.CheckpointConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case types.CheckpointFile, "":
		return NewFileStore(cfg.Dir, logger)
	case types.CheckpointBolt:
		return NewBoltStore(cfg.Dir, logger)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

var unsafeJobChars = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

// JobID derives the job identity from a model path or name: the file stem,
// with runs of characters other than letters, digits, '.', '_' and '-'
// replaced by an underscore. A stem that needed replacing gets a short hash
// of the original so distinct stems never share an identity.
func JobID(model string) string {
	base := filepath.Base(strings.TrimSpace(model))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." {
		return "default"
	}
	id := unsafeJobChars.ReplaceAllString(stem, "_")
	if id == stem {
		return id
	}
	id = strings.Trim(id, "_")
	if id == "" {
		id = "model"
	}
	sum := sha256.Sum256([]byte(stem))
	return fmt.Sprintf("%s-%x", id, sum[:4])
}

// snapshot is the persisted layout. Unset and none slots are both null in
// Predictions; membership in Processed tells them apart.
type snapshot struct {
	Version        int        `yaml:"version"`
	DatasetSize    int        `yaml:"dataset_size"`
	Processed      []int      `yaml:"processed,flow"`
	Predictions    []*float64 `yaml:"predictions,flow"`
	CumulativeTime float64    `yaml:"cumulative_time_seconds"`
	Timestamp      time.Time  `yaml:"timestamp"`
	ConfigHash     string     `yaml:"config_hash,omitempty"`
}

var errInconsistent = errors.New("inconsistent snapshot")

func encode(cp *types.Checkpoint) ([]byte, error) {
	snap := snapshot{
		Version:        snapshotVersion,
		DatasetSize:    len(cp.Predictions),
		Processed:      cp.Processed.Sorted(),
		Predictions:    make([]*float64, len(cp.Predictions)),
		CumulativeTime: cp.CumulativeTime.Seconds(),
		Timestamp:      cp.Timestamp.UTC(),
		ConfigHash:     cp.ConfigHash,
	}
	for i, slot := range cp.Predictions {
		if v, ok := slot.Float(); ok {
			snap.Predictions[i] = &v
		}
	}
	return yaml.Marshal(&snap)
}

func decode(data []byte) (*types.Checkpoint, error) {
	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.DatasetSize != len(snap.Predictions) {
		return nil, fmt.Errorf("%w: %d predictions for dataset size %d", errInconsistent, len(snap.Predictions), snap.DatasetSize)
	}

	cp := &types.Checkpoint{
		Predictions:    types.NewPredictions(snap.DatasetSize),
		Processed:      types.NewIndexSet(),
		CumulativeTime: time.Duration(snap.CumulativeTime * float64(time.Second)),
		Timestamp:      snap.Timestamp,
		ConfigHash:     snap.ConfigHash,
	}
	for _, i := range snap.Processed {
		if i < 0 || i >= snap.DatasetSize {
			return nil, fmt.Errorf("%w: processed index %d out of range", errInconsistent, i)
		}
		cp.Processed.Add(i)
	}
	for i, v := range snap.Predictions {
		switch {
		case cp.Processed.Has(i) && v != nil:
			cp.Predictions[i] = types.ValueSlot(*v)
		case cp.Processed.Has(i):
			cp.Predictions[i] = types.NoneSlot()
		case v != nil:
			return nil, fmt.Errorf("%w: value at unprocessed index %d", errInconsistent, i)
		}
	}
	return cp, nil
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
