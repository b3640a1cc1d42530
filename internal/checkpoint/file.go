// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pdiddy/lesion-engine/pkg/types"
)

// FileStore keeps one YAML snapshot per job under a directory.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		dir = "checkpoints"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}
	return &FileStore{dir: dir, logger: nopIfNil(logger)}, nil
}

// Path returns the snapshot file for jobID.
func (s *FileStore) Path(jobID string) string {
	return filepath.Join(s.dir, jobID+"_checkpoint.yaml")
}

// Save writes the snapshot to a temporary file and renames it into place,
// so a crash mid-write leaves the previous snapshot intact.
func (s *FileStore) Save(jobID string, cp *types.Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint %s: %w", jobID, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+jobID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing checkpoint %s: %w", jobID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing checkpoint %s: %w", jobID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing checkpoint %s: %w", jobID, err)
	}
	if err := os.Rename(tmpName, s.Path(jobID)); err != nil {
		return fmt.Errorf("replacing checkpoint %s: %w", jobID, err)
	}
	return nil
}

// Load reads the snapshot. Corrupt or unreadable files count as absent.
func (s *FileStore) Load(jobID string) (*types.Checkpoint, bool) {
	path := s.Path(jobID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("checkpoint unreadable, starting fresh", zap.String("path", path), zap.Error(err))
		}
		return nil, false
	}

	cp, err := decode(data)
	if err != nil {
		s.logger.Warn("checkpoint corrupt, starting fresh", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	return cp, true
}

// Clear removes the snapshot file.
func (s *FileStore) Clear(jobID string) error {
	if err := os.Remove(s.Path(jobID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing checkpoint %s: %w", jobID, err)
	}
	return nil
}
