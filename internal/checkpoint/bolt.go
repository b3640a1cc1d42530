// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/pdiddy/lesion-engine/pkg/types"
)

var (
	snapshotBucket = []byte("checkpoint")
	snapshotKey    = []byte("snapshot")

	errNoSnapshot = errors.New("no snapshot in database")
)

// boltOpenTimeout bounds the wait for another process's file lock.
const boltOpenTimeout = 2 * time.Second

// BoltStore keeps one bbolt database file per job. Each Save is a single
// transaction, so readers never observe a partial snapshot.
type BoltStore struct {
	dir    string
	logger *zap.Logger
}

// NewBoltStore creates dir if needed and returns a store rooted there.
func NewBoltStore(dir string, logger *zap.Logger) (*BoltStore, error) {
	if dir == "" {
		dir = "checkpoints"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}
	return &BoltStore{dir: dir, logger: nopIfNil(logger)}, nil
}

// Path returns the database file for jobID.
func (s *BoltStore) Path(jobID string) string {
	return filepath.Join(s.dir, jobID+"_checkpoint.db")
}

func (s *BoltStore) open(jobID string) (*bolt.DB, error) {
	return bolt.Open(s.Path(jobID), 0o644, &bolt.Options{Timeout: boltOpenTimeout})
}

// Save replaces the stored snapshot in one transaction.
func (s *BoltStore) Save(jobID string, cp *types.Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		return fmt.Errorf("encoding checkpoint %s: %w", jobID, err)
	}

	db, err := s.open(jobID)
	if err != nil {
		return fmt.Errorf("opening checkpoint %s: %w", jobID, err)
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(snapshotBucket)
		if err != nil {
			return err
		}
		return b.Put(snapshotKey, data)
	})
}

// Load reads the snapshot. A missing file, a missing bucket, or undecodable
// data all count as absent.
func (s *BoltStore) Load(jobID string) (*types.Checkpoint, bool) {
	path := s.Path(jobID)
	if _, err := os.Stat(path); err != nil {
		return nil, false
	}

	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: boltOpenTimeout, ReadOnly: true})
	if err != nil {
		s.logger.Warn("checkpoint unreadable, starting fresh", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	defer db.Close()

	var data []byte
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(snapshotBucket)
		if b == nil {
			return errNoSnapshot
		}
		v := b.Get(snapshotKey)
		if v == nil {
			return errNoSnapshot
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		s.logger.Warn("checkpoint unreadable, starting fresh", zap.String("path", path), zap.Error(err))
		return nil, false
	}

	cp, err := decode(data)
	if err != nil {
		s.logger.Warn("checkpoint corrupt, starting fresh", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	return cp, true
}

// Clear removes the database file.
func (s *BoltStore) Clear(jobID string) error {
	if err := os.Remove(s.Path(jobID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing checkpoint %s: %w", jobID, err)
	}
	return nil
}
