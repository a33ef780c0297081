package store

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
)

// ErrNoCheckpoint is returned when a run has no persisted checkpoint.
var ErrNoCheckpoint = fmt.Errorf("no checkpoint found")

// CheckpointStore persists broker state snapshots in BadgerDB, keyed by run
// and time index so the latest checkpoint of a run is the last key under its
// prefix.
type CheckpointStore struct {
	db *badger.DB
}

// OpenCheckpoints initializes the checkpoint store at path.
func OpenCheckpoints(path string) (*CheckpointStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	return &CheckpointStore{db: db}, nil
}

func checkpointKey(runID uuid.UUID, timeIndex int) []byte {
	key := make([]byte, 0, len("run/")+36+1+8)
	key = append(key, []byte("run/"+runID.String()+"/")...)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(timeIndex))
	return append(key, idx[:]...)
}

// Save stores a state blob for the run at the given time index.
func (c *CheckpointStore) Save(runID uuid.UUID, timeIndex int, blob []byte) error {
	if timeIndex < 0 {
		return fmt.Errorf("time index must be non-negative: %d", timeIndex)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(runID, timeIndex), blob)
	})
}

// Latest returns the run's most recent checkpoint blob and its time index.
func (c *CheckpointStore) Latest(runID uuid.UUID) ([]byte, int, error) {
	prefix := []byte("run/" + runID.String() + "/")
	var blob []byte
	timeIndex := -1
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()
		// Seek just past the prefix and step back onto the last key under it.
		seek := append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); {
			item := it.Item()
			key := item.Key()
			timeIndex = int(binary.BigEndian.Uint64(key[len(prefix):]))
			return item.Value(func(v []byte) error {
				blob = append([]byte(nil), v...)
				return nil
			})
		}
		return ErrNoCheckpoint
	})
	if err != nil {
		return nil, 0, err
	}
	return blob, timeIndex, nil
}

// Close flushes and closes the underlying database.
func (c *CheckpointStore) Close() error {
	return c.db.Close()
}
