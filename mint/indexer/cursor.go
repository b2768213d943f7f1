package indexer

import (
	"encoding/binary"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	cursorBucket = "indexer"
	cursorKey    = "cursor"
)

// CursorStore persists the last block the indexer fully processed
// so a restart resumes the stream where it stopped.
type CursorStore struct {
	bolt *bolt.DB
}

func OpenCursorStore(path string) (*CursorStore, error) {
	db, err := bolt.Open(filepath.Join(path, "indexer.db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cursorBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &CursorStore{bolt: db}, nil
}

// Get returns the stored block number. ok is false if nothing was stored yet.
func (c *CursorStore) Get() (block uint64, ok bool, err error) {
	err = c.bolt.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(cursorBucket)).Get([]byte(cursorKey))
		if v == nil {
			return nil
		}
		block = binary.BigEndian.Uint64(v)
		ok = true
		return nil
	})
	return block, ok, err
}

func (c *CursorStore) Set(block uint64) error {
	return c.bolt.Update(func(tx *bolt.Tx) error {
		v := make([]byte, 8)
		binary.BigEndian.PutUint64(v, block)
		return tx.Bucket([]byte(cursorBucket)).Put([]byte(cursorKey), v)
	})
}

func (c *CursorStore) Close() error {
	return c.bolt.Close()
}
