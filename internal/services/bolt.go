package services

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the conversation KV interface on a BoltDB file. Every key lives in a single bucket,
// so the whole history is read and replaced in one transaction.
type BoltDB struct {
	db *bolt.DB
}

var historyBucket = []byte("history")

// NewBoltDB opens or creates the BoltDB file at path and makes sure the history bucket exists. The file
// is created with 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(historyBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create history bucket: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Get returns a copy of the value stored under key, or nil if the key is absent.
func (b BoltDB) Get(key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(historyBucket)
		if bucket == nil {
			return nil
		}

		// Values are only valid for the life of the transaction.
		if v := bucket.Get([]byte(key)); v != nil {
			value = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous value.
func (b BoltDB) Put(key string, value []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(historyBucket)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (b BoltDB) Delete(key string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(historyBucket)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}
