package kvdb

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/meghashyamc/placefinder/logger"
	bolt "go.etcd.io/bbolt"
)

type BoltDB struct {
	store  *bolt.DB
	logger logger.Logger
}

func New(logger logger.Logger, kvDBPath string) (*BoltDB, error) {
	if err := os.MkdirAll(filepath.Dir(kvDBPath), 0755); err != nil {
		logger.Error("failed to create key-value database directory", "err", err.Error(), "path", kvDBPath)
		return nil, fmt.Errorf("failed to create key-value database directory: %w", err)
	}

	store, err := bolt.Open(kvDBPath, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		logger.Error("failed to open database", "err", err.Error(), "path", kvDBPath)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	boltDB := &BoltDB{
		store:  store,
		logger: logger,
	}

	if err := boltDB.store.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(LocationsBucket))
		return err
	}); err != nil {
		store.Close()
		logger.Error("failed to create bucket", "bucket", LocationsBucket, "err", err.Error())
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return boltDB, nil
}

func (b *BoltDB) Put(bucketName string, key string, value []byte) error {
	if key == "" {
		return b.invalidKey("put", bucketName, key)
	}

	return b.store.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			b.logger.Error("failed to open bucket", "bucket", bucketName, "err", err.Error())
			return &KeyError{Op: "put", Bucket: bucketName, Key: key, Err: err}
		}

		if err := bucket.Put([]byte(key), value); err != nil {
			b.logger.Error("failed to put key", "bucket", bucketName, "key", key, "err", err.Error())
			return &KeyError{Op: "put", Bucket: bucketName, Key: key, Err: err}
		}
		return nil
	})
}

// Get returns a copy of the stored value; bolt's slices are only valid inside the transaction.
func (b *BoltDB) Get(bucketName string, key string) ([]byte, error) {
	if key == "" {
		return nil, b.invalidKey("get", bucketName, key)
	}

	var value []byte
	err := b.store.View(func(tx *bolt.Tx) error {
		var v []byte
		if bucket := tx.Bucket([]byte(bucketName)); bucket != nil {
			v = bucket.Get([]byte(key))
		}
		if v == nil {
			return &KeyError{Op: "get", Bucket: bucketName, Key: key, Err: ErrNotFound}
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		b.logger.Debug("could not get key", "bucket", bucketName, "key", key, "err", err.Error())
		return nil, err
	}

	return value, nil
}

// Delete removes keys in one transaction. Missing keys and buckets are ignored.
func (b *BoltDB) Delete(bucketName string, keys ...string) error {
	for _, key := range keys {
		if key == "" {
			return b.invalidKey("delete", bucketName, key)
		}
	}

	return b.store.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket == nil {
			return nil
		}

		for _, key := range keys {
			if err := bucket.Delete([]byte(key)); err != nil {
				b.logger.Error("failed to delete key", "bucket", bucketName, "key", key, "err", err.Error())
				return &KeyError{Op: "delete", Bucket: bucketName, Key: key, Err: err}
			}
		}
		return nil
	})
}

func (b *BoltDB) Scan(bucketName string, fn func(key string, value []byte) error) error {
	return b.store.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			return fn(string(k), append([]byte(nil), v...))
		})
	})
}

func (b *BoltDB) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}

func (b *BoltDB) invalidKey(op string, bucketName string, key string) error {
	b.logger.Warn("key cannot be empty", "op", op, "bucket", bucketName)
	return &KeyError{Op: op, Bucket: bucketName, Key: key, Err: ErrInvalidKey}
}
