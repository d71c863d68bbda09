package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltConfig is the "bbolt" driver block.
type BoltConfig struct {
	Path   string `json:"path"`
	Bucket string `json:"bucket"`
	// Timeout bounds waiting for the file lock, e.g. "1s".
	Timeout string `json:"timeout"`
}

// Bolt stores settings in a single bbolt bucket.
type Bolt struct {
	db     *bolt.DB
	bucket []byte
}

// OpenBolt opens the bbolt file and creates the bucket when missing.
func OpenBolt(cfg BoltConfig) (*Bolt, error) {
	if cfg.Path == "" {
		return nil, errors.New("repository: bbolt: path is required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultTable
	}
	opts := &bolt.Options{Timeout: time.Second}
	if cfg.Timeout != "" {
		timeout, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("repository: bbolt: timeout: %w", err)
		}
		opts.Timeout = timeout
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("repository: bbolt: %w", err)
		}
	}

	db, err := bolt.Open(cfg.Path, 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("repository: bbolt: open %s: %w", cfg.Path, err)
	}
	bucket := []byte(cfg.Bucket)
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: bbolt: create bucket: %w", err)
	}
	return &Bolt{db: db, bucket: bucket}, nil
}

// Has reports whether key is stored.
func (b *Bolt) Has(_ context.Context, key string) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(b.bucket).Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

// Get returns the value stored under key.
func (b *Bolt) Get(_ context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(b.bucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		// string() copies; v is only valid inside the transaction
		value, found = string(v), true
		return nil
	})
	return value, found, err
}

// Set stores value under key.
func (b *Bolt) Set(_ context.Context, key, value string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Put([]byte(key), []byte(value))
	})
}

// Forget removes key.
func (b *Bolt) Forget(_ context.Context, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(b.bucket).Delete([]byte(key))
	})
}

// Close closes the bbolt file.
func (b *Bolt) Close() error {
	return b.db.Close()
}
