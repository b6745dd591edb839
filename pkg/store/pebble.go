// Package store is the single source of truth for all persisted entities.
// It wraps a Pebble database with a small keyed get/put/delete/range
// surface plus atomic write batches; entity shapes live in pkg/models and
// key construction in keys.go.
package store

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"chatkit/pkg/errs"
	"chatkit/pkg/logger"
)

var (
	db     *pebble.DB
	dbPath string
)

// Open opens (or creates) the Pebble database at the given path and keeps
// a package handle for the process lifetime.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened Pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and usable.
func Ready() bool {
	return db != nil
}

func ensureOpen() error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return nil
}

// Get returns the value stored under key. A missing key yields
// errs.ErrNotFound.
func Get(key string) ([]byte, error) {
	if err := ensureOpen(); err != nil {
		return nil, err
	}
	val, closer, err := db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, errs.NotFound("key", key)
		}
		return nil, err
	}
	out := make([]byte, len(val))
	copy(out, val)
	if cerr := closer.Close(); cerr != nil {
		return nil, cerr
	}
	opsTotal.WithLabelValues("get").Inc()
	return out, nil
}

// Put stores value under key with a synced write.
func Put(key string, value []byte) error {
	if err := ensureOpen(); err != nil {
		return err
	}
	if err := db.Set([]byte(key), value, pebble.Sync); err != nil {
		logger.Error("store_put_failed", "key", key, "error", err)
		return err
	}
	opsTotal.WithLabelValues("put").Inc()
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func Delete(key string) error {
	if err := ensureOpen(); err != nil {
		return err
	}
	if err := db.Delete([]byte(key), pebble.Sync); err != nil {
		logger.Error("store_delete_failed", "key", key, "error", err)
		return err
	}
	opsTotal.WithLabelValues("delete").Inc()
	return nil
}

// Range iterates keys with the given prefix in ascending key order and
// invokes fn for each entry. fn returns false to stop early.
func Range(prefix string, fn func(key string, value []byte) (bool, error)) error {
	if err := ensureOpen(); err != nil {
		return err
	}
	p := []byte(prefix)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(p); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), p) {
			break
		}
		val := make([]byte, len(iter.Value()))
		copy(val, iter.Value())
		cont, err := fn(string(iter.Key()), val)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	opsTotal.WithLabelValues("range").Inc()
	return iter.Error()
}

// Batch is an atomic write set: all puts and deletes commit together or
// not at all.
type Batch struct {
	b *pebble.Batch
}

// NewBatch returns an empty batch. The caller must Commit or Discard it.
func NewBatch() (*Batch, error) {
	if err := ensureOpen(); err != nil {
		return nil, err
	}
	return &Batch{b: db.NewBatch()}, nil
}

// Put stages a write into the batch.
func (bt *Batch) Put(key string, value []byte) error {
	return bt.b.Set([]byte(key), value, nil)
}

// Delete stages a removal into the batch.
func (bt *Batch) Delete(key string) error {
	return bt.b.Delete([]byte(key), nil)
}

// Commit applies the batch with a synced write and releases it.
func (bt *Batch) Commit() error {
	if bt.b == nil {
		return fmt.Errorf("batch already finished")
	}
	if err := bt.b.Commit(pebble.Sync); err != nil {
		logger.Error("store_batch_commit_failed", "error", err)
		return err
	}
	_ = bt.b.Close()
	bt.b = nil
	opsTotal.WithLabelValues("batch_commit").Inc()
	return nil
}

// Discard abandons the batch without applying it. Safe to call after
// Commit, so callers may defer it unconditionally.
func (bt *Batch) Discard() {
	if bt.b != nil {
		_ = bt.b.Close()
		bt.b = nil
	}
}
