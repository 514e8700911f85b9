package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"courier/pkg/locks"
	"courier/pkg/logger"
	"courier/pkg/store/keys"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/valyala/bytebufferpool"
)

// ErrNotFound is returned when a message, reply, reaction or user is missing.
var ErrNotFound = errors.New("not found")

// Options tune the pebble instance.
type Options struct {
	DisableWAL bool
}

// DB is the durable message store.
type DB struct {
	client      *pebble.DB
	path        string
	walDisabled bool

	// seqMu guards id assignment so index keys are written in id order.
	seqMu   sync.Mutex
	lastSeq uint64

	// receiver locks make conditional sweeps read-check-write atomic.
	receivers *locks.KeyedMutex
	// reaction locks serialize check-then-set per message.
	reactions *locks.KeyedMutex
}

// Open opens (or creates) a pebble store at path.
func Open(path string, opts Options) (*DB, error) {
	if opts.DisableWAL {
		logger.Warn("pebble_wal_disabled", "path", path)
	}
	client, err := pebble.Open(path, &pebble.Options{DisableWAL: opts.DisableWAL})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	return newDB(client, path, opts.DisableWAL)
}

// OpenInMemory opens a store backed by an in-memory filesystem.
func OpenInMemory() (*DB, error) {
	client, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, err
	}
	return newDB(client, "", false)
}

func newDB(client *pebble.DB, path string, walDisabled bool) (*DB, error) {
	db := &DB{client: client, path: path, walDisabled: walDisabled, receivers: locks.New(), reactions: locks.New()}
	seq, err := db.loadSeq()
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	db.lastSeq = seq
	logger.Debug("pebble_opened", "path", path, "last_message_id", seq)
	return db, nil
}

// Close closes the underlying pebble instance.
func (db *DB) Close() error {
	if db == nil || db.client == nil {
		return nil
	}
	if err := db.client.Close(); err != nil {
		return err
	}
	db.client = nil
	return nil
}

// Ready reports whether the store is open.
func (db *DB) Ready() bool { return db != nil && db.client != nil }

// Path returns the on-disk location, empty for in-memory stores.
func (db *DB) Path() string { return db.path }

func (db *DB) writeOpt() *pebble.WriteOptions {
	if db.walDisabled {
		return pebble.NoSync
	}
	return pebble.Sync
}

func (db *DB) checkOpen(ctx context.Context) error {
	if db.client == nil {
		return fmt.Errorf("pebble not opened")
	}
	return ctx.Err()
}

func (db *DB) loadSeq() (uint64, error) {
	v, err := db.get(keys.SystemMessageSeqKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return keys.ParseID(string(v))
}

// get returns a copy of the value at key, or ErrNotFound.
func (db *DB) get(key string) ([]byte, error) {
	v, closer, err := db.client.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		logger.Error("get_key_failed", "key", key, "error", err)
		return nil, err
	}
	defer closer.Close()
	return bytes.Clone(v), nil
}

func (db *DB) getJSON(key string, out any) error {
	v, err := db.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(v, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// setJSON encodes v into a pooled buffer and stages it in b. pebble copies
// the value, so the buffer can be returned immediately.
func setJSON(b *pebble.Batch, key string, v any) error {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)
	if err := json.NewEncoder(bb).Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Set([]byte(key), bytes.TrimRight(bb.B, "\n"), nil)
}

// scanPrefix calls fn for every key under prefix in ascending order until fn
// returns false.
func (db *DB) scanPrefix(prefix string, fn func(key, value []byte) bool) error {
	iter, err := db.client.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keys.UpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

// scanPrefixReverse is scanPrefix in descending key order.
func (db *DB) scanPrefixReverse(prefix string, fn func(key, value []byte) bool) error {
	iter, err := db.client.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keys.UpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.Last(); iter.Valid(); iter.Prev() {
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

func (db *DB) countPrefix(prefix string) (int, error) {
	n := 0
	err := db.scanPrefix(prefix, func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}
