package docstore

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// BatchEntry is a single write inside an atomic batch.
type BatchEntry struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Database is a generic interface for a key-value store backing the document
// layer. This allows the ledger to use any backend (in-memory or persistent).
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	// Write applies all entries as one atomic unit.
	Write(entries []BatchEntry) error
	// Iterate visits every key with the given prefix in ascending key order.
	// Returning an error from fn stops the iteration.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	Close()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	db.data[string(key)] = cp
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *MemDB) Write(entries []BatchEntry) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, entry := range entries {
		if entry.Delete {
			delete(db.data, string(entry.Key))
			continue
		}
		cp := make([]byte, len(entry.Value))
		copy(cp, entry.Value)
		db.data[string(entry.Key)] = cp
	}
	return nil
}

func (db *MemDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	db.mu.RLock()
	keys := make([]string, 0, len(db.data))
	for k := range db.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	db.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		db.mu.RLock()
		v, ok := db.data[k]
		db.mu.RUnlock()
		if !ok {
			continue
		}
		if err := fn([]byte(k), v); err != nil {
			return err
		}
	}
	return nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to close for an in-memory database.
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if err != nil {
		if err == ldberrors.ErrNotFound {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return value, nil
}

// Delete removes a key-value pair.
func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// Write applies all entries through a native LevelDB batch, which commits
// atomically even across a crash.
func (ldb *LevelDB) Write(entries []BatchEntry) error {
	batch := new(leveldb.Batch)
	for _, entry := range entries {
		if entry.Delete {
			batch.Delete(entry.Key)
			continue
		}
		batch.Put(entry.Key, entry.Value)
	}
	return ldb.db.Write(batch, nil)
}

// Iterate visits every key with the given prefix in ascending order.
func (ldb *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter := ldb.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		if err := fn(key, value); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("docstore: iterate: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}
