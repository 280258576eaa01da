package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Tx is a read-your-writes transaction handle. Reads record the version of
// every document they observe; writes are buffered until commit. The commit
// re-validates all observed versions and applies the buffered writes as one
// atomic batch, so a transaction either applies completely or not at all.
type Tx struct {
	store  *Store
	reads  map[string]uint64 // key -> version observed (0 = observed missing)
	writes map[string]*pendingWrite
	order  []string
}

type pendingWrite struct {
	data    json.RawMessage
	deleted bool
}

func newTx(store *Store) *Tx {
	return &Tx{
		store:  store,
		reads:  make(map[string]uint64),
		writes: make(map[string]*pendingWrite),
	}
}

// Get reads the document at collection/id, observing buffered writes made
// earlier in the same transaction.
func (tx *Tx) Get(collection, id string, out interface{}) error {
	key := string(docKey(collection, id))
	if pending, ok := tx.writes[key]; ok {
		if pending.deleted {
			return ErrNotFound
		}
		return json.Unmarshal(pending.data, out)
	}
	env, err := tx.store.loadEnvelope(collection, id)
	if errors.Is(err, ErrNotFound) {
		tx.reads[key] = 0
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	tx.reads[key] = env.Version
	return json.Unmarshal(env.Data, out)
}

// Set buffers a write of the document at collection/id.
func (tx *Tx) Set(collection, id string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: encode %s/%s: %w", collection, id, err)
	}
	key := string(docKey(collection, id))
	if _, ok := tx.writes[key]; !ok {
		tx.order = append(tx.order, key)
	}
	tx.writes[key] = &pendingWrite{data: data}
	return nil
}

// Create buffers a write under a freshly generated identifier and returns it.
func (tx *Tx) Create(collection string, doc interface{}) (string, error) {
	id := NewID()
	if err := tx.Set(collection, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

// Delete buffers removal of the document at collection/id.
func (tx *Tx) Delete(collection, id string) {
	key := string(docKey(collection, id))
	if _, ok := tx.writes[key]; !ok {
		tx.order = append(tx.order, key)
	}
	tx.writes[key] = &pendingWrite{deleted: true}
}

func (tx *Tx) commit() error {
	if len(tx.writes) == 0 {
		return nil
	}
	tx.store.commitMu.Lock()
	defer tx.store.commitMu.Unlock()

	for key, observed := range tx.reads {
		raw, err := tx.store.db.Get([]byte(key))
		if errors.Is(err, ErrKeyNotFound) {
			if observed != 0 {
				return ErrConflict
			}
			continue
		}
		if err != nil {
			return err
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("docstore: decode %s: %w", key, err)
		}
		if env.Version != observed {
			return ErrConflict
		}
	}

	entries := make([]BatchEntry, 0, len(tx.order))
	for _, key := range tx.order {
		pending := tx.writes[key]
		if pending.deleted {
			entries = append(entries, BatchEntry{Key: []byte(key), Delete: true})
			continue
		}
		version := uint64(1)
		if raw, err := tx.store.db.Get([]byte(key)); err == nil {
			var env envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return fmt.Errorf("docstore: decode %s: %w", key, err)
			}
			version = env.Version + 1
		} else if !errors.Is(err, ErrKeyNotFound) {
			return err
		}
		raw, err := json.Marshal(&envelope{Version: version, Data: pending.data})
		if err != nil {
			return err
		}
		entries = append(entries, BatchEntry{Key: []byte(key), Value: raw})
	}
	return tx.store.db.Write(entries)
}

// RunTransaction executes fn with a transaction handle and commits the
// buffered writes. On optimistic conflicts fn is re-executed with a fresh
// handle, up to a bounded number of attempts; once the budget is exhausted
// ErrConflict is returned. Errors returned by fn abort the transaction
// without applying any writes and are returned verbatim.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := newTx(s)
		if err := fn(tx); err != nil {
			return err
		}
		err := tx.commit()
		if errors.Is(err, ErrConflict) {
			continue
		}
		return err
	}
	return ErrConflict
}

// Batch buffers blind document writes that are applied as one atomic unit,
// without read validation. It backs the one-shot migration path where every
// account is rewritten regardless of its current version.
type Batch struct {
	store   *Store
	entries []BatchEntry
}

// NewBatch returns an empty batch bound to the store.
func (s *Store) NewBatch() *Batch {
	return &Batch{store: s}
}

// Set buffers a full document write.
func (b *Batch) Set(collection, id string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: encode %s/%s: %w", collection, id, err)
	}
	b.entries = append(b.entries, BatchEntry{Key: docKey(collection, id), Value: data})
	return nil
}

// Delete buffers removal of a document.
func (b *Batch) Delete(collection, id string) {
	b.entries = append(b.entries, BatchEntry{Key: docKey(collection, id), Delete: true})
}

// Commit applies the batch atomically. Versions of overwritten documents are
// bumped so concurrent optimistic transactions observe the change.
func (b *Batch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(b.entries) == 0 {
		return nil
	}
	b.store.commitMu.Lock()
	defer b.store.commitMu.Unlock()

	resolved := make([]BatchEntry, 0, len(b.entries))
	for _, entry := range b.entries {
		if entry.Delete {
			resolved = append(resolved, entry)
			continue
		}
		version := uint64(1)
		if raw, err := b.store.db.Get(entry.Key); err == nil {
			var env envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return fmt.Errorf("docstore: decode %s: %w", entry.Key, err)
			}
			version = env.Version + 1
		} else if !errors.Is(err, ErrKeyNotFound) {
			return err
		}
		raw, err := json.Marshal(&envelope{Version: version, Data: json.RawMessage(entry.Value)})
		if err != nil {
			return err
		}
		resolved = append(resolved, BatchEntry{Key: entry.Key, Value: raw})
	}
	return b.store.db.Write(resolved)
}
