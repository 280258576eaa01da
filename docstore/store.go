// Package docstore layers a document model with atomic multi-document
// transactions on top of a plain key-value backend. Documents live in named
// collections, carry a monotonically increasing version, and are serialised
// as JSON. Transactions use optimistic concurrency: reads record the version
// they observed and the commit fails if any of those documents changed in
// the meantime.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrKeyNotFound is returned by the key-value backends for missing keys.
	ErrKeyNotFound = errors.New("docstore: key not found")
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrConflict is returned when a transaction exhausts its retry budget
	// because of concurrent writes to documents it read.
	ErrConflict = errors.New("docstore: transaction conflict")
)

const maxTxAttempts = 5

// Document pairs a document identifier with its raw JSON payload.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Decode unmarshals the document payload into out.
func (d Document) Decode(out interface{}) error {
	return json.Unmarshal(d.Data, out)
}

type envelope struct {
	Version uint64          `json:"v"`
	Data    json.RawMessage `json:"d"`
}

// Store exposes the document API over a Database backend.
type Store struct {
	db Database
	// commitMu serialises transaction commits and batch writes so version
	// checks and the subsequent writes are applied as one unit.
	commitMu sync.Mutex
}

// New wraps an existing key-value backend.
func New(db Database) *Store {
	return &Store{db: db}
}

// Open creates or opens a persistent store at the given path.
func Open(path string) (*Store, error) {
	db, err := NewLevelDB(path)
	if err != nil {
		return nil, fmt.Errorf("docstore: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// NewMemStore returns a store backed by an in-memory database.
func NewMemStore() *Store {
	return &Store{db: NewMemDB()}
}

// Close releases the underlying database.
func (s *Store) Close() {
	s.db.Close()
}

func docKey(collection, id string) []byte {
	return []byte(collection + "/" + id)
}

func (s *Store) loadEnvelope(collection, id string) (*envelope, error) {
	raw, err := s.db.Get(docKey(collection, id))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("docstore: decode %s/%s: %w", collection, id, err)
	}
	return &env, nil
}

func (s *Store) storeEnvelope(collection, id string, env *envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("docstore: encode %s/%s: %w", collection, id, err)
	}
	return s.db.Put(docKey(collection, id), raw)
}

// Get unmarshals the document at collection/id into out.
func (s *Store) Get(ctx context.Context, collection, id string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env, err := s.loadEnvelope(collection, id)
	if err != nil {
		return err
	}
	return json.Unmarshal(env.Data, out)
}

// Exists reports whether the document at collection/id is present.
func (s *Store) Exists(ctx context.Context, collection, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := s.loadEnvelope(collection, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Put writes the document at collection/id, creating it if absent.
func (s *Store) Put(ctx context.Context, collection, id string, doc interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("docstore: encode %s/%s: %w", collection, id, err)
	}
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	version := uint64(1)
	if env, err := s.loadEnvelope(collection, id); err == nil {
		version = env.Version + 1
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.storeEnvelope(collection, id, &envelope{Version: version, Data: data})
}

// Create stores the document under a freshly generated identifier.
func (s *Store) Create(ctx context.Context, collection string, doc interface{}) (string, error) {
	id := NewID()
	if err := s.Put(ctx, collection, id, doc); err != nil {
		return "", err
	}
	return id, nil
}

// Delete removes the document at collection/id. Deleting a missing document
// is not an error.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	return s.db.Delete(docKey(collection, id))
}

// List returns every document directly inside the collection, ordered by id.
// Documents in nested subcollections are skipped.
func (s *Store) List(ctx context.Context, collection string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := collection + "/"
	var docs []Document
	err := s.db.Iterate([]byte(prefix), func(key, value []byte) error {
		id := strings.TrimPrefix(string(key), prefix)
		if strings.Contains(id, "/") {
			return nil
		}
		var env envelope
		if err := json.Unmarshal(value, &env); err != nil {
			return fmt.Errorf("docstore: decode %s: %w", key, err)
		}
		docs = append(docs, Document{ID: id, Data: env.Data})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// QueryEqual returns the documents in the collection whose named top-level
// field equals the given value. Values are compared through their JSON
// encoding, mirroring the simple equality queries of the backing store.
func (s *Store) QueryEqual(ctx context.Context, collection, field string, value interface{}) ([]Document, error) {
	want, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode query value: %w", err)
	}
	docs, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	var matched []Document
	for _, doc := range docs {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(doc.Data, &fields); err != nil {
			continue
		}
		got, ok := fields[field]
		if !ok {
			continue
		}
		if string(got) == string(want) {
			matched = append(matched, doc)
		}
	}
	return matched, nil
}

// NewID generates an opaque document identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
