// Package filestore keeps every document in one JSON file guarded by an
// advisory file lock, so several processes can share it.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/Laboratorynotices/listsmart/internal/docstore"
)

const (
	fileVersion   = "1"
	lockTimeout   = 3 * time.Second
	lockRetryWait = 100 * time.Millisecond
)

type storedDoc struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

type fileData struct {
	Version     string                 `json:"version"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Collections map[string][]storedDoc `json:"collections"`
}

// Store is a docstore.Store over a single JSON file.
type Store struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// Open returns a store backed by path. The file is created on first write.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{path: path, lock: flock.New(path + ".lock")}, nil
}

// withLock runs fn holding both the in-process mutex and the file lock.
// When write is true the returned data is saved atomically.
func (s *Store) withLock(ctx context.Context, write bool, fn func(*fileData) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, lockRetryWait)
	if err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	if !locked {
		return errors.New("could not acquire file lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	data, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(data); err != nil {
		return err
	}
	if !write {
		return nil
	}
	return s.save(data)
}

func (s *Store) load() (*fileData, error) {
	data := &fileData{Version: fileVersion, Collections: map[string][]storedDoc{}}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(raw) == 0) {
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}
	if err := json.Unmarshal(raw, data); err != nil {
		return nil, fmt.Errorf("parse store file: %w", err)
	}
	if data.Collections == nil {
		data.Collections = map[string][]storedDoc{}
	}
	return data, nil
}

func (s *Store) save(data *fileData) error {
	data.UpdatedAt = time.Now().UTC()
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename store file: %w", err)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, collection string, body any) (docstore.Document, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return docstore.Document{}, err
	}
	encoded, err := docstore.EncodeObject(body)
	if err != nil {
		return docstore.Document{}, err
	}

	doc := storedDoc{ID: docstore.NewID(), Data: encoded, CreatedAt: time.Now().UTC()}
	err = s.withLock(ctx, true, func(data *fileData) error {
		data.Collections[collection] = append(data.Collections[collection], doc)
		return nil
	})
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.Document{ID: doc.ID, Collection: collection, Data: encoded}, nil
}

func (s *Store) Create(ctx context.Context, collection, id string, body any) (docstore.Document, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return docstore.Document{}, err
	}
	if err := docstore.ValidateID(id); err != nil {
		return docstore.Document{}, err
	}
	encoded, err := docstore.EncodeObject(body)
	if err != nil {
		return docstore.Document{}, err
	}

	err = s.withLock(ctx, true, func(data *fileData) error {
		for _, d := range data.Collections[collection] {
			if d.ID == id {
				return docstore.ErrExists
			}
		}
		data.Collections[collection] = append(data.Collections[collection],
			storedDoc{ID: id, Data: encoded, CreatedAt: time.Now().UTC()})
		return nil
	})
	if err != nil {
		return docstore.Document{}, err
	}
	return docstore.Document{ID: id, Collection: collection, Data: encoded}, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return docstore.Document{}, err
	}
	if err := docstore.ValidateID(id); err != nil {
		return docstore.Document{}, err
	}

	var doc docstore.Document
	err := s.withLock(ctx, false, func(data *fileData) error {
		for _, d := range data.Collections[collection] {
			if d.ID == id {
				doc = docstore.Document{ID: id, Collection: collection, Data: d.Data}
				return nil
			}
		}
		return docstore.ErrNotFound
	})
	return doc, err
}

func (s *Store) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return nil, err
	}

	var docs []docstore.Document
	err := s.withLock(ctx, false, func(data *fileData) error {
		stored := data.Collections[collection]
		docs = make([]docstore.Document, 0, len(stored))
		for _, d := range stored {
			docs = append(docs, docstore.Document{ID: d.ID, Collection: collection, Data: d.Data})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, patch any) error {
	if err := docstore.ValidateCollection(collection); err != nil {
		return err
	}
	if err := docstore.ValidateID(id); err != nil {
		return err
	}
	over, err := docstore.EncodeObject(patch)
	if err != nil {
		return err
	}

	return s.withLock(ctx, true, func(data *fileData) error {
		stored := data.Collections[collection]
		for i := range stored {
			if stored[i].ID != id {
				continue
			}
			merged, err := docstore.Merge(stored[i].Data, over)
			if err != nil {
				return err
			}
			stored[i].Data = merged
			return nil
		}
		return docstore.ErrNotFound
	})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := docstore.ValidateCollection(collection); err != nil {
		return err
	}
	if err := docstore.ValidateID(id); err != nil {
		return err
	}

	return s.withLock(ctx, true, func(data *fileData) error {
		stored := data.Collections[collection]
		for i := range stored {
			if stored[i].ID == id {
				data.Collections[collection] = append(stored[:i:i], stored[i+1:]...)
				break
			}
		}
		return nil
	})
}

// Close releases the lock file handle.
func (s *Store) Close() error {
	return s.lock.Close()
}
