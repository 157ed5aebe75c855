package docstore

import (
	"context"
	"encoding/json"
	"sync"
)

type memoryDoc struct {
	id   string
	data json.RawMessage
}

// Memory is an in-process Store. The zero value is not usable; call NewMemory.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]memoryDoc
	newID       func() string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string][]memoryDoc),
		newID:       NewID,
	}
}

func (m *Memory) Add(ctx context.Context, collection string, body any) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if err := ValidateCollection(collection); err != nil {
		return Document{}, err
	}
	data, err := EncodeObject(body)
	if err != nil {
		return Document{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.newID()
	m.collections[collection] = append(m.collections[collection], memoryDoc{id: id, data: data})
	return Document{ID: id, Collection: collection, Data: cloneRaw(data)}, nil
}

func (m *Memory) Create(ctx context.Context, collection, id string, body any) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if err := ValidateCollection(collection); err != nil {
		return Document{}, err
	}
	if err := ValidateID(id); err != nil {
		return Document{}, err
	}
	data, err := EncodeObject(body)
	if err != nil {
		return Document{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.collections[collection] {
		if d.id == id {
			return Document{}, ErrExists
		}
	}
	m.collections[collection] = append(m.collections[collection], memoryDoc{id: id, data: data})
	return Document{ID: id, Collection: collection, Data: cloneRaw(data)}, nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if err := ValidateCollection(collection); err != nil {
		return Document{}, err
	}
	if err := ValidateID(id); err != nil {
		return Document{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.collections[collection] {
		if d.id == id {
			return Document{ID: id, Collection: collection, Data: cloneRaw(d.data)}, nil
		}
	}
	return Document{}, ErrNotFound
}

func (m *Memory) List(ctx context.Context, collection string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := m.collections[collection]
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, Document{ID: d.id, Collection: collection, Data: cloneRaw(d.data)})
	}
	return out, nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, patch any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	if err := ValidateID(id); err != nil {
		return err
	}
	over, err := EncodeObject(patch)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.collections[collection]
	for i := range docs {
		if docs[i].id != id {
			continue
		}
		merged, err := Merge(docs[i].data, over)
		if err != nil {
			return err
		}
		docs[i].data = merged
		return nil
	}
	return ErrNotFound
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateCollection(collection); err != nil {
		return err
	}
	if err := ValidateID(id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.collections[collection]
	for i := range docs {
		if docs[i].id == id {
			m.collections[collection] = append(docs[:i:i], docs[i+1:]...)
			return nil
		}
	}
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

func cloneRaw(b json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}
