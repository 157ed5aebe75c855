// Package docstore is a path-addressed, schema-less document store.
//
// Documents live in collections addressed by slash-separated paths with an
// odd number of segments (collection/document/collection...). Each document
// is a JSON object identified by a store-generated id. Backends live in
// subpackages; Memory is the in-process implementation.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by Get and Update when the document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("docstore: document already exists")
	// ErrInvalidPath is returned for malformed collection paths or ids.
	ErrInvalidPath = errors.New("docstore: invalid path")
	// ErrNotObject is returned when a document body is not a JSON object.
	ErrNotObject = errors.New("docstore: document must be a JSON object")
)

// Document is one stored JSON object.
type Document struct {
	ID         string
	Collection string
	Data       json.RawMessage
}

// Path returns the document path (collection + "/" + id).
func (d Document) Path() string {
	return d.Collection + "/" + d.ID
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Store is implemented by every backend.
//
// Add assigns a fresh id; Create stores under a caller-chosen id and fails
// with ErrExists when it is taken. Get reads one document or fails with
// ErrNotFound. List returns documents in insertion order. Update merges the
// top-level keys of patch into the stored object and fails with ErrNotFound
// when the id is unknown. Delete of an unknown id succeeds.
type Store interface {
	Add(ctx context.Context, collection string, body any) (Document, error)
	Create(ctx context.Context, collection, id string, body any) (Document, error)
	Get(ctx context.Context, collection, id string) (Document, error)
	List(ctx context.Context, collection string) ([]Document, error)
	Update(ctx context.Context, collection, id string, patch any) error
	Delete(ctx context.Context, collection, id string) error
	Close() error
}

// JoinPath builds a collection path from segments and validates it.
func JoinPath(segments ...string) (string, error) {
	p := strings.Join(segments, "/")
	if err := ValidateCollection(p); err != nil {
		return "", err
	}
	return p, nil
}

// ValidateCollection checks that p addresses a collection: non-empty
// segments, none containing '/', and an odd segment count.
func ValidateCollection(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty collection path", ErrInvalidPath)
	}
	segments := strings.Split(p, "/")
	for _, s := range segments {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, p)
		}
	}
	if len(segments)%2 == 0 {
		return fmt.Errorf("%w: %q has %d segments and names a document", ErrInvalidPath, p, len(segments))
	}
	return nil
}

// ValidateID checks a document id.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: bad document id %q", ErrInvalidPath, id)
	}
	return nil
}

// Partition returns the first two segments of a collection path
// ("users/<uid>"), or the path itself for top-level collections. Backends
// that shard storage use it as the shard key.
func Partition(collection string) string {
	segments := strings.SplitN(collection, "/", 3)
	if len(segments) < 2 {
		return collection
	}
	return segments[0] + "/" + segments[1]
}

// NewID returns a fresh document id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// EncodeObject marshals v and checks that it is a JSON object.
func EncodeObject(v any) (json.RawMessage, error) {
	var raw []byte
	switch b := v.(type) {
	case json.RawMessage:
		raw = b
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("docstore: encode document: %w", err)
		}
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, ErrNotObject
	}
	return json.RawMessage(trimmed), nil
}

// Merge overlays the top-level keys of patch onto base.
func Merge(base, patch json.RawMessage) (json.RawMessage, error) {
	var into map[string]json.RawMessage
	if err := json.Unmarshal(base, &into); err != nil {
		return nil, fmt.Errorf("docstore: decode stored document: %w", err)
	}
	if into == nil {
		into = map[string]json.RawMessage{}
	}
	var over map[string]json.RawMessage
	if err := json.Unmarshal(patch, &over); err != nil {
		return nil, ErrNotObject
	}
	for k, v := range over {
		into[k] = v
	}
	out, err := json.Marshal(into)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode merged document: %w", err)
	}
	return out, nil
}
