// Package sqlitestore stores documents in SQLCipher-encrypted SQLite files,
// one file per partition ("users/<uid>"), each with its own derived key.
package sqlitestore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Laboratorynotices/listsmart/internal/crypto"
	"github.com/Laboratorynotices/listsmart/internal/docstore"
)

const (
	// KeyVersion is mixed into every derived partition key.
	KeyVersion = 1

	maxOpenConns = 5
	maxIdleConns = 2
)

// Schema is applied to every partition database on open.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	data       TEXT    NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection, seq);
`

// Store is a docstore.Store over per-partition SQLCipher databases.
type Store struct {
	dir       string
	memoryTag string
	masterKey []byte

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// Open returns a store that keeps partition databases under dir.
func Open(dir string, masterKey []byte) (*Store, error) {
	if len(masterKey) != crypto.KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", crypto.KeySize, len(masterKey))
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{dir: dir, masterKey: masterKey, dbs: make(map[string]*sql.DB)}, nil
}

// OpenInMemory returns a store whose partitions are shared-cache in-memory
// databases, still encrypted with derived keys.
func OpenInMemory(masterKey []byte) (*Store, error) {
	if len(masterKey) != crypto.KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", crypto.KeySize, len(masterKey))
	}
	return &Store{memoryTag: docstore.NewID(), masterKey: masterKey, dbs: make(map[string]*sql.DB)}, nil
}

func partitionName(partition string) string {
	sum := sha256.Sum256([]byte(partition))
	return "docs-" + hex.EncodeToString(sum[:16])
}

func (s *Store) dsn(partition string) string {
	keyHex := hex.EncodeToString(crypto.DeriveKey(s.masterKey, partition, KeyVersion))
	name := partitionName(partition)
	if s.memoryTag != "" {
		return fmt.Sprintf("file:%s-%s?mode=memory&cache=shared&_pragma_key=x'%s'&_pragma_cipher_page_size=4096",
			s.memoryTag, name, keyHex)
	}
	path := filepath.Join(s.dir, name+".db")
	return fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000",
		path, keyHex)
}

// partitionDB returns the cached handle for the collection's partition,
// opening and migrating it on first use.
func (s *Store) partitionDB(ctx context.Context, collection string) (*sql.DB, error) {
	partition := docstore.Partition(collection)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dbs == nil {
		return nil, errors.New("sqlitestore: store is closed")
	}
	if db, ok := s.dbs[partition]; ok {
		return db, nil
	}

	db, err := sql.Open(DriverName, s.dsn(partition))
	if err != nil {
		return nil, fmt.Errorf("open partition database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	if s.memoryTag != "" {
		// Shared-cache memory databases vanish with their last connection
		// and report SQLITE_LOCKED instead of waiting on contention.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// A wrong key surfaces here as "file is not a database".
	var version string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("verify partition database: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize partition schema: %w", err)
	}

	s.dbs[partition] = db
	return db, nil
}

func (s *Store) Add(ctx context.Context, collection string, body any) (docstore.Document, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return docstore.Document{}, err
	}
	data, err := docstore.EncodeObject(body)
	if err != nil {
		return docstore.Document{}, err
	}
	db, err := s.partitionDB(ctx, collection)
	if err != nil {
		return docstore.Document{}, err
	}

	id := docstore.NewID()
	_, err = db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at) VALUES (?, ?, ?, ?)`,
		collection, id, string(data), time.Now().UnixNano())
	if err != nil {
		return docstore.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return docstore.Document{ID: id, Collection: collection, Data: data}, nil
}

func (s *Store) Create(ctx context.Context, collection, id string, body any) (docstore.Document, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return docstore.Document{}, err
	}
	if err := docstore.ValidateID(id); err != nil {
		return docstore.Document{}, err
	}
	data, err := docstore.EncodeObject(body)
	if err != nil {
		return docstore.Document{}, err
	}
	db, err := s.partitionDB(ctx, collection)
	if err != nil {
		return docstore.Document{}, err
	}

	res, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents (collection, id, data, created_at) VALUES (?, ?, ?, ?)`,
		collection, id, string(data), time.Now().UnixNano())
	if err != nil {
		return docstore.Document{}, fmt.Errorf("insert document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return docstore.Document{}, fmt.Errorf("insert document: %w", err)
	}
	if n == 0 {
		return docstore.Document{}, docstore.ErrExists
	}
	return docstore.Document{ID: id, Collection: collection, Data: data}, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return docstore.Document{}, err
	}
	if err := docstore.ValidateID(id); err != nil {
		return docstore.Document{}, err
	}
	db, err := s.partitionDB(ctx, collection)
	if err != nil {
		return docstore.Document{}, err
	}

	var data string
	err = db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("get document: %w", err)
	}
	return docstore.Document{ID: id, Collection: collection, Data: []byte(data)}, nil
}

func (s *Store) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return nil, err
	}
	db, err := s.partitionDB(ctx, collection)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE collection = ? ORDER BY seq`, collection)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []docstore.Document{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, docstore.Document{ID: id, Collection: collection, Data: []byte(data)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
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
	db, err := s.partitionDB(ctx, collection)
	if err != nil {
		return err
	}

	res, err := db.ExecContext(ctx,
		`UPDATE documents SET data = doc_merge(data, ?) WHERE collection = ? AND id = ?`,
		string(over), collection, id)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if n == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := docstore.ValidateCollection(collection); err != nil {
		return err
	}
	if err := docstore.ValidateID(id); err != nil {
		return err
	}
	db, err := s.partitionDB(ctx, collection)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Close closes every open partition database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for partition, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close partition %s: %w", partitionName(partition), err))
		}
	}
	s.dbs = nil
	return errors.Join(errs...)
}
