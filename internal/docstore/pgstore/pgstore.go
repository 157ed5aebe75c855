// Package pgstore stores documents as JSONB rows in PostgreSQL.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Laboratorynotices/listsmart/internal/docstore"
)

// Schema creates the documents table. Top-level merges use the JSONB ||
// operator, which matches docstore.Merge.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	seq        BIGSERIAL PRIMARY KEY,
	collection TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	data       JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection, seq);
`

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store is a docstore.Store over a PostgreSQL pool.
type Store struct {
	db    DB
	close func()
}

// Connect opens a pool for dsn, pings it, and applies Schema.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply documents schema: %w", err)
	}
	return &Store{db: pool, close: pool.Close}, nil
}

// New wraps an existing pool or transaction. The caller keeps ownership.
func New(db DB) *Store {
	return &Store{db: db}
}

func (s *Store) Add(ctx context.Context, collection string, body any) (docstore.Document, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return docstore.Document{}, err
	}
	data, err := docstore.EncodeObject(body)
	if err != nil {
		return docstore.Document{}, err
	}

	id := docstore.NewID()
	if _, err := s.db.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)`,
		collection, id, string(data)); err != nil {
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

	tag, err := s.db.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, string(data))
	if err != nil {
		return docstore.Document{}, fmt.Errorf("insert document: %w", err)
	}
	if tag.RowsAffected() == 0 {
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

	rows, err := s.db.Query(ctx,
		`SELECT data::text FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("get document: %w", err)
	}
	data, err := pgx.CollectOneRow(rows, pgx.RowTo[string])
	if errors.Is(err, pgx.ErrNoRows) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("scan document: %w", err)
	}
	return docstore.Document{ID: id, Collection: collection, Data: json.RawMessage(data)}, nil
}

func (s *Store) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, data::text FROM documents WHERE collection = $1 ORDER BY seq`, collection)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (docstore.Document, error) {
		var id, data string
		if err := row.Scan(&id, &data); err != nil {
			return docstore.Document{}, err
		}
		return docstore.Document{ID: id, Collection: collection, Data: json.RawMessage(data)}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}
	if docs == nil {
		docs = []docstore.Document{}
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

	tag, err := s.db.Exec(ctx,
		`UPDATE documents SET data = data || $3::jsonb WHERE collection = $1 AND id = $2`,
		collection, id, string(over))
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	if _, err := s.db.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Close releases the pool when the store opened it.
func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}
