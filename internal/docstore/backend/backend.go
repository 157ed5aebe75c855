// Package backend opens the document store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Laboratorynotices/listsmart/internal/config"
	"github.com/Laboratorynotices/listsmart/internal/crypto"
	"github.com/Laboratorynotices/listsmart/internal/docstore"
	"github.com/Laboratorynotices/listsmart/internal/docstore/filestore"
	"github.com/Laboratorynotices/listsmart/internal/docstore/pgstore"
	"github.com/Laboratorynotices/listsmart/internal/docstore/sqlitestore"
)

// FileName is the JSON file used by the file backend inside DATABASE_PATH.
const FileName = "listsmart.json"

// Open returns the store named by cfg.Docstore. Callers own the store and
// must Close it.
func Open(ctx context.Context, cfg *config.Config) (docstore.Store, error) {
	switch cfg.Docstore {
	case config.DocstoreMemory:
		return docstore.NewMemory(), nil
	case config.DocstoreFile:
		return filestore.Open(filepath.Join(cfg.DatabasePath, FileName))
	case config.DocstoreSQLite:
		key, err := crypto.ParseMasterKey(cfg.MasterKey)
		if err != nil {
			return nil, fmt.Errorf("master key: %w", err)
		}
		return sqlitestore.Open(cfg.DatabasePath, key)
	case config.DocstorePostgres:
		return pgstore.Connect(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown docstore %q", cfg.Docstore)
	}
}
