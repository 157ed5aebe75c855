package sqlitestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/Laboratorynotices/listsmart/internal/docstore"
)

// DriverName is the SQLCipher driver with the document merge function.
const DriverName = "sqlite3_listsmart"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("doc_merge", sqliteDocMerge, true); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "already exists") {
					return nil
				}
				return fmt.Errorf("register doc_merge SQL function: %w", err)
			}
			return nil
		},
	})
}

// sqliteDocMerge backs doc_merge(stored, patch) in UPDATE statements.
func sqliteDocMerge(stored, patch string) (string, error) {
	merged, err := docstore.Merge(json.RawMessage(stored), json.RawMessage(patch))
	if err != nil {
		return "", err
	}
	return string(merged), nil
}
