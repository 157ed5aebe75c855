package backend

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Laboratorynotices/listsmart/internal/config"
	"github.com/Laboratorynotices/listsmart/internal/shopping"
)

func roundTrip(t *testing.T, cfg *config.Config) {
	t.Helper()
	ctx := context.Background()

	store, err := Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	repo := shopping.NewDocRepository(store)
	created, err := repo.Create(ctx, "u1", shopping.ItemFields{Name: "Bread", Quantity: 1}, time.Now())
	require.NoError(t, err)

	items, err := repo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, created.ID, items[0].ID)
}

func TestOpen_Memory(t *testing.T) {
	roundTrip(t, &config.Config{Docstore: config.DocstoreMemory})
}

func TestOpen_File(t *testing.T) {
	roundTrip(t, &config.Config{Docstore: config.DocstoreFile, DatabasePath: t.TempDir()})
}

func TestOpen_SQLite(t *testing.T) {
	roundTrip(t, &config.Config{
		Docstore:     config.DocstoreSQLite,
		DatabasePath: t.TempDir(),
		MasterKey:    strings.Repeat("ab", 32),
	})
}

func TestOpen_SQLiteRejectsBadKey(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{
		Docstore:     config.DocstoreSQLite,
		DatabasePath: t.TempDir(),
		MasterKey:    "not-hex",
	})
	require.ErrorContains(t, err, "master key")
}

func TestOpen_Unknown(t *testing.T) {
	_, err := Open(context.Background(), &config.Config{Docstore: "mongo"})
	require.ErrorContains(t, err, `unknown docstore "mongo"`)
}
