package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/johnid/internal/store"
	"github.com/dropDatabas3/johnid/internal/store/adapters/sqlite"
	"github.com/dropDatabas3/johnid/internal/store/storetest"
)

func openTemp(t *testing.T) store.AdapterConnection {
	t.Helper()
	conn, err := store.OpenAdapter(context.Background(), store.AdapterConfig{
		Name: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "identity.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestSQLiteContract(t *testing.T) {
	storetest.Run(t, openTemp)
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "identity.db")

	conn, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	defer conn.Close()

	first, err := conn.Migrate(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, first.Applied)

	second, err := conn.Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, second.Applied)
	assert.Equal(t, len(first.Applied), len(second.Skipped))
}

func TestSQLiteRequiresPath(t *testing.T) {
	_, err := store.OpenAdapter(context.Background(), store.AdapterConfig{Name: "sqlite"})
	assert.Error(t, err)
}
