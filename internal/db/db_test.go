package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSqliteDBMemory(t *testing.T) {
	database, err := NewSqliteDB()
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);")
	require.NoError(t, err)
}

func TestNewSqliteDBFileCreatesParent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "state.db")

	database, err := NewSqliteDB(WithPath(dbPath))
	require.NoError(t, err)
	defer database.Close()

	assert.DirExists(t, filepath.Dir(dbPath))
}

func TestMigrateIsRepeatable(t *testing.T) {
	database, err := NewSqliteDB(WithPragmas("PRAGMA foreign_keys=ON;"))
	require.NoError(t, err)
	defer database.Close()

	schema := []string{
		"CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)",
		"CREATE INDEX IF NOT EXISTS kv_v ON kv (v)",
	}
	require.NoError(t, Migrate(context.Background(), database, schema...))
	require.NoError(t, Migrate(context.Background(), database, schema...))

	_, err = database.Exec("INSERT INTO kv (k, v) VALUES (?, ?)", "a", "b")
	assert.NoError(t, err)

	err = Migrate(context.Background(), database, "NOT SQL")
	assert.Error(t, err)
}
