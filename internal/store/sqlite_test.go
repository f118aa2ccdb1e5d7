package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"htx-mm/internal/config"
)

func TestNewSQLiteInMemorySharesOneDatabase(t *testing.T) {
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))
	_, err = s.DB().Exec(`CREATE TABLE t (v INTEGER)`)
	require.NoError(t, err)
	_, err = s.DB().Exec(`INSERT INTO t (v) VALUES (1)`)
	require.NoError(t, err)

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestNewSQLiteCreatesDirectoryAndUsesWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mm.db")
	s, err := NewSQLite(config.DatabaseConfig{Path: path, MaxOpenConns: 2, MaxIdleConns: 1})
	require.NoError(t, err)
	defer s.Close()

	var mode string
	require.NoError(t, s.DB().QueryRow(`PRAGMA journal_mode;`).Scan(&mode))
	assert.Equal(t, "wal", mode)
	assert.FileExists(t, path)
}

func TestCloseNilStore(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())
	assert.Error(t, (&Store{}).Ping(context.Background()))
}
