// Package storetest opens throwaway SQLite databases for package tests.
package storetest

import (
	"path/filepath"
	"testing"

	"prize_wheel/internal/store"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Open creates a migrated database file under t.TempDir and closes it on cleanup.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "wheel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(db) })
	return db
}
