// Package testdb opens throwaway sqlite databases for package tests.
package testdb

import (
	"testing"

	"github.com/zllovesuki/billsync/db"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// New returns an in-memory database limited to a single connection, so every
// goroutine in a test observes the same schema and rows.
func New(t *testing.T) *gorm.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open("file::memory:"), db.Config(zap.NewNop()))
	require.NoError(t, err)

	pool, err := gdb.DB()
	require.NoError(t, err)
	pool.SetMaxOpenConns(1)

	t.Cleanup(func() {
		pool.Close()
	})
	return gdb
}
