// Package testutil provides database and tree fixtures for tests.
package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arborworks/arbor/internal/domain/tree"
	"github.com/arborworks/arbor/internal/infrastructure/sqlite"
)

// NewStore creates a migrated in-memory database, closed when the test ends.
func NewStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.NewMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// NewUser inserts an enabled worker account and returns its id.
func NewUser(t *testing.T, db *sqlite.DB, name string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := db.InTx(context.Background(), func(s tree.Store) error {
		return s.Users().Upsert(context.Background(), &tree.User{
			ID:          id,
			DisplayName: name,
			Enabled:     true,
		})
	})
	require.NoError(t, err)
	return id
}
