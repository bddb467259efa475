package repository

import (
	"testing"

	"github.com/nimasrn/crm-inbox/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testDB struct {
	*pg.DB
	rawDB *gorm.DB
}

// SetupTestDB opens an in-memory sqlite database with the schema applied.
// A single connection keeps every session on the same memory database.
func SetupTestDB(t testing.TB) *pg.DB {
	return setupTestDB(t).DB
}

func setupTestDB(t testing.TB) *testDB {
	t.Helper()

	db, err := pg.CreateSQLite(":memory:", false)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))

	return &testDB{
		DB:    pg.NewDB(db, db),
		rawDB: db,
	}
}

// SetupReplicaLagTestDB returns a DB whose read side is a second, empty
// database, standing in for a replica that has not caught up with the primary.
func SetupReplicaLagTestDB(t testing.TB) *pg.DB {
	t.Helper()
	primary := setupTestDB(t)
	replica := setupTestDB(t)
	return pg.NewDB(replica.rawDB, primary.rawDB)
}
