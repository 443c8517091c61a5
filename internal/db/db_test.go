package db_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantlekit/element/internal/config"
	"github.com/mantlekit/element/internal/db"
	"github.com/mantlekit/element/internal/model"
)

func TestNew_SQLite(t *testing.T) {
	cfg := &config.DBConfig{
		Driver: "sqlite",
		File:   filepath.Join(t.TempDir(), "element.db"),
	}

	gormDB, pool, err := db.New(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, pool, "sqlite must not create a pgx pool")

	// Schema is in place after AutoMigrate.
	for _, table := range []string{"organizations", "users", "user_organizations", "user_access_tokens"} {
		assert.True(t, gormDB.Migrator().HasTable(table), table)
	}

	// Unique-constraint translation is active: the store layer depends on
	// duplicate creates surfacing as translated errors.
	org := &model.Organization{MantleID: "org-1"}
	require.NoError(t, gormDB.Create(org).Error)
	dup := &model.Organization{MantleID: "org-1"}
	require.Error(t, gormDB.Create(dup).Error)
}

func TestPinger(t *testing.T) {
	cfg := &config.DBConfig{
		Driver: "sqlite",
		File:   filepath.Join(t.TempDir(), "element.db"),
	}
	gormDB, _, err := db.New(context.Background(), cfg)
	require.NoError(t, err)

	require.NoError(t, db.NewPinger(gormDB).Ping(context.Background()))
}
