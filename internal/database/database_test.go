package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/padcheck/internal/config"
)

func TestOpenAndMigrate(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "padcheck.db")
	db, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn, MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, Migrate(db))
	for _, table := range []string{"decision_records", "rule_sets", "firm_positions", "firm_trades"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	for _, m := range Models() {
		assert.True(t, db.Migrator().HasTable(m), "%T", m)
	}

	require.NoError(t, Migrate(db), "migration is idempotent")
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle", DSN: "x"}, nil)
	assert.Error(t, err)
}
