// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAppliesPragmas(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "t.db"), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestMigrateIsIncremental(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "t.db"), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	steps := []string{`CREATE TABLE a (id INTEGER PRIMARY KEY)`}
	require.NoError(t, Migrate(ctx, db, steps))
	v, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// Re-running the same steps is a no-op; appending a step applies only it.
	steps = append(steps, `CREATE TABLE b (id INTEGER PRIMARY KEY)`)
	require.NoError(t, Migrate(ctx, db, steps))
	v, err = SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	assert.ErrorContains(t, Migrate(ctx, db, steps[:1]), "newer than supported")
}

func TestMigrateRollsBackFailedStep(t *testing.T) {
	ctx := context.Background()
	db, err := Open(filepath.Join(t.TempDir(), "t.db"), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	err = Migrate(ctx, db, []string{`CREATE TABLE ok (id INTEGER)`, `THIS IS NOT SQL`})
	require.Error(t, err)

	v, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestQuickCheckHealthy(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "t.db"), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	issues, err := QuickCheck(context.Background(), db)
	require.NoError(t, err)
	assert.Nil(t, issues)
}
