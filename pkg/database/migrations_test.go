package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"010_add_index.sql": {Data: []byte("CREATE INDEX i ON t(a);")},
		"002_create_t.sql":  {Data: []byte("CREATE TABLE t (a TEXT);")},
		"README.md":         {Data: []byte("ignored")},
		"nested/003_x.sql":  {Data: []byte("ignored")},
	}

	migs, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, 2, migs[0].Version)
	assert.Equal(t, "create_t", migs[0].Name)
	assert.Equal(t, 10, migs[1].Version)
	assert.Len(t, migs[0].Checksum, 64)

	_, err = LoadMigrations(fstest.MapFS{"init.sql": {Data: []byte("")}})
	assert.Error(t, err)

	_, err = LoadMigrations(fstest.MapFS{
		"001_a.sql": {Data: []byte("")},
		"1_b.sql":   {Data: []byte("")},
	})
	assert.Error(t, err)
}

func TestMigrator_Up(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "m.db")}, logger)
	require.NoError(t, err)
	defer db.Close()

	source := fstest.MapFS{
		"001_create.sql": {Data: []byte("CREATE TABLE t (a TEXT);")},
	}

	n, err := NewMigrator(db, source, logger).Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = NewMigrator(db, source, logger).Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	source["002_seed.sql"] = &fstest.MapFile{Data: []byte("INSERT INTO t (a) VALUES ('x');")}
	n, err = NewMigrator(db, source, logger).Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	source["001_create.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE t (a TEXT, b TEXT);")}
	_, err = NewMigrator(db, source, logger).Up(ctx)
	assert.True(t, errors.Is(err, ErrMigrationChanged))
}

func TestMigrator_FailedMigrationIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "m.db")}, logger)
	require.NoError(t, err)
	defer db.Close()

	_, err = NewMigrator(db, fstest.MapFS{
		"001_broken.sql": {Data: []byte("CREATE TABLE;")},
	}, logger).Up(ctx)
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Zero(t, count)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{}, zap.NewNop())
	assert.Error(t, err)
	assert.Contains(t, DSN(Config{Path: "x.db"}), "_busy_timeout=5000")
}
