package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
	"github.com/p-blackswan/taskforge/internal/hooks"
	"github.com/p-blackswan/taskforge/internal/storage"
	"github.com/p-blackswan/taskforge/internal/task"
)

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()
	s, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".taskforge", "tasks.json"), s.StoragePath)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, 16, s.HookCacheSize)
	assert.Equal(t, storage.KindDocument, s.Backend())
}

func TestLoadFromProjectFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".taskforge"), 0o755))
	body := "storage_path: /var/lib/tasks.sqlite\nlog_level: debug\nhook_cache_size: 4\n"
	require.NoError(t, os.WriteFile(Path(root), []byte(body), 0o644))

	s, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/tasks.sqlite", s.StoragePath)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, 4, s.HookCacheSize)
	assert.Equal(t, storage.KindSQLite, s.Backend())
}

func TestEnvironmentOverridesProjectFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".taskforge"), 0o755))
	require.NoError(t, os.WriteFile(Path(root), []byte("log_level: debug\n"), 0o644))
	t.Setenv("TASKFORGE_LOG_LEVEL", "warn")
	t.Setenv("TASKFORGE_STORAGE_PATH", "/tmp/override.db")

	s, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "warn", s.LogLevel)
	assert.Equal(t, "/tmp/override.db", s.StoragePath)
	assert.Equal(t, storage.KindSQLite, s.Backend())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".taskforge"), 0o755))
	require.NoError(t, os.WriteFile(Path(root), []byte("storage_path: [unclosed"), 0o644))

	_, err := Load(root)
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	root := t.TempDir()
	s, err := Load(root)
	require.NoError(t, err)
	s.LogLevel = "trace"
	require.NoError(t, s.Save(root))

	again, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, "trace", again.LogLevel)
}

func TestInitCreatesProject(t *testing.T) {
	root := t.TempDir()
	logger := zerolog.Nop()

	s, err := Init(context.Background(), root, nil, logger)
	require.NoError(t, err)
	assert.FileExists(t, Path(root))
	assert.Equal(t, storage.KindDocument, s.Backend())

	// re-running is a no-op
	_, err = Init(context.Background(), root, nil, logger)
	require.NoError(t, err)
}

func TestForgetPurgesProject(t *testing.T) {
	root := t.TempDir()
	logger := zerolog.Nop()
	cache := hooks.NewBusCache(4, logger)

	_, err := Init(context.Background(), root, cache, logger)
	require.NoError(t, err)
	require.NoError(t, Forget(context.Background(), root, cache, logger))
	assert.NoDirExists(t, filepath.Join(root, ".taskforge"))

	// forgetting an untracked project is fine
	require.NoError(t, Forget(context.Background(), root, cache, logger))
}

func TestSwitchStorageMigratesAndRepoints(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	logger := zerolog.Nop()

	s, err := Init(ctx, root, nil, logger)
	require.NoError(t, err)

	repo, err := s.OpenRepository(logger)
	require.NoError(t, err)
	seed, err := task.New("seed", "details")
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, seed)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	newPath := filepath.Join(root, ".taskforge", "tasks.sqlite")
	n, err := s.SwitchStorage(ctx, root, newPath, false, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, newPath, s.StoragePath)
	assert.Equal(t, storage.KindSQLite, s.Backend())

	// the new path is persisted in the project file
	again, err := Load(root)
	require.NoError(t, err)
	assert.Equal(t, newPath, again.StoragePath)

	migrated, err := again.OpenRepository(logger)
	require.NoError(t, err)
	defer migrated.Close()
	forest, err := migrated.List(ctx)
	require.NoError(t, err)
	require.Len(t, forest, 1)
	assert.Equal(t, seed.ID, forest[0].ID)
}

func TestSwitchStorageRefusesExistingDestination(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	logger := zerolog.Nop()

	s, err := Init(ctx, root, nil, logger)
	require.NoError(t, err)

	newPath := filepath.Join(root, ".taskforge", "tasks.sqlite")
	require.NoError(t, os.WriteFile(newPath, []byte("occupied"), 0o644))

	_, err = s.SwitchStorage(ctx, root, newPath, false, logger)
	require.Error(t, err)
	assert.ErrorIs(t, err, tferrors.ErrConflict)
	// settings stay pointed at the old path
	assert.Equal(t, filepath.Join(root, ".taskforge", "tasks.json"), s.StoragePath)
}
