package hooks

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
)

func TestBusCacheReusesUnchangedProject(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{"version": 1, "hooks": []}`)

	cache := NewBusCache(4, nopLogger())
	first, err := cache.Bus(root)
	require.NoError(t, err)
	second, err := cache.Bus(root)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestBusCacheRebuildsOnManifestEdit(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{"version": 1, "hooks": []}`)

	cache := NewBusCache(4, nopLogger())
	first, err := cache.Bus(root)
	require.NoError(t, err)
	assert.False(t, first.HasHooks(EventTaskPreAdd))

	// rewrite the manifest with different content and size
	writeManifest(t, root, `{
	  "version": 1,
	  "hooks": [{"id": "guard", "event": "task.pre_add", "command": ["/bin/true"]}]
	}`)
	touchBack(t, ManifestPath(root))

	second, err := cache.Bus(root)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, second.HasHooks(EventTaskPreAdd))
}

func TestBusCacheRebuildsOnHookScriptEdit(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{"version": 1, "hooks": []}`)
	path := writeHookScript(t, root, "noop.sh", "exit 0")

	cache := NewBusCache(4, nopLogger())
	first, err := cache.Bus(root)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n# changed\n"), 0o755))
	touchBack(t, path)

	second, err := cache.Bus(root)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestBusCacheInvalidate(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{"version": 1, "hooks": []}`)

	cache := NewBusCache(4, nopLogger())
	first, err := cache.Bus(root)
	require.NoError(t, err)

	cache.Invalidate(root)
	second, err := cache.Bus(root)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
}

func TestBusCacheSurfacesManifestErrors(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{"version": 99, "hooks": []}`)

	cache := NewBusCache(4, nopLogger())
	_, err := cache.Bus(root)
	require.Error(t, err)
	assert.ErrorIs(t, err, tferrors.ErrHookConfig)
}

func TestBusCacheHooklessProject(t *testing.T) {
	root := t.TempDir()
	cache := NewBusCache(4, nopLogger())
	bus, err := cache.Bus(root)
	require.NoError(t, err)

	data, err := bus.Mutate(context.Background(), EventTaskPreAdd, map[string]any{"name": "a"})
	require.NoError(t, err)
	assert.Equal(t, "a", data["name"])
}

// touchBack makes a file's mtime differ even on coarse filesystem clocks.
func touchBack(t *testing.T, path string) {
	t.Helper()
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))
}
