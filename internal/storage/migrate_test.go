package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
	"github.com/p-blackswan/taskforge/internal/task"
)

func seedForest(t *testing.T) []*task.Task {
	t.Helper()
	root := mustTask(t, "root", mustTask(t, "child", mustTask(t, "grandchild")))
	other := mustTask(t, "other")
	other.Status = task.StatusCompleted
	return []*task.Task{root, other}
}

func TestCopyRoundTripsBetweenBackends(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	want := seedForest(t)

	doc := OpenDocument(filepath.Join(dir, "tasks.json"), testLogger())
	require.NoError(t, doc.Replace(ctx, want))

	sqlite := openSQLite(t, filepath.Join(dir, "tasks.sqlite"))
	n, err := Copy(ctx, doc, sqlite)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err := sqlite.List(ctx)
	require.NoError(t, err)
	assertForestEqual(t, want, got)

	// and back again into a fresh document file
	doc2 := OpenDocument(filepath.Join(dir, "back.json"), testLogger())
	n, err = Copy(ctx, sqlite, doc2)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err = doc2.List(ctx)
	require.NoError(t, err)
	assertForestEqual(t, want, got)
}

func TestSwitchRefusesSamePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	_, err := Switch(context.Background(), path, path, false, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, tferrors.ErrValidation)
}

func TestSwitchRefusesExistingDestination(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	srcPath := filepath.Join(dir, "tasks.json")
	src := OpenDocument(srcPath, testLogger())
	require.NoError(t, src.Replace(ctx, seedForest(t)))

	dstPath := filepath.Join(dir, "tasks.sqlite")
	existing := openSQLite(t, dstPath)
	require.NoError(t, existing.Close())

	_, err := Switch(ctx, srcPath, dstPath, false, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, tferrors.ErrConflict)

	// force overwrites the stale destination
	n, err := Switch(ctx, srcPath, dstPath, true, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	dst := openSQLite(t, dstPath)
	got, err := dst.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, task.Count(got))
}

func TestSwitchDocumentToSQLiteAndBack(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	want := seedForest(t)

	srcPath := filepath.Join(dir, "tasks.json")
	src := OpenDocument(srcPath, testLogger())
	require.NoError(t, src.Replace(ctx, want))

	sqlitePath := filepath.Join(dir, "tasks.sqlite")
	n, err := Switch(ctx, srcPath, sqlitePath, false, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	backPath := filepath.Join(dir, "back.json")
	n, err = Switch(ctx, sqlitePath, backPath, false, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	back := OpenDocument(backPath, testLogger())
	got, err := back.List(ctx)
	require.NoError(t, err)
	assertForestEqual(t, want, got)
}
