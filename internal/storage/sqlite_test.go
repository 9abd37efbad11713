package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
	"github.com/p-blackswan/taskforge/internal/task"
)

func openSQLite(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteInitIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.sqlite")

	first := openSQLite(t, path)
	a := mustTask(t, "a", mustTask(t, "a1"))
	_, err := first.Upsert(context.Background(), a)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := openSQLite(t, path)
	forest, err := second.List(context.Background())
	require.NoError(t, err)
	assertForestEqual(t, []*task.Task{a}, forest)
}

func TestSQLiteRejectsUnknownSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.sqlite")
	store := openSQLite(t, path)
	_, err := store.DB().Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = OpenSQLite(path, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, tferrors.ErrStorageData)
}

func TestSQLiteRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.sqlite")
	require.NoError(t, os.WriteFile(path, []byte("this is not a database at all, just text"), 0o644))

	_, err := OpenSQLite(path, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, tferrors.ErrStorageData)
}

func TestSQLiteDeleteCascadesRows(t *testing.T) {
	store := openSQLite(t, filepath.Join(t.TempDir(), "tasks.sqlite"))
	ctx := context.Background()

	root := mustTask(t, "root", mustTask(t, "child", mustTask(t, "grandchild")))
	_, err := store.Upsert(ctx, root)
	require.NoError(t, err)

	var count int
	require.NoError(t, store.DB().Get(&count, "SELECT COUNT(*) FROM tasks"))
	assert.Equal(t, 3, count)

	require.NoError(t, store.Delete(ctx, root.ID))
	require.NoError(t, store.DB().Get(&count, "SELECT COUNT(*) FROM tasks"))
	assert.Zero(t, count)
}

func TestSQLiteUpsertKeepsParentAndPosition(t *testing.T) {
	store := openSQLite(t, filepath.Join(t.TempDir(), "tasks.sqlite"))
	ctx := context.Background()

	a := mustTask(t, "a")
	b := mustTask(t, "b", mustTask(t, "b1"))
	c := mustTask(t, "c")
	require.NoError(t, store.Replace(ctx, []*task.Task{a, b, c}))

	// rewrite the middle root; it must stay in the middle
	b2 := b.Clone()
	b2.Name = "b-rewritten"
	b2.Subtasks = nil
	_, err := store.Upsert(ctx, b2)
	require.NoError(t, err)

	forest, err := store.List(ctx)
	require.NoError(t, err)
	assertForestEqual(t, []*task.Task{a, b2, c}, forest)
}

func TestSQLiteMigratesLegacyDocumentTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.sqlite")

	want := []*task.Task{
		mustTask(t, "root", mustTask(t, "child")),
		mustTask(t, "other"),
	}
	payload, err := EncodeDocument(want)
	require.NoError(t, err)

	// build a database holding only the legacy single-document table
	seed := openSQLite(t, path)
	_, err = seed.DB().Exec(fmt.Sprintf(
		`CREATE TABLE %s (id INTEGER PRIMARY KEY, payload TEXT NOT NULL)`, legacyDocumentTable))
	require.NoError(t, err)
	_, err = seed.DB().Exec(fmt.Sprintf(`INSERT INTO %s (payload) VALUES (?)`, legacyDocumentTable),
		string(payload))
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	store := openSQLite(t, path)
	forest, err := store.List(context.Background())
	require.NoError(t, err)
	assertForestEqual(t, want, forest)

	// the legacy table is gone and a reopen does not re-run the migration
	exists, err := store.tableExists(legacyDocumentTable)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLiteLegacyMigrationSkipsPopulatedStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.sqlite")

	seed := openSQLite(t, path)
	current := mustTask(t, "current")
	_, err := seed.Upsert(context.Background(), current)
	require.NoError(t, err)

	stale, err := EncodeDocument([]*task.Task{mustTask(t, "stale")})
	require.NoError(t, err)
	_, err = seed.DB().Exec(fmt.Sprintf(
		`CREATE TABLE %s (id INTEGER PRIMARY KEY, payload TEXT NOT NULL)`, legacyDocumentTable))
	require.NoError(t, err)
	_, err = seed.DB().Exec(fmt.Sprintf(`INSERT INTO %s (payload) VALUES (?)`, legacyDocumentTable),
		string(stale))
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	store := openSQLite(t, path)
	forest, err := store.List(context.Background())
	require.NoError(t, err)
	assertForestEqual(t, []*task.Task{current}, forest)

	exists, err := store.tableExists(legacyDocumentTable)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLiteConcurrentUpserts(t *testing.T) {
	store := openSQLite(t, filepath.Join(t.TempDir(), "tasks.sqlite"))
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk := mustTask(t, fmt.Sprintf("task-%d", i))
			_, errs[i] = store.Upsert(ctx, tk)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}
	forest, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, forest, writers)
}
