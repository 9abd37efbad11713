// Package storage provides the repository port and its two interchangeable
// backends: a whole-document JSON store and a normalized SQLite store. Both
// present identical behavior to callers and support lossless migration
// between each other.
package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
	"github.com/p-blackswan/taskforge/internal/task"
)

// Repository is the capability interface every backend implements.
//
// Inserting a brand-new subtask under an existing parent is done by loading
// the forest, splicing in memory and calling Replace. Delete removes the
// task wherever it sits, subtree included.
type Repository interface {
	// List returns the ordered task forest.
	List(ctx context.Context) ([]*task.Task, error)

	// Upsert fully replaces the task carrying the same identifier wherever
	// it sits, preserving its parent and position; an unknown identifier is
	// inserted as a new root task.
	Upsert(ctx context.Context, t *task.Task) (*task.Task, error)

	// Delete removes a task and its subtree. Fails with NotFound if absent.
	Delete(ctx context.Context, id uuid.UUID) error

	// Replace atomically overwrites the whole collection.
	Replace(ctx context.Context, forest []*task.Task) error

	Close() error
}

// Kind identifies a backend implementation.
type Kind string

const (
	KindDocument Kind = "document"
	KindSQLite   Kind = "sqlite"
)

// KindForPath selects a backend by storage-path suffix: .sqlite and .db map
// to the relational backend, everything else to the document backend.
func KindForPath(path string) Kind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sqlite", ".db":
		return KindSQLite
	default:
		return KindDocument
	}
}

// Open creates parent directories and opens the backend selected by suffix.
func Open(path string, logger zerolog.Logger) (Repository, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, tferrors.NewStorageError(string(KindForPath(path)), "create parent directory", tferrors.StorageIO, err)
		}
	}
	switch KindForPath(path) {
	case KindSQLite:
		return OpenSQLite(path, logger)
	default:
		return OpenDocument(path, logger), nil
	}
}
