package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
	"github.com/p-blackswan/taskforge/internal/task"
)

// Copy reads every task from src and writes the whole forest into dst.
// Identifiers, names, details, status and timestamps are preserved exactly,
// so copying between backends is identity-preserving in both directions.
// Returns the number of tasks copied, subtasks included.
func Copy(ctx context.Context, src, dst Repository) (int, error) {
	forest, err := src.List(ctx)
	if err != nil {
		return 0, err
	}
	if err := dst.Replace(ctx, forest); err != nil {
		return 0, err
	}
	return task.Count(forest), nil
}

// Switch migrates the collection at srcPath into a fresh backend at dstPath,
// selected by suffix. If a file already exists at the destination the switch
// is refused unless force is set, to avoid silent data loss.
func Switch(ctx context.Context, srcPath, dstPath string, force bool, logger zerolog.Logger) (int, error) {
	if srcPath == dstPath {
		return 0, tferrors.Validationf("source and destination are the same path %q", srcPath)
	}
	if _, err := os.Stat(dstPath); err == nil {
		if !force {
			return 0, fmt.Errorf("%w: %s (pass force to overwrite)", tferrors.ErrConflict, dstPath)
		}
		if err := os.Remove(dstPath); err != nil {
			return 0, tferrors.NewStorageError(string(KindForPath(dstPath)), "remove destination", tferrors.StorageIO, err)
		}
	} else if !os.IsNotExist(err) {
		return 0, tferrors.NewStorageError(string(KindForPath(dstPath)), "stat destination", tferrors.StorageIO, err)
	}

	src, err := Open(srcPath, logger)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := Open(dstPath, logger)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	n, err := Copy(ctx, src, dst)
	if err != nil {
		return 0, err
	}
	logger.Info().
		Str("from", srcPath).
		Str("to", dstPath).
		Int("tasks", n).
		Msg("storage backend switched")
	return n, nil
}
