package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
	"github.com/p-blackswan/taskforge/internal/task"
)

// schemaVersion is stored in the user_version pragma.
const schemaVersion = 1

// legacyDocumentTable is the pre-normalization table holding the whole
// collection as one serialized payload. Found populated at init time, its
// contents are migrated into the tasks table and the table is dropped.
const legacyDocumentTable = "task_documents"

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id    TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	details    TEXT NOT NULL,
	completed  TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	parent_id  TEXT REFERENCES tasks(task_id) ON DELETE CASCADE,
	position   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_parent_position ON tasks(parent_id, position);
`

const insertTaskSQL = `
INSERT INTO tasks (task_id, name, details, completed, created_at, updated_at, parent_id, position)
VALUES (:task_id, :name, :details, :completed, :created_at, :updated_at, :parent_id, :position)`

func init() {
	// modernc's driver name is not in sqlx's built-in bindvar table.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// taskRow is the flattened relational shape of one task.
type taskRow struct {
	TaskID    string         `db:"task_id"`
	Name      string         `db:"name"`
	Details   string         `db:"details"`
	Status    string         `db:"completed"`
	CreatedAt string         `db:"created_at"`
	UpdatedAt string         `db:"updated_at"`
	ParentID  sql.NullString `db:"parent_id"`
	Position  int            `db:"position"`
}

// SQLiteStore persists the forest one row per task with explicit parent and
// position columns. Every write runs in a single transaction; conflicting
// writers are serialized by SQLite's locking, and lock contention surfaces
// as a retryable storage error instead of corrupting state.
type SQLiteStore struct {
	db     *sqlx.DB
	path   string
	logger zerolog.Logger
}

// OpenSQLite opens (or creates) the database, applies pragmas, validates the
// schema version and runs the one-time legacy document migration.
// Initialization is idempotent.
func OpenSQLite(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, tferrors.NewStorageError("sqlite", "open", tferrors.StorageIO, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, classify("open", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, classify("set pragma", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "storage.sqlite").Logger(),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrateLegacyDocument(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	var version int
	if err := s.db.Get(&version, "PRAGMA user_version"); err != nil {
		return classify("read schema version", err)
	}

	hasTasks, err := s.tableExists("tasks")
	if err != nil {
		return err
	}

	switch {
	case version == 0 && !hasTasks:
		if _, err := s.db.Exec(schema); err != nil {
			return classify("create schema", err)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return classify("set schema version", err)
		}
		s.logger.Debug().Str("path", s.path).Msg("schema initialized")
	case version == schemaVersion:
		if !hasTasks {
			return tferrors.NewStorageError("sqlite", "validate schema",
				tferrors.StorageData, fmt.Errorf("version marker present but tasks table missing"))
		}
	default:
		return tferrors.NewStorageError("sqlite", "validate schema",
			tferrors.StorageData, fmt.Errorf("unsupported schema state (user_version=%d)", version))
	}
	return nil
}

func (s *SQLiteStore) tableExists(name string) (bool, error) {
	var n int
	err := s.db.Get(&n, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name)
	if err != nil {
		return false, classify("inspect schema", err)
	}
	return n > 0, nil
}

// migrateLegacyDocument deserializes the legacy single-document table into
// the normalized table, then drops it. Runs inside one transaction so an
// interrupted migration leaves the legacy data untouched.
func (s *SQLiteStore) migrateLegacyDocument() error {
	hasLegacy, err := s.tableExists(legacyDocumentTable)
	if err != nil {
		return err
	}
	if !hasLegacy {
		return nil
	}

	var taskCount int
	if err := s.db.Get(&taskCount, `SELECT COUNT(*) FROM tasks`); err != nil {
		return classify("count tasks", err)
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return classify("begin legacy migration", err)
	}
	defer tx.Rollback()

	if taskCount == 0 {
		var payload string
		err := tx.Get(&payload, fmt.Sprintf(`SELECT payload FROM %s LIMIT 1`, legacyDocumentTable))
		if err != nil && err != sql.ErrNoRows {
			return classify("read legacy document", err)
		}
		if err == nil {
			forest, derr := DecodeDocument([]byte(payload))
			if derr != nil {
				return derr
			}
			for i, t := range forest {
				if err := insertTree(tx, t, nil, i); err != nil {
					return err
				}
			}
			s.logger.Info().Int("tasks", task.Count(forest)).Msg("legacy document migrated")
		}
	}

	if _, err := tx.Exec(fmt.Sprintf(`DROP TABLE %s`, legacyDocumentTable)); err != nil {
		return classify("drop legacy table", err)
	}
	return commit(tx, "legacy migration")
}

// List reconstructs the forest; ORDER BY position is sufficient because
// (parent_id, position) is the materialized ordering key and gaps are
// allowed.
func (s *SQLiteStore) List(ctx context.Context) ([]*task.Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT task_id, name, details, completed, created_at, updated_at, parent_id, position
		 FROM tasks ORDER BY position`)
	if err != nil {
		return nil, classify("list", err)
	}
	return assembleForest(rows)
}

// Upsert inserts a new root task or fully replaces the existing task with
// the same identifier, keeping its parent and position.
func (s *SQLiteStore) Upsert(ctx context.Context, t *task.Task) (*task.Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, classify("begin upsert", err)
	}
	defer tx.Rollback()

	var existing taskRow
	err = tx.GetContext(ctx, &existing,
		`SELECT parent_id, position FROM tasks WHERE task_id = ?`, t.ID.String())
	switch {
	case err == sql.ErrNoRows:
		var next sql.NullInt64
		if err := tx.GetContext(ctx, &next, `SELECT MAX(position) + 1 FROM tasks WHERE parent_id IS NULL`); err != nil {
			return nil, classify("next position", err)
		}
		if err := insertTree(tx, t, nil, int(next.Int64)); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, classify("find task", err)
	default:
		// Replace in place: the cascade wipes the old subtree.
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, t.ID.String()); err != nil {
			return nil, classify("replace task", err)
		}
		var parent *string
		if existing.ParentID.Valid {
			parent = &existing.ParentID.String
		}
		if err := insertTree(tx, t, parent, existing.Position); err != nil {
			return nil, err
		}
	}

	if err := commit(tx, "upsert"); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// Delete removes a task row; ON DELETE CASCADE takes the subtree with it.
func (s *SQLiteStore) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin delete", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, id.String())
	if err != nil {
		return classify("delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify("delete", err)
	}
	if affected == 0 {
		return &tferrors.NotFoundError{ID: id.String()}
	}
	return commit(tx, "delete")
}

// Replace atomically overwrites the whole collection.
func (s *SQLiteStore) Replace(ctx context.Context, forest []*task.Task) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("begin replace", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return classify("clear tasks", err)
	}
	for i, t := range forest {
		if err := insertTree(tx, t, nil, i); err != nil {
			return err
		}
	}
	return commit(tx, "replace")
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// DB exposes the underlying handle for tests.
func (s *SQLiteStore) DB() *sqlx.DB { return s.db }

// insertTree inserts t and, recursively, its subtree. Sibling order is
// materialized in the position column.
func insertTree(tx *sqlx.Tx, t *task.Task, parentID *string, position int) error {
	row := taskRow{
		TaskID:    t.ID.String(),
		Name:      t.Name,
		Details:   t.Details,
		Status:    string(t.Status),
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: t.UpdatedAt.UTC().Format(time.RFC3339Nano),
		Position:  position,
	}
	if parentID != nil {
		row.ParentID = sql.NullString{String: *parentID, Valid: true}
	}
	if _, err := tx.NamedExec(insertTaskSQL, row); err != nil {
		return classify("insert task", err)
	}
	id := t.ID.String()
	for i, sub := range t.Subtasks {
		if err := insertTree(tx, sub, &id, i); err != nil {
			return err
		}
	}
	return nil
}

func assembleForest(rows []taskRow) ([]*task.Task, error) {
	byID := make(map[string]*task.Task, len(rows))
	children := make(map[string][]string)
	var rootIDs []string

	for _, r := range rows {
		t, err := rowToTask(r)
		if err != nil {
			return nil, err
		}
		byID[r.TaskID] = t
		if r.ParentID.Valid {
			children[r.ParentID.String] = append(children[r.ParentID.String], r.TaskID)
		} else {
			rootIDs = append(rootIDs, r.TaskID)
		}
	}

	var attach func(id string) *task.Task
	attach = func(id string) *task.Task {
		t := byID[id]
		for _, childID := range children[id] {
			t.Subtasks = append(t.Subtasks, attach(childID))
		}
		return t
	}

	forest := make([]*task.Task, 0, len(rootIDs))
	for _, id := range rootIDs {
		forest = append(forest, attach(id))
	}
	return forest, nil
}

func rowToTask(r taskRow) (*task.Task, error) {
	id, err := uuid.Parse(r.TaskID)
	if err != nil {
		return nil, tferrors.NewStorageError("sqlite", "parse task_id", tferrors.StorageData, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return nil, tferrors.NewStorageError("sqlite", "parse created_at", tferrors.StorageData, err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, r.UpdatedAt)
	if err != nil {
		return nil, tferrors.NewStorageError("sqlite", "parse updated_at", tferrors.StorageData, err)
	}
	return &task.Task{
		ID:        id,
		Name:      r.Name,
		Details:   r.Details,
		Status:    task.Status(r.Status),
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

func commit(tx *sqlx.Tx, op string) error {
	if err := tx.Commit(); err != nil {
		return classify("commit "+op, err)
	}
	return nil
}

// classify maps a raw driver error onto the storage taxonomy: malformed or
// foreign files are data errors, lock contention and everything else I/O.
func classify(op string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "not a database") || strings.Contains(msg, "malformed") {
		return tferrors.NewStorageError("sqlite", op, tferrors.StorageData, err)
	}
	return tferrors.NewStorageError("sqlite", op, tferrors.StorageIO, err)
}
