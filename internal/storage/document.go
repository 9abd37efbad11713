package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
	"github.com/p-blackswan/taskforge/internal/task"
)

// DocumentVersion is written into every document store file.
const DocumentVersion = "1.0"

// document is the on-disk shape of the whole collection.
type document struct {
	Version   string       `json:"version"`
	Tasks     orderedTasks `json:"tasks"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// orderedTasks serializes a root forest as a JSON object keyed by task
// identifier while preserving sibling order, which encoding/json's map type
// would destroy (it sorts keys on encode and randomizes them on decode).
type orderedTasks []*task.Task

func (o orderedTasks) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, t := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(t.ID.String())
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *orderedTasks) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("tasks section is not an object")
	}

	var out []*task.Task
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		var t task.Task
		if err := dec.Decode(&t); err != nil {
			return fmt.Errorf("task %q: %w", key, err)
		}
		if t.ID == uuid.Nil {
			id, err := uuid.Parse(key)
			if err != nil {
				return fmt.Errorf("task key %q is not a valid identifier", key)
			}
			t.ID = id
		}
		out = append(out, &t)
	}
	*o = out
	return nil
}

// DocumentStore persists the whole collection as one JSON file, rewritten
// wholesale on every mutation. Writes go to a temp file in the same
// directory followed by a single rename, so a reader never observes a
// partial file. Concurrent writers on the same path are last-write-wins;
// callers needing serialized writers should use the SQLite backend.
type DocumentStore struct {
	path   string
	logger zerolog.Logger
	mu     sync.Mutex
}

// OpenDocument creates a document store over path. The file is created
// lazily on first write; a missing file reads as an empty collection.
func OpenDocument(path string, logger zerolog.Logger) *DocumentStore {
	return &DocumentStore{
		path:   path,
		logger: logger.With().Str("component", "storage.document").Logger(),
	}
}

func (s *DocumentStore) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			now := time.Now().UTC()
			return &document{Version: DocumentVersion, CreatedAt: now, UpdatedAt: now}, nil
		}
		return nil, tferrors.NewStorageError("document", "read", tferrors.StorageIO, err)
	}

	doc, err := parseDocument(data)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// parseDocument decodes a document payload. Payloads that are valid JSON but
// not objects (null, arrays, scalars) are rejected: an existing file must
// never read as a silently empty collection.
func parseDocument(data []byte) (*document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, tferrors.NewStorageError("document", "parse", tferrors.StorageData,
			fmt.Errorf("payload is not a JSON object"))
	}
	var doc document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, tferrors.NewStorageError("document", "parse", tferrors.StorageData, err)
	}
	return &doc, nil
}

func (s *DocumentStore) save(doc *document) error {
	doc.Version = DocumentVersion
	doc.UpdatedAt = time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = doc.UpdatedAt
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return tferrors.NewStorageError("document", "encode", tferrors.StorageData, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tasks-*.tmp")
	if err != nil {
		return tferrors.NewStorageError("document", "create temp file", tferrors.StorageIO, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return tferrors.NewStorageError("document", "write temp file", tferrors.StorageIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return tferrors.NewStorageError("document", "close temp file", tferrors.StorageIO, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return tferrors.NewStorageError("document", "chmod temp file", tferrors.StorageIO, err)
	}
	// Single rename keeps the previous contents readable if the process
	// dies mid-write.
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return tferrors.NewStorageError("document", "replace file", tferrors.StorageIO, err)
	}
	s.logger.Debug().Int("tasks", len(doc.Tasks)).Msg("document written")
	return nil
}

// List returns the ordered forest.
func (s *DocumentStore) List(ctx context.Context) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return task.CloneForest(doc.Tasks), nil
}

// Upsert fully replaces the task with the same identifier wherever it sits,
// keeping its slot; an unknown identifier is appended as a new root.
func (s *DocumentStore) Upsert(ctx context.Context, t *task.Task) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	if !replaceInForest(doc.Tasks, t) {
		doc.Tasks = append(doc.Tasks, t.Clone())
	}

	if err := s.save(doc); err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// replaceInForest swaps the node carrying t's identifier, subtree included,
// anywhere in the forest. Returns false if the identifier is absent.
func replaceInForest(forest []*task.Task, t *task.Task) bool {
	for i, existing := range forest {
		if existing.ID == t.ID {
			forest[i] = t.Clone()
			return true
		}
		if replaceInForest(existing.Subtasks, t) {
			return true
		}
	}
	return false
}

// Delete removes a task (and its embedded subtree) wherever it sits.
func (s *DocumentStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	forest, removed := task.Remove(doc.Tasks, id)
	if removed == nil {
		return &tferrors.NotFoundError{ID: id.String()}
	}
	doc.Tasks = forest
	return s.save(doc)
}

// Replace overwrites the whole collection.
func (s *DocumentStore) Replace(ctx context.Context, forest []*task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Tasks = task.CloneForest(forest)
	return s.save(doc)
}

// Close is a no-op; the store holds no open handles between calls.
func (s *DocumentStore) Close() error { return nil }

// EncodeDocument renders a forest in the document store file shape. Used by
// the export use case so exports and document files round-trip.
func EncodeDocument(forest []*task.Task) ([]byte, error) {
	now := time.Now().UTC()
	doc := document{
		Version:   DocumentVersion,
		Tasks:     task.CloneForest(forest),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return json.MarshalIndent(&doc, "", "  ")
}

// DecodeDocument parses a document store payload back into a forest.
func DecodeDocument(data []byte) ([]*task.Task, error) {
	doc, err := parseDocument(data)
	if err != nil {
		return nil, err
	}
	return doc.Tasks, nil
}
