// Package service implements the use-case orchestrator: one operation per
// task lifecycle action, each sequenced as mutate-hook, validate, tree or
// repository mutation, persist, then emit-hook. Persistence happens strictly
// after the mutate stage, so a failed pre-hook leaves storage untouched and
// no rollback machinery exists.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
	"github.com/p-blackswan/taskforge/internal/hooks"
	"github.com/p-blackswan/taskforge/internal/merge"
	"github.com/p-blackswan/taskforge/internal/metrics"
	"github.com/p-blackswan/taskforge/internal/retry"
	"github.com/p-blackswan/taskforge/internal/storage"
	"github.com/p-blackswan/taskforge/internal/task"
)

// Service orchestrates task lifecycle use cases over a repository and a hook
// pipeline. Operations are synchronous and single-operation-at-a-time from
// the caller's perspective; cross-process concurrency is the backend's
// problem.
type Service struct {
	repo     storage.Repository
	pipeline hooks.Pipeline
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	retryCfg retry.Config
}

// Option configures a Service.
type Option func(*Service)

// WithPipeline injects a hook pipeline. Without it the service behaves
// exactly as if the pipeline did not exist.
func WithPipeline(p hooks.Pipeline) Option {
	return func(s *Service) { s.pipeline = p }
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRetry overrides the backoff used for retryable storage errors.
func WithRetry(cfg retry.Config) Option {
	return func(s *Service) { s.retryCfg = cfg }
}

// New builds a Service over repo.
func New(repo storage.Repository, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		pipeline: hooks.NoopPipeline(),
		logger:   logger.With().Str("component", "service").Logger(),
		retryCfg: retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create builds a task from name and details and persists it, under parentID
// when given. Hooks may rewrite any field before validation; an unknown
// parent fails with NotFound and performs no write.
func (s *Service) Create(ctx context.Context, name, details string, parentID *uuid.UUID) (*task.Task, error) {
	const action = "create"
	defer s.observe(action, time.Now())

	data := map[string]any{"name": name, "details": details, "parent_id": nil}
	if parentID != nil {
		data["parent_id"] = parentID.String()
	}
	data, err := s.mutate(ctx, hooks.EventTaskPreAdd, data)
	if err != nil {
		return nil, s.fail(action, err)
	}

	name, err = stringField(data, "name")
	if err != nil {
		return nil, s.fail(action, err)
	}
	details, err = stringField(data, "details")
	if err != nil {
		return nil, s.fail(action, err)
	}
	parent, err := optionalIDField(data, "parent_id")
	if err != nil {
		return nil, s.fail(action, err)
	}

	t, err := task.New(name, details)
	if err != nil {
		return nil, s.fail(action, err)
	}

	if parent == nil {
		if _, err := s.repo.Upsert(ctx, t); err != nil {
			return nil, s.fail(action, err)
		}
	} else {
		forest, err := s.repo.List(ctx)
		if err != nil {
			return nil, s.fail(action, err)
		}
		forest, err = task.Insert(forest, *parent, t)
		if err != nil {
			return nil, s.fail(action, err)
		}
		if err := s.repo.Replace(ctx, forest); err != nil {
			return nil, s.fail(action, err)
		}
	}

	if err := s.emit(ctx, hooks.EventTaskPostAdd, map[string]any{"task": taskData(t)}); err != nil {
		return t, s.fail(action, err)
	}
	s.metrics.RecordOperation(action, "ok")
	s.logger.Info().Str("task", t.ID.String()).Str("name", t.Name).Msg("task created")
	return t, nil
}

// Remove deletes a task and its subtree wherever it sits in the forest.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	const action = "remove"
	defer s.observe(action, time.Now())

	data, err := s.mutate(ctx, hooks.EventTaskPreRemove, map[string]any{"task_id": id.String()})
	if err != nil {
		return nil, s.fail(action, err)
	}
	id, err = idField(data, "task_id")
	if err != nil {
		return nil, s.fail(action, err)
	}

	forest, err := s.repo.List(ctx)
	if err != nil {
		return nil, s.fail(action, err)
	}
	forest, removed := task.Remove(forest, id)
	if removed == nil {
		return nil, s.fail(action, &tferrors.NotFoundError{ID: id.String()})
	}
	if err := s.repo.Replace(ctx, forest); err != nil {
		return nil, s.fail(action, err)
	}

	if err := s.emit(ctx, hooks.EventTaskPostRemove, map[string]any{"task": taskData(removed)}); err != nil {
		return removed, s.fail(action, err)
	}
	s.metrics.RecordOperation(action, "ok")
	s.logger.Info().Str("task", id.String()).Msg("task removed")
	return removed, nil
}

// Complete transitions a task to completed.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	return s.setStatus(ctx, "complete", id, task.StatusCompleted,
		hooks.EventTaskPreComplete, hooks.EventTaskPostComplete)
}

// Reopen transitions a completed or cancelled task back to pending.
func (s *Service) Reopen(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	return s.setStatus(ctx, "reopen", id, task.StatusPending,
		hooks.EventTaskPreReopen, hooks.EventTaskPostReopen)
}

// Cancel transitions a pending task to cancelled. The manifest event set
// defines no cancel events, so no hooks fire.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	return s.setStatus(ctx, "cancel", id, task.StatusCancelled, "", "")
}

func (s *Service) setStatus(ctx context.Context, action string, id uuid.UUID, target task.Status, preEvent, postEvent string) (*task.Task, error) {
	defer s.observe(action, time.Now())

	if preEvent != "" {
		data, err := s.mutate(ctx, preEvent, map[string]any{"task_id": id.String()})
		if err != nil {
			return nil, s.fail(action, err)
		}
		if id, err = idField(data, "task_id"); err != nil {
			return nil, s.fail(action, err)
		}
	}

	forest, err := s.repo.List(ctx)
	if err != nil {
		return nil, s.fail(action, err)
	}
	t := task.Find(forest, id)
	if t == nil {
		return nil, s.fail(action, &tferrors.NotFoundError{ID: id.String()})
	}
	if err := t.Transition(target); err != nil {
		// Stored status is untouched: nothing was persisted.
		return nil, s.fail(action, err)
	}
	if err := s.repo.Replace(ctx, forest); err != nil {
		return nil, s.fail(action, err)
	}

	if postEvent != "" {
		if err := s.emit(ctx, postEvent, map[string]any{"task": taskData(t)}); err != nil {
			return t, s.fail(action, err)
		}
	}
	s.metrics.RecordOperation(action, "ok")
	s.logger.Info().Str("task", id.String()).Str("status", string(target)).Msg("status changed")
	return t.Clone(), nil
}

// Update rewrites a task's name and/or details. At least one field must be
// supplied (after hook rewrites) and the net effect must change something; a
// no-op update fails validation.
func (s *Service) Update(ctx context.Context, id uuid.UUID, name, details *string) (*task.Task, error) {
	const action = "update"
	defer s.observe(action, time.Now())

	data := map[string]any{"task_id": id.String()}
	if name != nil {
		data["name"] = *name
	}
	if details != nil {
		data["details"] = *details
	}
	data, err := s.mutate(ctx, hooks.EventTaskPreUpdate, data)
	if err != nil {
		return nil, s.fail(action, err)
	}

	if id, err = idField(data, "task_id"); err != nil {
		return nil, s.fail(action, err)
	}
	if name, err = optionalStringField(data, "name"); err != nil {
		return nil, s.fail(action, err)
	}
	if details, err = optionalStringField(data, "details"); err != nil {
		return nil, s.fail(action, err)
	}
	if name == nil && details == nil {
		return nil, s.fail(action, tferrors.Validationf("update requires name or details"))
	}

	forest, err := s.repo.List(ctx)
	if err != nil {
		return nil, s.fail(action, err)
	}
	t := task.Find(forest, id)
	if t == nil {
		return nil, s.fail(action, &tferrors.NotFoundError{ID: id.String()})
	}

	changed := false
	if name != nil {
		n := task.NormalizeName(*name)
		if n == "" {
			return nil, s.fail(action, tferrors.Validationf("task name must not be empty"))
		}
		if n != t.Name {
			t.Name = n
			changed = true
		}
	}
	if details != nil {
		d := task.NormalizeDetails(*details)
		if d == "" {
			return nil, s.fail(action, tferrors.Validationf("task details must not be empty"))
		}
		if d != t.Details {
			t.Details = d
			changed = true
		}
	}
	if !changed {
		return nil, s.fail(action, tferrors.Validationf("update changes nothing"))
	}
	t.Touch()

	if err := s.repo.Replace(ctx, forest); err != nil {
		return nil, s.fail(action, err)
	}
	if err := s.emit(ctx, hooks.EventTaskPostUpdate, map[string]any{"task": taskData(t)}); err != nil {
		return t, s.fail(action, err)
	}
	s.metrics.RecordOperation(action, "ok")
	s.logger.Info().Str("task", id.String()).Msg("task updated")
	return t.Clone(), nil
}

// Import reconciles an incoming forest with the existing one under the named
// strategy and persists the merged result. Returns the number of incoming
// root tasks applied.
func (s *Service) Import(ctx context.Context, strategy merge.Strategy, incoming []*task.Task) (int, error) {
	const action = "import"
	defer s.observe(action, time.Now())

	data := map[string]any{"strategy": string(strategy), "tasks": tasksData(incoming)}
	data, err := s.mutate(ctx, hooks.EventTaskPreImport, data)
	if err != nil {
		return 0, s.fail(action, err)
	}

	name, err := stringField(data, "strategy")
	if err != nil {
		return 0, s.fail(action, err)
	}
	if strategy, err = merge.Parse(name); err != nil {
		return 0, s.fail(action, err)
	}
	if incoming, err = decodeTasks(data["tasks"]); err != nil {
		return 0, s.fail(action, err)
	}
	for _, t := range task.Flatten(incoming) {
		if err := prepareImported(t); err != nil {
			return 0, s.fail(action, err)
		}
	}

	existing, err := s.repo.List(ctx)
	if err != nil {
		return 0, s.fail(action, err)
	}
	merged, err := merge.Apply(strategy, existing, incoming)
	if err != nil {
		return 0, s.fail(action, err)
	}
	if err := s.repo.Replace(ctx, merged); err != nil {
		return 0, s.fail(action, err)
	}

	imported := len(incoming)
	if err := s.emit(ctx, hooks.EventTaskPostImport, map[string]any{
		"strategy": string(strategy),
		"imported": imported,
	}); err != nil {
		return imported, s.fail(action, err)
	}
	s.metrics.RecordOperation(action, "ok")
	s.logger.Info().Str("strategy", string(strategy)).Int("imported", imported).Msg("tasks imported")
	return imported, nil
}

// List returns the forest, optionally filtered by status. Retryable storage
// errors (a locked database under concurrent writers) are retried with
// backoff.
func (s *Service) List(ctx context.Context, filter task.StatusFilter) ([]*task.Task, error) {
	const action = "list"
	defer s.observe(action, time.Now())

	forest, err := retry.DoValue(ctx, s.retryCfg, func(ctx context.Context) ([]*task.Task, error) {
		return s.repo.List(ctx)
	})
	if err != nil {
		return nil, s.fail(action, err)
	}
	s.metrics.RecordOperation(action, "ok")
	return task.Filter(forest, filter), nil
}

// Export renders a snapshot of the (optionally filtered) forest in the
// document store file shape, so exports round-trip through Import.
func (s *Service) Export(ctx context.Context, filter task.StatusFilter) ([]byte, error) {
	const action = "export"
	defer s.observe(action, time.Now())

	forest, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out, err := storage.EncodeDocument(forest)
	if err != nil {
		return nil, s.fail(action, err)
	}
	s.metrics.RecordOperation(action, "ok")
	return out, nil
}

// prepareImported normalizes and validates one incoming task in place.
func prepareImported(t *task.Task) error {
	t.Name = task.NormalizeName(t.Name)
	t.Details = task.NormalizeDetails(t.Details)
	if t.Name == "" {
		return tferrors.Validationf("imported task %s: name must not be empty", t.ID)
	}
	if t.Details == "" {
		return tferrors.Validationf("imported task %s: details must not be empty", t.ID)
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	if !t.Status.Valid() {
		return tferrors.Validationf("imported task %s: unknown status %q", t.ID, t.Status)
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	return nil
}

func (s *Service) mutate(ctx context.Context, event string, data map[string]any) (map[string]any, error) {
	out, err := s.pipeline.Mutate(ctx, event, data)
	if err != nil {
		s.metrics.RecordHookRun(event, "error")
		return nil, err
	}
	s.metrics.RecordHookRun(event, "ok")
	return out, nil
}

func (s *Service) emit(ctx context.Context, event string, data map[string]any) error {
	if err := s.pipeline.Emit(ctx, event, data); err != nil {
		s.metrics.RecordHookRun(event, "error")
		return err
	}
	s.metrics.RecordHookRun(event, "ok")
	return nil
}

// fail wraps any failure in the single use-case error category, recording
// storage errors on the way through. The cause stays reachable via Unwrap.
func (s *Service) fail(action string, err error) error {
	var se *tferrors.StorageError
	if tferrors.As(err, &se) {
		s.metrics.RecordStorageError(se.Backend, string(se.Kind))
	}
	s.metrics.RecordOperation(action, "error")
	return &tferrors.OpError{Action: action, Err: err}
}

func (s *Service) observe(action string, start time.Time) {
	s.metrics.ObserveOperation(action, time.Since(start).Seconds())
}
