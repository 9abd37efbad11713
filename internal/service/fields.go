package service

import (
	"encoding/json"

	"github.com/google/uuid"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
	"github.com/p-blackswan/taskforge/internal/task"
)

// Helpers reading fields back out of a hook-rewritten payload data section.
// Hooks speak JSON, so everything arrives as any and has to be re-validated.

func stringField(data map[string]any, key string) (string, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return "", tferrors.Validationf("payload field %q missing", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", tferrors.Validationf("payload field %q is not a string", key)
	}
	return s, nil
}

func optionalStringField(data map[string]any, key string) (*string, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, tferrors.Validationf("payload field %q is not a string", key)
	}
	return &s, nil
}

func idField(data map[string]any, key string) (uuid.UUID, error) {
	s, err := stringField(data, key)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, tferrors.Validationf("payload field %q is not a valid identifier: %v", key, err)
	}
	return id, nil
}

func optionalIDField(data map[string]any, key string) (*uuid.UUID, error) {
	s, err := optionalStringField(data, key)
	if err != nil || s == nil {
		return nil, err
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, tferrors.Validationf("payload field %q is not a valid identifier: %v", key, err)
	}
	return &id, nil
}

// taskData renders a task as the JSON-shaped map carried in hook payloads.
func taskData(t *task.Task) map[string]any {
	b, err := json.Marshal(t)
	if err != nil {
		return map[string]any{"task_id": t.ID.String()}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{"task_id": t.ID.String()}
	}
	return m
}

func tasksData(forest []*task.Task) []any {
	out := make([]any, 0, len(forest))
	for _, t := range forest {
		out = append(out, taskData(t))
	}
	return out
}

// decodeTasks converts a hook-rewritten tasks section back into a forest.
func decodeTasks(v any) ([]*task.Task, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, tferrors.Validationf("payload field \"tasks\" is not serializable: %v", err)
	}
	var forest []*task.Task
	if err := json.Unmarshal(b, &forest); err != nil {
		return nil, tferrors.Validationf("payload field \"tasks\" is not a task list: %v", err)
	}
	return forest, nil
}
