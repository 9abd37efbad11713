// Package task defines the task aggregate, a mutable record owning an
// ordered subtree of child tasks, and the tree operations over forests.
package task

import (
	"strings"
	"time"

	"github.com/google/uuid"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
)

// Status is the lifecycle state of a task. It is serialized under the
// legacy field name "completed" in both storage backends.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid returns true for a recognized status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// legalTransitions is the full transition table. Same-to-same is always
// illegal; completed and cancelled are terminal with respect to each other.
var legalTransitions = map[Status]map[Status]bool{
	StatusPending:   {StatusCompleted: true, StatusCancelled: true},
	StatusCompleted: {StatusPending: true},
	StatusCancelled: {StatusPending: true},
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	return legalTransitions[s][next]
}

// Task is the aggregate root. Subtasks are value-owned: deleting a task
// deletes its subtree, and no two tasks share a child.
type Task struct {
	ID        uuid.UUID `json:"task_id"`
	Name      string    `json:"name"`
	Details   string    `json:"details"`
	Status    Status    `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Subtasks  []*Task   `json:"subtasks,omitempty"`
}

// NormalizeName trims the name and collapses internal whitespace runs to
// single spaces.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeDetails trims surrounding whitespace.
func NormalizeDetails(s string) string {
	return strings.TrimSpace(s)
}

// New builds a pending task with a fresh identifier and equal created/updated
// stamps. Name and details are normalized first and must be non-empty
// afterwards; violating input is rejected before anything is built.
func New(name, details string) (*Task, error) {
	name = NormalizeName(name)
	details = NormalizeDetails(details)
	if name == "" {
		return nil, tferrors.Validationf("task name must not be empty")
	}
	if details == "" {
		return nil, tferrors.Validationf("task details must not be empty")
	}
	now := time.Now().UTC()
	return &Task{
		ID:        uuid.New(),
		Name:      name,
		Details:   details,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Touch refreshes the updated stamp. The stamp never moves backwards.
func (t *Task) Touch() {
	now := time.Now().UTC()
	if now.After(t.UpdatedAt) {
		t.UpdatedAt = now
	}
}

// Transition moves the task to next, enforcing the transition table. On
// rejection the stored status is unchanged.
func (t *Task) Transition(next Status) error {
	if !next.Valid() {
		return tferrors.Validationf("unknown status %q", next)
	}
	if !t.Status.CanTransition(next) {
		return &tferrors.TransitionError{
			TaskID:    t.ID.String(),
			Current:   string(t.Status),
			Attempted: string(next),
		}
	}
	t.Status = next
	t.Touch()
	return nil
}

// Clone returns a deep copy of the task and its subtree.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Subtasks = CloneForest(t.Subtasks)
	return &c
}

// CloneForest deep-copies an ordered forest.
func CloneForest(forest []*Task) []*Task {
	if forest == nil {
		return nil
	}
	out := make([]*Task, len(forest))
	for i, t := range forest {
		out[i] = t.Clone()
	}
	return out
}
