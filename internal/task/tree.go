package task

import (
	"github.com/google/uuid"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
)

// Find locates a task anywhere in the forest by depth-first search.
// Returns nil if absent.
func Find(forest []*Task, id uuid.UUID) *Task {
	for _, t := range forest {
		if t.ID == id {
			return t
		}
		if found := Find(t.Subtasks, id); found != nil {
			return found
		}
	}
	return nil
}

// Remove returns a forest without the task carrying id, plus the removed
// node (with its subtree intact). The second return is nil if id was absent.
// The input forest is not mutated.
func Remove(forest []*Task, id uuid.UUID) ([]*Task, *Task) {
	out := make([]*Task, 0, len(forest))
	var removed *Task
	for _, t := range forest {
		if t.ID == id && removed == nil {
			removed = t.Clone()
			continue
		}
		c := t.Clone()
		if removed == nil {
			var sub *Task
			c.Subtasks, sub = Remove(t.Subtasks, id)
			if sub != nil {
				removed = sub
			}
		}
		out = append(out, c)
	}
	return out, removed
}

// Insert splices child under the task carrying parentID and returns the new
// forest. A zero parentID appends child at root level. Fails with NotFound
// if the parent does not resolve; the input forest is not mutated.
func Insert(forest []*Task, parentID uuid.UUID, child *Task) ([]*Task, error) {
	out := CloneForest(forest)
	if parentID == uuid.Nil {
		return append(out, child.Clone()), nil
	}
	parent := Find(out, parentID)
	if parent == nil {
		return nil, &tferrors.NotFoundError{ID: parentID.String()}
	}
	parent.Subtasks = append(parent.Subtasks, child.Clone())
	parent.Touch()
	return out, nil
}

// Flatten returns every task in the forest in depth-first order. The
// returned pointers reference the input nodes, not copies.
func Flatten(forest []*Task) []*Task {
	var out []*Task
	for _, t := range forest {
		out = append(out, t)
		out = append(out, Flatten(t.Subtasks)...)
	}
	return out
}

// Count returns the total number of tasks in the forest, subtasks included.
func Count(forest []*Task) int {
	n := 0
	for _, t := range forest {
		n += 1 + Count(t.Subtasks)
	}
	return n
}

// StatusFilter selects tasks by status for list and export. The zero value
// matches everything.
type StatusFilter Status

// FilterAll matches every task.
const FilterAll StatusFilter = ""

// Matches reports whether t passes the filter.
func (f StatusFilter) Matches(t *Task) bool {
	return f == FilterAll || Status(f) == t.Status
}

// Filter returns the subforest of tasks passing f. A matching parent keeps
// its whole subtree; a non-matching parent is kept (with filtered children)
// only if some descendant matches.
func Filter(forest []*Task, f StatusFilter) []*Task {
	if f == FilterAll {
		return CloneForest(forest)
	}
	var out []*Task
	for _, t := range forest {
		if f.Matches(t) {
			out = append(out, t.Clone())
			continue
		}
		if kept := Filter(t.Subtasks, f); len(kept) > 0 {
			c := t.Clone()
			c.Subtasks = kept
			out = append(out, c)
		}
	}
	return out
}
