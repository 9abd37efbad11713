// Package merge implements the import reconciliation strategies. Each
// strategy is a pure function of (existing forest, incoming forest); inputs
// are never mutated.
package merge

import (
	"github.com/google/uuid"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
	"github.com/p-blackswan/taskforge/internal/task"
)

// Strategy names a reconciliation policy for bulk import.
type Strategy string

const (
	// StrategyAppend keeps everything; incoming tasks whose identifiers
	// collide with existing ones are silently re-keyed.
	StrategyAppend Strategy = "append"

	// StrategyReplace discards the existing forest entirely.
	StrategyReplace Strategy = "replace"

	// StrategyMerge replaces matching root tasks in place and appends the
	// rest. Only root-level identifiers are matched.
	StrategyMerge Strategy = "merge"
)

// Parse validates a strategy name.
func Parse(name string) (Strategy, error) {
	switch s := Strategy(name); s {
	case StrategyAppend, StrategyReplace, StrategyMerge:
		return s, nil
	}
	return "", tferrors.Validationf("unknown merge strategy %q", name)
}

// Apply combines existing and incoming under the named strategy.
func Apply(s Strategy, existing, incoming []*task.Task) ([]*task.Task, error) {
	switch s {
	case StrategyAppend:
		return applyAppend(existing, incoming), nil
	case StrategyReplace:
		return task.CloneForest(incoming), nil
	case StrategyMerge:
		return applyMerge(existing, incoming), nil
	}
	return nil, tferrors.Validationf("unknown merge strategy %q", s)
}

func applyAppend(existing, incoming []*task.Task) []*task.Task {
	seen := make(map[uuid.UUID]bool)
	for _, t := range task.Flatten(existing) {
		seen[t.ID] = true
	}

	out := task.CloneForest(existing)
	for _, in := range incoming {
		c := in.Clone()
		rekeyCollisions(c, seen)
		out = append(out, c)
	}
	return out
}

// rekeyCollisions walks the subtree and assigns fresh identifiers to any
// task whose id is already taken. Which originals were remapped is not
// reported back to the caller.
func rekeyCollisions(t *task.Task, seen map[uuid.UUID]bool) {
	if seen[t.ID] {
		t.ID = uuid.New()
	}
	seen[t.ID] = true
	for _, sub := range t.Subtasks {
		rekeyCollisions(sub, seen)
	}
}

func applyMerge(existing, incoming []*task.Task) []*task.Task {
	out := task.CloneForest(existing)
	byID := make(map[uuid.UUID]int, len(out))
	for i, t := range out {
		byID[t.ID] = i
	}

	for _, in := range incoming {
		if i, ok := byID[in.ID]; ok {
			out[i] = in.Clone() // keeps the original position
			continue
		}
		c := in.Clone()
		byID[c.ID] = len(out)
		out = append(out, c)
	}
	return out
}
