// Package hooks discovers per-project hook manifests and runs external hook
// programs around task lifecycle events. Pre-event hooks may rewrite the
// in-flight payload; post-event hooks observe only.
package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
)

// ManifestVersion is the only recognized manifest version.
const ManifestVersion = 1

// Lifecycle event names.
const (
	EventTaskPreAdd        = "task.pre_add"
	EventTaskPostAdd       = "task.post_add"
	EventTaskPreRemove     = "task.pre_remove"
	EventTaskPostRemove    = "task.post_remove"
	EventTaskPreImport     = "task.pre_import"
	EventTaskPostImport    = "task.post_import"
	EventTaskPreComplete   = "task.pre_complete"
	EventTaskPostComplete  = "task.post_complete"
	EventTaskPreReopen     = "task.pre_reopen"
	EventTaskPostReopen    = "task.post_reopen"
	EventTaskPreUpdate     = "task.pre_update"
	EventTaskPostUpdate    = "task.post_update"
	EventProjectPostInit   = "project.post_init"
	EventProjectPostForget = "project.post_forget"
)

var knownEvents = map[string]bool{
	EventTaskPreAdd:        true,
	EventTaskPostAdd:       true,
	EventTaskPreRemove:     true,
	EventTaskPostRemove:    true,
	EventTaskPreImport:     true,
	EventTaskPostImport:    true,
	EventTaskPreComplete:   true,
	EventTaskPostComplete:  true,
	EventTaskPreReopen:     true,
	EventTaskPostReopen:    true,
	EventTaskPreUpdate:     true,
	EventTaskPostUpdate:    true,
	EventProjectPostInit:   true,
	EventProjectPostForget: true,
}

// KnownEvent reports whether name is a recognized lifecycle event.
func KnownEvent(name string) bool { return knownEvents[name] }

// Definition declares one hook: an external command bound to a lifecycle
// event.
type Definition struct {
	ID              string   `json:"id"`
	Event           string   `json:"event"`
	Command         []string `json:"command"`
	TimeoutSeconds  *float64 `json:"timeout"`
	ContinueOnError bool     `json:"continue_on_error"`
}

// Manifest is the per-project hook declaration file.
type Manifest struct {
	Version int          `json:"version"`
	Hooks   []Definition `json:"hooks"`
}

// ManifestDir is the per-project directory holding the manifest and,
// conventionally, the hook programs themselves.
const ManifestDir = ".taskforge"

// manifestFile is the manifest file name inside ManifestDir.
const manifestFile = "hooks.json"

// ManifestPath returns the manifest location for a project root.
func ManifestPath(projectRoot string) string {
	return filepath.Join(projectRoot, ManifestDir, manifestFile)
}

// HooksDir returns the conventional directory for hook programs.
func HooksDir(projectRoot string) string {
	return filepath.Join(projectRoot, ManifestDir, "hooks.d")
}

// LoadManifest reads and validates a project's manifest. A missing file is
// not an error: it returns (nil, nil) and the caller treats the project as
// hookless. Configuration problems are raised here, before any hook runs.
func LoadManifest(projectRoot string) (*Manifest, error) {
	path := ManifestPath(projectRoot)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", tferrors.ErrHookConfig, path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", tferrors.ErrHookConfig, path, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Version != ManifestVersion {
		return fmt.Errorf("%w: unsupported manifest version %d", tferrors.ErrHookConfig, m.Version)
	}
	seen := make(map[string]bool, len(m.Hooks))
	for i, h := range m.Hooks {
		if h.ID == "" {
			return fmt.Errorf("%w: hook %d has no id", tferrors.ErrHookConfig, i)
		}
		if seen[h.ID] {
			return fmt.Errorf("%w: duplicate hook id %q", tferrors.ErrHookConfig, h.ID)
		}
		seen[h.ID] = true
		if !KnownEvent(h.Event) {
			return fmt.Errorf("%w: hook %q: unknown event %q", tferrors.ErrHookConfig, h.ID, h.Event)
		}
		if len(h.Command) == 0 || h.Command[0] == "" {
			return fmt.Errorf("%w: hook %q: missing command", tferrors.ErrHookConfig, h.ID)
		}
		if h.TimeoutSeconds != nil && *h.TimeoutSeconds <= 0 {
			return fmt.Errorf("%w: hook %q: timeout must be positive", tferrors.ErrHookConfig, h.ID)
		}
	}
	return nil
}
