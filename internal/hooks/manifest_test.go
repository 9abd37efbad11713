package hooks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
)

func writeManifest(t *testing.T, projectRoot, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(projectRoot, ManifestDir), 0o755))
	require.NoError(t, os.WriteFile(ManifestPath(projectRoot), []byte(body), 0o644))
}

func TestLoadManifestMissingIsNotAnError(t *testing.T) {
	m, err := LoadManifest(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestLoadManifestValid(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, `{
	  "version": 1,
	  "hooks": [
	    {"id": "audit", "event": "task.post_add", "command": ["/bin/true"]},
	    {"id": "guard", "event": "task.pre_add", "command": ["/bin/sh", "-c", "cat"], "timeout": 2.5, "continue_on_error": true}
	  ]
	}`)

	m, err := LoadManifest(root)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Len(t, m.Hooks, 2)
	assert.Equal(t, "audit", m.Hooks[0].ID)
	assert.Nil(t, m.Hooks[0].TimeoutSeconds)
	require.NotNil(t, m.Hooks[1].TimeoutSeconds)
	assert.Equal(t, 2.5, *m.Hooks[1].TimeoutSeconds)
	assert.True(t, m.Hooks[1].ContinueOnError)
}

func TestLoadManifestRejections(t *testing.T) {
	cases := map[string]string{
		"malformed json": `{"version": 1,`,
		"wrong version":  `{"version": 2, "hooks": []}`,
		"missing id":     `{"version": 1, "hooks": [{"event": "task.pre_add", "command": ["x"]}]}`,
		"duplicate id": `{"version": 1, "hooks": [
			{"id": "a", "event": "task.pre_add", "command": ["x"]},
			{"id": "a", "event": "task.post_add", "command": ["x"]}]}`,
		"unknown event": `{"version": 1, "hooks": [{"id": "a", "event": "task.pre_destroy", "command": ["x"]}]}`,
		"empty command": `{"version": 1, "hooks": [{"id": "a", "event": "task.pre_add", "command": []}]}`,
		"zero timeout":  `{"version": 1, "hooks": [{"id": "a", "event": "task.pre_add", "command": ["x"], "timeout": 0}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			writeManifest(t, root, body)
			_, err := LoadManifest(root)
			require.Error(t, err)
			assert.ErrorIs(t, err, tferrors.ErrHookConfig)
		})
	}
}

func TestKnownEvent(t *testing.T) {
	assert.True(t, KnownEvent(EventTaskPreAdd))
	assert.True(t, KnownEvent(EventProjectPostForget))
	assert.False(t, KnownEvent("task.pre_cancel"))
	assert.False(t, KnownEvent(""))
}
