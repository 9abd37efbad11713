// Package config resolves per-project settings: where the collection is
// stored, which backend serves it, and the guarded migration between
// backends. Values come from an optional YAML project file overridden by
// TASKFORGE_* environment variables.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	tferrors "github.com/p-blackswan/taskforge/internal/errors"
	"github.com/p-blackswan/taskforge/internal/hooks"
	"github.com/p-blackswan/taskforge/internal/storage"
)

// envPrefix is expanded by envconfig to TASKFORGE_*.
const envPrefix = "taskforge"

// configFile is the project settings file inside hooks.ManifestDir.
const configFile = "config.yaml"

// Settings holds all per-project configuration.
type Settings struct {
	// StoragePath locates the collection. The suffix selects the backend:
	// .sqlite and .db pick the relational store, anything else the document
	// store.
	StoragePath string `envconfig:"STORAGE_PATH" yaml:"storage_path"`

	LogLevel      string `envconfig:"LOG_LEVEL" yaml:"log_level" default:"info"`
	HookCacheSize int    `envconfig:"HOOK_CACHE_SIZE" yaml:"hook_cache_size" default:"16"`

	// MetricsAddr, when set, serves the Prometheus registry on that address
	// for the lifetime of the command.
	MetricsAddr string `envconfig:"METRICS_ADDR" yaml:"metrics_addr,omitempty"`
}

// Path returns the settings file location for a project root.
func Path(projectRoot string) string {
	return filepath.Join(projectRoot, hooks.ManifestDir, configFile)
}

// Load reads the project settings file (if present), then applies
// environment overrides and defaults.
func Load(projectRoot string) (*Settings, error) {
	var s Settings

	data, err := os.ReadFile(Path(projectRoot))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parse %s: %w", Path(projectRoot), err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read %s: %w", Path(projectRoot), err)
	}

	if err := envconfig.Process(envPrefix, &s); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if s.StoragePath == "" {
		s.StoragePath = filepath.Join(projectRoot, hooks.ManifestDir, "tasks.json")
	}
	return &s, nil
}

// Save writes the settings back to the project file.
func (s *Settings) Save(projectRoot string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	path := Path(projectRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Backend returns the backend kind the storage path selects.
func (s *Settings) Backend() storage.Kind {
	return storage.KindForPath(s.StoragePath)
}

// OpenRepository opens the configured backend, creating parent directories
// on first use.
func (s *Settings) OpenRepository(logger zerolog.Logger) (storage.Repository, error) {
	return storage.Open(s.StoragePath, logger)
}

// SwitchStorage migrates the collection to newPath and repoints the project
// at it. The existing collection is migrated before switching; an existing
// file at the destination refuses the switch unless force is set.
func (s *Settings) SwitchStorage(ctx context.Context, projectRoot, newPath string, force bool, logger zerolog.Logger) (int, error) {
	n, err := storage.Switch(ctx, s.StoragePath, newPath, force, logger)
	if err != nil {
		return 0, err
	}
	s.StoragePath = newPath
	if err := s.Save(projectRoot); err != nil {
		return n, err
	}
	return n, nil
}

// Init prepares a project: creates the settings directory and default
// settings file, then emits project.post_init. Re-running on an initialized
// project is a no-op apart from the hook's reinitialised flag.
func Init(ctx context.Context, projectRoot string, cache *hooks.BusCache, logger zerolog.Logger) (*Settings, error) {
	dir := filepath.Join(projectRoot, hooks.ManifestDir)
	reinitialised := false
	if _, err := os.Stat(dir); err == nil {
		reinitialised = true
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create project directory: %w", err)
	}

	s, err := Load(projectRoot)
	if err != nil {
		return nil, err
	}
	if !reinitialised {
		if err := s.Save(projectRoot); err != nil {
			return nil, err
		}
	}

	if cache != nil {
		bus, err := cache.Bus(projectRoot)
		if err != nil {
			return nil, err
		}
		if err := bus.Emit(ctx, hooks.EventProjectPostInit, map[string]any{"reinitialised": reinitialised}); err != nil {
			return nil, err
		}
	}
	logger.Info().Str("project", projectRoot).Bool("reinitialised", reinitialised).Msg("project initialized")
	return s, nil
}

// Forget purges a project's settings, hooks and (when it lives inside the
// project directory) its collection, emitting project.post_forget first so
// hooks still exist to observe it.
func Forget(ctx context.Context, projectRoot string, cache *hooks.BusCache, logger zerolog.Logger) error {
	dir := filepath.Join(projectRoot, hooks.ManifestDir)
	purged := false
	if _, err := os.Stat(dir); err == nil {
		purged = true
	}

	if cache != nil && purged {
		bus, err := cache.Bus(projectRoot)
		if err == nil {
			if err := bus.Emit(ctx, hooks.EventProjectPostForget, map[string]any{"purged": purged}); err != nil {
				return err
			}
		} else if !tferrors.Is(err, tferrors.ErrHookConfig) {
			return err
		}
	}

	if purged {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("purge project directory: %w", err)
		}
		if cache != nil {
			cache.Invalidate(projectRoot)
		}
	}
	logger.Info().Str("project", projectRoot).Bool("purged", purged).Msg("project forgotten")
	return nil
}
