package hooks

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/taskforge/lru"
)

// fileStamp is one file's cache-invalidation signature.
type fileStamp struct {
	modTime time.Time
	size    int64
}

// signature captures the modification-time+size of every hook file for a
// project, so edits invalidate the cached bus without polling.
type signature map[string]fileStamp

func (s signature) equal(other signature) bool {
	if len(s) != len(other) {
		return false
	}
	for path, stamp := range s {
		o, ok := other[path]
		if !ok || o != stamp {
			return false
		}
	}
	return true
}

// projectSignature stats the manifest and everything under hooks.d.
func projectSignature(projectRoot string) signature {
	sig := make(signature)
	if info, err := os.Stat(ManifestPath(projectRoot)); err == nil {
		sig[ManifestPath(projectRoot)] = fileStamp{modTime: info.ModTime(), size: info.Size()}
	}
	entries, err := os.ReadDir(HooksDir(projectRoot))
	if err != nil {
		return sig
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(HooksDir(projectRoot), e.Name())
		sig[path] = fileStamp{modTime: info.ModTime(), size: info.Size()}
	}
	return sig
}

type cacheEntry struct {
	bus *Bus
	sig signature
}

// BusCache caches one Bus per project path, keyed by the hook-file signature
// set. It is an explicit, injectable object rather than a package global so
// tests can construct isolated instances.
type BusCache struct {
	entries *lru.Cache[string, cacheEntry]
	logger  zerolog.Logger
}

// NewBusCache creates a cache bounded to capacity projects.
func NewBusCache(capacity int, logger zerolog.Logger) *BusCache {
	return &BusCache{
		entries: lru.New[string, cacheEntry](capacity),
		logger:  logger.With().Str("component", "hooks.cache").Logger(),
	}
}

// Bus returns the cached bus for projectRoot, rebuilding it lazily when the
// manifest or any hook file changed. Manifest problems surface here, before
// any hook runs.
func (c *BusCache) Bus(projectRoot string) (*Bus, error) {
	sig := projectSignature(projectRoot)
	if entry, ok := c.entries.Get(projectRoot); ok && entry.sig.equal(sig) {
		return entry.bus, nil
	}

	manifest, err := LoadManifest(projectRoot)
	if err != nil {
		return nil, err
	}
	bus := NewBus(manifest, projectRoot, c.logger)
	c.entries.Put(projectRoot, cacheEntry{bus: bus, sig: sig})
	c.logger.Debug().Str("project", projectRoot).Int("files", len(sig)).Msg("hook bus rebuilt")
	return bus, nil
}

// Invalidate drops the cached bus for projectRoot.
func (c *BusCache) Invalidate(projectRoot string) {
	c.entries.Delete(projectRoot)
}
