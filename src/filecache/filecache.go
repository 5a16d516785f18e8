// Package filecache backs the dependency database and other regenerable build state
// with transparent, on-demand compression: each entry is a pair of co-located files
// (an uncompressed one and a compressed one, at most one of which is present once the
// entry has settled), and the cache knows how to move between them under memory
// pressure without the recipe code that reads and writes depdbs needing to care.
// Grounded on thought-machine/please's cache/dir_cache.go (local directory layout,
// store/retrieve off the hot path) plus the compression and memory-pressure packages
// in the dependency graph that dir_cache.go doesn't itself use.
package filecache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/anvilbuild/anvil/src/cmap"
	"github.com/anvilbuild/anvil/src/fs"
	"github.com/anvilbuild/anvil/src/logging"
)

var log = logging.Log

// State is one entry's position in the uncomp/comp/decomp state machine of §4.5.
type State uint8

const (
	// Uninit is the state of an entry that has never been initialized: the on-disk
	// presence of either file is unknown until InitNew or InitExisting runs.
	Uninit State = iota
	// Uncomp: uncompressed file present, compressed file absent.
	Uncomp
	// Comp: uncompressed file absent, compressed file present.
	Comp
)

func (s State) String() string {
	switch s {
	case Uncomp:
		return "uncomp"
	case Comp:
		return "comp"
	default:
		return "uninit"
	}
}

// An Entry is one cache-backed file, known to the cache by two co-located paths: the
// uncompressed path and the compressed path (<name>.<ext>, where ext is Format).
type Entry struct {
	cache  *Cache
	Name   string
	Format Format

	mu    sync.Mutex
	state State
}

// UncompPath returns the uncompressed file's path.
func (e *Entry) UncompPath() string { return filepath.Join(e.cache.Dir, e.Name) }

// CompPath returns the compressed file's path, named with Format's extension.
func (e *Entry) CompPath() string {
	return filepath.Join(e.cache.Dir, e.Name+"."+string(e.Format))
}

// State returns the entry's current state.
func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// InitNew prepares the entry for a writer that's about to produce fresh content: any
// stale compressed file from a previous generation is removed up front so a crash
// between InitNew and the writer's Close can't leave both files present and
// disagreeing. The entry is Uninit until the writer closes, at which point it commits
// to Uncomp.
func (e *Entry) InitNew() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fs.FileExists(e.CompPath()) {
		if err := os.Remove(e.CompPath()); err != nil {
			return fmt.Errorf("filecache: removing stale compressed entry %s: %w", e.Name, err)
		}
	}
	e.state = Uninit
	return nil
}

// InitExisting discovers an entry's state from whichever file is actually present on
// disk: an uncompressed file wins (any compressed sibling is stale and removed), else
// a compressed file is accepted as-is. It fails if neither file exists.
func (e *Entry) InitExisting() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fs.FileExists(e.UncompPath()) {
		if fs.FileExists(e.CompPath()) {
			if err := os.Remove(e.CompPath()); err != nil {
				return fmt.Errorf("filecache: removing stale compressed entry %s: %w", e.Name, err)
			}
		}
		e.state = Uncomp
		return nil
	}
	if fs.FileExists(e.CompPath()) {
		e.state = Comp
		return nil
	}
	return fmt.Errorf("filecache: no entry %s in %s", e.Name, e.cache.Dir)
}

// Write replaces the entry's content with data, committing it to Uncomp. The entry is
// pinned for the duration of the write so a concurrent Preempt can't race it.
func (e *Entry) Write(data []byte) error {
	unpin := e.cache.pin(e.Name)
	defer unpin()

	if err := fs.WriteFile(bytes.NewReader(data), e.UncompPath(), 0644); err != nil {
		return fmt.Errorf("filecache: writing entry %s: %w", e.Name, err)
	}
	e.mu.Lock()
	e.state = Uncomp
	e.mu.Unlock()
	return nil
}

// Read returns the entry's content. A Comp entry is transiently decompressed back to
// Uncomp first (the spec's "decomp" transition), so repeated reads of a preempted
// entry don't pay the decompression cost more than once.
func (e *Entry) Read() ([]byte, error) {
	unpin := e.cache.pin(e.Name)
	defer unpin()

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	if state == Comp {
		if err := decompressFile(e.Format, e.CompPath(), e.UncompPath()); err != nil {
			return nil, fmt.Errorf("filecache: decompressing entry %s (consider cleaning the build state): %w", e.Name, err)
		}
		if err := os.Remove(e.CompPath()); err != nil && !os.IsNotExist(err) {
			log.Warning("filecache: could not remove compressed entry %s after decompressing: %s", e.Name, err)
		}
		e.mu.Lock()
		e.state = Uncomp
		e.mu.Unlock()
	}
	data, err := os.ReadFile(e.UncompPath())
	if err != nil {
		return nil, fmt.Errorf("filecache: reading entry %s: %w", e.Name, err)
	}
	return data, nil
}

// Preempt compresses the entry and removes its uncompressed file, reclaiming disk
// footprint, if it is currently Uncomp and not pinned by a concurrent Read or Write.
// It is a no-op (not an error) for an entry that's already Comp, Uninit, or pinned:
// Preempt is a best-effort hint, not a required transition.
func (e *Entry) Preempt() error {
	if e.cache.isPinned(e.Name) {
		return nil
	}
	e.mu.Lock()
	if e.state != Uncomp {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	unpin := e.cache.pin(e.Name)
	defer unpin()

	// Re-check after acquiring the pin: another goroutine may have preempted or
	// rewritten the entry while we weren't holding it.
	e.mu.Lock()
	if e.state != Uncomp {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if err := compressFile(e.Format, e.UncompPath(), e.CompPath()); err != nil {
		return fmt.Errorf("filecache: compressing entry %s: %w", e.Name, err)
	}
	if err := os.Remove(e.UncompPath()); err != nil {
		return fmt.Errorf("filecache: removing uncompressed entry %s after compressing: %w", e.Name, err)
	}
	e.mu.Lock()
	e.state = Comp
	e.mu.Unlock()
	return nil
}

// A Cache is a directory of Entry objects, all sharing a default compression format.
type Cache struct {
	Dir           string
	DefaultFormat Format

	pins *cmap.Map[string, *atomic.Int64]
}

// New creates a Cache rooted at dir, using format for entries that don't specify their
// own (FormatLZ4 if format is empty, the spec's required codec).
func New(dir string, format Format) *Cache {
	if format == "" {
		format = FormatLZ4
	}
	return &Cache{
		Dir:           dir,
		DefaultFormat: format,
		pins:          cmap.New[string, *atomic.Int64](cmap.DefaultShardCount, cmap.XXHash),
	}
}

// Entry returns the entry named name, using the cache's default format. Entries are
// not otherwise registered with the cache beyond this; repeated calls with the same
// name are equivalent (there's no cached Entry identity to reuse, since Entry itself
// is stateless apart from its mutex-guarded State field, which InitNew/InitExisting
// always reestablish from disk).
func (c *Cache) Entry(name string) *Entry {
	return &Entry{cache: c, Name: name, Format: c.DefaultFormat}
}

// pin marks name as actively held, returning a func that releases it. Pinning is
// tracked through cmap.Map (the same concurrent map that backs the scope and target
// registries) rather than a second lock table: AddOrGet atomically creates the shared
// counter the first time an entry is touched, and every subsequent pin/unpin just
// adjusts that counter.
func (c *Cache) pin(name string) func() {
	counter, _ := c.pins.AddOrGet(name, func() *atomic.Int64 { return new(atomic.Int64) })
	counter.Add(1)
	return func() { counter.Add(-1) }
}

// isPinned reports whether name is currently held by any in-flight Read or Write.
func (c *Cache) isPinned(name string) bool {
	counter := c.pins.Get(name)
	return counter != nil && counter.Load() > 0
}
