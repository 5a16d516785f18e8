// Package depdb implements the per-target, per-action dependency database: a
// binary-safe, line-oriented file recording a recipe's tool identity, command-line
// hash, input hash and any dynamically discovered prerequisites (e.g. headers found
// while compiling), terminated by an explicit end marker. Grounded on the shape of
// thought-machine/please's build/incrementality.go (hash-chaining rebuild decisions),
// restructured into the line-oriented expect/write/end-marker protocol that
// build2/build/timestamp.cxx's depdb actually implements: a session always closes by
// truncating the file to whatever was actually read or written during it, which is
// what makes stale dynamic prerequisites fall away on the next run rather than
// accumulating forever.
//
// Per SPEC_FULL.md §2/§4.5, a depdb's storage lives in the file cache rather than as a
// bare file on disk: Open/Close go through a filecache.Entry, so a cold depdb can be
// transparently compressed between recipe runs and transparently decompressed back on
// the next Open, exactly like any other regenerable build state the cache backs.
package depdb

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/djherbis/atime"
	"github.com/zeebo/blake3"

	"github.com/anvilbuild/anvil/src/filecache"
	"github.com/anvilbuild/anvil/src/fs"
	"github.com/anvilbuild/anvil/src/logging"
)

var log = logging.Log

// EndMarker terminates a well-formed depdb file. A file whose last line isn't this
// marker is treated as if it didn't exist at all (§4.4's crash-mid-write invariant).
const EndMarker = "# end"

// Mode records whether a DB is currently validating previously-recorded lines against
// fresh ones (Reading) or recording a fresh set (Writing).
type Mode uint8

const (
	Reading Mode = iota
	Writing
)

// A DB is an open depdb session. It is not safe for concurrent use; callers hold one
// per in-flight recipe invocation, matching the "depdbs are opened during recipe
// execution, written through, and truncated on close" lifecycle.
type DB struct {
	entry *filecache.Entry
	mode  Mode

	lines []string // unread remainder, valid only while mode == Reading
	index int

	committed []string // lines that will survive to the next Open: read, expected or written
}

// Open opens the depdb named name within cache. If an entry already exists (in either
// its compressed or uncompressed form), is non-empty, and its last line is EndMarker,
// it opens for reading against the lines preceding the marker. An empty file (zero
// bytes: never written to, as opposed to a partial write missing its marker) is treated
// as a trivially valid, empty depdb and also opens for reading. Any other case — no
// entry present, or non-empty without a trailing marker (a crash mid-write) — opens for
// writing, as if the entry didn't exist.
func Open(cache *filecache.Cache, name string) (*DB, error) {
	entry := cache.Entry(name)
	if !fs.FileExists(entry.UncompPath()) && !fs.FileExists(entry.CompPath()) {
		return &DB{entry: entry, mode: Writing}, nil
	}
	if err := entry.InitExisting(); err != nil {
		return nil, fmt.Errorf("opening depdb %s: %w", name, err)
	}
	data, err := entry.Read()
	if err != nil {
		return nil, fmt.Errorf("opening depdb %s: %w", name, err)
	}
	if len(data) == 0 {
		return &DB{entry: entry, mode: Reading}, nil
	}
	text := strings.TrimSuffix(string(data), "\n")
	all := strings.Split(text, "\n")
	if all[len(all)-1] != EndMarker {
		log.Warning("depdb %s has no end marker; treating as absent", name)
		return &DB{entry: entry, mode: Writing}, nil
	}
	return &DB{entry: entry, mode: Reading, lines: all[:len(all)-1]}, nil
}

// Reading reports whether the database is currently in read mode.
func (d *DB) Reading() bool { return d.mode == Reading }

// Writing reports whether the database is currently in write mode.
func (d *DB) Writing() bool { return d.mode == Writing }

// More reports whether there are more previously-recorded lines available to Read,
// i.e. whether the database is still reading and hasn't reached the end of the
// recorded lines.
func (d *DB) More() bool { return d.mode == Reading && d.index < len(d.lines) }

// Read returns the next previously-recorded line, advancing the read position. It
// returns ok=false once reading is exhausted or the database is in write mode.
// Every line returned is committed: it will be written back unchanged on Close unless
// a later Expect/Write call discards it by switching to write mode.
func (d *DB) Read() (line string, ok bool) {
	if d.mode != Reading || d.index >= len(d.lines) {
		return "", false
	}
	line = d.lines[d.index]
	d.index++
	d.committed = append(d.committed, line)
	return line, true
}

// Expect compares line against the next previously-recorded line. A match advances the
// read position and keeps the database in read mode, returning matched=true: the
// recipe doesn't need to redo whatever that line represents. A mismatch — including
// running out of recorded lines to compare against — switches the database to write
// mode, discarding every line from this point on (the "truncating at the current
// position" invariant), and records line as freshly written.
func (d *DB) Expect(line string) (matched bool, err error) {
	if d.mode == Reading {
		if d.index < len(d.lines) && d.lines[d.index] == line {
			d.index++
			d.committed = append(d.committed, line)
			return true, nil
		}
		log.Debug("depdb %s: mismatch at line %d, switching to write mode", d.entry.Name, d.index)
		d.mode = Writing
		d.lines = nil
	}
	d.committed = append(d.committed, line)
	return false, nil
}

// Write appends line to the database. It is normally called only once already in write
// mode (after a mismatching Expect, or for a database that started empty), but calling
// it while still reading is accepted: it switches to write mode first, discarding any
// unread lines exactly as a mismatching Expect would.
func (d *DB) Write(line string) error {
	if d.mode == Reading {
		d.mode = Writing
		d.lines = nil
	}
	d.committed = append(d.committed, line)
	return nil
}

// Close writes the end marker (and, if anything was read, expected or written this
// session, those committed lines ahead of it) and closes the database. Any
// previously-recorded line that was never read or re-expected this session is dropped:
// a depdb session's output is exactly what it touched, which is what makes stale
// dynamic prerequisites fall away rather than accumulate. Close is idempotent to call
// at most once; calling it again would simply rewrite the same content.
//
// The write goes through the entry's InitNew so any compressed sibling left over from a
// previous Preempt is removed before fresh content lands, per filecache's own
// uninit->uncomp transition (§4.5): a depdb is as eligible for the cache's
// memory-pressure preemption as anything else it backs.
func (d *DB) Close() error {
	content := strings.Join(append(append([]string{}, d.committed...), EndMarker), "\n") + "\n"
	if err := d.entry.InitNew(); err != nil {
		return fmt.Errorf("closing depdb %s: %w", d.entry.Name, err)
	}
	if err := d.entry.Write([]byte(content)); err != nil {
		return fmt.Errorf("closing depdb %s: %w", d.entry.Name, err)
	}
	return nil
}

// ToolHash returns a stable hex-encoded identity hash for a tool invocation (its
// resolved path, version string, and any other identifying parts), typically written
// as a depdb's first line so a later run can detect "the compiler itself changed"
// distinctly from "the sources changed". Uses blake3, a DOMAIN STACK pick distinct
// from fs.PathHasher's xxhash so the depdb's own identity lines don't share a
// collision domain with bulk content hashing.
func ToolHash(parts ...string) string {
	h := blake3.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NeedsUpdate reports whether a target with the given mtime and prerequisite mtimes
// requires a rebuild: true if any prerequisite is strictly newer than the target, or if
// the named depdb entry is missing or looks stale relative to the target (the later of
// its modification and access times predates the target, meaning it was never brought
// up to date for the current output). The entry is stat'd wherever it currently sits - uncompressed or, if
// a memory-pressure Preempt already ran, compressed - since either is equally valid
// evidence of when the depdb was last written. atime.Stat is consulted alongside
// ModTime since on platforms without relatime-style mount options the two frequently
// diverge for files that are read but not written every run.
func NeedsUpdate(cache *filecache.Cache, name string, targetMTime time.Time, prereqMTimes []time.Time) bool {
	entry := cache.Entry(name)
	path := entry.UncompPath()
	info, err := os.Stat(path)
	if err != nil {
		path = entry.CompPath()
		if info, err = os.Stat(path); err != nil {
			return true
		}
	}
	dbTime := info.ModTime()
	if a, err := atime.Stat(path); err == nil && a.After(dbTime) {
		dbTime = a
	}
	if targetMTime.After(dbTime) {
		return true
	}
	for _, p := range prereqMTimes {
		if p.After(targetMTime) {
			return true
		}
	}
	return false
}
