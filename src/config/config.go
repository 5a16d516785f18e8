// Package config carries the build-wide configuration that SPEC_FULL.md §4.7 adds to
// the distilled spec: how `configure`/`disfigure` persist a project's resolved
// settings, and the settings `cmd/anvil` sizes its scheduler, file cache and executor
// from (no scope variables are set from it). Grounded on build2/config/module.cxx and build2/config/init.cxx's
// configure/disfigure persistence semantics from original_source, reusing the depdb
// line format (§4.4) rather than inventing a second on-disk format for config.db.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/anvilbuild/anvil/src/core"
	"github.com/anvilbuild/anvil/src/depdb"
	"github.com/anvilbuild/anvil/src/filecache"
)

// Config holds everything a project root scope needs before buildfiles are loaded:
// scheduler tuning, cache tuning, and the two policy knobs the execute phase reads
// directly (KeepGoing, Verbosity).
type Config struct {
	// SrcBase and OutBase are the source and output root directories, matching
	// toyfe.Load's srcBase and outBase parameters.
	SrcBase string
	OutBase string

	// MaxActive and QueueDepth size the scheduler (§4.6).
	MaxActive  int
	QueueDepth int

	// CacheFormat selects the file cache's default compression codec (§4.5).
	CacheFormat filecache.Format

	// KeepGoing controls whether independent sub-graphs continue executing after one
	// has failed (§4.3).
	KeepGoing bool

	// Verbosity gates diagnostic detail, including the graph dump cmd/anvil prints
	// after the run at verbosity 5+ (§4.3's Dump, mirroring the original's `verb >= 5`).
	Verbosity int
}

// Default returns the configuration perform uses on an unconfigured project: sized
// off the host's CPU count, LZ4 caching, stop-at-first-failure, and verbosity 0.
func Default() *Config {
	return &Config{
		MaxActive:   runtime.NumCPU(),
		QueueDepth:  64,
		CacheFormat: filecache.FormatLZ4,
		KeepGoing:   false,
		Verbosity:   0,
	}
}

// configFileName is the depdb-format file a configured project root persists its
// resolved configuration to, under OutBase.
const configFileName = "config.db"

// cache returns the file cache backing this config's persisted state, rooted under
// OutBase (or the working directory, if unset).
func (c *Config) cache() *filecache.Cache {
	dir := c.OutBase
	if dir == "" {
		dir = "."
	}
	return filecache.New(filepath.Join(dir, core.CacheDirName), c.CacheFormat)
}

// Persist writes c to the project's file cache in depdb format, one "key=value" line
// per field, making the `configure` choice durable across runs. This is what
// `configure` calls once it has resolved a project's variables.
func (c *Config) Persist() error {
	db, err := depdb.Open(c.cache(), configFileName)
	if err != nil {
		return fmt.Errorf("config: opening %s: %w", configFileName, err)
	}
	for _, line := range c.lines() {
		if err := db.Write(line); err != nil {
			return fmt.Errorf("config: writing %s: %w", configFileName, err)
		}
	}
	return db.Close()
}

// Load reads a previously Persisted configuration back from the project's file cache,
// starting from Default() and overwriting whatever fields the file specifies. It
// succeeds with Default() unchanged if the project was never configured.
func Load(outBase string) (*Config, error) {
	c := Default()
	c.OutBase = outBase
	db, err := depdb.Open(c.cache(), configFileName)
	if err != nil {
		return nil, fmt.Errorf("config: opening %s: %w", configFileName, err)
	}
	if !db.Reading() {
		// Never configured: nothing to read back. Closing the write-mode session
		// leaves a config.db holding only the end marker, which reads back as empty.
		_ = db.Close()
		return c, nil
	}
	for {
		line, ok := db.Read()
		if !ok {
			break
		}
		if err := c.applyLine(line); err != nil {
			return nil, err
		}
	}
	return c, db.Close()
}

// Disfigure removes a project's persisted configuration, reverting it to unconfigured
// (subsequent Load calls return Default()). It removes whichever of the entry's
// uncompressed or compressed forms is present, since a prior Preempt may have
// compressed it since it was last written.
func Disfigure(outBase string) error {
	c := Default()
	c.OutBase = outBase
	entry := c.cache().Entry(configFileName)
	var errs error
	if err := os.Remove(entry.UncompPath()); err != nil && !os.IsNotExist(err) {
		errs = multierror.Append(errs, err)
	}
	if err := os.Remove(entry.CompPath()); err != nil && !os.IsNotExist(err) {
		errs = multierror.Append(errs, err)
	}
	return errs
}

// lines renders c as the key=value lines Persist writes, in a fixed order so the
// written file is deterministic (and so Expect-based comparisons elsewhere are stable).
func (c *Config) lines() []string {
	return []string{
		"src_base=" + c.SrcBase,
		"out_base=" + c.OutBase,
		"max_active=" + strconv.Itoa(c.MaxActive),
		"queue_depth=" + strconv.Itoa(c.QueueDepth),
		"cache_format=" + string(c.CacheFormat),
		"keep_going=" + strconv.FormatBool(c.KeepGoing),
		"verbosity=" + strconv.Itoa(c.Verbosity),
	}
}

func (c *Config) applyLine(line string) error {
	key, value, ok := strings.Cut(line, "=")
	if !ok {
		return fmt.Errorf("config: malformed persisted line %q", line)
	}
	return c.set(key, value)
}

func (c *Config) set(key, value string) error {
	switch key {
	case "src_base":
		c.SrcBase = value
	case "out_base":
		c.OutBase = value
	case "max_active":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: max_active=%q: %w", value, err)
		}
		c.MaxActive = n
	case "queue_depth":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: queue_depth=%q: %w", value, err)
		}
		c.QueueDepth = n
	case "cache_format":
		c.CacheFormat = filecache.Format(value)
	case "keep_going":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: keep_going=%q: %w", value, err)
		}
		c.KeepGoing = b
	case "verbosity":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("config: verbosity=%q: %w", value, err)
		}
		c.Verbosity = n
	default:
		return fmt.Errorf("config: unknown key %q", key)
	}
	return nil
}

// ApplyEnv overlays ANVIL_* environment variables onto c (e.g. ANVIL_MAX_ACTIVE,
// ANVIL_KEEP_GOING), accumulating every parse failure via go-multierror rather than
// stopping at the first so a user sees all of them at once.
func (c *Config) ApplyEnv(environ []string) error {
	var errs error
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "ANVIL_") {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, "ANVIL_"))
		if err := c.set(name, value); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

// ApplyRCFile overlays a simple "key=value" per line .anvilrc file onto c, skipping
// blank lines and lines starting with '#'. Every bad line is collected via
// go-multierror instead of aborting on the first one, matching §4.7's stated rationale
// for parsing config this way.
func (c *Config) ApplyRCFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	var errs error
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := c.applyLine(line); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s:%d: %w", path, lineNo, err))
		}
	}
	if err := scanner.Err(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("config: reading %s: %w", path, err))
	}
	return errs
}
