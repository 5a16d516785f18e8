package depdb

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilbuild/anvil/src/filecache"
)

func newCache(t *testing.T) *filecache.Cache {
	t.Helper()
	return filecache.New(t.TempDir(), filecache.FormatLZ4)
}

// TestEmptyDepdbRoundTrip exercises SPEC_FULL.md §8 scenario 1: an empty file is a
// trivially valid, empty depdb and opens for reading, not writing.
func TestEmptyDepdbRoundTrip(t *testing.T) {
	cache := newCache(t)
	require.NoError(t, os.WriteFile(filepath.Join(cache.Dir, "d"), nil, 0644))

	d, err := Open(cache, "d")
	require.NoError(t, err)
	assert.True(t, d.Reading())
	assert.False(t, d.More())
	_, ok := d.Read()
	assert.False(t, ok)
	require.NoError(t, d.Close())

	d2, err := Open(cache, "d")
	require.NoError(t, err)
	assert.True(t, d2.Reading())
	assert.False(t, d2.More())
	_, ok = d2.Read()
	assert.False(t, ok)
	require.NoError(t, d2.Close())
}

// TestMissingFileOpensForWriting covers a depdb that has never existed at all, as
// distinct from the pre-touched empty file in TestEmptyDepdbRoundTrip.
func TestMissingFileOpensForWriting(t *testing.T) {
	cache := newCache(t)
	d, err := Open(cache, "d")
	require.NoError(t, err)
	assert.True(t, d.Writing())
	require.NoError(t, d.Close())

	d2, err := Open(cache, "d")
	require.NoError(t, err)
	assert.True(t, d2.Reading())
}

// TestExpectMismatchTruncatesTail exercises SPEC_FULL.md §8 scenario 2: a single
// matched Expect, followed by Close without reading the rest, drops the unread tail.
func TestExpectMismatchTruncatesTail(t *testing.T) {
	cache := newCache(t)

	d, err := Open(cache, "d")
	require.NoError(t, err)
	require.NoError(t, d.Write("foo"))
	require.NoError(t, d.Write("bar"))
	require.NoError(t, d.Close())

	d2, err := Open(cache, "d")
	require.NoError(t, err)
	matched, err := d2.Expect("foo")
	require.NoError(t, err)
	assert.True(t, matched)
	require.NoError(t, d2.Close())

	d3, err := Open(cache, "d")
	require.NoError(t, err)
	line, ok := d3.Read()
	require.True(t, ok)
	assert.Equal(t, "foo", line)
	assert.False(t, d3.More())
}

// TestExpectMismatchSwitchesToWriteMode checks that a genuine content mismatch (not
// just an unconsumed tail) also truncates and records the new line instead.
func TestExpectMismatchSwitchesToWriteMode(t *testing.T) {
	cache := newCache(t)

	d, err := Open(cache, "d")
	require.NoError(t, err)
	require.NoError(t, d.Write("foo"))
	require.NoError(t, d.Close())

	d2, err := Open(cache, "d")
	require.NoError(t, err)
	matched, err := d2.Expect("FOO")
	require.NoError(t, err)
	assert.False(t, matched)
	assert.True(t, d2.Writing())
	require.NoError(t, d2.Close())

	d3, err := Open(cache, "d")
	require.NoError(t, err)
	line, ok := d3.Read()
	require.True(t, ok)
	assert.Equal(t, "FOO", line)
	assert.False(t, d3.More())
}

// TestCrashMidWriteIsTreatedAsAbsent covers the depdb robustness invariant: a file
// whose last line isn't the end marker is treated as if it never existed.
func TestCrashMidWriteIsTreatedAsAbsent(t *testing.T) {
	cache := newCache(t)
	require.NoError(t, os.WriteFile(filepath.Join(cache.Dir, "d"), []byte("foo\nbar\n"), 0644))

	d, err := Open(cache, "d")
	require.NoError(t, err)
	assert.True(t, d.Writing())
	require.NoError(t, d.Write("fresh"))
	require.NoError(t, d.Close())

	d2, err := Open(cache, "d")
	require.NoError(t, err)
	assert.True(t, d2.Reading())
	line, ok := d2.Read()
	require.True(t, ok)
	assert.Equal(t, "fresh", line)
	assert.False(t, d2.More())
}

// TestDepdbSurvivesPreempt covers routing a depdb through the file cache end to end: a
// closed depdb compressed by Preempt is still found and read correctly by the next Open.
func TestDepdbSurvivesPreempt(t *testing.T) {
	cache := newCache(t)

	d, err := Open(cache, "d")
	require.NoError(t, err)
	require.NoError(t, d.Write("foo"))
	require.NoError(t, d.Close())

	e := cache.Entry("d")
	require.NoError(t, e.InitExisting())
	require.NoError(t, e.Preempt())
	assert.Equal(t, filecache.Comp, e.State())

	d2, err := Open(cache, "d")
	require.NoError(t, err)
	line, ok := d2.Read()
	require.True(t, ok)
	assert.Equal(t, "foo", line)
	require.NoError(t, d2.Close())
}

func TestNeedsUpdate(t *testing.T) {
	cache := newCache(t)
	require.NoError(t, os.WriteFile(filepath.Join(cache.Dir, "d"), []byte(EndMarker+"\n"), 0644))

	now := time.Now()
	target := now.Add(-time.Hour)

	// No prerequisite is newer than the target and the depdb postdates it: up to date.
	assert.False(t, NeedsUpdate(cache, "d", target, []time.Time{now.Add(-2 * time.Hour)}))

	// A prerequisite strictly newer than the target forces a rebuild.
	assert.True(t, NeedsUpdate(cache, "d", target, []time.Time{now}))

	// A missing depdb always needs (re)building.
	assert.True(t, NeedsUpdate(cache, "missing", target, nil))
}

func TestToolHashStableAndDistinguishing(t *testing.T) {
	a := ToolHash("/usr/bin/cxx", "v1")
	b := ToolHash("/usr/bin/cxx", "v1")
	c := ToolHash("/usr/bin/cxx", "v2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
