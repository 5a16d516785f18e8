package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilbuild/anvil/src/filecache"
)

func TestDefault(t *testing.T) {
	c := Default()
	assert.True(t, c.MaxActive > 0)
	assert.Equal(t, filecache.FormatLZ4, c.CacheFormat)
	assert.False(t, c.KeepGoing)
}

func TestPersistAndLoadRoundTrip(t *testing.T) {
	out := t.TempDir()
	c := Default()
	c.OutBase = out
	c.SrcBase = "/src"
	c.MaxActive = 7
	c.KeepGoing = true
	c.Verbosity = 3
	c.CacheFormat = filecache.FormatZSTD
	require.NoError(t, c.Persist())

	loaded, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, c.SrcBase, loaded.SrcBase)
	assert.Equal(t, c.MaxActive, loaded.MaxActive)
	assert.Equal(t, c.KeepGoing, loaded.KeepGoing)
	assert.Equal(t, c.Verbosity, loaded.Verbosity)
	assert.Equal(t, c.CacheFormat, loaded.CacheFormat)
}

func TestLoadUnconfiguredReturnsDefault(t *testing.T) {
	out := t.TempDir()
	c, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, runtimeMaxActive(t), c.MaxActive)
	assert.False(t, c.KeepGoing)
}

func TestDisfigureRevertsToDefault(t *testing.T) {
	out := t.TempDir()
	c := Default()
	c.OutBase = out
	c.KeepGoing = true
	require.NoError(t, c.Persist())

	require.NoError(t, Disfigure(out))

	loaded, err := Load(out)
	require.NoError(t, err)
	assert.False(t, loaded.KeepGoing)
}

func TestDisfigureOfUnconfiguredProjectIsNotAnError(t *testing.T) {
	assert.NoError(t, Disfigure(t.TempDir()))
}

func TestApplyEnvAccumulatesErrors(t *testing.T) {
	c := Default()
	err := c.ApplyEnv([]string{
		"ANVIL_MAX_ACTIVE=4",
		"ANVIL_VERBOSITY=not-a-number",
		"ANVIL_KEEP_GOING=also-not-a-bool",
		"UNRELATED=ignored",
	})
	require.Error(t, err)
	assert.Equal(t, 4, c.MaxActive)
	assert.Contains(t, err.Error(), "verbosity")
	assert.Contains(t, err.Error(), "keep_going")
}

func TestApplyEnvValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.ApplyEnv([]string{
		"ANVIL_MAX_ACTIVE=2",
		"ANVIL_KEEP_GOING=true",
	}))
	assert.Equal(t, 2, c.MaxActive)
	assert.True(t, c.KeepGoing)
}

func TestApplyRCFileAccumulatesErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".anvilrc")
	require.NoError(t, os.WriteFile(path, []byte(
		"# a comment\n\nmax_active=3\nverbosity=bogus\nunknown_key=1\n"), 0644))

	c := Default()
	err := c.ApplyRCFile(path)
	require.Error(t, err)
	assert.Equal(t, 3, c.MaxActive)
	assert.Contains(t, err.Error(), "verbosity")
	assert.Contains(t, err.Error(), "unknown_key")
}

func TestApplyRCFileMissingIsNotAnError(t *testing.T) {
	c := Default()
	assert.NoError(t, c.ApplyRCFile(filepath.Join(t.TempDir(), ".anvilrc")))
}

func runtimeMaxActive(t *testing.T) int {
	t.Helper()
	return Default().MaxActive
}
