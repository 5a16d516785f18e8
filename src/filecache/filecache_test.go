package filecache

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRoundTripBothFormats exercises SPEC_FULL.md §8 scenario 3 for both required
// compression formats: InitNew -> Write -> Close -> Preempt -> Read returns the
// original bytes, and the on-disk files match the uncomp/comp state machine.
func TestRoundTripBothFormats(t *testing.T) {
	for _, format := range []Format{FormatLZ4, FormatZSTD} {
		t.Run(string(format), func(t *testing.T) {
			c := New(t.TempDir(), format)
			e := c.Entry("payload")

			payload := make([]byte, 4<<20) // 4 MiB
			_, err := rand.Read(payload)
			require.NoError(t, err)

			require.NoError(t, e.InitNew())
			require.NoError(t, e.Write(payload))
			assert.Equal(t, Uncomp, e.State())
			assert.True(t, fileExists(e.UncompPath()))
			assert.False(t, fileExists(e.CompPath()))

			require.NoError(t, e.Preempt())
			assert.Equal(t, Comp, e.State())
			assert.False(t, fileExists(e.UncompPath()))
			assert.True(t, fileExists(e.CompPath()))

			got, err := e.Read()
			require.NoError(t, err)
			assert.Equal(t, payload, got)
			assert.Equal(t, Uncomp, e.State())
			assert.True(t, fileExists(e.UncompPath()))
		})
	}
}

func TestInitExistingDiscoversUncomp(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, FormatLZ4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x"), []byte("hello"), 0644))

	e := c.Entry("x")
	require.NoError(t, e.InitExisting())
	assert.Equal(t, Uncomp, e.State())
}

func TestInitExistingDiscoversComp(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, FormatLZ4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.lz4"), []byte("not really lz4 but presence is all that matters here"), 0644))

	e := c.Entry("x")
	require.NoError(t, e.InitExisting())
	assert.Equal(t, Comp, e.State())
}

func TestInitExistingFailsWhenAbsent(t *testing.T) {
	c := New(t.TempDir(), FormatLZ4)
	err := c.Entry("missing").InitExisting()
	assert.Error(t, err)
}

func TestPreemptSkipsPinnedEntry(t *testing.T) {
	c := New(t.TempDir(), FormatLZ4)
	e := c.Entry("held")
	require.NoError(t, e.InitNew())
	require.NoError(t, e.Write([]byte("data")))

	unpin := c.pin("held")
	defer unpin()

	require.NoError(t, e.Preempt())
	assert.Equal(t, Uncomp, e.State(), "a pinned entry must not be compressed away")
}

func TestCandidatesOldestFirst(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, FormatLZ4)
	require.NoError(t, c.Entry("a").InitNew())
	require.NoError(t, c.Entry("a").Write([]byte("a")))
	require.NoError(t, c.Entry("b").InitNew())
	require.NoError(t, c.Entry("b").Write([]byte("b")))

	names := c.candidatesOldestFirst()
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
