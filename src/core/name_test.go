package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseName(t *testing.T) {
	n := ParseName("proj%dir/subdir/exe{foo}")
	assert.Equal(t, "proj", n.Project)
	assert.Equal(t, "dir/subdir", n.Directory)
	assert.Equal(t, "exe", n.Type)
	assert.Equal(t, "foo", n.Value)
	assert.Equal(t, "proj%dir/subdir/exe{foo}", n.String())
}

func TestParseNameNoType(t *testing.T) {
	n := ParseName("dir/foo.txt")
	assert.Equal(t, "dir", n.Directory)
	assert.Equal(t, "", n.Type)
	assert.Equal(t, "foo.txt", n.Value)
}

func TestNamePairChain(t *testing.T) {
	n := Name{Type: "cxx", Value: "std", Pair: &Name{Value: "17"}}
	assert.Equal(t, []string{"std", "17"}, n.Values())
}
