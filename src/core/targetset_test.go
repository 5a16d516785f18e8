package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetSetInsertIsGetOrCreate(t *testing.T) {
	ts := NewTargetSet()
	key := TargetKey{Directory: NewDirPath("a"), Name: "foo"}

	t1, inserted := ts.Insert(key)
	assert.True(t, inserted)

	t2, inserted := ts.Insert(key)
	assert.False(t, inserted)
	assert.Same(t, t1, t2)
}

func TestTargetSetFind(t *testing.T) {
	ts := NewTargetSet()
	key := TargetKey{Directory: NewDirPath("a"), Name: "foo"}
	_, ok := ts.Find(key)
	assert.False(t, ok)

	ts.Insert(key)
	found, ok := ts.Find(key)
	assert.True(t, ok)
	assert.Equal(t, key, found.Key)
}

func TestTargetRecipeBoundOnce(t *testing.T) {
	target := NewTarget(TargetKey{Name: "foo"})
	action := Action{MetaOp: MetaPerform, Op: OpUpdate}
	target.SetRecipe(action, NoopRecipe)
	assert.Panics(t, func() { target.SetRecipe(action, NoopRecipe) })
}
