package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/anvilbuild/anvil/src/core"
)

type stubRule struct {
	name    string
	matches bool
}

func (s stubRule) Match(core.Action, *core.Target, string) (bool, any) { return s.matches, s.name }
func (s stubRule) Apply(_ core.Action, _ *core.Target, data any) core.Recipe {
	name := data.(string)
	return func(_ *core.BuildContext, _ core.Action, _ *core.Target) core.TargetState {
		_ = name
		return core.Changed
	}
}

var exeType = &core.TargetType{Name: "exe"}
var objType = &core.TargetType{Name: "obj", Base: exeType}

func TestBindPicksFirstMatchingByHint(t *testing.T) {
	m := NewMap()
	action := core.Action{MetaOp: core.MetaPerform, Op: core.OpUpdate}
	m.Register(action.MetaOp, action.Op, exeType, "b", stubRule{name: "b", matches: true})
	m.Register(action.MetaOp, action.Op, exeType, "a", stubRule{name: "a", matches: true})

	target := core.NewTarget(core.TargetKey{Type: exeType, Name: "t"})
	err := Bind(m, action, target, "a.anything", nil)
	assert.NoError(t, err)
	assert.NotNil(t, target.Recipe(action))
}

func TestBindWalksInheritanceChain(t *testing.T) {
	m := NewMap()
	action := core.Action{MetaOp: core.MetaPerform, Op: core.OpUpdate}
	m.Register(action.MetaOp, action.Op, exeType, "", stubRule{name: "base", matches: true})

	target := core.NewTarget(core.TargetKey{Type: objType, Name: "t"})
	err := Bind(m, action, target, "", nil)
	assert.NoError(t, err)
}

func TestBindNoRuleFails(t *testing.T) {
	m := NewMap()
	action := core.Action{MetaOp: core.MetaPerform, Op: core.OpUpdate}
	target := core.NewTarget(core.TargetKey{Type: exeType, Name: "t"})
	err := Bind(m, action, target, "", nil)
	assert.Error(t, err)
	var noRule *ErrNoRule
	assert.ErrorAs(t, err, &noRule)
}

func TestBindIsIdempotent(t *testing.T) {
	m := NewMap()
	action := core.Action{MetaOp: core.MetaPerform, Op: core.OpUpdate}
	m.Register(action.MetaOp, action.Op, exeType, "", stubRule{name: "x", matches: true})

	target := core.NewTarget(core.TargetKey{Type: exeType, Name: "t"})
	assert.NoError(t, Bind(m, action, target, "", nil))
	first := target.Recipe(action)
	assert.NoError(t, Bind(m, action, target, "", nil)) // already bound, returns immediately
	assert.NotNil(t, first)
}

func TestFileRuleFallback(t *testing.T) {
	m := NewMap()
	action := core.Action{MetaOp: core.MetaPerform, Op: core.OpUpdate}
	target := core.NewTarget(core.TargetKey{Type: exeType, Name: "t"})
	target.MTime = target.MTime.Add(1) // any non-zero time
	err := Bind(m, action, target, "", DefaultFallbacks())
	assert.NoError(t, err)
}
