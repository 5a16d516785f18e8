package exec

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilbuild/anvil/src/core"
	"github.com/anvilbuild/anvil/src/rule"
	"github.com/anvilbuild/anvil/src/scheduler"
)

var action = core.Action{MetaOp: core.MetaPerform, Op: core.OpUpdate}

// fixedRule always matches and runs fn as the recipe.
type fixedRule struct {
	fn func(*core.BuildContext, core.Action, *core.Target) core.TargetState
}

func (r fixedRule) Match(core.Action, *core.Target, string) (bool, any) { return true, nil }
func (r fixedRule) Apply(core.Action, *core.Target, any) core.Recipe   { return core.Recipe(r.fn) }

func newTestContext(t *testing.T) (*core.BuildContext, func()) {
	sched := scheduler.New(context.Background(), 2, 8)
	ctx := core.NewBuildContext(sched, t.TempDir())
	return ctx, func() { sched.Shutdown() }
}

func TestMatchAndExecuteAcrossPrerequisite(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	tt := &core.TargetType{Name: "thing", Factory: core.NewTarget}
	scope := ctx.Scopes.Root()
	scope.RegisterTargetType("thing", tt)

	depKey := core.TargetKey{Type: tt, Directory: core.NewDirPath(""), Name: "dep"}
	dep, _ := ctx.Targets.Insert(depKey)

	mainKey := core.TargetKey{Type: tt, Name: "main"}
	main, _ := ctx.Targets.Insert(mainKey)
	main.Prerequisites = []core.Prerequisite{
		{Ref: core.Name{Type: "thing", Value: "dep"}, Scope: scope},
	}

	rules := rule.NewMap()
	rules.Register(action.MetaOp, action.Op, tt, "", fixedRule{
		fn: func(_ *core.BuildContext, _ core.Action, _ *core.Target) core.TargetState {
			return core.Changed
		},
	})

	matcher := NewMatcher(rules, rule.DefaultFallbacks())
	require.NoError(t, matcher.Match(ctx, action, main, ""))
	assert.Len(t, main.PrerequisiteTargets, 1)
	assert.Same(t, dep, main.PrerequisiteTargets[0])
	assert.NotNil(t, dep.Recipe(action))
	assert.NotNil(t, main.Recipe(action))

	exec := NewExecutor(false)
	res := exec.Run(ctx, action, []*core.Target{main})
	assert.True(t, res.OK())
	assert.Equal(t, core.Changed, main.State.Load())
	assert.Equal(t, core.Changed, dep.State.Load())
}

func TestExecuteStopsOnFailureWithoutKeepGoing(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	tt := &core.TargetType{Name: "thing", Factory: core.NewTarget}
	scope := ctx.Scopes.Root()
	scope.RegisterTargetType("thing", tt)

	depKey := core.TargetKey{Type: tt, Directory: core.NewDirPath(""), Name: "dep"}
	dep, _ := ctx.Targets.Insert(depKey)

	mainKey := core.TargetKey{Type: tt, Name: "main"}
	main, _ := ctx.Targets.Insert(mainKey)
	main.Prerequisites = []core.Prerequisite{
		{Ref: core.Name{Type: "thing", Value: "dep"}, Scope: scope},
	}

	var mainInvoked atomic.Bool
	rules := rule.NewMap()
	rules.Register(action.MetaOp, action.Op, tt, "", fixedRule{
		fn: func(_ *core.BuildContext, _ core.Action, target *core.Target) core.TargetState {
			if target == dep {
				return core.Failed
			}
			mainInvoked.Store(true)
			return core.Changed
		},
	})

	matcher := NewMatcher(rules, rule.DefaultFallbacks())
	require.NoError(t, matcher.Match(ctx, action, main, ""))

	exec := NewExecutor(false)
	res := exec.Run(ctx, action, []*core.Target{main})
	assert.False(t, res.OK())
	assert.Equal(t, core.Failed, dep.State.Load())
	assert.Equal(t, core.Failed, main.State.Load())
	assert.False(t, mainInvoked.Load(), "main's recipe must not run once its prerequisite fails without keep-going")
}

func TestPostponedTargetIsReexamined(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	tt := &core.TargetType{Name: "thing", Factory: core.NewTarget}
	ctx.Scopes.Root().RegisterTargetType("thing", tt)

	target, _ := ctx.Targets.Insert(core.TargetKey{Type: tt, Name: "slow"})

	var calls atomic.Int32
	rules := rule.NewMap()
	rules.Register(action.MetaOp, action.Op, tt, "", fixedRule{
		fn: func(_ *core.BuildContext, _ core.Action, _ *core.Target) core.TargetState {
			if calls.Add(1) == 1 {
				return core.Postponed
			}
			return core.Changed
		},
	})

	matcher := NewMatcher(rules, rule.DefaultFallbacks())
	require.NoError(t, matcher.Match(ctx, action, target, ""))

	exec := NewExecutor(false)
	res := exec.Run(ctx, action, []*core.Target{target})
	assert.True(t, res.OK())
	assert.Equal(t, core.Changed, target.State.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestDumpListsTargets(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	tt := &core.TargetType{Name: "thing", Factory: core.NewTarget}
	ctx.Scopes.Root().RegisterTargetType("thing", tt)
	ctx.Targets.Insert(core.TargetKey{Type: tt, Name: "a"})
	ctx.Targets.Insert(core.TargetKey{Type: tt, Name: "b"})

	out := Dump(ctx, action)
	assert.Contains(t, out, "{a}")
	assert.Contains(t, out, "{b}")
}
