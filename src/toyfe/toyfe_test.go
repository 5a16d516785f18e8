package toyfe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilbuild/anvil/src/core"
	"github.com/anvilbuild/anvil/src/exec"
	"github.com/anvilbuild/anvil/src/rule"
	"github.com/anvilbuild/anvil/src/scheduler"
)

// newHarness wires a BuildContext, scheduler, rule registry and registered toy target
// types the way cmd/anvil would, returning everything a test needs to drive a build.
func newHarness(t *testing.T, outBase string) (*core.BuildContext, *rule.Map, *Types) {
	t.Helper()
	sched := scheduler.New(context.Background(), 4, 16)
	t.Cleanup(func() { sched.Shutdown() })

	ctx := core.NewBuildContext(sched, outBase)
	m := rule.NewMap()
	types := Register(ctx.Scopes.Root(), m)
	return ctx, m, types
}

func writeSrc(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+SrcExtension), []byte(content), 0644))
}

// TestMinimalGraphBuildsAndRebuildsUnchanged exercises a two-level graph (exe depends
// on two obj, each depends on a src file on disk): the first run compiles and links
// everything, reporting Changed; a second run with nothing touched reports Unchanged
// throughout.
func TestMinimalGraphBuildsAndRebuildsUnchanged(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	writeSrc(t, srcDir, "a", "int a;")
	writeSrc(t, srcDir, "b", "int b;")

	ctx, m, types := newHarness(t, outDir)
	exeTarget, err := Load(ctx, ctx.Scopes.Root(), types, outDir, srcDir)
	require.NoError(t, err)

	matcher := exec.NewMatcher(m, rule.DefaultFallbacks())
	action := core.Action{MetaOp: core.MetaPerform, Op: core.OpUpdate}
	require.NoError(t, matcher.Match(ctx, action, exeTarget, ""))

	executor := exec.NewExecutor(false)
	result := executor.Run(ctx, action, []*core.Target{exeTarget})
	require.True(t, result.OK(), "failed: %v postponed: %v", result.Failed, result.Postponed)
	assert.Equal(t, core.Changed, exeTarget.State.Load())
	for _, obj := range exeTarget.PrerequisiteTargets {
		assert.Equal(t, core.Changed, obj.State.Load())
	}
	assert.FileExists(t, ExePath(exeTarget))

	// Second run: fresh context (as a fresh `anvil` invocation would be), same outBase,
	// nothing on disk touched.
	ctx2, m2, types2 := newHarness(t, outDir)
	exeTarget2, err := Load(ctx2, ctx2.Scopes.Root(), types2, outDir, srcDir)
	require.NoError(t, err)

	matcher2 := exec.NewMatcher(m2, rule.DefaultFallbacks())
	require.NoError(t, matcher2.Match(ctx2, action, exeTarget2, ""))

	executor2 := exec.NewExecutor(false)
	result2 := executor2.Run(ctx2, action, []*core.Target{exeTarget2})
	require.True(t, result2.OK())
	assert.Equal(t, core.Unchanged, exeTarget2.State.Load())
	for _, obj := range exeTarget2.PrerequisiteTargets {
		assert.Equal(t, core.Unchanged, obj.State.Load())
	}
}

// TestChangedSourceRecompilesJustThatObjectButRelinks changes one source file between
// two runs and checks that only its obj target reports Changed while its sibling stays
// Unchanged -- yet the exe itself still relinks, since one of its prerequisites changed.
func TestChangedSourceRecompilesJustThatObjectButRelinks(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	writeSrc(t, srcDir, "a", "int a;")
	writeSrc(t, srcDir, "b", "int b;")

	build := func() *core.Target {
		ctx, m, types := newHarness(t, outDir)
		exeTarget, err := Load(ctx, ctx.Scopes.Root(), types, outDir, srcDir)
		require.NoError(t, err)
		matcher := exec.NewMatcher(m, rule.DefaultFallbacks())
		action := core.Action{MetaOp: core.MetaPerform, Op: core.OpUpdate}
		require.NoError(t, matcher.Match(ctx, action, exeTarget, ""))
		executor := exec.NewExecutor(false)
		result := executor.Run(ctx, action, []*core.Target{exeTarget})
		require.True(t, result.OK())
		return exeTarget
	}

	build()
	writeSrc(t, srcDir, "a", "int a2;")
	exeTarget := build()

	assert.Equal(t, core.Changed, exeTarget.State.Load())
	var sawChanged, sawUnchanged bool
	for _, obj := range exeTarget.PrerequisiteTargets {
		switch obj.State.Load() {
		case core.Changed:
			sawChanged = true
		case core.Unchanged:
			sawUnchanged = true
		}
	}
	assert.True(t, sawChanged, "expected the touched source's obj to report Changed")
	assert.True(t, sawUnchanged, "expected the untouched source's obj to report Unchanged")
}

// TestCleanRemovesOutputs exercises the clean operation's mode (target before
// prerequisites) against the same graph.
func TestCleanRemovesOutputs(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	writeSrc(t, srcDir, "a", "int a;")

	ctx, m, types := newHarness(t, outDir)
	exeTarget, err := Load(ctx, ctx.Scopes.Root(), types, outDir, srcDir)
	require.NoError(t, err)

	updateAction := core.Action{MetaOp: core.MetaPerform, Op: core.OpUpdate}
	matcher := exec.NewMatcher(m, rule.DefaultFallbacks())
	require.NoError(t, matcher.Match(ctx, updateAction, exeTarget, ""))
	executor := exec.NewExecutor(false)
	require.True(t, executor.Run(ctx, updateAction, []*core.Target{exeTarget}).OK())
	require.FileExists(t, ExePath(exeTarget))

	cleanAction := core.Action{MetaOp: core.MetaPerform, Op: core.OpClean}
	exeTarget.State.Store(core.Unknown)
	for _, obj := range exeTarget.PrerequisiteTargets {
		obj.State.Store(core.Unknown)
	}
	require.NoError(t, matcher.Match(ctx, cleanAction, exeTarget, ""))
	cleanExecutor := exec.NewExecutor(false)
	require.True(t, cleanExecutor.Run(ctx, cleanAction, []*core.Target{exeTarget}).OK())
	assert.NoFileExists(t, ExePath(exeTarget))
}
