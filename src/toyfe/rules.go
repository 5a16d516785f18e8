package toyfe

import (
	"fmt"
	"os"
	"strings"

	"github.com/anvilbuild/anvil/src/core"
	"github.com/anvilbuild/anvil/src/depdb"
	"github.com/anvilbuild/anvil/src/fs"
	"github.com/anvilbuild/anvil/src/process"
)

// toolVersion stands in for a real rule's compiler/linker identity string; bumping it
// simulates a toolchain upgrade invalidating every depdb, same as the source file's
// own content changing.
const toolVersion = "toyfe-compile-v1"

// shellQuote wraps path in single quotes for safe interpolation into the "sh -c" script
// CompileRule builds, escaping any single quote path itself contains.
func shellQuote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

// depdbName derives a flat file-cache entry name for objPath's depdb: cache entries
// live in one shared directory (core.BuildContext.Cache), so the obj's own path is
// folded into a single name rather than nested, which would otherwise collide with
// the cache's own path-joining of name against its directory.
func depdbName(objPath string) string {
	return strings.ReplaceAll(strings.TrimPrefix(objPath, "/"), "/", "_") + ".d"
}

// CompileRule binds obj{name} targets for the update operation: it "compiles" a source
// file by shelling out to uppercase its content (standing in for a real compile step)
// and records a depdb in the build context's file cache so a rerun with nothing
// changed reports Unchanged rather than recompiling.
type CompileRule struct{}

func (CompileRule) Match(_ core.Action, _ *core.Target, _ string) (bool, any) { return true, nil }

func (CompileRule) Apply(_ core.Action, _ *core.Target, _ any) core.Recipe {
	return func(ctx *core.BuildContext, _ core.Action, t *core.Target) core.TargetState {
		if len(t.PrerequisiteTargets) != 1 {
			log.Error("obj target %s must have exactly one source prerequisite", t)
			return core.Failed
		}
		src := t.PrerequisiteTargets[0]
		if src.State.Load() == core.Failed {
			return core.Failed
		}
		srcPath := src.AssignedPath.String()
		objPath := ObjPath(t)

		db, err := depdb.Open(ctx.Cache, depdbName(objPath))
		if err != nil {
			log.Error("opening depdb for %s: %s", t, err)
			return core.Failed
		}

		toolLine := "tool=" + toolVersion
		toolMatched, err := db.Expect(toolLine)
		if err != nil {
			log.Error("checking depdb for %s: %s", t, err)
			return core.Failed
		}
		srcLine := fmt.Sprintf("src=%s@%d", srcPath, src.MTime.UnixNano())
		srcMatched, err := db.Expect(srcLine)
		if err != nil {
			log.Error("checking depdb for %s: %s", t, err)
			return core.Failed
		}

		upToDate := toolMatched && srcMatched && fs.FileExists(objPath)
		if upToDate {
			if err := db.Close(); err != nil {
				log.Error("closing depdb for %s: %s", t, err)
				return core.Failed
			}
			return core.Unchanged
		}

		// The actual compile step runs as a subprocess rather than in-process string
		// manipulation, so this recipe exercises the same fork-safe spawn path a real
		// compile rule would use (ExecCommand never runs user code between fork and
		// exec; everything up to that point is syscall-level, per the engine's
		// fork-safety requirement on recipe code).
		script := fmt.Sprintf("printf '// compiled by %s\\n' > %s && tr '[:lower:]' '[:upper:]' < %s >> %s",
			toolVersion, shellQuote(objPath), shellQuote(srcPath), shellQuote(objPath))
		if out, err := process.ExecCommand("sh", "-c", script); err != nil {
			log.Error("compiling %s: %s: %s", t, err, out)
			return core.Failed
		}
		if err := db.Close(); err != nil {
			log.Error("closing depdb for %s: %s", t, err)
			return core.Failed
		}
		return core.Changed
	}
}

// LinkRule binds exe{name} targets for the update operation: it concatenates every
// prerequisite obj's output, relinking whenever any input changed (Changed outranks
// Unchanged in the prerequisite aggregation the executor already performs, so this
// recipe only has to decide whether its own output is stale relative to that).
type LinkRule struct{}

func (LinkRule) Match(_ core.Action, _ *core.Target, _ string) (bool, any) { return true, nil }

func (LinkRule) Apply(_ core.Action, _ *core.Target, _ any) core.Recipe {
	return func(_ *core.BuildContext, _ core.Action, t *core.Target) core.TargetState {
		anyChanged := false
		for _, p := range t.PrerequisiteTargets {
			switch p.State.Load() {
			case core.Failed:
				return core.Failed
			case core.Changed:
				anyChanged = true
			}
		}
		exePath := ExePath(t)
		if !anyChanged && fs.FileExists(exePath) {
			return core.Unchanged
		}

		var b strings.Builder
		for _, p := range t.PrerequisiteTargets {
			content, err := os.ReadFile(ObjPath(p))
			if err != nil {
				log.Error("reading %s: %s", ObjPath(p), err)
				return core.Failed
			}
			b.Write(content)
		}
		if err := fs.WriteFile(strings.NewReader(b.String()), exePath, 0755); err != nil {
			log.Error("writing %s: %s", exePath, err)
			return core.Failed
		}
		return core.Changed
	}
}

// CleanRule binds obj{} and exe{} targets for the clean operation: it removes whatever
// output file the target type's path helper names, treating a missing file as success.
type CleanRule struct{}

func (CleanRule) Match(_ core.Action, _ *core.Target, _ string) (bool, any) { return true, nil }

func (CleanRule) Apply(_ core.Action, _ *core.Target, _ any) core.Recipe {
	return func(ctx *core.BuildContext, _ core.Action, t *core.Target) core.TargetState {
		var path string
		switch {
		case t.Key.Type.Name == "exe":
			path = ExePath(t)
		default:
			path = ObjPath(t)
			entry := ctx.Cache.Entry(depdbName(path))
			_ = os.Remove(entry.UncompPath())
			_ = os.Remove(entry.CompPath())
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Error("removing %s: %s", path, err)
			return core.Failed
		}
		return core.Unchanged
	}
}
