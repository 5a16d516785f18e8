// Package toyfe is a minimal stand-in for the buildfile front-end §6 describes as an
// external collaborator: rather than parsing a buildfile language, it discovers the
// ".src" files directly inside a source directory (subdirectories are not searched) and declares a two-level graph for them (an "obj"
// target per source file, and a single "exe" target depending on all of them), wiring
// real rule.Rule implementations so cmd/anvil can exercise match, execute, and the
// depdb-backed incremental rebuild decision end to end. It exists only to drive this
// repository's own entrypoint and tests; a production front-end lives elsewhere.
package toyfe

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anvilbuild/anvil/src/core"
	"github.com/anvilbuild/anvil/src/logging"
	"github.com/anvilbuild/anvil/src/rule"
)

var log = logging.Log

// SrcExtension is the toy source extension Load looks for.
const SrcExtension = ".src"

// Types holds the three target types this front-end registers: a plain source file, a
// per-file compiled object, and the single linked executable. They're returned so tests
// and cmd/anvil can refer to them directly (e.g. to build TargetKeys) without a second
// round of scope lookups.
type Types struct {
	Src *core.TargetType
	Obj *core.TargetType
	Exe *core.TargetType
}

// Register installs the toy target types and their rules into scope (for types) and m
// (for rules), for both the update and clean operations of core.MetaPerform.
func Register(scope *core.Scope, m *rule.Map) *Types {
	src := &core.TargetType{Name: "src", Factory: core.NewTarget}
	obj := &core.TargetType{Name: "obj", Base: nil, Factory: core.NewTarget}
	exe := &core.TargetType{Name: "exe", Base: nil, Factory: core.NewTarget}

	scope.RegisterTargetType(src.Name, src)
	scope.RegisterTargetType(obj.Name, obj)
	scope.RegisterTargetType(exe.Name, exe)

	m.Register(core.MetaPerform, core.OpUpdate, obj, "", &CompileRule{})
	m.Register(core.MetaPerform, core.OpUpdate, exe, "", &LinkRule{})
	m.Register(core.MetaPerform, core.OpClean, obj, "", &CleanRule{})
	m.Register(core.MetaPerform, core.OpClean, exe, "", &CleanRule{})

	return &Types{Src: src, Obj: obj, Exe: exe}
}

// Load discovers every "*.src" file under srcBase, declaring a src{name} target for
// each (its MTime taken directly from the filesystem, per the source-file convention
// FileRule expects), an obj{name} target depending on it, and a single exe{name} target
// (named after srcBase's base directory) depending on every obj. It returns the exe
// target, the usual root of a `perform update` invocation.
func Load(ctx *core.BuildContext, scope *core.Scope, types *Types, outBase, srcBase string) (*core.Target, error) {
	entries, err := os.ReadDir(srcBase)
	if err != nil {
		return nil, fmt.Errorf("toyfe: reading %s: %w", srcBase, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), SrcExtension) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), SrcExtension))
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("toyfe: no %s files under %s", SrcExtension, srcBase)
	}

	exeKey := core.TargetKey{Type: types.Exe, Directory: core.NewDirPath(srcBase), OutDir: core.NewDirPath(outBase), Name: filepath.Base(srcBase)}
	exeTarget, _ := ctx.Targets.Insert(exeKey)

	for _, name := range names {
		srcPath := filepath.Join(srcBase, name+SrcExtension)
		info, err := os.Stat(srcPath)
		if err != nil {
			return nil, fmt.Errorf("toyfe: statting %s: %w", srcPath, err)
		}

		srcKey := core.TargetKey{Type: types.Src, Directory: core.NewDirPath(srcBase), Name: name, Extension: strings.TrimPrefix(SrcExtension, ".")}
		srcTarget, inserted := ctx.Targets.Insert(srcKey)
		if inserted {
			srcTarget.MTime = info.ModTime()
			srcTarget.AssignedPath = core.NewPath(srcPath)
		}

		objKey := core.TargetKey{Type: types.Obj, Directory: core.NewDirPath(srcBase), OutDir: core.NewDirPath(outBase), Name: name}
		objTarget, inserted := ctx.Targets.Insert(objKey)
		if inserted {
			objTarget.Prerequisites = []core.Prerequisite{{
				Ref:   core.Name{Directory: srcBase, Type: types.Src.Name, Value: name},
				Scope: scope,
			}}
			objTarget.PrerequisiteTargets = []*core.Target{srcTarget}
		}

		exeTarget.Prerequisites = append(exeTarget.Prerequisites, core.Prerequisite{
			Ref:   core.Name{Directory: srcBase, Type: types.Obj.Name, Value: name},
			Scope: scope,
		})
		exeTarget.PrerequisiteTargets = append(exeTarget.PrerequisiteTargets, objTarget)
	}

	log.Debug("toyfe: declared %s with %d source file(s) under %s", exeTarget, len(names), srcBase)
	return exeTarget, nil
}

// ObjPath returns the output path an obj target's compile recipe writes to.
func ObjPath(t *core.Target) string {
	return filepath.Join(t.Key.OutDir.String(), t.Key.Name+".o")
}

// ExePath returns the output path an exe target's link recipe writes to.
func ExePath(t *core.Target) string {
	return filepath.Join(t.Key.OutDir.String(), t.Key.Name)
}
