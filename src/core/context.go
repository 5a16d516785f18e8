package core

import (
	"path/filepath"
	"sync"

	"github.com/anvilbuild/anvil/src/filecache"
	"github.com/anvilbuild/anvil/src/fs"
	"github.com/anvilbuild/anvil/src/scheduler"
)

// CacheDirName is the fixed subdirectory of a build's output root backing its file
// cache (depdbs, persisted config, and any other regenerable state §4.5 covers).
// config.Config uses the same name so a project's persisted configuration and its
// targets' depdbs share one cache directory rather than each inventing their own.
const CacheDirName = ".anvil-cache"

// A Phase is the coarse stage of a build. Transitions between phases are explicit and
// draining: a transition may proceed only once the scheduler reports all outstanding
// tasks in the outgoing phase complete.
type Phase uint8

const (
	PhaseLoad Phase = iota
	PhaseMatch
	PhaseExecute
)

func (p Phase) String() string {
	switch p {
	case PhaseLoad:
		return "load"
	case PhaseMatch:
		return "match"
	case PhaseExecute:
		return "execute"
	default:
		return "invalid"
	}
}

// BuildContext holds everything that would otherwise be process-global state: the
// current phase, the scope tree, the target store, the scheduler, and the file hasher.
// There is exactly one BuildContext per build; nothing in this package keeps
// package-level mutable state, so multiple builds (e.g. in tests) can run concurrently
// each with their own context.
type BuildContext struct {
	Scopes    *ScopeMap
	Targets   *TargetSet
	Scheduler *scheduler.Scheduler
	Hasher    *fs.PathHasher

	// Cache is the file cache backing depdbs and other regenerable build state
	// (§4.5). Recipes reach it through their BuildContext rather than constructing
	// their own, so every target's depdb and the project's persisted configuration
	// (package config) share one cache directory and one Preempt-eligible pool.
	Cache *filecache.Cache

	// KeepGoing, if true, lets independent sub-graphs continue executing after one
	// has failed rather than stopping at the first failure.
	KeepGoing bool

	mu    sync.Mutex
	phase Phase

	rules any // *rule.Map, stored opaquely to avoid a core -> rule import cycle
}

// NewBuildContext constructs a BuildContext with a fresh scope tree, target set,
// scheduler and file cache, rooted at the given output directory. The cache defaults
// to FormatLZ4; callers that resolve a project's configured CacheFormat (cmd/anvil,
// from package config) replace ctx.Cache after construction.
func NewBuildContext(sched *scheduler.Scheduler, root string) *BuildContext {
	return &BuildContext{
		Scopes:    NewScopeMap(),
		Targets:   NewTargetSet(),
		Scheduler: sched,
		Hasher:    fs.NewPathHasher(root),
		Cache:     filecache.New(filepath.Join(root, CacheDirName), filecache.FormatLZ4),
		phase:     PhaseLoad,
	}
}

// Phase returns the current build phase.
func (ctx *BuildContext) Phase() Phase {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.phase
}

// Transition moves the context to a new phase. It must only be called once the caller
// has confirmed (typically via Scheduler.Wait on the outgoing phase's task counter)
// that every task in the outgoing phase has completed.
func (ctx *BuildContext) Transition(to Phase) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.phase = to
}

// SetRules attaches the rule registry used for matching. Stored opaquely since the
// rule package depends on core, not the other way around.
func (ctx *BuildContext) SetRules(r any) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.rules = r
}

// Rules returns the previously attached rule registry.
func (ctx *BuildContext) Rules() any {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.rules
}
