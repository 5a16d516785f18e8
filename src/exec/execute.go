package exec

import (
	"runtime"
	"sync"

	"github.com/anvilbuild/anvil/src/core"
)

// ModeOf resolves the execution mode for an action; update-style operations run
// prerequisites first, clean-style operations run the target before its prerequisites.
// Front-ends may override this by constructing an Executor with a custom ModeFunc.
func ModeOf(action core.Action) core.ExecutionMode {
	if action.Op == core.OpClean {
		return core.ModeLast
	}
	return core.ModeFirst
}

// An Executor runs the execute phase: dispatching recipes for a target and its
// prerequisites in the order its operation's mode demands, aggregating states via the
// `|=` merge, and deferring postponed targets to a final single-threaded pass.
type Executor struct {
	ModeFunc  func(core.Action) core.ExecutionMode
	KeepGoing bool

	waiting sync.Map // *core.Target -> chan struct{}

	postponedMu sync.Mutex
	postponed   []*core.Target
}

// NewExecutor creates an Executor using ModeOf for mode resolution.
func NewExecutor(keepGoing bool) *Executor {
	return &Executor{ModeFunc: ModeOf, KeepGoing: keepGoing}
}

// Result summarizes the outcome of a top-level Run.
type Result struct {
	Failed    []*core.Target
	Postponed []*core.Target
}

// OK reports whether the run completed with no failures and nothing left postponed.
func (r *Result) OK() bool { return len(r.Failed) == 0 && len(r.Postponed) == 0 }

// Run executes action across every target in targets (and, transitively, their
// prerequisites), then re-examines anything left postponed in a final single-threaded
// pass, and returns a summary.
func (e *Executor) Run(ctx *core.BuildContext, action core.Action, targets []*core.Target) *Result {
	e.executeAll(ctx, action, targets)
	e.reexaminePostponed(ctx, action)

	res := &Result{}
	seen := map[*core.Target]bool{}
	var collect func(t *core.Target)
	collect = func(t *core.Target) {
		if seen[t] {
			return
		}
		seen[t] = true
		switch t.State.Load() {
		case core.Failed:
			res.Failed = append(res.Failed, t)
		case core.Postponed:
			res.Postponed = append(res.Postponed, t)
		}
		for _, p := range t.PrerequisiteTargets {
			collect(p)
		}
	}
	for _, t := range targets {
		collect(t)
	}
	return res
}

func (e *Executor) executeAll(ctx *core.BuildContext, action core.Action, targets []*core.Target) core.TargetState {
	if len(targets) == 0 {
		return core.Unchanged
	}
	var counter int64
	states := make([]core.TargetState, len(targets))
	for i, t := range targets {
		i, t := i, t
		ctx.Scheduler.Async(&counter, func() {
			states[i] = e.Execute(ctx, action, t)
		})
	}
	ctx.Scheduler.Wait(&counter)
	agg := core.Unchanged
	for _, s := range states {
		if s > agg {
			agg = s
		}
	}
	return agg
}

// Execute runs action on target: dispatches prerequisites before or after the recipe
// according to the operation's mode, then invokes the bound recipe. It is safe to call
// concurrently for the same target; only one goroutine actually runs it.
func (e *Executor) Execute(ctx *core.BuildContext, action core.Action, target *core.Target) core.TargetState {
	for {
		if cur := target.State.Load(); cur.Terminal() {
			return cur
		}
		if target.State.CompareAndSwap(core.Unknown, core.Busy) {
			break
		}
		if w, ok := e.waiting.Load(target); ok {
			<-w.(chan struct{})
			continue
		}
		runtime.Gosched()
	}
	done := make(chan struct{})
	e.waiting.Store(target, done)
	defer func() {
		close(done)
		e.waiting.Delete(target)
	}()

	mode := e.ModeFunc(action)
	var prereqState core.TargetState

	if mode == core.ModeFirst {
		prereqState = e.executeAll(ctx, action, target.PrerequisiteTargets)
		if prereqState == core.Failed && !e.KeepGoing {
			target.State.Store(core.Failed)
			return core.Failed
		}
	}

	state := e.runRecipe(ctx, action, target)

	if mode == core.ModeLast {
		downstream := e.executeAll(ctx, action, target.PrerequisiteTargets)
		if downstream > prereqState {
			prereqState = downstream
		}
	}

	final := state
	if prereqState > final {
		final = prereqState
	}
	if final == core.Postponed {
		e.postponedMu.Lock()
		e.postponed = append(e.postponed, target)
		e.postponedMu.Unlock()
	}
	target.State.Store(final)
	return final
}

func (e *Executor) runRecipe(ctx *core.BuildContext, action core.Action, target *core.Target) (state core.TargetState) {
	recipe := target.Recipe(action)
	if recipe == nil {
		log.Error("no recipe bound for %s on %s; treating as failed", action, target)
		return core.Failed
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("recipe panicked for %s: %v", target, r)
			state = core.Failed
		}
	}()
	return recipe(ctx, action, target)
}

// reexaminePostponed retries every target that came out of the main walk postponed, in
// a single-threaded pass (postponement typically means "waiting on something outside
// the graph that may now be ready"); anything still postponed afterwards stays that way
// and is reported by Run's caller.
func (e *Executor) reexaminePostponed(ctx *core.BuildContext, action core.Action) {
	e.postponedMu.Lock()
	targets := e.postponed
	e.postponed = nil
	e.postponedMu.Unlock()

	for _, t := range targets {
		t.State.Store(core.Unknown)
		state := e.runRecipe(ctx, action, t)
		if state == core.Postponed {
			log.Warning("unable to %s %s at this time", action, t)
		}
		t.State.Store(state)
	}
}
