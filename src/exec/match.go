// Package exec implements the two-phase parallel orchestration that drives a build:
// match resolves and binds recipes across the prerequisite graph, execute runs them in
// dependency order. Both phases parallelize across independent targets via the
// scheduler; rule.Bind itself only ever handles one target at a time.
package exec

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/anvilbuild/anvil/src/core"
	"github.com/anvilbuild/anvil/src/logging"
	"github.com/anvilbuild/anvil/src/rule"
)

var log = logging.Log

// A Matcher runs the match phase: for each target it resolves prerequisite references
// into concrete targets, recursively matches them, and binds a recipe via rule.Bind.
// One Matcher is shared by every goroutine participating in a single build's match
// phase; it holds no per-build mutable state beyond the in-flight wait map.
type Matcher struct {
	Rules     *rule.Map
	Fallbacks []rule.Rule

	waiting sync.Map // *core.Target -> chan struct{}, present while a match is in flight
}

// NewMatcher creates a Matcher bound to the given rule registry and default fallback
// chain (typically rule.DefaultFallbacks()).
func NewMatcher(rules *rule.Map, fallbacks []rule.Rule) *Matcher {
	return &Matcher{Rules: rules, Fallbacks: fallbacks}
}

// Match resolves and binds target's recipe for action, recursively matching its
// prerequisites in parallel via ctx.Scheduler. It is safe to call concurrently for the
// same target from multiple goroutines: only one will actually run the matching
// algorithm, the rest wait for it to finish.
func (m *Matcher) Match(ctx *core.BuildContext, action core.Action, target *core.Target, hint string) error {
	for {
		if target.State.Load().Terminal() {
			return m.errorFor(target, action)
		}
		if target.State.Load() == core.Unknown && target.Recipe(action) != nil {
			return nil // already matched for this action
		}
		if target.State.CompareAndSwap(core.Unknown, core.Busy) {
			done := make(chan struct{})
			m.waiting.Store(target, done)
			err := m.doMatch(ctx, action, target, hint)
			// A successful match hands the target back as Unknown so that execute can
			// claim it with its own Unknown->Busy CAS.
			final := core.Unknown
			if err != nil {
				final = core.Failed
				target.SetMatchData(matchErrAction(action), err)
			}
			target.State.Store(final)
			close(done)
			m.waiting.Delete(target)
			return err
		}
		if w, ok := m.waiting.Load(target); ok {
			<-w.(chan struct{})
			continue
		}
		// Lost the CAS but found no waiter: another goroutine is between CAS and
		// storing its wait channel. Yield and retry; this window is microscopic.
		runtime.Gosched()
	}
}

// matchErrAction gives the stashed match error its own key distinct from the action's
// own match-data, so a rule that legitimately stores nil data isn't confused with a
// failed match.
func matchErrAction(a core.Action) core.Action { return core.Action{MetaOp: a.MetaOp, Op: 0xff} }

func (m *Matcher) errorFor(target *core.Target, action core.Action) error {
	if target.State.Load() != core.Failed {
		return nil
	}
	if data, ok := target.MatchData(matchErrAction(action)); ok {
		if err, ok := data.(error); ok {
			return err
		}
	}
	return fmt.Errorf("match previously failed for %s", target)
}

func (m *Matcher) doMatch(ctx *core.BuildContext, action core.Action, target *core.Target, hint string) error {
	// Bind (and so the rule's Apply) runs first, since Apply may inject further
	// prerequisites that must then be resolved and matched too.
	if err := rule.Bind(m.Rules, action, target, hint, m.Fallbacks); err != nil {
		return err
	}
	return m.MatchPrerequisites(ctx, action, target)
}

// MatchPrerequisites resolves every declared Prerequisite on target into a concrete
// Target (creating it on demand via its type's Search function, or a plain
// get-or-create if the type declares none) and recursively matches each one in
// parallel, joining before returning. Resolution itself runs on the calling goroutine;
// only the recursive Match calls are offloaded, since resolution is typically cheap
// map lookups while Match may recurse arbitrarily deep.
func (m *Matcher) MatchPrerequisites(ctx *core.BuildContext, action core.Action, target *core.Target) error {
	if len(target.PrerequisiteTargets) < len(target.Prerequisites) {
		for _, pre := range target.Prerequisites[len(target.PrerequisiteTargets):] {
			t, err := resolvePrerequisite(ctx, pre)
			if err != nil {
				return err
			}
			target.PrerequisiteTargets = append(target.PrerequisiteTargets, t)
		}
	}
	return m.MatchMembers(ctx, action, target.PrerequisiteTargets)
}

// MatchMembers matches an arbitrary slice of targets in parallel (used both for
// prerequisites and, by group rules, for a group's members), returning the first error
// encountered. All targets are still given a chance to finish matching even after an
// error is seen, since their state must settle before the caller can safely read it.
func (m *Matcher) MatchMembers(ctx *core.BuildContext, action core.Action, targets []*core.Target) error {
	if len(targets) == 0 {
		return nil
	}
	var counter int64
	errs := make([]error, len(targets))
	for i, t := range targets {
		i, t := i, t
		ctx.Scheduler.Async(&counter, func() {
			errs[i] = m.Match(ctx, action, t, "")
		})
	}
	ctx.Scheduler.Wait(&counter)
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// resolvePrerequisite turns a declarative Prerequisite into a concrete Target, using
// its target type's Search hook if one is registered (the usual case: Search handles
// things like resolving a bare path reference to an on-disk file target) or else a
// plain get-or-create keyed on the reference's directory and value.
func resolvePrerequisite(ctx *core.BuildContext, pre core.Prerequisite) (*core.Target, error) {
	tt, ok := pre.Scope.TargetType(pre.Ref.Type)
	if !ok {
		return nil, fmt.Errorf("no target type %q visible at %s", pre.Ref.Type, pre.Scope.Path)
	}
	if tt.Search != nil {
		return tt.Search(ctx, pre.Scope, pre.Ref)
	}
	key := core.TargetKey{
		Type:      tt,
		Directory: core.NewDirPath(pre.Ref.Directory),
		Name:      pre.Ref.Value,
	}
	t, _ := ctx.Targets.Insert(key)
	return t, nil
}
