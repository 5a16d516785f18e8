package rule

import "github.com/anvilbuild/anvil/src/core"

// FileRule is the fallback for a plain file target that already has a timestamp (its
// content was produced by something outside the graph, e.g. a checked-in source file):
// it matches any target whose MTime is set, and its recipe reports Unchanged while MTime
// is still set (Failed otherwise). It does not stat the file and never reports Changed.
type FileRule struct{}

func (FileRule) Match(_ core.Action, target *core.Target, _ string) (bool, any) {
	return !target.MTime.IsZero(), nil
}

func (FileRule) Apply(_ core.Action, _ *core.Target, _ any) core.Recipe {
	return func(_ *core.BuildContext, _ core.Action, t *core.Target) core.TargetState {
		if t.MTime.IsZero() {
			return core.Failed
		}
		return core.Unchanged
	}
}

// AliasRule matches a see-through group target with no recipe of its own: its state is
// purely the aggregate of its members'/prerequisites' states.
type AliasRule struct{}

func (AliasRule) Match(_ core.Action, target *core.Target, _ string) (bool, any) {
	return target.IsGroup(), nil
}

func (AliasRule) Apply(_ core.Action, _ *core.Target, _ any) core.Recipe {
	return core.DefaultRecipe
}

// NoopRule always matches and always succeeds without doing anything. Unlike FileRule
// and AliasRule it is never included by DefaultFallbacks, since doing so would make
// "no rule to update <target>" unreachable; callers append it explicitly only for
// operations where "nothing to do" is a legitimate fallback (e.g. clean on a target
// type with no cleanup of its own).
type NoopRule struct{}

func (NoopRule) Match(core.Action, *core.Target, string) (bool, any) { return true, nil }
func (NoopRule) Apply(core.Action, *core.Target, any) core.Recipe    { return core.NoopRecipe }

// DefaultFallbacks returns the standard fallback chain in the order the matching
// algorithm tries them: file existence, then alias. Noop is deliberately excluded; see
// NoopRule.
func DefaultFallbacks() []Rule {
	return []Rule{FileRule{}, AliasRule{}}
}
