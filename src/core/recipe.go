package core

import "reflect"

// A Recipe is the callable bound to a target during match; invoking it during execute
// performs (or confirms) the work for one action and returns the resulting state.
// Recipes are set exactly once per action and are not observed before match completes.
type Recipe func(ctx *BuildContext, action Action, target *Target) TargetState

// Sentinel recipes, corresponding to the source's noop/default/group distinguished
// recipes. They are ordinary Recipe values: the execute phase calls them through the
// same indirect call as any other recipe; IsSentinel is what recognises them by identity.

// NoopRecipe always reports the target unchanged without doing anything.
var NoopRecipe Recipe = func(*BuildContext, Action, *Target) TargetState { return Unchanged }

// DefaultRecipe executes prerequisites only; the target itself carries no work beyond
// aggregating their states (used for alias-like targets).
var DefaultRecipe Recipe = func(*BuildContext, Action, *Target) TargetState {
	return Unchanged
}

// GroupRecipe delegates to the target's group, used by see-through group members.
var GroupRecipe Recipe = func(ctx *BuildContext, action Action, t *Target) TargetState {
	if t.Group == nil {
		return Failed
	}
	if t.Group.Recipe(action) == nil {
		return Failed
	}
	return t.Group.Recipe(action)(ctx, action, t.Group)
}

// IsSentinel reports whether r is one of the well-known sentinel recipes, which the
// execute phase may special-case for diagnostics (e.g. not reporting a "doing X" line
// for a pure alias).
func IsSentinel(r Recipe) bool {
	return sameFunc(r, NoopRecipe) || sameFunc(r, DefaultRecipe) || sameFunc(r, GroupRecipe)
}

func sameFunc(a, b Recipe) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
