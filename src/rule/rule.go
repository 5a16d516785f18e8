// Package rule implements the rule registry and the single-target matching algorithm:
// given an action and a target, select and bind the recipe that will perform it. The
// recursive, parallel orchestration across a target's prerequisites lives in the exec
// package, which calls Bind once per target.
package rule

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/anvilbuild/anvil/src/core"
)

// A Rule is a registered matcher/recipe-factory for a target type within an action.
// Match may decline (return false) without side effects, or accept and attach opaque
// match-data to the target for Apply to consume. Apply is only called for the rule
// that won; it may itself inject additional prerequisites before returning the recipe.
type Rule interface {
	// Match reports whether this rule can handle target for action, given the hint it
	// was registered under. On success it may return opaque data to hand to Apply.
	Match(action core.Action, target *core.Target, hint string) (bool, any)
	// Apply installs whatever the rule needs (e.g. injecting further prerequisites)
	// and returns the recipe to bind to the target.
	Apply(action core.Action, target *core.Target, matchData any) core.Recipe
}

// entry pairs a hint with the rule registered under it, preserving registration order
// for the tie-break the matching algorithm requires.
type entry struct {
	hint  string
	rule  Rule
	order int
}

// byTypeAndOp is level 4: an ordered, hint-prefix-matched list of rules for one
// (meta-op, op, target-type) triple.
type byTypeAndOp struct {
	entries []entry
}

// A Map is the four-level indexed rule registry: meta-operation -> operation ->
// target-type -> hint-ordered rule list. Registration is additive; once the load phase
// ends the map is treated as frozen (callers must stop registering before match starts,
// but the Map itself does not enforce this).
type Map struct {
	mu      sync.RWMutex
	byMeta  map[core.MetaOperationID]map[core.OperationID]map[*core.TargetType]*byTypeAndOp
	counter int
}

// NewMap creates an empty rule registry.
func NewMap() *Map {
	return &Map{byMeta: map[core.MetaOperationID]map[core.OperationID]map[*core.TargetType]*byTypeAndOp{}}
}

// Register adds r under (metaOp, op, targetType, hint). op may be core.OpAny to match
// any operation within metaOp (the level-2 wildcard). Rules are tried in registration
// order within equal hint prefixes, so Register order is significant.
func (m *Map) Register(metaOp core.MetaOperationID, op core.OperationID, targetType *core.TargetType, hint string, r Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byOp, ok := m.byMeta[metaOp]
	if !ok {
		byOp = map[core.OperationID]map[*core.TargetType]*byTypeAndOp{}
		m.byMeta[metaOp] = byOp
	}
	byType, ok := byOp[op]
	if !ok {
		byType = map[*core.TargetType]*byTypeAndOp{}
		byOp[op] = byType
	}
	list, ok := byType[targetType]
	if !ok {
		list = &byTypeAndOp{}
		byType[targetType] = list
	}
	m.counter++
	list.entries = append(list.entries, entry{hint: hint, rule: r, order: m.counter})
	sort.SliceStable(list.entries, func(i, j int) bool {
		if list.entries[i].hint != list.entries[j].hint {
			return list.entries[i].hint < list.entries[j].hint
		}
		return list.entries[i].order < list.entries[j].order
	})
}

// candidates returns the rule list registered for (metaOp, op, targetType), or nil.
func (m *Map) candidates(metaOp core.MetaOperationID, op core.OperationID, targetType *core.TargetType) []entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byOp, ok := m.byMeta[metaOp]
	if !ok {
		return nil
	}
	byType, ok := byOp[op]
	if !ok {
		return nil
	}
	list, ok := byType[targetType]
	if !ok {
		return nil
	}
	return list.entries
}

// ErrNoRule is the error Bind returns when no rule matches and no fallback applies.
type ErrNoRule struct {
	Target core.Action
	T      *core.Target
}

func (e *ErrNoRule) Error() string {
	return fmt.Sprintf("no rule to update %s", e.T)
}

// hintPrefixMatches reports whether a registered hint is a prefix of (or equal to) the
// hint requested at match time, matching the source's "ordered, prefix-matched" level-4
// lookup: an empty registered hint matches everything.
func hintPrefixMatches(registered, requested string) bool {
	return registered == "" || strings.HasPrefix(requested, registered)
}

// Bind runs the matching algorithm for a single target and installs its recipe:
//  1. If target already has a recipe for action, succeed immediately.
//  2. Walk target.Type's inheritance chain; at each ancestor, consult the registry at
//     (action.MetaOp, action.Op, ancestor) then (action.MetaOp, OpAny, ancestor).
//  3. Try each candidate in hint order (registration order breaks ties); the first
//     accepted Match wins.
//  4. If nothing matches, try the supplied fallbacks in order.
//  5. Call the winning rule's Apply and install the resulting recipe on the target.
//
// Bind does not recurse into prerequisites; callers (the exec package) do that.
func Bind(m *Map, action core.Action, target *core.Target, hint string, fallbacks []Rule) error {
	if target.Recipe(action) != nil {
		return nil
	}
	rule, matchData, hintUsed, ok := find(m, action, target, hint)
	if !ok {
		for _, fb := range fallbacks {
			if accepted, data := fb.Match(action, target, hint); accepted {
				rule, matchData, ok = fb, data, true
				break
			}
		}
	}
	if !ok {
		return &ErrNoRule{Target: action, T: target}
	}
	_ = hintUsed
	recipe := rule.Apply(action, target, matchData)
	target.SetRecipe(action, recipe)
	return nil
}

func find(m *Map, action core.Action, target *core.Target, hint string) (Rule, any, string, bool) {
	for _, tt := range target.Key.Type.Chain() {
		for _, op := range []core.OperationID{action.Op, core.OpAny} {
			for _, e := range m.candidates(action.MetaOp, op, tt) {
				if !hintPrefixMatches(e.hint, hint) {
					continue
				}
				if accepted, data := e.rule.Match(action, target, e.hint); accepted {
					return e.rule, data, e.hint, true
				}
			}
		}
	}
	return nil, nil, "", false
}
