package core

import (
	"fmt"
	"sync"
	"time"
)

// A TargetKey uniquely identifies a target within a scope's target set: the
// combination of type, directory, output directory, name and effective extension.
// An empty Extension means "unspecified". The target set compares keys by their String
// form, which includes the extension, so a key with an unspecified extension and one
// with a set extension are distinct keys and name distinct targets.
type TargetKey struct {
	Type      *TargetType
	Directory Path
	OutDir    Path
	Name      string
	Extension string // "" means unspecified
}

// String renders the key for diagnostics and as the cmap key (via its hash).
func (k TargetKey) String() string {
	ext := k.Extension
	if ext != "" {
		ext = "." + ext
	}
	typeName := "?"
	if k.Type != nil {
		typeName = k.Type.Name
	}
	return fmt.Sprintf("%s%s/%s{%s}%s", k.OutDir, k.Directory, typeName, k.Name, ext)
}

// A Prerequisite is a declarative edge: a target key plus the scope it should be
// resolved relative to, and any match-time overrides. It resolves to a concrete
// Target through the owning target type's Search function during match.
type Prerequisite struct {
	Ref       Name
	Scope     *Scope
	Overrides map[string]string
}

// Target is a node in the dependency graph. It is created on demand (by declaration or
// by search) and lives for the BuildContext's lifetime; targets are never destroyed
// mid-build.
type Target struct {
	Key TargetKey

	// Prerequisites is the declared, unresolved list of dependencies.
	Prerequisites []Prerequisite
	// PrerequisiteTargets is the resolved list, populated during match. Mutations are
	// guarded by State's CAS: a reader must not observe a partial list.
	PrerequisiteTargets []*Target

	// State is this target's progress for the action currently in flight. Only one
	// action is ever in flight per target at a time in this implementation (match
	// fully completes for an action before execute begins for it).
	State AtomicState

	// Group is the target this one belongs to, or nil. For see-through group types,
	// Group.Members includes this target; the relationship is maintained by the
	// target set, which owns both endpoints.
	Group   *Target
	Members []*Target

	// MTime is set for mtime-bearing targets (the source's mtime_target). A zero
	// value means "not yet known"; whoever declares the target sets it (core itself
	// never stats the filesystem).
	MTime time.Time
	// AssignedPath is set for path-bearing targets (the source's path_target): the
	// concrete output location once one has been assigned.
	AssignedPath Path

	mu      sync.Mutex
	recipes map[Action]Recipe
	data    map[Action]any // opaque match-data attached by a rule's Match step
}

// NewTarget constructs a bare Target for the given key. Target types normally call
// this from their Factory.
func NewTarget(key TargetKey) *Target {
	return &Target{
		Key:     key,
		recipes: map[Action]Recipe{},
		data:    map[Action]any{},
	}
}

// String renders the target's key.
func (t *Target) String() string { return t.Key.String() }

// Recipe returns the recipe bound for action, or nil if match hasn't bound one yet.
func (t *Target) Recipe(action Action) Recipe {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recipes[action]
}

// SetRecipe installs the recipe for action. It must be called at most once per action,
// during match; a second call panics to surface a matching-algorithm bug loudly rather
// than silently rebinding a target mid-build.
func (t *Target) SetRecipe(action Action, r Recipe) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, already := t.recipes[action]; already {
		panic(fmt.Sprintf("recipe already bound for %s on %s", action, t))
	}
	t.recipes[action] = r
}

// MatchData returns the opaque data a rule's Match step attached for action, if any.
func (t *Target) MatchData(action Action) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.data[action]
	return d, ok
}

// SetMatchData attaches match-data for action, for later use by Apply.
func (t *Target) SetMatchData(action Action, data any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[action] = data
}

// IsGroup reports whether t is a group: it has members of its own, or its type is a
// see-through group type (even while it has no members yet).
func (t *Target) IsGroup() bool { return len(t.Members) > 0 || t.Key.Type.SeeThroughGroup }

// AddMember adds m as a member of the group t, setting m's Group back-pointer. It's
// the caller's responsibility to hold whatever lock the owning target set requires;
// this only maintains the bidirectional invariant between the two structs.
func (t *Target) AddMember(m *Target) {
	t.Members = append(t.Members, m)
	m.Group = t
}
