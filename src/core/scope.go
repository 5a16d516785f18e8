package core

import (
	"strings"
	"sync"

	"github.com/anvilbuild/anvil/src/cmap"
)

// A Scope is a node in a tree keyed by absolute directory path. It carries its own
// variable map, per-target-type variable overrides, a rule map reference (opaque here;
// the rule package attaches its registry via SetRules), the target types visible at
// this point in the tree, and the set of modules already loaded. Variable lookup walks
// the scope chain up to the global scope, honoring override chains.
type Scope struct {
	Path   Path
	Parent *Scope

	// IsRoot marks a project root scope; RootExtra holds project-wide data such as
	// the persisted configuration (see config package) for that project.
	IsRoot   bool
	RootExtra any

	mu          sync.RWMutex
	variables   map[string]any
	overrides   map[string]map[string]any // target-type name -> variable overrides
	targetTypes map[string]*TargetType
	modules     map[string]bool
	rules       any // set by the rule package to its *rule.Map; kept opaque to avoid an import cycle

	children map[string]*Scope
}

func newScope(path Path, parent *Scope) *Scope {
	return &Scope{
		Path:        path,
		Parent:      parent,
		variables:   map[string]any{},
		overrides:   map[string]map[string]any{},
		targetTypes: map[string]*TargetType{},
		modules:     map[string]bool{},
		children:    map[string]*Scope{},
	}
}

// Get looks up a variable by walking the scope chain from s up to the global scope,
// returning the innermost definition.
func (s *Scope) Get(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.Parent {
		cur.mu.RLock()
		v, ok := cur.variables[name]
		cur.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// GetOverride looks up a variable override scoped to a target type, falling back to
// the plain variable if no override exists for that type anywhere up the chain.
func (s *Scope) GetOverride(targetType, name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.Parent {
		cur.mu.RLock()
		if byType, ok := cur.overrides[targetType]; ok {
			if v, ok := byType[name]; ok {
				cur.mu.RUnlock()
				return v, true
			}
		}
		cur.mu.RUnlock()
	}
	return s.Get(name)
}

// Set assigns a variable directly on s (not walking the chain).
func (s *Scope) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variables[name] = value
}

// SetOverride assigns a per-target-type variable override directly on s.
func (s *Scope) SetOverride(targetType, name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byType, ok := s.overrides[targetType]
	if !ok {
		byType = map[string]any{}
		s.overrides[targetType] = byType
	}
	byType[name] = value
}

// TargetType looks up a target type by short name, walking up the scope chain.
func (s *Scope) TargetType(name string) (*TargetType, bool) {
	for cur := s; cur != nil; cur = cur.Parent {
		cur.mu.RLock()
		tt, ok := cur.targetTypes[name]
		cur.mu.RUnlock()
		if ok {
			return tt, true
		}
	}
	return nil, false
}

// RegisterTargetType registers tt under name at this scope. Registration is additive
// and, once made, is never removed or rebound.
func (s *Scope) RegisterTargetType(name string, tt *TargetType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, already := s.targetTypes[name]; already {
		return
	}
	s.targetTypes[name] = tt
}

// MarkModuleLoaded records that the named module has been initialized for this scope's
// project, returning true if it was not already marked (i.e. this call should actually
// run the module's initializer).
func (s *Scope) MarkModuleLoaded(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modules[name] {
		return false
	}
	s.modules[name] = true
	return true
}

// SetRules attaches the rule registry for this scope's project. It's stored as `any`
// to avoid an import cycle between core and rule; callers type-assert on retrieval.
func (s *Scope) SetRules(r any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = r
}

// Rules returns the rule registry previously attached with SetRules.
func (s *Scope) Rules() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules
}

// A ScopeMap is the tree of all scopes in a build, keyed by absolute directory path.
// It is safe for concurrent Insert/Find during the load and match phases.
type ScopeMap struct {
	m    *cmap.Map[string, *Scope]
	root *Scope

	mu   sync.Mutex // guards child-list maintenance across scopes, which Scope.mu alone can't serialize
}

// NewScopeMap creates a ScopeMap with a root scope at "/".
func NewScopeMap() *ScopeMap {
	sm := &ScopeMap{m: cmap.New[string, *Scope](cmap.DefaultShardCount, cmap.XXHash)}
	sm.root = newScope(NewDirPath("/"), nil)
	sm.root.IsRoot = true
	sm.m.Add(sm.root.Path.String(), sm.root)
	return sm
}

// Root returns the global root scope.
func (sm *ScopeMap) Root() *Scope { return sm.root }

// Insert creates or returns the scope for dir, wiring up its parent (creating
// ancestors as needed) and re-parenting any already-existing descendants whose
// previous parent was further up the chain.
func (sm *ScopeMap) Insert(dir Path) *Scope {
	key := dir.String()
	if s := sm.m.Get(key); s != nil {
		return s
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if s := sm.m.Get(key); s != nil {
		return s
	}
	parent := sm.nearestAncestorLocked(dir)
	s := newScope(dir, parent)
	sm.m.Set(key, s)
	if parent != nil {
		parent.children[key] = s
		sm.reparentDescendantsLocked(parent, s)
	}
	return s
}

// Find returns the most-qualified scope containing path: the scope whose directory is
// the longest prefix of path among all inserted scopes.
func (sm *ScopeMap) Find(path Path) (*Scope, bool) {
	best := sm.root
	found := false
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, v := range sm.m.Values() {
		if v.Path.HasSubPath(path) || v.Path.Equal(path) {
			if !found || len(v.Path.String()) > len(best.Path.String()) {
				best, found = v, true
			}
		}
	}
	if !found {
		return sm.root, sm.root.Path.HasSubPath(path)
	}
	return best, true
}

// nearestAncestorLocked finds the most-qualified already-inserted scope that is a
// strict ancestor of dir, creating intermediate ancestors as needed. Caller holds sm.mu.
func (sm *ScopeMap) nearestAncestorLocked(dir Path) *Scope {
	parentPath := dir.Parent()
	if parentPath.Equal(dir) {
		return sm.root
	}
	if s := sm.m.Get(parentPath.String()); s != nil {
		return s
	}
	parent := newScope(parentPath, sm.nearestAncestorLocked(parentPath))
	sm.m.Set(parentPath.String(), parent)
	if parent.Parent != nil {
		parent.Parent.children[parentPath.String()] = parent
	}
	return parent
}

// reparentDescendantsLocked moves any scope that should now be parented under child
// (because it's a better-qualified ancestor than its current parent) into place.
func (sm *ScopeMap) reparentDescendantsLocked(oldParent, child *Scope) {
	for key, desc := range oldParent.children {
		if desc == child || !child.Path.HasSubPath(desc.Path) || desc.Path.Equal(child.Path) {
			continue
		}
		if !strings.HasPrefix(desc.Path.String(), child.Path.String()) {
			continue
		}
		delete(oldParent.children, key)
		desc.Parent = child
		child.children[key] = desc
	}
}
