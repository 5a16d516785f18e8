package core

import "github.com/anvilbuild/anvil/src/cmap"

// A TargetSet is the concurrent map from target key to owned target instance used
// during match. It must be safe to call Insert/Find from multiple goroutines
// concurrently; Range (used by diagnostics and dump) is only meaningful outside the
// match/execute phases, since targets may still be appearing while those run.
type TargetSet struct {
	m *cmap.Map[string, *Target]
}

// NewTargetSet creates an empty TargetSet.
func NewTargetSet() *TargetSet {
	return &TargetSet{m: cmap.New[string, *Target](cmap.DefaultShardCount, cmap.XXHash)}
}

// Find returns the existing target for key, if any.
func (ts *TargetSet) Find(key TargetKey) (*Target, bool) {
	t := ts.m.Get(key.String())
	return t, t != nil
}

// Insert performs an atomic get-or-create: if a target already exists for key it is
// returned with inserted=false; otherwise key.Type.Factory is invoked to construct one,
// which is stored and returned with inserted=true. Safe for concurrent use during match.
func (ts *TargetSet) Insert(key TargetKey) (target *Target, inserted bool) {
	factory := NewTarget
	if key.Type != nil && key.Type.Factory != nil {
		factory = key.Type.Factory
	}
	val, present := ts.m.AddOrGet(key.String(), func() *Target { return factory(key) })
	return val, !present
}

// Range calls f for every target currently in the set. No particular consistency
// guarantees are made if called concurrently with match-phase insertions; callers that
// need a stable view should call it outside match/execute (e.g. for `dump` or clean).
func (ts *TargetSet) Range(f func(t *Target)) {
	ts.m.Range(func(_ string, t *Target) { f(t) })
}

// Len returns the number of targets currently known. It's a snapshot, not a guarantee.
func (ts *TargetSet) Len() int {
	n := 0
	ts.Range(func(*Target) { n++ })
	return n
}
