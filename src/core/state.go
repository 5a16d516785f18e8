package core

import "sync/atomic"

// A TargetState records a target's progress through a single action. The numeric
// ordering is significant: Merge (via the |= operator pattern below) always keeps the
// larger value, so states later in this list "win" when aggregating prerequisite
// states. In particular Failed outranks Postponed, so a target with one failed and one
// postponed prerequisite reports Failed.
type TargetState uint8

const (
	Unknown TargetState = iota
	Unchanged
	Postponed
	Busy
	Changed
	Failed
	Group
)

var stateNames = [...]string{"unknown", "unchanged", "postponed", "busy", "changed", "failed", "group"}

// String returns the lower-case name of the state, as used in diagnostics.
func (s TargetState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "invalid"
}

// Terminal reports whether s is one a caller can stop waiting on: the target won't
// move further for the current action.
func (s TargetState) Terminal() bool {
	switch s {
	case Changed, Unchanged, Failed, Postponed, Group:
		return true
	default:
		return false
	}
}

// AtomicState is a TargetState guarded for concurrent access, with an atomic merge
// operation used to aggregate prerequisite states during execute.
type AtomicState struct {
	v atomic.Uint32
}

// Load returns the current state.
func (a *AtomicState) Load() TargetState { return TargetState(a.v.Load()) }

// Store unconditionally sets the state.
func (a *AtomicState) Store(s TargetState) { a.v.Store(uint32(s)) }

// CompareAndSwap performs a standard CAS, used to claim a target for processing
// (typically Unknown -> Busy).
func (a *AtomicState) CompareAndSwap(old, new TargetState) bool {
	return a.v.CompareAndSwap(uint32(old), uint32(new))
}

// Merge atomically updates the state to the stronger of its current value and s,
// implementing the spec's `|=` aggregation operator. It returns the resulting state.
func (a *AtomicState) Merge(s TargetState) TargetState {
	for {
		cur := TargetState(a.v.Load())
		if s <= cur {
			return cur
		}
		if a.v.CompareAndSwap(uint32(cur), uint32(s)) {
			return s
		}
	}
}
