// Package cmap contains a thread-safe concurrent awaitable map.
// It is optimised for large maps (e.g. tens of thousands of entries) in highly
// contended environments; for smaller maps another implementation may do better.
//
// It is used to back the engine's scope and target registries, where many
// goroutines concurrently resolve the same name and need to agree on a single
// winner without polling: a loser gets a channel instead of a value, and is
// woken up once the winner has finished building it.
package cmap

import (
	"fmt"
	"sync"
)

// DefaultShardCount is a reasonable default shard count for large maps.
const DefaultShardCount = 1 << 8

// A Map is the top-level map type. All functions on it are threadsafe.
// It should be constructed via New() rather than creating an instance directly.
type Map[K comparable, V any] struct {
	shards []shard[K, V]
	hasher func(K) uint64
	mask   uint64
}

// New creates a new Map using the given hasher to hash items in it.
// The shard count must be a power of 2; it will panic if not.
// Higher shard counts will improve concurrency but consume more memory.
// The DefaultShardCount of 256 is reasonable for a large map.
func New[K comparable, V any](shardCount uint64, hasher func(K) uint64) *Map[K, V] {
	mask := shardCount - 1
	if (shardCount & mask) != 0 {
		panic(fmt.Sprintf("Shard count %d is not a power of 2", shardCount))
	}
	m := &Map[K, V]{
		shards: make([]shard[K, V], shardCount),
		mask:   mask,
		hasher: hasher,
	}
	for i := range m.shards {
		m.shards[i].m = map[K]awaitableValue[V]{}
	}
	return m
}

func (m *Map[K, V]) shard(key K) *shard[K, V] {
	return &m.shards[m.hasher(key)&m.mask]
}

// Add inserts val under key if it isn't already present.
// It returns true if the item was inserted, false if it already existed (in which case it won't be inserted).
// Any goroutine waiting on the key via GetOrWait is woken.
func (m *Map[K, V]) Add(key K, val V) bool {
	return m.shard(key).Add(key, val)
}

// AddOrGet either adds a new item, computed by calling f, if the key doesn't exist, or returns the
// existing one. It returns true if the key was already present.
func (m *Map[K, V]) AddOrGet(key K, f func() V) (V, bool) {
	return m.shard(key).AddOrGet(key, f)
}

// Set is the equivalent of `map[key] = val`. It always overwrites any value that existed before,
// and wakes any goroutine waiting on the key via GetOrWait.
func (m *Map[K, V]) Set(key K, val V) {
	m.shard(key).Set(key, val)
}

// Get returns the value for key, or the zero value of V if it isn't present.
// It never blocks and never creates an entry for a missing key.
func (m *Map[K, V]) Get(key K) V {
	return m.shard(key).Get(key)
}

// GetOrWait returns the value for key if one has been set. If not, it registers interest in the
// key and returns a channel that will be closed once a value is set (by Add or Set), along with
// first = true if this call was the one that registered the wait. Callers that get first = true
// are expected to eventually produce the value themselves, e.g. by calling Add or Set.
func (m *Map[K, V]) GetOrWait(key K) (val V, wait <-chan struct{}, first bool) {
	return m.shard(key).GetOrWait(key)
}

// Values returns a slice of all the current values in the map.
// No particular consistency guarantees are made.
func (m *Map[K, V]) Values() []V {
	ret := []V{}
	for i := range m.shards {
		ret = append(ret, m.shards[i].Values()...)
	}
	return ret
}

// Range calls f for each key-value pair currently in the map.
// No particular consistency guarantees are made during iteration.
func (m *Map[K, V]) Range(f func(key K, val V)) {
	for i := range m.shards {
		m.shards[i].Range(f)
	}
}

// An awaitableValue represents a value in the map & an awaitable channel for it to exist.
type awaitableValue[V any] struct {
	Val  V
	Wait chan struct{}
}

// A shard is one of the individual shards of a map.
type shard[K comparable, V any] struct {
	m map[K]awaitableValue[V]
	l sync.Mutex
}

func (s *shard[K, V]) Add(key K, val V) bool {
	s.l.Lock()
	defer s.l.Unlock()
	existing, present := s.m[key]
	if present && existing.Wait == nil {
		return false // already added
	}
	s.m[key] = awaitableValue[V]{Val: val}
	if present && existing.Wait != nil {
		close(existing.Wait)
	}
	return true
}

func (s *shard[K, V]) AddOrGet(key K, f func() V) (V, bool) {
	s.l.Lock()
	defer s.l.Unlock()
	if existing, present := s.m[key]; present && existing.Wait == nil {
		return existing.Val, true
	}
	val := f()
	if existing, present := s.m[key]; present && existing.Wait != nil {
		close(existing.Wait)
	}
	s.m[key] = awaitableValue[V]{Val: val}
	return val, false
}

func (s *shard[K, V]) Set(key K, val V) {
	s.l.Lock()
	defer s.l.Unlock()
	existing, present := s.m[key]
	s.m[key] = awaitableValue[V]{Val: val}
	if present && existing.Wait != nil {
		close(existing.Wait)
	}
}

func (s *shard[K, V]) Get(key K) V {
	s.l.Lock()
	defer s.l.Unlock()
	return s.m[key].Val
}

func (s *shard[K, V]) GetOrWait(key K) (val V, wait <-chan struct{}, first bool) {
	s.l.Lock()
	defer s.l.Unlock()
	if v, ok := s.m[key]; ok {
		return v.Val, v.Wait, false
	}
	ch := make(chan struct{})
	s.m[key] = awaitableValue[V]{Wait: ch}
	return val, ch, true
}

// Values returns a copy of all the values currently in the shard.
func (s *shard[K, V]) Values() []V {
	s.l.Lock()
	defer s.l.Unlock()
	ret := make([]V, 0, len(s.m))
	for _, v := range s.m {
		if v.Wait == nil {
			ret = append(ret, v.Val)
		}
	}
	return ret
}

func (s *shard[K, V]) Range(f func(key K, val V)) {
	s.l.Lock()
	defer s.l.Unlock()
	for k, v := range s.m {
		if v.Wait == nil {
			f(k, v.Val)
		}
	}
}
