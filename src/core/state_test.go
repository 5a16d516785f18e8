package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateMerge(t *testing.T) {
	var s AtomicState
	s.Store(Postponed)
	assert.Equal(t, Failed, s.Merge(Failed))
	// Merging a weaker state afterwards must not regress it.
	assert.Equal(t, Failed, s.Merge(Unchanged))
	assert.Equal(t, Failed, s.Load())
}

func TestStateMergeConcurrent(t *testing.T) {
	var s AtomicState
	var wg sync.WaitGroup
	states := []TargetState{Unchanged, Postponed, Busy, Changed, Failed}
	for _, st := range states {
		st := st
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Merge(st)
		}()
	}
	wg.Wait()
	assert.Equal(t, Failed, s.Load())
}

func TestCompareAndSwap(t *testing.T) {
	var s AtomicState
	assert.True(t, s.CompareAndSwap(Unknown, Busy))
	assert.False(t, s.CompareAndSwap(Unknown, Busy))
	assert.Equal(t, Busy, s.Load())
}

func TestTerminal(t *testing.T) {
	assert.False(t, Unknown.Terminal())
	assert.False(t, Busy.Terminal())
	assert.True(t, Changed.Terminal())
	assert.True(t, Failed.Terminal())
}
