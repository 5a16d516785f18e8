package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAsyncWait(t *testing.T) {
	s := New(context.Background(), 4, 8)
	defer s.Shutdown()

	var counter int64
	var done atomic.Int64
	for i := 0; i < 50; i++ {
		s.Async(&counter, func() {
			done.Add(1)
		})
	}
	s.Wait(&counter)
	assert.EqualValues(t, 50, done.Load())
	assert.EqualValues(t, 0, atomic.LoadInt64(&counter))
}

func TestWaitIsHelper(t *testing.T) {
	// A single worker, but many tasks that themselves wait on a nested counter;
	// without helper behaviour during Wait this would deadlock.
	s := New(context.Background(), 1, 8)
	defer s.Shutdown()

	var outer int64
	var inner int64
	var innerDone atomic.Int64

	s.Async(&outer, func() {
		for i := 0; i < 10; i++ {
			s.Async(&inner, func() {
				innerDone.Add(1)
			})
		}
		s.Wait(&inner)
	})
	s.Wait(&outer)
	assert.EqualValues(t, 10, innerDone.Load())
}

func TestShutdownStats(t *testing.T) {
	s := New(context.Background(), 2, 4)
	var counter int64
	for i := 0; i < 5; i++ {
		s.Async(&counter, func() { time.Sleep(time.Millisecond) })
	}
	s.Wait(&counter)
	stats := s.Shutdown()
	assert.Equal(t, 2, stats.MaxActive)
	assert.EqualValues(t, 5, stats.TasksExecuted)
}
