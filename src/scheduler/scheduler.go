// Package scheduler implements the work-stealing task scheduler that drives both the
// match and execute phases of a build. Callers post closures tagged with a shared task
// counter (one per parent, e.g. "this target's prerequisites") and Wait on that
// counter; no global ordering is imposed on independent tasks, only the partial order
// implied by which counter a task belongs to.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/anvilbuild/anvil/src/logging"
)

var log = logging.Log

// DefaultQueueDepth is the bound on each worker's task queue that New uses when given a
// non-positive depth. It is a fixed value and does not scale with maxActive.
const DefaultQueueDepth = 64

// A task is a closure paired with the counter it should decrement on completion.
type task struct {
	fn      func()
	counter *int64
}

// Stats summarizes a scheduler's lifetime activity, returned by Shutdown.
type Stats struct {
	MaxActive       int
	HelpersSpawned  int64
	QueueFullCount  int64
	WaitCollisions  int64
	TasksExecuted   int64
}

// A Scheduler is a fixed pool of worker goroutines, each with a bounded task queue. No
// extra goroutines are spawned: a caller blocked in Wait acts as a helper and runs
// queued tasks itself, so the pool doesn't starve waiting for its own blocked members
// to make progress.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	queues []chan task
	next   atomic.Uint64 // round-robin cursor for posting

	sem *semaphore.Weighted

	cond *sync.Cond
	mu   sync.Mutex

	shutdown atomic.Bool
	wg       sync.WaitGroup

	maxActive int
	helpers   atomic.Int64
	queueFull atomic.Int64
	collide   atomic.Int64
	executed  atomic.Int64
}

// New creates a Scheduler with maxActive fixed worker goroutines, each owning a queue
// of the given depth (DefaultQueueDepth is a reasonable default). The scheduler runs
// until Shutdown is called or ctx is cancelled.
func New(ctx context.Context, maxActive, queueDepth int) *Scheduler {
	if maxActive < 1 {
		maxActive = 1
	}
	if queueDepth < 1 {
		queueDepth = DefaultQueueDepth
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &Scheduler{
		ctx:       sctx,
		cancel:    cancel,
		queues:    make([]chan task, maxActive),
		sem:       semaphore.NewWeighted(int64(maxActive)),
		maxActive: maxActive,
	}
	s.cond = sync.NewCond(&s.mu)
	for i := range s.queues {
		s.queues[i] = make(chan task, queueDepth)
	}
	for i := 0; i < maxActive; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	return s
}

// Async enqueues fn, incrementing *counter now and decrementing it (and broadcasting
// to any Wait callers) once fn returns. If every worker's queue is currently full, fn
// runs inline on the calling goroutine rather than blocking indefinitely; like Wait's
// stolen tasks it runs outside the maxActive gate, since the caller is usually itself a
// task that already holds a slot.
func (s *Scheduler) Async(counter *int64, fn func()) {
	atomic.AddInt64(counter, 1)
	t := task{fn: fn, counter: counter}
	start := int(s.next.Add(1)) % len(s.queues)
	for i := 0; i < len(s.queues); i++ {
		idx := (start + i) % len(s.queues)
		select {
		case s.queues[idx] <- t:
			return
		default:
		}
	}
	s.queueFull.Add(1)
	s.runTask(t)
}

// Wait blocks the calling goroutine until *counter reaches zero. While blocked it acts
// as a helper: it runs stolen tasks itself, both making progress on the backlog and
// avoiding starvation when all fixed workers are themselves blocked in Wait.
//
// Stolen tasks run via runTask, not runInline: Wait is commonly called from a goroutine
// that is itself a task running under the maxActive gate (a target's execute/match
// recursing into its prerequisites), so the calling goroutine already occupies a slot
// while it blocks here. Re-acquiring the gate per stolen task would mean a saturated
// pool can never make the progress a blocked caller is waiting on - every slot would be
// held by callers parked in Wait, and no stolen task could ever get one to run on. A
// helper spending its own (otherwise idle) goroutine on stolen work is exactly the
// "additional helper" capacity the design calls for, so it deliberately runs outside the
// gate rather than contending for it.
func (s *Scheduler) Wait(counter *int64) {
	if atomic.LoadInt64(counter) == 0 {
		return
	}
	s.helpers.Add(1)
	for atomic.LoadInt64(counter) > 0 {
		if t, ok := s.steal(); ok {
			s.runTask(t)
			continue
		}
		s.mu.Lock()
		if atomic.LoadInt64(counter) > 0 {
			s.collide.Add(1)
			s.cond.Wait()
		}
		s.mu.Unlock()
	}
}

// Shutdown cancels the scheduler's context, lets each worker run whatever is still in
// its queue, and returns lifetime statistics. It blocks until every worker goroutine has
// exited. Tasks posted after Shutdown are not picked up by any worker; only a Wait on
// their counter (or the inline fallback of a full queue) runs them.
func (s *Scheduler) Shutdown() Stats {
	s.shutdown.Store(true)
	s.cancel()
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
	return Stats{
		MaxActive:      s.maxActive,
		HelpersSpawned: s.helpers.Load(),
		QueueFullCount: s.queueFull.Load(),
		WaitCollisions: s.collide.Load(),
		TasksExecuted:  s.executed.Load(),
	}
}

// Acquire and Release let a Scheduler satisfy cmap.Limiter, so an ErrMap's GetOrSet can
// give up a worker slot for the duration of a blocked wait rather than holding it idle.
func (s *Scheduler) Acquire() { _ = s.sem.Acquire(s.ctx, 1) }
func (s *Scheduler) Release() { s.sem.Release(1) }

func (s *Scheduler) worker(i int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			for {
				select {
				case t := <-s.queues[i]:
					s.runTask(t)
				default:
					return
				}
			}
		case t := <-s.queues[i]:
			s.runInline(t)
		}
	}
}

// steal looks for any task waiting in any worker's queue, without blocking.
func (s *Scheduler) steal() (task, bool) {
	for _, q := range s.queues {
		select {
		case t := <-q:
			return t, true
		default:
		}
	}
	return task{}, false
}

func (s *Scheduler) runInline(t task) {
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		// Context cancelled during shutdown; still run the task so its counter
		// isn't left dangling, but skip the concurrency gate.
		s.runTask(t)
		return
	}
	defer s.sem.Release(1)
	s.runTask(t)
}

func (s *Scheduler) runTask(t task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked: %v", r)
		}
		atomic.AddInt64(t.counter, -1)
		s.executed.Add(1)
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}()
	t.fn()
}
